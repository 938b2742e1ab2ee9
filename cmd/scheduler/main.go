package main

import (
	"log"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"radioreads/internal/db"
	"radioreads/pkg/tasks"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	db.InitDB()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: redisAddr},
		&asynq.SchedulerOpts{},
	)

	enqueueTask, err := tasks.NewEnqueueScrapedTask()
	if err != nil {
		log.Fatalf("could not create task: %v", err)
	}
	if _, err := scheduler.Register("@every 30m", enqueueTask); err != nil {
		log.Fatalf("could not register task: %v", err)
	}

	reclaimTask, err := tasks.NewReclaimStuckTask()
	if err != nil {
		log.Fatalf("could not create task: %v", err)
	}
	if _, err := scheduler.Register("@every 10m", reclaimTask); err != nil {
		log.Fatalf("could not register task: %v", err)
	}

	log.Printf("Scheduler starting (commit: %s)", CommitSHA)
	if err := scheduler.Run(); err != nil {
		log.Fatalf("could not run scheduler: %v", err)
	}
}
