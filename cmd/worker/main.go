package main

import (
	"log"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"radioreads/internal/catalog"
	"radioreads/internal/covers"
	"radioreads/internal/db"
	"radioreads/internal/extractor"
	"radioreads/internal/pipeline"
	"radioreads/internal/worker"
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

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer client.Close()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: 2, // Keep parallelism low to be gentle with metered APIs
			Queues: map[string]int{
				"high":    2,
				"default": 1,
			},
		},
	)

	coverPath := os.Getenv("COVER_STORAGE_PATH")
	if coverPath == "" {
		coverPath = "covers"
	}

	processor := pipeline.NewProcessor(
		extractor.NewClientFromEnv(),
		catalog.NewVerifierFromEnv(),
		covers.NewFetcher(coverPath),
		os.Getenv("BOOKSHOP_AFFILIATE_ID"),
	)

	mux := asynq.NewServeMux()
	taskHandler := worker.NewTaskHandler(client, processor)

	mux.HandleFunc(tasks.TypeProcessEpisode, taskHandler.HandleProcessEpisodeTask)
	mux.HandleFunc(tasks.TypeEnqueueScraped, taskHandler.HandleEnqueueScrapedTask)
	mux.HandleFunc(tasks.TypeReclaimStuck, taskHandler.HandleReclaimStuckTask)

	log.Printf("Worker starting (commit: %s)", CommitSHA)
	if err := srv.Run(mux); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
