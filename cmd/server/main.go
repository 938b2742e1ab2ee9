package main

import (
	"log"
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"radioreads/internal/db"
	"radioreads/internal/handlers"
)

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

	coverPath := os.Getenv("COVER_STORAGE_PATH")
	if coverPath == "" {
		coverPath = "covers"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	h := handlers.New(client, coverPath)

	log.Printf("Starting server on :%s\n", port)
	if err := http.ListenAndServe(":"+port, h.Router()); err != nil {
		log.Fatal(err)
	}
}
