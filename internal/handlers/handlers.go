// Package handlers is the HTTP surface: the scraper's episode intake,
// the operator status/reprocess endpoints, and the public read API.
package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"radioreads/pkg/tasks"
)

type Handlers struct {
	asynqClient      tasks.TaskEnqueuer
	coverStoragePath string
}

func New(asynqClient tasks.TaskEnqueuer, coverStoragePath string) *Handlers {
	return &Handlers{
		asynqClient:      asynqClient,
		coverStoragePath: coverStoragePath,
	}
}

func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/episodes", h.CreateEpisode).Methods(http.MethodPost)
	r.HandleFunc("/api/episodes/reprocess", h.ReprocessBatch).Methods(http.MethodPost)
	r.HandleFunc("/api/episodes/{id:[0-9]+}", h.GetEpisode).Methods(http.MethodGet)
	r.HandleFunc("/api/episodes/{id:[0-9]+}/status", h.GetEpisodeStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/episodes/{id:[0-9]+}/reprocess", h.ReprocessEpisode).Methods(http.MethodPost)
	r.HandleFunc("/api/episodes/{id:[0-9]+}/review", h.MarkEpisodeReviewed).Methods(http.MethodPost)
	r.HandleFunc("/api/books", h.ListBooks).Methods(http.MethodGet)
	r.HandleFunc("/api/health", h.GetHealth).Methods(http.MethodGet)
	r.HandleFunc("/rss", h.GetBooksFeed).Methods(http.MethodGet)
	r.PathPrefix("/covers/").Handler(
		http.StripPrefix("/covers/", http.FileServer(http.Dir(h.coverStoragePath))))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handlers: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
