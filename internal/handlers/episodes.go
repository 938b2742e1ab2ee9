package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"radioreads/internal/db"
	"radioreads/internal/models"
	"radioreads/pkg/tasks"
)

const reprocessBatchLimit = 100

type createEpisodeRequest struct {
	Title       string             `json:"title"`
	URL         string             `json:"url"`
	ScrapedData models.ScrapedData `json:"scraped_data"`
}

// CreateEpisode is the scraper collaborator's intake: a new episode
// lands in SCRAPED and is routed straight into the pipeline.
func (h *Handlers) CreateEpisode(w http.ResponseWriter, r *http.Request) {
	var req createEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "title and url are required")
		return
	}

	scraped, err := json.Marshal(req.ScrapedData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scraped_data")
		return
	}

	episode, err := db.CreateEpisode(req.Title, req.URL, scraped)
	if err != nil {
		if strings.Contains(err.Error(), "episodes_url_key") {
			writeError(w, http.StatusConflict, "episode with this URL already exists")
			return
		}
		log.Printf("handlers: failed to create episode: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.enqueueForProcessing(episode.ID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     episode.ID,
		"status": episode.Status,
	})
}

func (h *Handlers) GetEpisode(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	episode, err := db.GetEpisodeByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "episode not found")
		return
	}
	if err != nil {
		log.Printf("handlers: failed to get episode %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	books, err := db.GetBooksByEpisodeID(id)
	if err != nil {
		log.Printf("handlers: failed to get books for episode %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":            episode.ID,
		"title":         episode.Title,
		"url":           episode.URL,
		"aired_at":      episode.AiredAt,
		"status":        episode.Status,
		"has_book":      episode.HasBook,
		"ai_confidence": episode.AIConfidence,
		"last_error":    episode.LastError,
		"review_status": models.DeriveReviewStatus(&episode, books),
		"books":         books,
	})
}

// GetEpisodeStatus is the poll endpoint: just the status, keyed by id.
func (h *Handlers) GetEpisodeStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	episode, err := db.GetEpisodeByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "episode not found")
		return
	}
	if err != nil {
		log.Printf("handlers: failed to get episode %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.Status{"status": episode.Status})
}

// ReprocessEpisode forces a PROCESSED or FAILED episode back to QUEUED.
// An episode already in flight is reported as a conflict, not
// re-claimed.
func (h *Handlers) ReprocessEpisode(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])

	queued, err := db.EnqueueEpisode(id)
	if err != nil {
		log.Printf("handlers: failed to queue episode %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !queued {
		writeError(w, http.StatusConflict, "episode is already queued or processing")
		return
	}

	h.enqueueForProcessing(id)
	writeJSON(w, http.StatusAccepted, map[string]models.Status{"status": models.StatusQueued})
}

// ReprocessBatch re-queues every episode currently in the given
// terminal status (default FAILED).
func (h *Handlers) ReprocessBatch(w http.ResponseWriter, r *http.Request) {
	status := models.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = models.StatusFailed
	}
	if status != models.StatusFailed && status != models.StatusProcessed {
		writeError(w, http.StatusBadRequest, "status must be FAILED or PROCESSED")
		return
	}

	ids, err := db.GetEpisodeIDsByStatus(status, reprocessBatchLimit)
	if err != nil {
		log.Printf("handlers: failed to select %s episodes: %v", status, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	requeued := 0
	for _, id := range ids {
		queued, err := db.EnqueueEpisode(id)
		if err != nil {
			log.Printf("handlers: failed to queue episode %d: %v", id, err)
			continue
		}
		if !queued {
			continue
		}
		h.enqueueForProcessing(id)
		requeued++
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"requeued": requeued})
}

// MarkEpisodeReviewed records a human review decision, which the
// pipeline never overwrites.
func (h *Handlers) MarkEpisodeReviewed(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	if err := db.SetEpisodeReviewStatus(id, models.ReviewReviewed); err != nil {
		log.Printf("handlers: failed to mark episode %d reviewed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.ReviewStatus{"review_status": models.ReviewReviewed})
}

func (h *Handlers) enqueueForProcessing(episodeID int) {
	task, err := tasks.NewProcessEpisodeTask(episodeID)
	if err != nil {
		log.Printf("handlers: failed to create task for episode %d: %v", episodeID, err)
		return
	}
	if _, err := h.asynqClient.Enqueue(task); err != nil {
		log.Printf("handlers: failed to enqueue task for episode %d: %v", episodeID, err)
	}
}
