package handlers

import (
	"net/http"
	"time"

	"radioreads/internal/db"
	"radioreads/internal/pipeline"
)

const healthListLimit = 10

type stuckEpisode struct {
	ID              int       `json:"id"`
	Title           string    `json:"title"`
	Status          string    `json:"status"`
	StatusChangedAt time.Time `json:"status_changed_at"`
}

type recentFailure struct {
	ID       int       `json:"id"`
	Title    string    `json:"title"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// GetHealth reports database reachability and a pipeline snapshot:
// counts by status, stuck episodes, and recent failures for manual
// intervention.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := db.DB.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	dbLatency := time.Since(start).Milliseconds()

	stats, err := db.GetPipelineStats()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	stuck, err := db.GetStuckEpisodes(pipeline.DefaultStuckThreshold, healthListLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	failures, err := db.GetRecentFailures(healthListLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	stuckOut := make([]stuckEpisode, 0, len(stuck))
	for _, e := range stuck {
		stuckOut = append(stuckOut, stuckEpisode{
			ID:              e.ID,
			Title:           e.Title,
			Status:          string(e.Status),
			StatusChangedAt: e.StatusChangedAt,
		})
	}
	failureOut := make([]recentFailure, 0, len(failures))
	for _, e := range failures {
		msg := ""
		if e.LastError != nil {
			msg = *e.LastError
		}
		failureOut = append(failureOut, recentFailure{
			ID:       e.ID,
			Title:    e.Title,
			Error:    msg,
			FailedAt: e.StatusChangedAt,
		})
	}

	status := "healthy"
	if len(stuck) > 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status,
		"db_latency_ms":   dbLatency,
		"pipeline":        stats,
		"stuck_episodes":  stuckOut,
		"recent_failures": failureOut,
	})
}
