package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Status is an episode's position in the processing pipeline.
type Status string

const (
	StatusScraped    Status = "SCRAPED"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
)

// transitions is the closed set of legal status moves. QUEUED and
// PROCESSING are in-flight; PROCESSED and FAILED are terminal until an
// explicit reprocess re-queues the episode. The move back to SCRAPED is
// reserved for the stuck-episode reclaimer.
var transitions = map[Status][]Status{
	StatusScraped:    {StatusQueued},
	StatusQueued:     {StatusProcessing, StatusScraped},
	StatusProcessing: {StatusProcessed, StatusFailed, StatusScraped},
	StatusProcessed:  {StatusQueued},
	StatusFailed:     {StatusQueued},
}

// CanTransition reports whether moving from s to "to" is a legal
// pipeline transition.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// InFlight reports whether the status means a worker owns (or owned)
// the episode.
func (s Status) InFlight() bool {
	return s == StatusQueued || s == StatusProcessing
}

// ScrapedData is the raw snapshot captured by the scraper at scrape time.
type ScrapedData struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DateText    string `json:"date_text"`
	URL         string `json:"url"`
}

// Episode is one scraped radio/podcast segment, the unit of extraction.
type Episode struct {
	ID               int            `db:"id"`
	Title            string         `db:"title"`
	URL              string         `db:"url"`
	AiredAt          *time.Time     `db:"aired_at"`
	ScrapedData      types.JSONText `db:"scraped_data"`
	Status           Status         `db:"status"`
	LastError        *string        `db:"last_error"`
	AIConfidence     *float64       `db:"ai_confidence"`
	ExtractionResult types.JSONText `db:"extraction_result"`
	HasBook          bool           `db:"has_book"`
	TaskID           *string        `db:"task_id"`
	ReviewStatus     ReviewStatus   `db:"review_status"`
	StatusChangedAt  time.Time      `db:"status_changed_at"`
	ProcessedAt      *time.Time     `db:"processed_at"`
	CreatedAt        time.Time      `db:"created_at"`
}

// TimeInState is how long the episode has held its current status.
// status_changed_at is stamped on every transition, so this is the sole
// input to stuck detection.
func (e *Episode) TimeInState(now time.Time) time.Duration {
	return now.Sub(e.StatusChangedAt)
}

// Stuck reports whether the episode has been in-flight longer than the
// threshold, implying its worker died or the claim was orphaned.
func (e *Episode) Stuck(now time.Time, threshold time.Duration) bool {
	return e.Status.InFlight() && e.TimeInState(now) > threshold
}

// AnalysisText builds the extraction input from the scraped snapshot:
// "{title}. {description}", falling back to the episode's own title when
// no snapshot exists.
func (e *Episode) AnalysisText() string {
	var sd ScrapedData
	if len(e.ScrapedData) == 0 || json.Unmarshal(e.ScrapedData, &sd) != nil {
		return e.Title
	}
	if sd.Title == "" && sd.Description == "" {
		return e.Title
	}
	title := sd.Title
	if title == "" {
		title = e.Title
	}
	return strings.TrimSpace(title + ". " + sd.Description)
}
