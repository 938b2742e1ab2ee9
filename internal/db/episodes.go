package db

import (
	"time"

	"radioreads/internal/models"
)

const maxErrorLength = 200

// CreateEpisode inserts a freshly scraped episode in status SCRAPED.
// The scraper collaborator is the only caller.
func CreateEpisode(title, url string, scrapedData []byte) (models.Episode, error) {
	episode := models.Episode{}
	err := DB.Get(&episode,
		"INSERT INTO episodes (title, url, scraped_data) VALUES ($1, $2, $3) RETURNING *",
		title, url, scrapedData)
	return episode, err
}

func GetEpisodeByID(id int) (models.Episode, error) {
	episode := models.Episode{}
	err := DB.Get(&episode, "SELECT * FROM episodes WHERE id = $1", id)
	return episode, err
}

// EnqueueEpisode moves an episode into QUEUED and clears its last error.
// The status list in the WHERE clause makes the transition idempotent:
// an episode already in flight is left alone and false is returned, so a
// duplicate reprocess request becomes a no-op instead of a double claim.
func EnqueueEpisode(id int) (bool, error) {
	res, err := DB.Exec(`
		UPDATE episodes
		SET status = 'QUEUED', last_error = NULL, status_changed_at = NOW()
		WHERE id = $1 AND status IN ('SCRAPED', 'PROCESSED', 'FAILED')`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClaimEpisode moves a QUEUED episode into PROCESSING and records the
// claiming task's identifier for correlation. Returns false when the
// episode was not in QUEUED, in which case the caller must not process.
func ClaimEpisode(id int, taskID string) (bool, error) {
	res, err := DB.Exec(`
		UPDATE episodes
		SET status = 'PROCESSING', task_id = $2, status_changed_at = NOW()
		WHERE id = $1 AND status = 'QUEUED'`, id, taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func MarkEpisodeProcessed(id int, extractionResult []byte, confidence float64, hasBook bool) error {
	_, err := DB.Exec(`
		UPDATE episodes
		SET status = 'PROCESSED', extraction_result = $2, ai_confidence = $3, has_book = $4,
		    last_error = NULL, processed_at = NOW(), status_changed_at = NOW()
		WHERE id = $1`,
		id, extractionResult, confidence, hasBook)
	return err
}

func MarkEpisodeFailed(id int, message string) error {
	if len(message) > maxErrorLength {
		message = message[:maxErrorLength]
	}
	_, err := DB.Exec(`
		UPDATE episodes
		SET status = 'FAILED', last_error = $2, status_changed_at = NOW()
		WHERE id = $1`, id, message)
	return err
}

func UpdateEpisodeAiredAt(id int, airedAt time.Time) error {
	_, err := DB.Exec("UPDATE episodes SET aired_at = $2 WHERE id = $1", id, airedAt)
	return err
}

// SetEpisodeReviewStatus records an explicit review decision. The
// pipeline itself never writes review_status; see models.DeriveReviewStatus.
func SetEpisodeReviewStatus(id int, status models.ReviewStatus) error {
	_, err := DB.Exec("UPDATE episodes SET review_status = $2 WHERE id = $1", id, string(status))
	return err
}

// ResetStuckEpisodes returns in-flight episodes older than the threshold
// to SCRAPED so the batch enqueuer picks them up again. This is the only
// recovery path for lost workers; the processing task runs with zero
// task-level retries.
func ResetStuckEpisodes(olderThan time.Duration) (int64, error) {
	res, err := DB.Exec(`
		UPDATE episodes
		SET status = 'SCRAPED', last_error = NULL, task_id = NULL, status_changed_at = NOW()
		WHERE status IN ('QUEUED', 'PROCESSING')
		  AND status_changed_at < NOW() - $1 * INTERVAL '1 second'`,
		int64(olderThan.Seconds()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func GetScrapedEpisodeIDs(limit int) ([]int, error) {
	var ids []int
	err := DB.Select(&ids, "SELECT id FROM episodes WHERE status = 'SCRAPED' ORDER BY id LIMIT $1", limit)
	return ids, err
}

func GetEpisodeIDsByStatus(status models.Status, limit int) ([]int, error) {
	var ids []int
	err := DB.Select(&ids, "SELECT id FROM episodes WHERE status = $1 ORDER BY id LIMIT $2", string(status), limit)
	return ids, err
}

// GetStuckEpisodes lists in-flight episodes older than the threshold,
// newest first, for the operator health view.
func GetStuckEpisodes(olderThan time.Duration, limit int) ([]models.Episode, error) {
	var episodes []models.Episode
	err := DB.Select(&episodes, `
		SELECT * FROM episodes
		WHERE status IN ('QUEUED', 'PROCESSING')
		  AND status_changed_at < NOW() - $1 * INTERVAL '1 second'
		ORDER BY status_changed_at DESC
		LIMIT $2`,
		int64(olderThan.Seconds()), limit)
	return episodes, err
}

func GetRecentFailures(limit int) ([]models.Episode, error) {
	var episodes []models.Episode
	err := DB.Select(&episodes, `
		SELECT * FROM episodes
		WHERE status = 'FAILED'
		ORDER BY status_changed_at DESC
		LIMIT $1`, limit)
	return episodes, err
}

// PipelineStats is a snapshot of episode counts for the health endpoint.
type PipelineStats struct {
	Scraped      int `db:"scraped" json:"awaiting_processing"`
	Queued       int `db:"queued" json:"queued"`
	Processing   int `db:"processing" json:"processing"`
	Processed24h int `db:"processed_24h" json:"processed_24h"`
	Failed24h    int `db:"failed_24h" json:"failed_24h"`
	Total        int `db:"total" json:"total_episodes"`
}

func GetPipelineStats() (PipelineStats, error) {
	stats := PipelineStats{}
	err := DB.Get(&stats, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'SCRAPED') AS scraped,
			COUNT(*) FILTER (WHERE status = 'QUEUED') AS queued,
			COUNT(*) FILTER (WHERE status = 'PROCESSING') AS processing,
			COUNT(*) FILTER (WHERE status = 'PROCESSED' AND processed_at > NOW() - INTERVAL '24 hours') AS processed_24h,
			COUNT(*) FILTER (WHERE status = 'FAILED' AND status_changed_at > NOW() - INTERVAL '24 hours') AS failed_24h,
			COUNT(*) AS total
		FROM episodes`)
	return stats, err
}
