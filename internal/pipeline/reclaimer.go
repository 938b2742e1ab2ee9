package pipeline

import (
	"fmt"
	"log"
	"time"

	"radioreads/internal/db"
)

// DefaultStuckThreshold must exceed the realistic worst-case latency of
// a single episode (model call plus retries plus catalog lookups) so a
// legitimately running episode is never reclaimed mid-flight.
const DefaultStuckThreshold = 60 * time.Minute

// ReclaimStuckEpisodes resets episodes wedged in an in-flight status
// back to SCRAPED, clearing their error and task correlation. The
// periodic sweep calling this is the sole recovery path for crashed
// workers and orphaned claims.
func ReclaimStuckEpisodes(threshold time.Duration) (int64, error) {
	n, err := db.ResetStuckEpisodes(threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck episodes: %w", err)
	}
	if n > 0 {
		log.Printf("pipeline: reclaimed %d stuck episode(s)", n)
	}
	return n, nil
}
