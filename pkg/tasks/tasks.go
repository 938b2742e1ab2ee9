package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	TypeProcessEpisode = "episode:process"
	TypeEnqueueScraped = "episodes:enqueue_scraped"
	TypeReclaimStuck   = "episodes:reclaim_stuck"
)

type ProcessEpisodeTaskPayload struct {
	EpisodeID int
}

// NewProcessEpisodeTask builds the extraction task for one episode.
// MaxRetry is zero on purpose: a task-runner retry would repeat a
// metered AI call during transient infrastructure blips. Recovery for
// lost tasks is the stuck-episode sweep, not a retry.
func NewProcessEpisodeTask(episodeID int) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessEpisodeTaskPayload{EpisodeID: episodeID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessEpisode, payload, asynq.MaxRetry(0)), nil
}

func NewEnqueueScrapedTask() (*asynq.Task, error) {
	return asynq.NewTask(TypeEnqueueScraped, nil), nil
}

func NewReclaimStuckTask() (*asynq.Task, error) {
	return asynq.NewTask(TypeReclaimStuck, nil), nil
}
