package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"radioreads/internal/db"
	"radioreads/internal/pipeline"
	"radioreads/pkg/tasks"
)

// How many SCRAPED episodes one sweep of the batch enqueuer picks up.
const enqueueBatchSize = 25

type TaskHandler struct {
	asynqClient tasks.TaskEnqueuer
	processor   *pipeline.Processor
}

func NewTaskHandler(client tasks.TaskEnqueuer, processor *pipeline.Processor) *TaskHandler {
	return &TaskHandler{asynqClient: client, processor: processor}
}

// HandleProcessEpisodeTask runs extraction for one episode. The task's
// own identifier is recorded on the episode for correlation. Errors
// returned here reach asynq's failure accounting; the task carries
// MaxRetry(0), so a failure stays failed until reprocessed or reclaimed.
func (h *TaskHandler) HandleProcessEpisodeTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.ProcessEpisodeTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	taskID, _ := asynq.GetTaskID(ctx)
	log.Printf("worker: processing episode %d (task %s)", p.EpisodeID, taskID)
	return h.processor.ProcessEpisode(ctx, p.EpisodeID, taskID)
}

// HandleEnqueueScrapedTask moves a batch of SCRAPED episodes to QUEUED
// and enqueues a processing task for each.
func (h *TaskHandler) HandleEnqueueScrapedTask(ctx context.Context, t *asynq.Task) error {
	ids, err := db.GetScrapedEpisodeIDs(enqueueBatchSize)
	if err != nil {
		return fmt.Errorf("failed to select scraped episodes: %w", err)
	}

	enqueued := 0
	for _, id := range ids {
		queued, err := db.EnqueueEpisode(id)
		if err != nil {
			log.Printf("worker: failed to queue episode %d: %v", id, err)
			continue
		}
		if !queued {
			continue
		}

		task, err := tasks.NewProcessEpisodeTask(id)
		if err != nil {
			log.Printf("worker: failed to create task for episode %d: %v", id, err)
			continue
		}
		if _, err := h.asynqClient.Enqueue(task); err != nil {
			log.Printf("worker: failed to enqueue task for episode %d: %v", id, err)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		log.Printf("worker: enqueued %d scraped episode(s)", enqueued)
	}
	return nil
}

// HandleReclaimStuckTask sweeps in-flight episodes whose worker died.
func (h *TaskHandler) HandleReclaimStuckTask(ctx context.Context, t *asynq.Task) error {
	_, err := pipeline.ReclaimStuckEpisodes(pipeline.DefaultStuckThreshold)
	return err
}
