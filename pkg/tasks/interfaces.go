package tasks

import "github.com/hibiken/asynq"

// TaskEnqueuer is the slice of asynq.Client the HTTP handlers and
// worker use to push episode work; tests substitute a recording mock.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}
