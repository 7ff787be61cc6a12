package scheduler

import "context"

// Job is a unit of work executed by the worker pool.
type Job interface {
	// Execute runs the job. The context carries the per-job timeout.
	Execute(ctx context.Context) error

	// Name identifies the job kind, e.g. "reconcile" or "aggregate".
	Name() string

	// Description is used for logging.
	Description() string
}
