package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Named pairs a worker with a stable name for logging.
type Named struct {
	Name   string
	Worker Worker
}

// Runner manages a set of workers, cancelling all on first error.
type Runner struct {
	workers []Named
}

// NewRunner creates a Runner with the given workers.
func NewRunner(workers ...Named) *Runner {
	return &Runner{workers: workers}
}

// Run starts all workers in parallel. It blocks until all workers finish.
// If any worker returns a non-nil error, the context is cancelled and
// the first error is returned.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		slog.Info("worker started", "name", w.Name)
		g.Go(func() error {
			return w.Worker.Run(ctx)
		})
	}
	return g.Wait()
}
