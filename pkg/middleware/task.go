package middleware

import (
	"context"
	"time"

	"github.com/Sternrassler/query-metrics/pkg/metrics"
	"github.com/Sternrassler/query-metrics/pkg/querycount"
)

// TaskFunc is a unit of background work.
type TaskFunc func(ctx context.Context) error

// TaskRunner executes tasks inside their own query counter scope.
type TaskRunner struct {
	opts Options
}

// NewTaskRunner creates a task runner for the queue named in opts.
// ViewName is ignored.
func NewTaskRunner(opts Options) *TaskRunner {
	if opts.Collector == nil {
		panic("middleware: collector cannot be nil")
	}
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	return &TaskRunner{opts: opts}
}

// Run executes fn and records its state, duration and query totals under
// name. The error from fn is returned unchanged. A panicking task
// propagates its panic and emits no metrics.
func (t *TaskRunner) Run(ctx context.Context, name string, fn TaskFunc) error {
	ctx, counter := querycount.Open(ctx, t.opts.CounterOptions...)
	start := time.Now()

	var err error
	func() {
		defer counter.Close()
		err = fn(ctx)
	}()
	elapsed := time.Since(start)

	state := metrics.TaskStateSuccess
	if err != nil {
		state = metrics.TaskStateFailure
	}
	labels := metrics.TaskLabels{Task: name, Queue: t.opts.Queue, State: state}

	t.opts.Collector.ObserveTask(labels, elapsed.Seconds(), counter)
	if t.opts.ObserveDuplicateQueries {
		t.opts.Collector.ObserveTaskDuplicates(labels, counter)
	}
	t.opts.logDuplicates(counter, map[string]string{"task": name, "queue": t.opts.Queue, "state": state})

	return err
}
