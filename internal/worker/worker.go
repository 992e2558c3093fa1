package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorSink receives failures of background tasks.
type ErrorSink func(task string, err error)

// Background runs fire-and-forget tasks that must outlive the request that
// started them, such as cache fills and cold tier write-back. Failures are
// logged and handed to the sink; they never reach the caller.
type Background struct {
	log     *slog.Logger
	sink    ErrorSink
	timeout time.Duration

	wg      sync.WaitGroup
	pending atomic.Int64
	failed  atomic.Int64
}

// NewBackground creates a runner. A nil logger uses slog.Default; a nil sink
// only logs. Each task gets at most timeout to finish, zero meaning no limit.
func NewBackground(logger *slog.Logger, sink ErrorSink, timeout time.Duration) *Background {
	if logger == nil {
		logger = slog.Default()
	}
	return &Background{
		log:     logger.With("component", "background"),
		sink:    sink,
		timeout: timeout,
	}
}

// Go runs fn in a new goroutine. The context passed to fn keeps the values
// of ctx but is never cancelled by it.
func (b *Background) Go(ctx context.Context, name string, fn func(context.Context) error) {
	b.wg.Add(1)
	b.pending.Add(1)

	taskCtx := context.WithoutCancel(ctx)
	go func() {
		defer b.wg.Done()
		defer b.pending.Add(-1)

		runCtx := taskCtx
		if b.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(taskCtx, b.timeout)
			defer cancel()
		}

		if err := b.run(runCtx, fn); err != nil {
			b.failed.Add(1)
			b.log.Warn("Background task failed", "task", name, "error", err)
			if b.sink != nil {
				b.sink(name, err)
			}
		}
	}()
}

func (b *Background) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every started task has returned.
func (b *Background) Wait() {
	b.wg.Wait()
}

// Shutdown waits for running tasks or gives up when ctx is done.
func (b *Background) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d background tasks still running: %w", b.pending.Load(), ctx.Err())
	}
}

// Pending returns the number of running tasks.
func (b *Background) Pending() int64 {
	return b.pending.Load()
}

// Failed returns how many tasks have failed since creation.
func (b *Background) Failed() int64 {
	return b.failed.Load()
}
