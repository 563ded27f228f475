package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner executes the maintenance pipeline on a fixed interval in the
// background. It is a convenience for single-process deployments; larger
// installations drive RunMaintenance from an external scheduler instead.
type Runner struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewRunner creates a runner over the engine. Intervals under a minute are
// raised to a minute; the pipeline is a batch pass, not a hot path.
func NewRunner(engine *Engine, interval time.Duration) *Runner {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Runner{
		engine:   engine,
		interval: interval,
		logger:   engine.logger,
	}
}

// Start launches the background loop. Calling Start on a running runner is
// a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.loop(ctx)
	r.logger.Info("maintenance runner started",
		zap.Duration("interval", r.interval))
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done
	r.logger.Info("maintenance runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := r.engine.RunMaintenance(ctx, "", now); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Error("maintenance pass failed", zap.Error(err))
			}
		}
	}
}
