package worker

import (
	"context"
	"sync"
	"time"

	"github.com/fundaciontea/donations-api/internal/observability"
	"github.com/fundaciontea/donations-api/internal/service"
	"go.uber.org/zap"
)

// SweepWorker periodically reruns reconciliation for journaled notifications
// that never reached a terminal outcome.
type SweepWorker struct {
	svc      *service.ReconciliationService
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSweepWorker constructs a worker with a default interval of five
// minutes.
func NewSweepWorker(svc *service.ReconciliationService) *SweepWorker {
	return &SweepWorker{
		svc:      svc,
		interval: 5 * time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *SweepWorker) WithInterval(interval time.Duration) *SweepWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs the sweep at the configured interval.
func (w *SweepWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation sweep worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup to drain anything left over from a
	// previous deployment.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("sweep worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("sweep worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *SweepWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SweepWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *SweepWorker) runOnce(ctx context.Context) {
	if _, err := w.svc.Sweep(ctx); err != nil {
		observability.IncrementWorkerRun("sweep", "failed")
		zap.L().Error("reconciliation sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("sweep", "success")
}
