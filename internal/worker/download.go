package worker

import (
	"context"
	"sync/atomic"

	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

// DownloadJob runs one background download. Its outcome is reported through
// the notification queue by the job itself.
type DownloadJob func(ctx context.Context) error

// DownloadWorker runs download jobs off the dispatcher goroutine. It has a
// single worker, so downloads never overlap on the same destination file.
type DownloadWorker struct {
	wp      *workerpool.WorkerPool
	ctx     context.Context
	logger  *zap.Logger
	running atomic.Int32
}

func NewDownloadWorker(ctx context.Context, logger *zap.Logger) *DownloadWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadWorker{
		wp:     workerpool.New(1),
		ctx:    ctx,
		logger: logger,
	}
}

// Submit queues job and returns immediately.
func (w *DownloadWorker) Submit(name string, job DownloadJob) {
	w.running.Add(1)
	w.wp.Submit(func() {
		defer w.running.Add(-1)
		w.run(name, job)
	})
}

func (w *DownloadWorker) run(name string, job DownloadJob) {
	w.logger.Info("download started", zap.String("job", name))
	if err := job(w.ctx); err != nil {
		w.logger.Warn("download finished with error", zap.String("job", name), zap.Error(err))
		return
	}
	w.logger.Info("download finished", zap.String("job", name))
}

// Busy reports whether a job is queued or running.
func (w *DownloadWorker) Busy() bool {
	return w.running.Load() > 0
}

func (w *DownloadWorker) Stop() {
	w.wp.Stop()
}
