package ingestion_engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/core"
)

const queueSize = 64

// OutputMirror copies saved outputs and generated files to a bucket and
// removes them again when they are deleted. Work is best effort: failures
// are logged and never reach the caller that queued them.
type OutputMirror struct {
	obj    core.ObjectClient
	bucket string
	log    *zap.Logger
	tasks  chan ArchiveTask
	wg     sync.WaitGroup
}

var _ Archiver = (*OutputMirror)(nil)

// NewOutputMirror constructs the mirror with a bounded task queue (64).
func NewOutputMirror(obj core.ObjectClient, bucket string, log *zap.Logger) *OutputMirror {
	return &OutputMirror{
		obj:    obj,
		bucket: bucket,
		log:    log,
		tasks:  make(chan ArchiveTask, queueSize),
	}
}

// Start runs numWorkers goroutines reading from the task queue until ctx is
// cancelled. Tasks still queued at that point are dropped.
func (m *OutputMirror) Start(ctx context.Context, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		m.wg.Add(1)
		go func(w int) {
			defer m.wg.Done()
			for {
				select {
				case <-ctx.Done():
					m.log.Debug("output mirror worker shutting down", zap.Int("worker", w))
					return
				case task := <-m.tasks:
					m.handle(ctx, w, task)
				}
			}
		}(w)
	}
}

// Enqueue schedules a task. It never blocks; a full queue drops the task.
func (m *OutputMirror) Enqueue(task ArchiveTask) bool {
	select {
	case m.tasks <- task:
		return true
	default:
		m.log.Warn("output mirror queue full, dropping task",
			zap.String("key", task.Key),
			zap.Bool("delete", task.Delete))
		return false
	}
}

// Wait blocks until all workers have exited.
func (m *OutputMirror) Wait() {
	m.wg.Wait()
}

func (m *OutputMirror) handle(ctx context.Context, worker int, task ArchiveTask) {
	if task.Delete {
		m.removeOne(ctx, worker, task)
		return
	}
	m.uploadOne(ctx, worker, task)
}

func (m *OutputMirror) removeOne(ctx context.Context, worker int, task ArchiveTask) {
	delCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := m.obj.DeleteFile(delCtx, m.bucket, task.Key); err != nil {
		m.log.Warn("output mirror delete failed",
			zap.Int("worker", worker),
			zap.String("key", task.Key),
			zap.Error(err))
		return
	}
	m.log.Debug("mirrored output removed", zap.String("key", task.Key))
}

func (m *OutputMirror) uploadOne(ctx context.Context, worker int, task ArchiveTask) {
	upCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	contentType := task.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}

	url, err := m.obj.UploadFile(upCtx, m.bucket, task.Key, task.Data, contentType)
	if err != nil {
		m.log.Warn("output mirror upload failed",
			zap.Int("worker", worker),
			zap.String("key", task.Key),
			zap.Error(err))
		return
	}
	m.log.Debug("output mirrored", zap.String("key", task.Key), zap.String("url", url))
}
