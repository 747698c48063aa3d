package ingestion_engine

import "context"

// Archiver keeps object storage in step with finished artefacts in the
// background.
type Archiver interface {
	Start(ctx context.Context, numWorkers int)
	// Enqueue schedules a task and reports whether it was accepted.
	Enqueue(task ArchiveTask) bool
	Wait()
}

// ArchiveTask is one object to upload, or to remove when Delete is set.
type ArchiveTask struct {
	Key         string
	Data        []byte
	ContentType string
	Delete      bool
}
