package core

import (
	"context"

	"github.com/RPLaine/newsroom-processor/internal/models"
)

// DbClient defines all persistence operations the services need.
// The file-backed implementation keeps one JSON document per record.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// GetUser returns NotFound when no profile exists for id.
	GetUser(ctx context.Context, id string) (*models.User, error)
	// EnsureUser loads the profile for id, writing an empty one when the
	// stored profile is missing or unreadable.
	EnsureUser(ctx context.Context, id string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error

	GetJob(ctx context.Context, userID, jobID string) (*models.Job, error)
	SaveJob(ctx context.Context, userID string, job *models.Job) error
	DeleteJobData(ctx context.Context, userID, jobID string) error

	GetProcess(ctx context.Context, userID, processID string) (*models.Process, error)
	SaveProcess(ctx context.Context, p *models.Process) error
	ListProcesses(ctx context.Context, userID string) ([]models.Process, error)

	GetFileRegistry(ctx context.Context, userID, processID string) (*models.FileRegistry, error)
	SaveFileRegistry(ctx context.Context, userID, processID string, reg *models.FileRegistry) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
}
