package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/config"
	"github.com/RPLaine/newsroom-processor/internal/core"
	"github.com/RPLaine/newsroom-processor/internal/models"
)

const indexLockKey = "users/index"

// DatabaseClient stores every record as a JSON file under a data root:
//
//	users/index.json                               email -> user id
//	users/<uid>/profile.json                       user + job summaries
//	users/<uid>/jobs/<job_id>/job.json             full job
//	users/<uid>/processes/<pid>/process.json       process state
//	users/<uid>/processes/<pid>/files.json         generated file registry
type DatabaseClient struct {
	root  string
	store *JSONStore
	index *KeyedLocker
	log   *zap.Logger
}

var _ core.DbClient = (*DatabaseClient)(nil)

type userIndex struct {
	Emails map[string]string `json:"emails"`
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config, log *zap.Logger) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("DATA_DIR is empty")
	}
	root, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	store := NewJSONStore(cfg.StoreLockTimeout, log)
	if err := EnsureBootstrapped(ctx, store, root); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{
		root:  root,
		store: store,
		index: NewKeyedLocker(cfg.StoreLockTimeout),
		log:   log,
	}, nil
}

func (c *DatabaseClient) Close() error {
	return nil
}

// Store exposes the underlying JSON store.
func (c *DatabaseClient) Store() *JSONStore {
	return c.store
}

func (c *DatabaseClient) userDir(userID string) string {
	return filepath.Join(c.root, "users", userID)
}

func (c *DatabaseClient) profilePath(userID string) string {
	return filepath.Join(c.userDir(userID), "profile.json")
}

func (c *DatabaseClient) jobDir(userID, jobID string) string {
	return filepath.Join(c.userDir(userID), "jobs", jobID)
}

func (c *DatabaseClient) processDir(userID, processID string) string {
	return filepath.Join(c.userDir(userID), "processes", processID)
}

func (c *DatabaseClient) indexPath() string {
	return filepath.Join(c.root, "users", "index.json")
}

// validID guards path construction: only canonical uuids become directories.
func validID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

// Implementing the db interface for user

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil || !validID(user.ID) {
		return apperr.Validation("Invalid user")
	}
	email := strings.ToLower(strings.TrimSpace(user.Email))

	unlock, err := c.index.Lock(ctx, indexLockKey)
	if err != nil {
		return err
	}
	defer unlock()

	var idx userIndex
	if _, err := c.store.Read(c.indexPath(), &idx); err != nil {
		return err
	}
	if idx.Emails == nil {
		idx.Emails = map[string]string{}
	}
	if _, taken := idx.Emails[email]; taken {
		return apperr.Validation("Email is already registered")
	}

	if user.Settings == nil {
		user.Settings = map[string]any{}
	}
	if user.Jobs == nil {
		user.Jobs = []models.JobSummary{}
	}
	if err := c.store.Write(ctx, c.profilePath(user.ID), user); err != nil {
		return err
	}

	idx.Emails[email] = user.ID
	return c.store.Write(ctx, c.indexPath(), idx)
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var idx userIndex
	if _, err := c.store.Read(c.indexPath(), &idx); err != nil {
		return nil, err
	}
	id, ok := idx.Emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, apperr.NotFound("User not found")
	}
	return c.GetUser(ctx, id)
}

func (c *DatabaseClient) GetUser(_ context.Context, id string) (*models.User, error) {
	if !validID(id) {
		return nil, apperr.NotFound("User not found")
	}
	var u models.User
	found, err := c.store.Read(c.profilePath(id), &u)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("User not found")
	}
	return &u, nil
}

func (c *DatabaseClient) EnsureUser(ctx context.Context, id string) (*models.User, error) {
	if !validID(id) {
		return nil, apperr.NotFound("User not found")
	}
	var u models.User
	def := &models.User{ID: id, Settings: map[string]any{}, Jobs: []models.JobSummary{}}
	if err := c.store.ReadOrInit(ctx, c.profilePath(id), &u, def); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *DatabaseClient) SaveUser(ctx context.Context, user *models.User) error {
	if user == nil || !validID(user.ID) {
		return apperr.Validation("Invalid user")
	}
	return c.store.Write(ctx, c.profilePath(user.ID), user)
}

// Jobs

func (c *DatabaseClient) GetJob(_ context.Context, userID, jobID string) (*models.Job, error) {
	if !validID(userID) || !validID(jobID) {
		return nil, apperr.NotFound("Job not found")
	}
	var job models.Job
	found, err := c.store.Read(filepath.Join(c.jobDir(userID, jobID), "job.json"), &job)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("Job not found")
	}
	return &job, nil
}

func (c *DatabaseClient) SaveJob(ctx context.Context, userID string, job *models.Job) error {
	if job == nil || !validID(userID) || !validID(job.ID) {
		return apperr.Validation("Invalid job")
	}
	return c.store.Write(ctx, filepath.Join(c.jobDir(userID, job.ID), "job.json"), job)
}

func (c *DatabaseClient) DeleteJobData(_ context.Context, userID, jobID string) error {
	if !validID(userID) || !validID(jobID) {
		return apperr.NotFound("Job not found")
	}
	return c.store.RemoveAll(c.jobDir(userID, jobID))
}

// Processes

func (c *DatabaseClient) GetProcess(_ context.Context, userID, processID string) (*models.Process, error) {
	if !validID(userID) || !validID(processID) {
		return nil, apperr.NotFound("Process not found")
	}
	var p models.Process
	found, err := c.store.Read(filepath.Join(c.processDir(userID, processID), "process.json"), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("Process not found")
	}
	return &p, nil
}

func (c *DatabaseClient) SaveProcess(ctx context.Context, p *models.Process) error {
	if p == nil || !validID(p.UserID) || !validID(p.ID) {
		return apperr.Validation("Invalid process")
	}
	return c.store.Write(ctx, filepath.Join(c.processDir(p.UserID, p.ID), "process.json"), p)
}

// ListProcesses returns the user's processes, oldest first.
func (c *DatabaseClient) ListProcesses(ctx context.Context, userID string) ([]models.Process, error) {
	if !validID(userID) {
		return nil, apperr.NotFound("User not found")
	}
	entries, err := os.ReadDir(filepath.Join(c.userDir(userID), "processes"))
	if errors.Is(err, fs.ErrNotExist) {
		return []models.Process{}, nil
	}
	if err != nil {
		return nil, apperr.Storage("Failed to list processes", err)
	}

	out := make([]models.Process, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !validID(e.Name()) {
			continue
		}
		p, err := c.GetProcess(ctx, userID, e.Name())
		if apperr.Is(err, apperr.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (c *DatabaseClient) GetFileRegistry(_ context.Context, userID, processID string) (*models.FileRegistry, error) {
	if !validID(userID) || !validID(processID) {
		return nil, apperr.NotFound("Process not found")
	}
	reg := &models.FileRegistry{Files: []models.GeneratedFile{}}
	if _, err := c.store.Read(filepath.Join(c.processDir(userID, processID), "files.json"), reg); err != nil {
		return nil, err
	}
	if reg.Files == nil {
		reg.Files = []models.GeneratedFile{}
	}
	return reg, nil
}

func (c *DatabaseClient) SaveFileRegistry(ctx context.Context, userID, processID string, reg *models.FileRegistry) error {
	if reg == nil || !validID(userID) || !validID(processID) {
		return apperr.Validation("Invalid file registry")
	}
	return c.store.Write(ctx, filepath.Join(c.processDir(userID, processID), "files.json"), reg)
}
