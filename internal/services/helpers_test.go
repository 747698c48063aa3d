package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/config"
	"github.com/RPLaine/newsroom-processor/internal/core"
	db "github.com/RPLaine/newsroom-processor/internal/core/database"
	"github.com/RPLaine/newsroom-processor/internal/core/ingestion_engine"
	"github.com/RPLaine/newsroom-processor/internal/models"
)

// fakeLLM answers every call with reply, or with fail when set.
type fakeLLM struct {
	mu    sync.Mutex
	calls [][]models.Turn
	reply func(turns []models.Turn) string
	fail  error
}

func (f *fakeLLM) Generate(_ context.Context, turns []models.Turn, _ core.SamplingConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]models.Turn(nil), turns...))
	if f.fail != nil {
		return "", f.fail
	}
	if f.reply == nil {
		return "ok", nil
	}
	return f.reply(turns), nil
}

func (f *fakeLLM) lastCall() []models.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) ExtractText(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

type fakeArchiver struct {
	mu    sync.Mutex
	tasks []ingestion_engine.ArchiveTask
}

func (a *fakeArchiver) Start(context.Context, int) {}
func (a *fakeArchiver) Wait()                      {}

func (a *fakeArchiver) Enqueue(task ingestion_engine.ArchiveTask) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks = append(a.tasks, task)
	return true
}

func newTestDB(t *testing.T) core.DbClient {
	t.Helper()
	cfg := &config.Config{DataDir: t.TempDir(), StoreLockTimeout: time.Second}
	c, err := db.NewDatabaseClient(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func newTestJobs(t *testing.T, llm core.LLMProvider) (*JobService, core.DbClient, string) {
	t.Helper()
	store := newTestDB(t)
	svc := NewJobService(store, llm, db.NewKeyedLocker(5*time.Second), zap.NewNop())
	return svc, store, uuid.NewString()
}

func newTestProcesses(t *testing.T, llm core.LLMProvider) (*ProcessService, core.DbClient, string) {
	t.Helper()
	store := newTestDB(t)
	svc := NewProcessService(store, llm, db.NewKeyedLocker(5*time.Second), zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, store, uuid.NewString()
}
