package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
	"github.com/RPLaine/newsroom-processor/internal/config"
	"github.com/RPLaine/newsroom-processor/internal/models"
)

func newTestClient(t *testing.T) (*DatabaseClient, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := NewDatabaseClient(context.Background(), &config.Config{DataDir: dir, StoreLockTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	return c.(*DatabaseClient), dir
}

func TestBootstrapWritesMeta(t *testing.T) {
	_, dir := newTestClient(t)

	_, err := os.Stat(filepath.Join(dir, "meta.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "users"))
	assert.NoError(t, err)
}

func TestBootstrapRefusesNewerLayout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte(`{"version": 99}`), 0o644))

	err := EnsureBootstrapped(context.Background(), NewJSONStore(time.Second, zap.NewNop()), dir)
	assert.Error(t, err)
}

func TestBootstrapRewritesCorruptMetaAtomically(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.json")
	require.NoError(t, os.WriteFile(metaPath, []byte(`{"vers`), 0o644))

	store := NewJSONStore(time.Second, zap.NewNop())
	require.NoError(t, EnsureBootstrapped(context.Background(), store, dir))

	var meta layoutMeta
	found, err := store.Read(metaPath, &meta)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, layoutVersion, meta.Version)

	leftovers, err := filepath.Glob(filepath.Join(dir, ".meta.json.*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestCreateUserAndLookupByEmail(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	u := &models.User{ID: uuid.NewString(), Email: "Ada@Example.com", PasswordHash: "x", CreatedAt: 1}

	require.NoError(t, c.CreateUser(ctx, u))

	got, err := c.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotNil(t, got.Jobs)

	dup := &models.User{ID: uuid.NewString(), Email: "ada@example.com"}
	err = c.CreateUser(ctx, dup)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestEnsureUserRepairsMissingProfile(t *testing.T) {
	c, dir := newTestClient(t)
	id := uuid.NewString()

	_, err := c.GetUser(context.Background(), id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	u, err := c.EnsureUser(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	_, err = os.Stat(filepath.Join(dir, "users", id, "profile.json"))
	assert.NoError(t, err)
}

func TestRejectsPathLikeIDs(t *testing.T) {
	c, dir := newTestClient(t)

	_, err := c.EnsureUser(context.Background(), "../../etc")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = c.GetJob(context.Background(), uuid.NewString(), "../x")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	entries, err := os.ReadDir(filepath.Join(dir, "users"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJobLifecycleOnDisk(t *testing.T) {
	c, dir := newTestClient(t)
	ctx := context.Background()
	userID, jobID := uuid.NewString(), uuid.NewString()

	job := &models.Job{ID: jobID, Name: "n", CreatedAt: 5, LastModified: 5}
	require.NoError(t, c.SaveJob(ctx, userID, job))

	got, err := c.GetJob(ctx, userID, jobID)
	require.NoError(t, err)
	assert.Equal(t, "n", got.Name)

	require.NoError(t, c.DeleteJobData(ctx, userID, jobID))
	_, err = os.Stat(filepath.Join(dir, "users", userID, "jobs", jobID))
	assert.True(t, os.IsNotExist(err))

	_, err = c.GetJob(ctx, userID, jobID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestProcessesAndRegistry(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	userID := uuid.NewString()

	first := &models.Process{ID: uuid.NewString(), UserID: userID, Status: models.ProcessRunning, CreatedAt: 1}
	second := &models.Process{ID: uuid.NewString(), UserID: userID, Status: models.ProcessCompleted, CreatedAt: 2}
	require.NoError(t, c.SaveProcess(ctx, second))
	require.NoError(t, c.SaveProcess(ctx, first))

	list, err := c.ListProcesses(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)

	reg, err := c.GetFileRegistry(ctx, userID, first.ID)
	require.NoError(t, err)
	assert.Empty(t, reg.Files)

	reg.Files = append(reg.Files, models.GeneratedFile{ID: "f1", Filename: "a.md", Size: 3, Content: "# a"})
	require.NoError(t, c.SaveFileRegistry(ctx, userID, first.ID, reg))

	reg, err = c.GetFileRegistry(ctx, userID, first.ID)
	require.NoError(t, err)
	require.Len(t, reg.Files, 1)
	assert.Equal(t, "a.md", reg.Files[0].Filename)
}
