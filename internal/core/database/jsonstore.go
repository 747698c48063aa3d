package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/RPLaine/newsroom-processor/internal/apperr"
)

const lockRetryDelay = 25 * time.Millisecond

// JSONStore persists one JSON document per file.
//
// Writes go to a temp file in the target directory and are renamed into
// place, so a reader never sees a partial file. Writers to the same path
// serialise on an advisory lock file next to the target.
type JSONStore struct {
	lockWait time.Duration
	log      *zap.Logger
}

func NewJSONStore(lockWait time.Duration, log *zap.Logger) *JSONStore {
	if lockWait <= 0 {
		lockWait = 10 * time.Second
	}
	return &JSONStore{lockWait: lockWait, log: log}
}

// Read decodes the file at path into dst. A missing or malformed file
// reports found=false without an error.
func (s *JSONStore) Read(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("Failed to read data", fmt.Errorf("read %s: %w", path, err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.log.Warn("ignoring malformed json file", zap.String("path", path), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// ReadOrInit reads path into dst; when the file is absent or corrupt it
// writes def to disk and decodes that instead.
func (s *JSONStore) ReadOrInit(ctx context.Context, path string, dst any, def any) error {
	found, err := s.Read(path, dst)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	if err := s.Write(ctx, path, def); err != nil {
		return err
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return apperr.Storage("Failed to encode data", err)
	}
	return json.Unmarshal(raw, dst)
}

// Write stores v at path, creating parent directories as needed.
func (s *JSONStore) Write(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperr.Storage("Failed to encode data", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Storage("Failed to save data", fmt.Errorf("mkdir %s: %w", dir, err))
	}

	unlock, err := s.lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return apperr.Storage("Failed to save data", fmt.Errorf("create temp: %w", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.Storage("Failed to save data", fmt.Errorf("write temp: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperr.Storage("Failed to save data", fmt.Errorf("sync temp: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return apperr.Storage("Failed to save data", fmt.Errorf("close temp: %w", err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return apperr.Storage("Failed to save data", fmt.Errorf("rename %s: %w", path, err))
	}
	return nil
}

// Remove deletes a single file. Missing files are not an error.
func (s *JSONStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.Storage("Failed to delete data", err)
	}
	_ = os.Remove(path + ".lock")
	return nil
}

// RemoveAll deletes a directory tree.
func (s *JSONStore) RemoveAll(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return apperr.Storage("Failed to delete data", err)
	}
	return nil
}

func (s *JSONStore) lock(ctx context.Context, path string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	fl := flock.New(path + ".lock")
	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !locked {
		if err == nil {
			err = lockCtx.Err()
		}
		return nil, apperr.Storage("Data is busy, try again later", fmt.Errorf("lock %s: %w", path, err))
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.log.Warn("failed to release file lock", zap.String("path", path), zap.Error(err))
		}
	}, nil
}
