package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const layoutVersion = 1

type layoutMeta struct {
	Version   int   `json:"version"`
	CreatedAt int64 `json:"created_at"`
}

// EnsureBootstrapped prepares the data root and stamps it with the layout
// version. A root written by a newer layout is refused.
func EnsureBootstrapped(ctx context.Context, store *JSONStore, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(root, "users"), 0o755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}

	metaPath := filepath.Join(root, "meta.json")
	var meta layoutMeta
	found, err := store.Read(metaPath, &meta)
	if err != nil {
		return fmt.Errorf("read meta: %w", err)
	}
	if !found || meta.Version == 0 {
		meta = layoutMeta{Version: layoutVersion, CreatedAt: time.Now().Unix()}
		if err := store.Write(ctx, metaPath, meta); err != nil {
			return fmt.Errorf("write meta: %w", err)
		}
		return nil
	}
	if meta.Version > layoutVersion {
		return fmt.Errorf("data root uses layout version %d, this build supports %d", meta.Version, layoutVersion)
	}
	return nil
}
