package imagestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local writes images into a directory.
type Local struct {
	dir string
}

// NewLocal creates dir when missing.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("in internal/imagestore/local.go/NewLocal(): error while `os.MkdirAll()` calling: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Save stores the upload under its key and returns the key.
func (l *Local) Save(ctx context.Context, upload Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(l.dir, filepath.Base(upload.Key))
	if err := os.WriteFile(path, upload.Data, 0o644); err != nil {
		return "", fmt.Errorf("in internal/imagestore/local.go/Save(): error while `os.WriteFile()` calling: %w", err)
	}

	return upload.Key, nil
}
