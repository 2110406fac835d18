package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStorage implements the Storage interface using local disk.
// Results already live where ffmpeg wrote them, so publishing only checks
// that the output exists and resolves its absolute path.
type LocalStorage struct{}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{}
}

// Publish returns the absolute path of localPath. prefix is ignored.
func (s *LocalStorage) Publish(ctx context.Context, _ string, localPath string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", fmt.Errorf("resolve output path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrOutputNotFound, abs)
		}
		return "", fmt.Errorf("stat output: %w", err)
	}
	return abs, nil
}

// Remote always returns false.
func (s *LocalStorage) Remote() bool {
	return false
}
