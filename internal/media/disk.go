package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DiskStore writes uploads under Dir. The reference is the bare file name.
type DiskStore struct {
	Dir      string
	MaxBytes int64
	now      func() time.Time
}

// NewDiskStore creates dir when missing.
func NewDiskStore(dir string, maxBytes int64) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("media: upload dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: %w", err)
	}
	return &DiskStore{Dir: dir, MaxBytes: maxBytes, now: time.Now}, nil
}

// Save writes up to a new file. A partial file is removed on failure.
func (s *DiskStore) Save(ctx context.Context, up Upload) (string, error) {
	if up.Body == nil {
		return "", errors.New("media: empty upload")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := FileName(up.Filename, s.now())
	path := filepath.Join(s.Dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("media: %w", err)
	}
	_, copyErr := io.Copy(f, limitBody(up.Body, s.MaxBytes))
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		if copyErr != nil {
			return "", copyErr
		}
		return "", closeErr
	}
	return name, nil
}
