// Package media stores uploaded avatar files and returns the reference kept on the user row.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("media: file too large")

// Upload is one file received with a request.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Store persists an upload and returns its reference.
type Store interface {
	Save(ctx context.Context, up Upload) (string, error)
}

// FileName builds a collision-free name from the upload time, a random id and the original
// extension.
func FileName(original string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(original)))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), uuid.NewString(), ext)
}

// limitBody returns r capped at max bytes, failing with ErrTooLarge past it. max <= 0 means
// no limit.
func limitBody(r io.Reader, max int64) io.Reader {
	if max <= 0 {
		return r
	}
	return &limitedReader{r: io.LimitReader(r, max+1), left: max}
}

type limitedReader struct {
	r    io.Reader
	left int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
