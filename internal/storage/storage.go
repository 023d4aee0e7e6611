// Package storage abstracts the object store holding uploaded videos,
// extracted audio and rendered clips. Paths are slash-separated object
// names such as "videos/ad.mp4".
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Object describes a stored object.
type Object struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Updated     time.Time `json:"updated"`
}

// Bucket is an object store.
type Bucket interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Create(ctx context.Context, name, contentType string, r io.Reader) error
	Exists(ctx context.Context, name string) (bool, error)
	Attrs(ctx context.Context, name string) (Object, error)
	// List returns every object whose name starts with prefix, recursively.
	List(ctx context.Context, prefix string) ([]Object, error)
	// URL returns a URL a browser can fetch the object from.
	URL(ctx context.Context, name string) (string, error)
}

// Localizer is implemented by buckets whose objects already live on the
// local filesystem.
type Localizer interface {
	LocalPath(name string) (string, error)
}

// Materialize returns a local file holding the object. The cleanup func
// removes any temporary copy and is always non-nil.
func Materialize(ctx context.Context, b Bucket, name, tmpDir string) (string, func(), error) {
	noop := func() {}
	if l, ok := b.(Localizer); ok {
		p, err := l.LocalPath(name)
		if err != nil {
			return "", noop, err
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return "", noop, fmt.Errorf("%s: %w", name, ErrNotFound)
			}
			return "", noop, err
		}
		return p, noop, nil
	}

	rc, err := b.Open(ctx, name)
	if err != nil {
		return "", noop, err
	}
	defer rc.Close()

	f, err := os.CreateTemp(tmpDir, "obj-*"+path.Ext(name))
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		cleanup()
		return "", noop, fmt.Errorf("download %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", noop, err
	}
	return f.Name(), cleanup, nil
}

// UploadFile stores a local file under name.
func UploadFile(ctx context.Context, b Bucket, name, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	if err := b.Create(ctx, name, contentType, f); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

// CleanName normalises an object name and rejects names escaping the
// bucket root.
func CleanName(name string) (string, error) {
	name = strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "/")
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return clean, nil
}
