package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// LocalBucket stores objects as files under a root directory.
type LocalBucket struct {
	root    string
	baseURL string
}

// NewLocal creates the root directory if needed. URLs are built as
// baseURL + "/media/" + name.
func NewLocal(root, baseURL string) (*LocalBucket, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalBucket{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root returns the directory objects are stored under.
func (b *LocalBucket) Root() string { return b.root }

func (b *LocalBucket) LocalPath(name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

func (b *LocalBucket) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := b.LocalPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return f, err
}

// Create writes to a temporary file and renames it into place so readers
// never observe a partial object.
func (b *LocalBucket) Create(ctx context.Context, name, _ string, r io.Reader) error {
	p, err := b.LocalPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (b *LocalBucket) Exists(_ context.Context, name string) (bool, error) {
	p, err := b.LocalPath(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (b *LocalBucket) Attrs(_ context.Context, name string) (Object, error) {
	clean, err := CleanName(name)
	if err != nil {
		return Object{}, err
	}
	info, err := os.Stat(filepath.Join(b.root, filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Object{}, err
	}
	return objectFromInfo(clean, info), nil
}

func (b *LocalBucket) List(_ context.Context, prefix string) ([]Object, error) {
	var objs []Object
	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objs = append(objs, objectFromInfo(name, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Path < objs[j].Path })
	return objs, nil
}

func (b *LocalBucket) URL(_ context.Context, name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	parts := strings.Split(clean, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return b.baseURL + "/media/" + strings.Join(parts, "/"), nil
}

func objectFromInfo(name string, info fs.FileInfo) Object {
	return Object{
		Path:        name,
		ContentType: ContentType(name),
		Size:        info.Size(),
		Updated:     info.ModTime().UTC(),
	}
}

// ContentType guesses a MIME type from the object name's extension.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".wav":
		return "audio/wav"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
