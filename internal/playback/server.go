// Package playback serves stored media over HTTP with byte range support,
// so browsers can seek in rendered clips.
package playback

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/adclip/adclip/internal/storage"
)

// MediaServer writes one stored object to an HTTP response.
type MediaServer interface {
	ServeObject(w http.ResponseWriter, r *http.Request, name string) error
}

type Server struct {
	files  storage.Localizer
	logger *slog.Logger
}

func NewServer(files storage.Localizer, logger *slog.Logger) *Server {
	return &Server{files: files, logger: logger}
}

// ServeObject answers GET and HEAD for the object name. Missing objects and
// directories are 404, a bad Range header falls back to the full body.
func (s *Server) ServeObject(w http.ResponseWriter, r *http.Request, name string) error {
	p, err := s.files.LocalPath(name)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return nil
	}

	file, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("open media: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat media: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	size := stat.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", storage.ContentType(name))

	rng, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		s.logger.Debug("ignoring malformed range", "range", r.Header.Get("Range"), "object", name)
		rng = nil
	}

	if rng == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err := io.Copy(w, file)
		return err
	}

	h.Set("Content-Length", strconv.FormatInt(rng.ContentLength(), 10))
	h.Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("seek media: %w", err)
	}
	_, err = io.CopyN(w, file, rng.ContentLength())
	return err
}
