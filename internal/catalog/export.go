package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/adclip/adclip/internal/export"
)

// ExportEDL writes an edit decision list of the selected lines to
// output/<project>.edl so the cut can be finished in an NLE.
func (s *Service) ExportEDL(ctx context.Context, req export.Request) (*export.Result, error) {
	name := req.FileName
	if name == "" {
		name = FilenameFromPath(req.FullPath)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: missing file_name", ErrInvalidRequest)
	}
	mediaPath := req.FullPath
	if mediaPath == "" {
		mediaPath = VideosPrefix + name
	}

	events := export.EventsFromLines(req.Transcript, name, mediaPath)
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: transcript has no segments", ErrInvalidRequest)
	}
	frameRate := req.FrameRate
	if frameRate <= 0 {
		frameRate = export.DefaultFrameRate
	}

	stem := export.FileStem(req.ProjectName, name)
	edl := export.GenerateEDL(events, stem, frameRate)
	objName := OutputPrefix + stem + ".edl"
	if err := s.bucket.Create(ctx, objName, "text/plain; charset=utf-8", strings.NewReader(edl)); err != nil {
		return nil, fmt.Errorf("store edl: %w", err)
	}
	url, err := s.bucket.URL(ctx, objName)
	if err != nil {
		return nil, err
	}

	s.logger.Info("edl exported", "video", name, "events", len(events), "path", objName)
	return &export.Result{
		Status:     "ok",
		FullPath:   objName,
		URL:        url,
		EventCount: len(events),
		EDL:        edl,
	}, nil
}
