package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adclip/adclip/internal/catalog"
	"github.com/adclip/adclip/internal/transcript"
)

// cut renders a transcript file against a stored video. A path that names
// a local file is imported into the bucket first.
func cut(cmd *cobra.Command, videoPath, transcriptFile string, watermark bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lines, err := readTranscript(transcriptFile)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if info, err := os.Stat(videoPath); err == nil && !info.IsDir() {
		video, err := a.service.ImportFile(ctx, videoPath)
		if err != nil {
			return fmt.Errorf("import %s: %w", videoPath, err)
		}
		videoPath = video.Path
	}

	filename := catalog.FilenameFromPath(videoPath)
	res, err := a.service.CutVideo(ctx, catalog.CutRequest{
		FileName:   filename,
		FullPath:   videoPath,
		Transcript: lines,
	})
	if err != nil {
		return err
	}

	if watermark {
		if _, err := a.service.AddWatermark(ctx, catalog.WatermarkRequest{
			FileName:         filename,
			FullPath:         res.FullPath,
			FullPathVertical: res.FullPathVertical,
		}); err != nil {
			return fmt.Errorf("watermark: %w", err)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// readTranscript accepts either a bare array of lines or an object with a
// "transcript" field, as returned by transcribe_video.
func readTranscript(path string) ([]transcript.Line, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var lines []transcript.Line
	if err := json.Unmarshal(data, &lines); err != nil {
		var wrapped struct {
			Transcript []transcript.Line `json:"transcript"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parse transcript %s: %w", path, err)
		}
		lines = wrapped.Transcript
	}
	if len(lines) == 0 {
		return nil, errors.New("transcript has no lines")
	}
	return lines, nil
}

func doctor(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	caps, err := a.doctor.Refresh(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(caps); err != nil {
		return err
	}
	if !caps.Summary.AllOK {
		return fmt.Errorf("%d of %d tools available", caps.Summary.Available, caps.Summary.Total)
	}
	return nil
}

func token(cmd *cobra.Command, rotate bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.AuthToken() != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "note: ADCLIP_AUTH_TOKEN is set and takes precedence over the stored token")
	}
	t, err := ensureAuthToken(ctx, a.repo, rotate)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), t)
	return nil
}
