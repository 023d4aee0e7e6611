// Package media wraps the ffmpeg operations AdClip needs: audio extraction
// for speech recognition, shot detection, segment cutting, vertical
// cropping and watermarking.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adclip/adclip/internal/pipelines"
	"github.com/adclip/adclip/internal/transcript"
)

// FFmpeg is the set of media operations used by the catalog service.
type FFmpeg interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	ExtractAudio(ctx context.Context, in, outWav string) error
	DetectShots(ctx context.Context, in string) ([]transcript.Shot, error)
	Concat(ctx context.Context, in string, segments []Segment, out string) error
	CropVertical(ctx context.Context, in, out string) error
	Watermark(ctx context.Context, in, image, out string) error
}

// ProbeResult describes a media file.
type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	FrameRate  float64
	AudioCodec string
}

// HasAudio reports whether the file carries an audio stream.
func (p *ProbeResult) HasAudio() bool { return p.AudioCodec != "" }

// Timeouts bounds each kind of ffmpeg invocation.
type Timeouts struct {
	Probe  time.Duration
	Audio  time.Duration
	Shots  time.Duration
	Render time.Duration
}

// DefaultTimeouts returns production defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Probe:  30 * time.Second,
		Audio:  10 * time.Minute,
		Shots:  20 * time.Minute,
		Render: 30 * time.Minute,
	}
}

// SceneThreshold is the ffmpeg scene score above which a frame starts a
// new shot.
const SceneThreshold = 0.3

// Tool runs ffmpeg and ffprobe through a pipelines.Runner.
type Tool struct {
	runner   pipelines.Runner
	timeouts Timeouts
	logger   *slog.Logger
}

func New(runner pipelines.Runner, timeouts Timeouts, logger *slog.Logger) *Tool {
	return &Tool{runner: runner, timeouts: timeouts, logger: logger}
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads stream and container information with ffprobe.
func (t *Tool) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	res, err := t.runner.Run(ctx, pipelines.ToolFFprobe, t.timeouts.Probe,
		"-v", "error",
		"-show_entries", "stream=codec_type,codec_name,width,height,avg_frame_rate:format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe([]byte(res.Stdout))
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	var pr ProbeResult
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
		}
		pr.Duration = d
	}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if pr.Codec != "" {
				continue
			}
			pr.Codec = s.CodecName
			pr.Width = s.Width
			pr.Height = s.Height
			pr.FrameRate = parseRate(s.AvgFrameRate)
		case "audio":
			if pr.AudioCodec == "" {
				pr.AudioCodec = s.CodecName
			}
		}
	}
	return &pr, nil
}

func parseRate(r string) float64 {
	var num, den float64
	if _, err := fmt.Sscanf(r, "%g/%g", &num, &den); err != nil || den == 0 {
		return 0
	}
	return num / den
}

// ExtractAudio writes a mono 16 kHz WAV suitable for speech recognition.
func (t *Tool) ExtractAudio(ctx context.Context, in, outWav string) error {
	if err := os.MkdirAll(filepath.Dir(outWav), 0755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	_, err := t.runner.Run(ctx, pipelines.ToolFFmpeg, t.timeouts.Audio,
		"-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outWav,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg extract audio: %w", err)
	}
	return nil
}

// DetectShots runs ffmpeg scene detection over the video and returns the
// shots covering its full duration.
func (t *Tool) DetectShots(ctx context.Context, in string) ([]transcript.Shot, error) {
	probe, err := t.Probe(ctx, in)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(t.runner.ArtifactsDir(), "scenes-*.txt")
	if err != nil {
		return nil, fmt.Errorf("create scene file: %w", err)
	}
	scenePath := f.Name()
	f.Close()
	defer os.Remove(scenePath)

	filter := fmt.Sprintf("select='gt(scene,%g)',metadata=print:file=%s", SceneThreshold, escapeFilterPath(scenePath))
	if _, err := t.runner.Run(ctx, pipelines.ToolFFmpeg, t.timeouts.Shots,
		"-i", in,
		"-an",
		"-vf", filter,
		"-f", "null",
		"-",
	); err != nil {
		return nil, fmt.Errorf("ffmpeg scene detection: %w", err)
	}

	sf, err := os.Open(scenePath)
	if err != nil {
		return nil, fmt.Errorf("read scene file: %w", err)
	}
	defer sf.Close()

	cuts, err := ParseSceneCuts(sf)
	if err != nil {
		return nil, err
	}
	shots := ShotsFromCuts(cuts, probe.Duration)
	t.logger.Info("shots detected", "count", len(shots), "duration", probe.Duration)
	return shots, nil
}

// Concat cuts segments out of in and joins them into out, re-encoding once.
func (t *Tool) Concat(ctx context.Context, in string, segments []Segment, out string) error {
	if len(segments) == 0 {
		return fmt.Errorf("no segments to render")
	}
	probe, err := t.Probe(ctx, in)
	if err != nil {
		return err
	}

	args := []string{
		"-y",
		"-i", in,
		"-filter_complex", BuildConcatFilter(segments, probe.HasAudio()),
		"-map", "[outv]",
	}
	if probe.HasAudio() {
		args = append(args, "-map", "[outa]", "-c:a", "aac", "-b:a", "192k")
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-movflags", "+faststart",
		out,
	)
	if _, err := t.runner.Run(ctx, pipelines.ToolFFmpeg, t.timeouts.Render, args...); err != nil {
		return fmt.Errorf("ffmpeg concat: %w", err)
	}
	return nil
}

// CropVertical centre-crops in to a 9:16 frame.
func (t *Tool) CropVertical(ctx context.Context, in, out string) error {
	probe, err := t.Probe(ctx, in)
	if err != nil {
		return err
	}
	cw, x := VerticalCrop(probe.Width, probe.Height)
	if cw <= 0 {
		return fmt.Errorf("cannot crop %dx%d to 9:16", probe.Width, probe.Height)
	}

	if _, err := t.runner.Run(ctx, pipelines.ToolFFmpeg, t.timeouts.Render,
		"-y",
		"-i", in,
		"-vf", fmt.Sprintf("crop=%d:%d:%d:0", cw, probe.Height, x),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-c:a", "copy",
		"-movflags", "+faststart",
		out,
	); err != nil {
		return fmt.Errorf("ffmpeg crop: %w", err)
	}
	return nil
}

// Watermark overlays image at the top-left corner of in.
func (t *Tool) Watermark(ctx context.Context, in, image, out string) error {
	if _, err := t.runner.Run(ctx, pipelines.ToolFFmpeg, t.timeouts.Render,
		"-y",
		"-i", in,
		"-i", image,
		"-filter_complex", "overlay=10:10",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-c:a", "copy",
		out,
	); err != nil {
		return fmt.Errorf("ffmpeg watermark: %w", err)
	}
	return nil
}
