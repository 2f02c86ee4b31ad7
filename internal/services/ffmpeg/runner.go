package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"subtran/internal/config"
	langpkg "subtran/internal/language"
	"subtran/internal/logging"
	"subtran/internal/services"
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Runner wraps the ffmpeg and ffprobe binaries.
type Runner struct {
	binary        string
	probeBinary   string
	muxTimeout    time.Duration
	subtitleTitle string
	logger        *slog.Logger
	run           commandRunner
}

// New constructs a runner from config.
func New(cfg config.FFmpeg, logger *slog.Logger) *Runner {
	return &Runner{
		binary:        cfg.Binary,
		probeBinary:   cfg.ProbeBinary,
		muxTimeout:    time.Duration(cfg.MuxTimeout) * time.Second,
		subtitleTitle: cfg.SubtitleTitle,
		logger:        logging.NewComponentLogger(logger, "ffmpeg"),
		run:           defaultCommandRunner,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (r *Runner) WithCommandRunner(run commandRunner) {
	if r != nil && run != nil {
		r.run = run
	}
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeResult struct {
	Format probeFormat `json:"format"`
}

// Probe returns the container duration of a media file in seconds.
func (r *Runner) Probe(ctx context.Context, path string) (float64, error) {
	if strings.TrimSpace(path) == "" {
		return 0, services.Wrap(services.ErrValidation, "", "probe", "empty path", nil)
	}
	args := []string{"-v", "error", "-hide_banner", "-show_format", "-of", "json", "--", path}
	output, err := r.run(ctx, r.probeBinary, args...)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "", "probe", "ffprobe failed", err)
	}
	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "", "probe", "parse ffprobe output", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(result.Format.Duration), 64)
	if err != nil || duration <= 0 {
		return 0, services.Wrap(services.ErrExternalTool, "", "probe", "container reports no duration", nil)
	}
	return duration, nil
}

// MuxRequest describes the inputs for subtitle muxing.
type MuxRequest struct {
	VideoPath    string
	SubtitlePath string
	OutputPath   string
	Language     string // ISO 639-1 code (e.g., "zh")
}

// MuxSubtitles embeds a translated SRT into a copy of the source video.
// The streams are copied, only the subtitle track is encoded. The write is
// atomic: ffmpeg targets a temporary file that is renamed on success.
func (r *Runner) MuxSubtitles(ctx context.Context, req MuxRequest) error {
	if strings.TrimSpace(req.VideoPath) == "" || strings.TrimSpace(req.SubtitlePath) == "" {
		return services.Wrap(services.ErrValidation, "generating_output", "mux", "video and subtitle paths are required", nil)
	}
	if _, err := os.Stat(req.VideoPath); err != nil {
		return services.Wrap(services.ErrValidation, "generating_output", "mux", "source video not found", err)
	}
	if _, err := os.Stat(req.SubtitlePath); err != nil {
		return services.Wrap(services.ErrValidation, "generating_output", "mux", "subtitle file not found", err)
	}

	dir := filepath.Dir(req.OutputPath)
	base := filepath.Base(req.OutputPath)
	tmpPath := filepath.Join(dir, ".mux-"+base+".tmp")

	args := r.buildMuxArgs(req, tmpPath)

	ctx, cancel := context.WithTimeout(ctx, r.muxTimeout)
	defer cancel()

	r.logger.Debug("executing ffmpeg mux",
		logging.String("video_path", req.VideoPath),
		logging.String("output_path", req.OutputPath),
		logging.String("language", req.Language),
	)

	if _, err := r.run(ctx, r.binary, args...); err != nil {
		_ = os.Remove(tmpPath)
		return services.Wrap(services.ErrExternalTool, "generating_output", "mux", "ffmpeg failed", err)
	}
	if _, err := os.Stat(tmpPath); err != nil {
		return services.Wrap(services.ErrExternalTool, "generating_output", "mux", "ffmpeg did not produce output", err)
	}
	if err := os.Rename(tmpPath, req.OutputPath); err != nil {
		_ = os.Remove(tmpPath)
		return services.Wrap(services.ErrExternalTool, "generating_output", "mux", "replace output", err)
	}
	return nil
}

// buildMuxArgs constructs the ffmpeg command arguments. mov_text is the only
// subtitle codec mp4 containers accept, so the track is always re-encoded.
func (r *Runner) buildMuxArgs(req MuxRequest, outputPath string) []string {
	lang3 := langpkg.ToISO3(req.Language)
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", req.VideoPath,
		"-i", req.SubtitlePath,
		"-map", "0",
		"-map", "1:0",
		"-c", "copy",
		"-c:s", "mov_text",
		"-metadata:s:s:0", "language=" + lang3,
	}
	if title := strings.TrimSpace(r.subtitleTitle); title != "" {
		args = append(args, "-metadata:s:s:0", "title="+title)
	}
	args = append(args, outputPath)
	return args
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return output, nil
}
