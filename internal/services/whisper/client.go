package whisper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"subtran/internal/config"
	"subtran/internal/logging"
	"subtran/internal/services"
	"subtran/internal/subtitles"
)

// Client talks to the whisper transcription sidecar over HTTP.
type Client struct {
	baseURL  string
	model    string
	language string
	http     *http.Client
	logger   *slog.Logger
}

// New builds a client from config.
func New(cfg config.Whisper, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		language: cfg.Language,
		http: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		logger: logging.NewComponentLogger(logger, "whisper"),
	}
}

// Health checks that the sidecar is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "", "whisper-health", "sidecar unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrExternalTool, "", "whisper-health",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	return nil
}

// SetDevice asks the sidecar to move the model to the named device ("cuda" or
// "cpu"). The sidecar clears its allocator cache as part of every move so the
// freed memory is genuinely available afterwards.
func (c *Client) SetDevice(ctx context.Context, device string) error {
	payload, err := json.Marshal(map[string]string{"device": device})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/admin/device", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "", "whisper-device", "move to "+device, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return services.Wrap(services.ErrExternalTool, "", "whisper-device",
			fmt.Sprintf("move to %s: status %d: %s", device, resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	return nil
}

// MoveToGPU implements arbiter.ResidencyController.
func (c *Client) MoveToGPU(ctx context.Context) error { return c.SetDevice(ctx, "cuda") }

// MoveToCPU implements arbiter.ResidencyController.
func (c *Client) MoveToCPU(ctx context.Context) error { return c.SetDevice(ctx, "cpu") }

type transcribeRequest struct {
	Path     string `json:"path"`
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// streamEvent is one NDJSON line of the transcription response: progress
// lines while the model runs, then a single result event.
type streamEvent struct {
	Type     string          `json:"type"`
	Line     string          `json:"line,omitempty"`
	Error    string          `json:"error,omitempty"`
	Segments []streamSegment `json:"segments,omitempty"`
}

type streamSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcribe runs the sidecar on a video file. Raw progress lines are passed
// to onLine as they arrive; the timed segments come back once the model
// finishes.
func (c *Client) Transcribe(ctx context.Context, videoPath string, onLine func(string)) ([]subtitles.Segment, error) {
	payload, err := json.Marshal(transcribeRequest{
		Path:     videoPath,
		Model:    c.model,
		Language: normalizeLanguage(c.language),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "extracting", "transcribe", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, services.Wrap(services.ErrExternalTool, "extracting", "transcribe",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var segments []subtitles.Segment
	sawResult := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event streamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			// Tolerate raw progress lines from older sidecars.
			if onLine != nil {
				onLine(line)
			}
			continue
		}
		switch event.Type {
		case "progress":
			if onLine != nil {
				onLine(event.Line)
			}
		case "result":
			sawResult = true
			segments = make([]subtitles.Segment, 0, len(event.Segments))
			for i, seg := range event.Segments {
				segments = append(segments, subtitles.Segment{
					Index: i + 1,
					Start: secondsToDuration(seg.Start),
					End:   secondsToDuration(seg.End),
					Text:  strings.TrimSpace(seg.Text),
				})
			}
		case "error":
			return nil, services.Wrap(services.ErrExternalTool, "extracting", "transcribe", event.Error, nil)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "extracting", "transcribe", "stream interrupted", err)
	}
	if !sawResult {
		return nil, services.Wrap(services.ErrExternalTool, "extracting", "transcribe", "stream ended without result", nil)
	}
	return segments, nil
}

func normalizeLanguage(lang string) string {
	if lang == "auto" {
		return ""
	}
	return lang
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
