package ollama

import (
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
	langpkg "subtran/internal/language"
	"subtran/internal/logging"
	"subtran/internal/services"
)

// Client talks to an ollama translation backend.
type Client struct {
	baseURL        string
	model          string
	targetLanguage string
	http           *http.Client
	unloadTimeout  time.Duration
	logger         *slog.Logger
}

// New builds a client from config.
func New(cfg config.Ollama, logger *slog.Logger) *Client {
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		model:          cfg.Model,
		targetLanguage: cfg.TargetLanguage,
		http: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		unloadTimeout: time.Duration(cfg.UnloadTimeout) * time.Second,
		logger:        logging.NewComponentLogger(logger, "ollama"),
	}
}

type generateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt,omitempty"`
	Stream    bool   `json:"stream"`
	KeepAlive *int   `json:"keep_alive,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Translate translates each line into the configured target language,
// preserving order. onProgress is invoked after every completed line with
// (done, total).
func (c *Client) Translate(ctx context.Context, lines []string, onProgress func(done, total int)) ([]string, error) {
	out := make([]string, len(lines))
	total := len(lines)
	for i, line := range lines {
		translated, err := c.generate(ctx, translationPrompt(line, c.targetLanguage))
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "translating", "generate",
				fmt.Sprintf("line %d/%d", i+1, total), err)
		}
		out[i] = strings.TrimSpace(translated)
		if onProgress != nil {
			onProgress(i+1, total)
		}
	}
	return out, nil
}

// Unload evicts the model from memory via a zero keep_alive generate call.
// A missing model is a no-op success: there is nothing to evict.
func (c *Client) Unload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.unloadTimeout)
	defer cancel()

	zero := 0
	payload, err := json.Marshal(generateRequest{Model: c.model, Stream: false, KeepAlive: &zero})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "", "ollama-unload", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		text := strings.TrimSpace(string(body))
		if strings.Contains(text, "not found") || strings.Contains(text, "not loaded") {
			return nil
		}
		return services.Wrap(services.ErrExternalTool, "", "ollama-unload",
			fmt.Sprintf("status %d: %s", resp.StatusCode, text), nil)
	}
	return nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("backend error: %s", decoded.Error)
	}
	return decoded.Response, nil
}

func translationPrompt(line, targetLanguage string) string {
	return fmt.Sprintf(
		"Translate the following subtitle line into %s. Reply with the translation only, no explanations.\n\n%s",
		langpkg.DisplayName(targetLanguage), line)
}
