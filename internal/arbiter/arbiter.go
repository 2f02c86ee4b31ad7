package arbiter

import (
	"context"
	"log/slog"
	"regexp"
	"sync"

	"subtran/internal/logging"
	"subtran/internal/services"
)

// loopbackBackend matches translation backends running on this machine.
// Only the literal loopback address counts; "localhost" may resolve anywhere
// the resolver decides, so it never enables rotation.
var loopbackBackend = regexp.MustCompile(`://127\.0\.0\.1([:/]|$)`)

// RotationEnabled reports whether the translation backend URL qualifies for
// GPU rotation.
func RotationEnabled(translationBackendURL string) bool {
	return loopbackBackend.MatchString(translationBackendURL)
}

// ResidencyController moves the transcription model between devices. A move
// implies the sidecar drops its allocator cache so the freed memory is
// actually available to the other model.
type ResidencyController interface {
	MoveToGPU(ctx context.Context) error
	MoveToCPU(ctx context.Context) error
}

// Unloader evicts the translation model from the GPU. Implementations must
// treat "model not loaded" as success.
type Unloader interface {
	Unload(ctx context.Context) error
}

// Arbiter serializes GPU ownership between the transcription and translation
// models. With rotation enabled at most one model is resident at any time;
// with rotation disabled every method is a no-op.
type Arbiter struct {
	enabled bool
	whisper ResidencyController
	ollama  Unloader
	logger  *slog.Logger

	mu sync.Mutex
}

// New builds an arbiter. Rotation is derived from the translation backend URL.
func New(translationBackendURL string, whisper ResidencyController, ollama Unloader, logger *slog.Logger) *Arbiter {
	a := &Arbiter{
		enabled: RotationEnabled(translationBackendURL),
		whisper: whisper,
		ollama:  ollama,
		logger:  logging.NewComponentLogger(logger, "arbiter"),
	}
	a.logger.Info("gpu rotation", logging.Bool("enabled", a.enabled))
	return a
}

// Enabled reports whether rotation is active.
func (a *Arbiter) Enabled() bool {
	return a.enabled
}

// PrepareForExtraction gives the GPU to the transcription model: the
// translation model is evicted first, then the transcription model moves in.
// Eviction failures are logged and ignored; the move failure is fatal for the
// stage.
func (a *Arbiter) PrepareForExtraction(ctx context.Context) error {
	if !a.enabled {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ollama.Unload(ctx); err != nil {
		a.logger.Warn("translation model unload failed", logging.Error(err))
	}
	if err := a.whisper.MoveToGPU(ctx); err != nil {
		return services.Wrap(services.ErrExternalTool, "extracting", "move-to-gpu", "transcription model", err)
	}
	return nil
}

// PrepareForTranslation hands the GPU to the translation model by parking the
// transcription model on the CPU. The translation backend loads its model on
// demand once the memory is free.
func (a *Arbiter) PrepareForTranslation(ctx context.Context) error {
	if !a.enabled {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.whisper.MoveToCPU(ctx); err != nil {
		return services.Wrap(services.ErrExternalTool, "translating", "move-to-cpu", "transcription model", err)
	}
	return nil
}

// AfterTranslation evicts the translation model once a translation stage
// finishes and re-asserts that the transcription model is parked on the CPU,
// so the next extraction starts from a free GPU. Both calls are idempotent
// and failures are only warnings; the next PrepareForExtraction retries the
// eviction anyway.
func (a *Arbiter) AfterTranslation(ctx context.Context) {
	if !a.enabled {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ollama.Unload(ctx); err != nil {
		a.logger.Warn("translation model unload failed", logging.Error(err))
	}
	if err := a.whisper.MoveToCPU(ctx); err != nil {
		a.logger.Warn("transcription model cpu park failed", logging.Error(err))
	}
}
