package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/media"
)

// Backend is a pluggable speech-to-text engine working on a WAV file.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string) (entity.Transcript, error)
}

// AudioExtractor produces the audio track a Backend consumes.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath string) (string, error)
}

// Transcriber runs the Transcribe stage: extract audio, then hand it to the backend.
type Transcriber struct {
	Audio   AudioExtractor
	Backend Backend
	Logger  *slog.Logger
}

func NewTranscriber(audio AudioExtractor, backend Backend, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{Audio: audio, Backend: backend, Logger: logger}
}

func (t *Transcriber) Transcribe(ctx context.Context, jobID uuid.UUID, media entity.MediaRef, progress func(int)) (entity.Transcript, error) {
	audio, err := t.Audio.ExtractAudio(ctx, media.Path)
	if err != nil {
		return entity.Transcript{}, fmt.Errorf("extract audio: %w", err)
	}
	defer func() {
		if err := os.Remove(audio); err != nil && !os.IsNotExist(err) {
			t.Logger.Warn("speech.audio.cleanup_failed", "job_id", jobID, "path", audio, "error", err)
		}
	}()
	report(progress, 20)

	tr, err := t.Backend.Transcribe(ctx, audio)
	if err != nil {
		t.Logger.Error("speech.transcribe.failed", "job_id", jobID, "backend", t.Backend.Name(), "error", err)
		return entity.Transcript{}, err
	}
	if tr.Duration <= 0 {
		tr.Duration = media.Duration
	}
	if tr.Text == "" && len(tr.Spans) == 0 {
		t.Logger.Warn("speech.transcribe.empty", "job_id", jobID, "backend", t.Backend.Name())
	}
	report(progress, 100)

	t.Logger.Info("speech.transcribe.ok",
		"job_id", jobID,
		"backend", t.Backend.Name(),
		"spans", len(tr.Spans),
		"chars", len(tr.Text),
		"language", tr.Language,
	)
	return tr, nil
}

func report(progress func(int), p int) {
	if progress != nil {
		progress(p)
	}
}

// New picks a backend by name ("openai" or "whispercpp").
func New(cfg common.SpeechConfig, openAIKey, openAIBaseURL string, runner media.Runner, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", "openai":
		return NewOpenAIBackend(OpenAIConfig{
			APIKey:   openAIKey,
			BaseURL:  openAIBaseURL,
			Model:    cfg.OpenAIModel,
			Language: cfg.Language,
			Timeout:  cfg.Timeout,
		}, logger), nil
	case "whispercpp":
		return NewWhisperCPPBackend(cfg.WhisperPath, cfg.ModelPath, cfg.Language, runner, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown speech backend %q", common.ErrInvalidInput, cfg.Backend)
	}
}
