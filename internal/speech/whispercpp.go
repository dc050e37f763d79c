package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/media"
)

// whisper.cpp CLI backend; reads the "-oj" JSON written next to the audio.
type whisperCPPBackend struct {
	binary    string
	modelPath string
	language  string
	runner    media.Runner
	logger    *slog.Logger
}

func NewWhisperCPPBackend(binary, modelPath, language string, runner media.Runner, logger *slog.Logger) Backend {
	if binary == "" {
		binary = "whisper-cli"
	}
	if runner == nil {
		runner = media.ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &whisperCPPBackend{binary: binary, modelPath: modelPath, language: language, runner: runner, logger: logger}
}

func (w *whisperCPPBackend) Name() string { return "whispercpp" }

type whisperJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func (w *whisperCPPBackend) Transcribe(ctx context.Context, audioPath string) (entity.Transcript, error) {
	outBase := strings.TrimSuffix(audioPath, ".wav")
	outJSON := outBase + ".json"
	defer os.Remove(outJSON)

	args := []string{"-m", w.modelPath, "-f", audioPath, "-oj", "-of", outBase, "-np"}
	if w.language != "" {
		args = append(args, "-l", w.language)
	}
	_, stderr, err := w.runner.Run(ctx, w.binary, w.logger, args...)
	if err != nil {
		if ctx.Err() != nil {
			return entity.Transcript{}, fmt.Errorf("whisper.cpp: %w", ctx.Err())
		}
		msg := strings.TrimSpace(string(stderr))
		if strings.Contains(msg, "failed to load model") || strings.Contains(msg, "failed to read") {
			return entity.Transcript{}, fmt.Errorf("whisper.cpp: %s: %w", msg, common.ErrPermanent)
		}
		return entity.Transcript{}, fmt.Errorf("whisper.cpp: %v: %s: %w", err, msg, common.ErrTransient)
	}

	raw, err := os.ReadFile(outJSON)
	if err != nil {
		return entity.Transcript{}, fmt.Errorf("whisper.cpp: %w: %w", errEmptyOutput, common.ErrTransient)
	}
	var wj whisperJSON
	if err := json.Unmarshal(raw, &wj); err != nil {
		return entity.Transcript{}, fmt.Errorf("decode whisper.cpp output: %v: %w", err, common.ErrPermanent)
	}
	return wj.transcript(), nil
}

func (wj whisperJSON) transcript() entity.Transcript {
	t := entity.Transcript{Language: wj.Result.Language}
	texts := make([]string, 0, len(wj.Transcription))
	for _, s := range wj.Transcription {
		text := strings.TrimSpace(s.Text)
		span := entity.Span{
			Start: time.Duration(s.Offsets.From) * time.Millisecond,
			End:   time.Duration(s.Offsets.To) * time.Millisecond,
			Text:  text,
		}
		t.Spans = append(t.Spans, span)
		if span.End > t.Duration {
			t.Duration = span.End
		}
		if text != "" {
			texts = append(texts, text)
		}
	}
	t.Text = strings.Join(texts, " ")
	return t
}
