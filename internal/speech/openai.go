package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

// OpenAIConfig configures the hosted transcription backend.
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string // default https://api.openai.com/v1
	Model    string // default whisper-1
	Language string
	Timeout  time.Duration
}

// OpenAI speech-to-text via audio/transcriptions with verbose_json so we get
// timed segments and the duration back.
type openAIBackend struct {
	cfg    OpenAIConfig
	http   *http.Client
	logger *slog.Logger
}

func NewOpenAIBackend(cfg OpenAIConfig, logger *slog.Logger) Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &openAIBackend{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

func (o *openAIBackend) Name() string { return "openai" }

type verboseResp struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (o *openAIBackend) Transcribe(ctx context.Context, audioPath string) (entity.Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return entity.Transcript{}, fmt.Errorf("open audio: %v: %w", err, common.ErrPermanent)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"model":           o.cfg.Model,
		"response_format": "verbose_json",
	}
	if o.cfg.Language != "" {
		fields["language"] = o.cfg.Language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return entity.Transcript{}, err
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return entity.Transcript{}, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return entity.Transcript{}, err
	}
	if err := mw.Close(); err != nil {
		return entity.Transcript{}, err
	}

	url := strings.TrimRight(o.cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return entity.Transcript{}, err
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := o.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return entity.Transcript{}, fmt.Errorf("openai transcription: %w", ctx.Err())
		}
		return entity.Transcript{}, fmt.Errorf("openai transcription: %v: %w", err, common.ErrTransient)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return entity.Transcript{}, fmt.Errorf("read transcription: %v: %w", err, common.ErrTransient)
	}
	o.logger.Info("speech.openai.response", "status", resp.StatusCode, "bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())
	if resp.StatusCode/100 != 2 {
		return entity.Transcript{}, &common.StatusError{Service: "openai transcription", Code: resp.StatusCode, Body: string(raw)}
	}

	var vr verboseResp
	if err := json.Unmarshal(raw, &vr); err != nil {
		return entity.Transcript{}, fmt.Errorf("decode transcription: %v: %w", err, common.ErrTransient)
	}
	return vr.transcript(), nil
}

func (vr verboseResp) transcript() entity.Transcript {
	t := entity.Transcript{
		Text:     strings.TrimSpace(vr.Text),
		Language: vr.Language,
		Duration: seconds(vr.Duration),
	}
	for _, s := range vr.Segments {
		t.Spans = append(t.Spans, entity.Span{
			Start: seconds(s.Start),
			End:   seconds(s.End),
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return t
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// errEmptyOutput is returned when a local engine exits cleanly without output.
var errEmptyOutput = errors.New("transcription produced no output")
