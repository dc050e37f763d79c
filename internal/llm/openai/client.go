package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/llm"
)

// WriteQuestions implements llm.QuestionWriter using chat/completions in JSON mode.
func (c *Client) WriteQuestions(ctx context.Context, req llm.QuestionRequest) (llm.QuestionSet, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("llm.questions.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"segment_index", req.SegmentIndex,
		"text_len", len(req.SegmentText),
		"count", req.Count,
	)

	schema := llm.QuestionSchemaFor(req.Count, req.OptionsPerQuestion)
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(req)},
			{"role": "user", "content": llm.BuildUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema.Doc)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		c.logger.Error("llm.questions.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.QuestionSet{}, nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.questions.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return llm.QuestionSet{}, raw, fmt.Errorf("decode openai response: %v: %w", err, common.ErrTransient)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.questions.no_choices", "req_id", rid, "raw", string(raw))
		return llm.QuestionSet{}, raw, fmt.Errorf("no choices in openai response: %w", common.ErrTransient)
	}
	content := llm.ExtractJSONObject(cc.Choices[0].Message.Content)

	// Validate strictly first; fall back to the repair pass unless Strict.
	if err := schema.Validate(content); err != nil {
		if c.cfg.Strict {
			c.logger.Error("llm.questions.schema_validation_failed", "req_id", rid, "error", err, "content", string(content))
			return llm.QuestionSet{}, content, fmt.Errorf("schema validation failed: %v: %w", err, common.ErrTransient)
		}
		cleaned, changed, sErr := llm.NormalizeQuestionJSON(content, c.logger)
		if sErr != nil {
			c.logger.Error("llm.questions.sanitize_failed", "req_id", rid, "error", sErr)
			return llm.QuestionSet{}, content, fmt.Errorf("sanitize failed: %v: %w", sErr, common.ErrTransient)
		}
		if vErr := schema.Validate(cleaned); vErr != nil {
			c.logger.Error("llm.questions.schema_validation_failed", "req_id", rid, "error", vErr, "content", string(cleaned))
			return llm.QuestionSet{}, cleaned, fmt.Errorf("schema validation failed: %v: %w", vErr, common.ErrTransient)
		}
		c.logger.Warn("llm.questions.lenient_sanitize_applied", "req_id", rid, "changed", changed)
		content = cleaned
	}

	var out llm.QuestionSet
	if err := json.Unmarshal(content, &out); err != nil {
		c.logger.Error("llm.questions.unmarshal_failed", "req_id", rid, "error", err)
		return llm.QuestionSet{}, content, fmt.Errorf("unmarshal questions: %v: %w", err, common.ErrTransient)
	}

	c.logger.Info("llm.questions.ok",
		"req_id", rid,
		"segment_index", req.SegmentIndex,
		"questions", len(out.Questions),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, content, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
