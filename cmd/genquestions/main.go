package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/llm"
	"github.com/joseph-ayodele/lecture-quiz/internal/llm/openai"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: genquestions <transcript.txt> [times]")
		os.Exit(2)
	}
	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		logger.Error("read transcript", "path", os.Args[1], "error", err)
		os.Exit(2)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		logger.Error("transcript is empty", "path", os.Args[1])
		os.Exit(2)
	}
	times := 1
	if len(os.Args) >= 3 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
			times = n
		}
	}

	cfg := common.LoadConfig()
	if cfg.LLM.APIKey == "" {
		logger.Error("OPENAI_API_KEY env var is required")
		os.Exit(2)
	}

	client := openai.NewClient(openai.Config{
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		Strict:      cfg.LLM.Strict,
	}, logger)
	gen := llm.NewGenerator(client, cfg.Pipeline.SegmentWindow, constants.OptionsPerQuestion, logger)
	seg := entity.Segment{ID: uuid.New(), JobID: uuid.New(), Index: 0, Text: text}

	// Repeated runs on the same text show how stable the model output is.
	ok := 0
	for i := 1; i <= times; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		start := time.Now()
		logger.Info("genquestions.run.start", "iter", i, "chars", len(text))

		qs, err := gen.GenerateQuestions(ctx, seg, cfg.Pipeline.QuestionsPerSegment)
		cancel()
		if err != nil {
			logger.Error("genquestions.run.error", "iter", i, "error", err)
			continue
		}
		ok++
		logger.Info("genquestions.run.ok", "iter", i, "questions", len(qs), "elapsed_ms", time.Since(start).Milliseconds())

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(qs)

		if i < times {
			time.Sleep(750 * time.Millisecond)
		}
	}

	logger.Info("done", "times", times, "succeeded", ok)
	if ok == 0 {
		os.Exit(1)
	}
}
