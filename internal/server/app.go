package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/async"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/export"
	"github.com/joseph-ayodele/lecture-quiz/internal/ingest"
	"github.com/joseph-ayodele/lecture-quiz/internal/jobs"
	"github.com/joseph-ayodele/lecture-quiz/internal/lectures"
	"github.com/joseph-ayodele/lecture-quiz/internal/llm"
	"github.com/joseph-ayodele/lecture-quiz/internal/llm/openai"
	"github.com/joseph-ayodele/lecture-quiz/internal/media"
	"github.com/joseph-ayodele/lecture-quiz/internal/pipeline"
	"github.com/joseph-ayodele/lecture-quiz/internal/speech"
)

// App is the wired processing stack shared by the daemon and the batch tool.
type App struct {
	Stores       Stores
	Registry     *jobs.Registry
	Orchestrator *pipeline.Orchestrator
	Queue        *async.ProcessorQueue
	Service      *lectures.Service
	Ingestor     *ingest.FSIngestor
	Exporter     *export.Service

	logger *slog.Logger
}

// NewApp connects storage, restores persisted jobs and builds the pipeline
// with ffmpeg, the configured speech backend and the OpenAI question writer.
func NewApp(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	stores, err := ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	registry := jobs.NewRegistry(
		jobs.WithJobRepository(stores.Jobs),
		jobs.WithLogger(logger),
	)
	if _, err := registry.Restore(ctx); err != nil {
		stores.Close(logger)
		return nil, err
	}

	transcoder := media.NewTranscoder(cfg.Media.FFmpegPath, cfg.Media.FFprobePath, cfg.Media.WorkDir, logger)
	backend, err := speech.New(cfg.Speech, cfg.LLM.APIKey, cfg.LLM.BaseURL, media.ExecRunner{}, logger)
	if err != nil {
		stores.Close(logger)
		return nil, err
	}
	writer := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		Strict:      cfg.LLM.Strict,
	}, logger)
	generator := llm.NewGenerator(writer, cfg.Pipeline.SegmentWindow, constants.OptionsPerQuestion, logger)

	exec := pipeline.Executors{
		Transcode:  pipeline.NewTranscodeExecutor(transcoder),
		Transcribe: pipeline.NewTranscribeExecutor(speech.NewTranscriber(transcoder, backend, logger)),
		Segment:    pipeline.NewSegmentExecutor(cfg.Pipeline.SegmentWindow),
		Generate:   pipeline.NewGenerateExecutor(generator, cfg.Pipeline.QuestionsPerSegment),
	}
	orch := pipeline.NewOrchestrator(registry, stores.Transcripts, exec, pipeline.Config{
		Retry: pipeline.RetryPolicy{
			MaxRetries: cfg.Pipeline.MaxRetries,
			BaseDelay:  cfg.Pipeline.BackoffBase,
			MaxDelay:   cfg.Pipeline.BackoffMax,
		},
		StageTimeouts: map[constants.Stage]time.Duration{
			constants.StageTranscoding:         cfg.Pipeline.TranscodeTimeout,
			constants.StageTranscribing:        cfg.Pipeline.TranscribeTimeout,
			constants.StageSegmenting:          cfg.Pipeline.SegmentTimeout,
			constants.StageGeneratingQuestions: cfg.Pipeline.QuestionsTimeout,
		},
	}, logger)

	queue := async.NewProcessorQueue(orch, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
	)
	orch.AttachQueue(queue)

	uploader := ingest.NewUploader(cfg.Ingest.UploadDir, cfg.Ingest.MaxUploadBytes, orch, logger)
	exporter := export.NewService(registry, stores.Transcripts, cfg.Pipeline.SegmentWindow, logger)
	svc := lectures.NewService(orch, registry, stores.Transcripts, exporter, uploader, cfg.Pipeline.SegmentWindow, logger)

	return &App{
		Stores:       stores,
		Registry:     registry,
		Orchestrator: orch,
		Queue:        queue,
		Service:      svc,
		Ingestor:     ingest.NewFSIngestor(orch, logger),
		Exporter:     exporter,
		logger:       logger,
	}, nil
}

// Close interrupts running jobs, waits for the workers until ctx is done and
// releases storage.
func (a *App) Close(ctx context.Context) {
	a.Queue.Shutdown(ctx)
	a.Stores.Close(a.logger)
}
