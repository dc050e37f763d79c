package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/export"
	"github.com/joseph-ayodele/lecture-quiz/internal/server"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		inmem  = flag.Bool("inmem", false, "use in-memory SQLite database")
		dir    = flag.String("dir", "", "directory of lecture videos to process (required)")
		out    = flag.String("out", "", "output directory (optional, defaults to <dir>/quizzes)")
		format = flag.String("format", export.FormatXLSX, "export format: json or xlsx")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *format != export.FormatJSON && *format != export.FormatXLSX {
		printError("Error: --format must be json or xlsx\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(*dir, "quizzes")
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		printError("Error: cannot create %s: %v\n", *out, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := common.LoadConfig()
	if *inmem {
		cfg.Database.DSN = "sqlite://:memory:"
	}

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer app.Close(context.Background())

	logger.Info("starting ingestion", "dir", *dir)
	results, stats, err := app.Ingestor.IngestDirectory(ctx, *dir, true)
	if err != nil {
		logger.Error("failed to ingest directory", "error", err)
		os.Exit(1)
	}
	var ids []uuid.UUID
	for _, r := range results {
		if r.Err == "" && !r.Deduplicated {
			ids = append(ids, r.JobID)
		}
	}
	logger.Info("ingestion complete",
		"jobs", len(ids),
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"failed", stats.Failed,
		"deduplicated", stats.Deduplicated)

	if err := waitAll(ctx, app, ids); err != nil {
		logger.Error("interrupted while processing", "error", err)
		os.Exit(1)
	}

	exported, failures := 0, 0
	for _, id := range ids {
		job, err := app.Registry.Get(id)
		if err != nil {
			failures++
			continue
		}
		if job.Stage != constants.StageCompleted {
			msg := ""
			if job.Error != nil {
				msg = job.Error.Message
			}
			logger.Error("job did not complete", "job_id", id, "title", job.Title, "stage", job.Stage, "error", msg)
			failures++
			continue
		}
		b, _, err := app.Exporter.Export(ctx, id, *format)
		if err != nil {
			logger.Error("failed to export", "job_id", id, "error", err)
			failures++
			continue
		}
		path := filepath.Join(*out, fileName(job.Title, id)+"."+*format)
		if err := os.WriteFile(path, b, 0o644); err != nil {
			logger.Error("failed to write output file", "path", path, "error", err)
			failures++
			continue
		}
		exported++
	}

	logger.Info("batch processing complete", "jobs", len(ids), "exported", exported, "failures", failures, "output_dir", *out)

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Videos ingested: %d\n", len(ids))
	fmt.Printf("- Quizzes exported: %d\n", exported)
	fmt.Printf("- Failures: %d\n", failures)
	fmt.Printf("- Output: %s\n", *out)
	if failures > 0 {
		os.Exit(3)
	}
}

// waitAll blocks until every job is terminal.
func waitAll(ctx context.Context, app *server.App, ids []uuid.UUID) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		pending := 0
		for _, id := range ids {
			if j, err := app.Registry.Get(id); err == nil && !j.Stage.IsTerminal() {
				pending++
			}
		}
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func fileName(title string, id uuid.UUID) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		return id.String()
	}
	return name + "-" + id.String()[:8]
}
