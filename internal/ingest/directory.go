package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
)

// FSIngestor submits videos already on the local filesystem. Files are
// remembered by content hash so a watcher seeing one file several times
// submits it once.
type FSIngestor struct {
	Submitter Submitter
	Logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]IngestionResult
}

func NewFSIngestor(s Submitter, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{Submitter: s, Logger: logger, seen: map[string]IngestionResult{}}
}

// IngestPath hashes one video and submits it unless the same content was
// already submitted by this ingestor.
func (i *FSIngestor) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	var out IngestionResult

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	if !AllowedExt(filepath.Ext(abs)) {
		return out, common.InvalidArgumentErrorf("unsupported or missing extension: %q", filepath.Ext(abs))
	}

	f, err := os.Open(abs)
	if err != nil {
		return out, fmt.Errorf("open: %w", err)
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			i.Logger.Warn("ingest.close_failed", "path", abs, "error", err)
		}
	}(f)

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return out, fmt.Errorf("hash: %w", err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	i.mu.Lock()
	if prev, ok := i.seen[sum]; ok {
		i.mu.Unlock()
		prev.Deduplicated = true
		i.Logger.Info("ingest.path.dedup", "path", abs, "job_id", prev.JobID)
		return prev, nil
	}
	i.mu.Unlock()

	job, err := i.Submitter.Submit(ctx, abs, size, TitleFromFilename(abs))
	if err != nil {
		return out, err
	}
	out = IngestionResult{
		SourcePath: abs,
		JobID:      job.ID,
		HashHex:    sum,
		SizeBytes:  size,
		IngestedAt: time.Now().UTC(),
	}

	i.mu.Lock()
	i.seen[sum] = out
	i.mu.Unlock()

	i.Logger.Info("ingest.path.submitted", "path", abs, "job_id", job.ID, "size_bytes", size)
	return out, nil
}

// IngestDirectory walks root, skips hidden if requested,
// and calls IngestPath for each video. Returns per-file results + aggregate stats.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root_path is required")
	}

	var results []IngestionResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil // continue walking
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})

	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}
