package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	repo "github.com/joseph-ayodele/lecture-quiz/internal/repository"
)

// Stores bundles the repositories a process needs. DB is nil for the
// in-memory backend.
type Stores struct {
	Jobs        repo.JobRepository
	Transcripts repo.TranscriptRepository
	DB          *repo.DB
}

// Close releases the database, if any.
func (s Stores) Close(logger *slog.Logger) {
	CloseDB(s.DB, logger)
}

// ConnectDB opens the configured database and pings it. An empty DSN selects
// the in-memory stores, which forget everything on exit.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (Stores, error) {
	if cfg.DSN == "" {
		logger.Warn("DB_URL not set, using in-memory stores")
		return Stores{
			Jobs:        repo.NewMemoryJobRepository(),
			Transcripts: repo.NewMemoryTranscriptRepository(),
		}, nil
	}

	db, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		return Stores{}, err
	}
	if err := PingDB(ctx, db, logger, 5*time.Second); err != nil {
		CloseDB(db, logger)
		return Stores{}, err
	}
	return Stores{
		Jobs:        repo.NewSQLJobRepository(db, logger),
		Transcripts: repo.NewSQLTranscriptRepository(db, logger),
		DB:          db,
	}, nil
}

// PingDB pings the database to ensure it's responsive
func PingDB(ctx context.Context, db *repo.DB, logger *slog.Logger, timeout time.Duration) error {
	return repo.HealthCheck(ctx, db, timeout, logger)
}

// CloseDB closes the database connections gracefully
func CloseDB(db *repo.DB, logger *slog.Logger) {
	if db != nil {
		db.Close(logger)
	}
}
