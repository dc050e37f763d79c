package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

// JobRepository persists job snapshots so they survive a restart.
// The registry remains the source of truth while the process runs.
type JobRepository interface {
	Save(ctx context.Context, job entity.Job) error
	Get(ctx context.Context, id uuid.UUID) (entity.Job, error)
	// List returns jobs newest first.
	List(ctx context.Context) ([]entity.Job, error)
}

type memoryJobRepo struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]entity.Job
}

// NewMemoryJobRepository returns a JobRepository that keeps snapshots in memory.
func NewMemoryJobRepository() JobRepository {
	return &memoryJobRepo{jobs: make(map[uuid.UUID]entity.Job)}
}

func (r *memoryJobRepo) Save(ctx context.Context, job entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *memoryJobRepo) Get(ctx context.Context, id uuid.UUID) (entity.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return entity.Job{}, common.NotFoundf("job %s", id)
	}
	return j.Clone(), nil
}

func (r *memoryJobRepo) List(ctx context.Context) ([]entity.Job, error) {
	r.mu.RLock()
	out := make([]entity.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Clone())
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(jobs []entity.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID.String() < jobs[j].ID.String()
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}

type sqlJobRepo struct {
	db     *DB
	logger *slog.Logger
}

// NewSQLJobRepository returns a JobRepository backed by the jobs table.
func NewSQLJobRepository(db *DB, logger *slog.Logger) JobRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqlJobRepo{db: db, logger: logger}
}

const jobColumns = `id, source_ref, size_bytes, title, stage, progress, error_stage, error_message, error_retryable, duration_seconds, cancel_requested, created_at_ms, updated_at_ms`

func (r *sqlJobRepo) Save(ctx context.Context, job entity.Job) error {
	var (
		errStage, errMsg sql.NullString
		retryable        bool
	)
	if job.Error != nil {
		errStage = sql.NullString{String: string(job.Error.Stage), Valid: true}
		errMsg = sql.NullString{String: job.Error.Message, Valid: true}
		retryable = job.Error.Retryable
	}
	query := rebind(r.db.Dialect, `INSERT INTO jobs (`+jobColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    title = excluded.title,
    stage = excluded.stage,
    progress = excluded.progress,
    error_stage = excluded.error_stage,
    error_message = excluded.error_message,
    error_retryable = excluded.error_retryable,
    duration_seconds = excluded.duration_seconds,
    cancel_requested = excluded.cancel_requested,
    updated_at_ms = excluded.updated_at_ms`)
	_, err := r.db.SQL.ExecContext(ctx, query,
		job.ID.String(), job.SourceRef, job.SizeBytes, job.Title, string(job.Stage), job.Progress,
		errStage, errMsg, boolToInt(retryable), job.DurationSeconds, boolToInt(job.CancelRequested),
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli())
	if err != nil {
		r.logger.Error("repository.job.save_failed", "job_id", job.ID, "error", err)
		return fmt.Errorf("%w: save job: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *sqlJobRepo) Get(ctx context.Context, id uuid.UUID) (entity.Job, error) {
	row := r.db.SQL.QueryRowContext(ctx, rebind(r.db.Dialect, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id.String())
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Job{}, common.NotFoundf("job %s", id)
	}
	return j, err
}

func (r *sqlJobRepo) List(ctx context.Context) ([]entity.Job, error) {
	rows, err := r.db.SQL.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at_ms DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	out := []entity.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func scanJob(row rowScanner) (entity.Job, error) {
	var (
		j                    entity.Job
		id, stage            string
		errStage, errMsg     sql.NullString
		retryable, cancel    int
		createdMs, updatedMs int64
	)
	err := row.Scan(&id, &j.SourceRef, &j.SizeBytes, &j.Title, &stage, &j.Progress,
		&errStage, &errMsg, &retryable, &j.DurationSeconds, &cancel, &createdMs, &updatedMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return j, err
		}
		return j, fmt.Errorf("%w: scan job: %v", common.ErrDatabase, err)
	}
	if j.ID, err = uuid.Parse(id); err != nil {
		return j, fmt.Errorf("%w: job id: %v", common.ErrDatabase, err)
	}
	j.Stage = constants.Stage(stage)
	if errStage.Valid {
		j.Error = &entity.JobError{
			Stage:     constants.Stage(errStage.String),
			Message:   errMsg.String,
			Retryable: retryable != 0,
		}
	}
	j.CancelRequested = cancel != 0
	j.CreatedAt = time.UnixMilli(createdMs).UTC()
	j.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return j, nil
}
