package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

type sqlTranscriptRepo struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLTranscriptRepository returns a TranscriptRepository backed by db.
// Every batch write runs in one transaction.
func NewSQLTranscriptRepository(db *DB, logger *slog.Logger) TranscriptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqlTranscriptRepo{db: db, logger: logger, now: time.Now}
}

func (r *sqlTranscriptRepo) q(query string) string { return rebind(r.db.Dialect, query) }

// inTx runs fn in a transaction, rolling back on error.
func (r *sqlTranscriptRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", common.ErrDatabase, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error("repository.tx.rollback_failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *sqlTranscriptRepo) WriteSegments(ctx context.Context, jobID uuid.UUID, segments []entity.Segment) error {
	if err := ValidateSegmentBatch(jobID, segments); err != nil {
		return err
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM segments WHERE job_id = ?`), jobID.String()).Scan(&n); err != nil {
			return fmt.Errorf("%w: count segments: %v", common.ErrDatabase, err)
		}
		if n > 0 {
			return fmt.Errorf("segments for job %s: %w", jobID, common.ErrAlreadyWritten)
		}
		ins := r.q(`INSERT INTO segments (id, job_id, idx, text) VALUES (?, ?, ?, ?)`)
		for _, s := range segments {
			if _, err := tx.ExecContext(ctx, ins, s.ID.String(), jobID.String(), s.Index, s.Text); err != nil {
				return fmt.Errorf("%w: insert segment %d: %v", common.ErrDatabase, s.Index, err)
			}
		}
		return nil
	})
}

func (r *sqlTranscriptRepo) WriteQuestions(ctx context.Context, segmentID uuid.UUID, questions []entity.Question) error {
	if err := validateQuestionBatch(segmentID, questions); err != nil {
		return err
	}
	now := r.now().UTC()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, r.q(`SELECT 1 FROM segments WHERE id = ?`), segmentID.String()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return common.NotFoundf("segment %s", segmentID)
		}
		if err != nil {
			return fmt.Errorf("%w: lookup segment: %v", common.ErrDatabase, err)
		}
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM questions WHERE segment_id = ?`), segmentID.String()); err != nil {
			return fmt.Errorf("%w: clear questions: %v", common.ErrDatabase, err)
		}
		ins := r.q(`INSERT INTO questions (id, segment_id, position, text, options, created_at_ms) VALUES (?, ?, ?, ?, ?, ?)`)
		for i, q := range questions {
			opts, err := json.Marshal(q.Options)
			if err != nil {
				return fmt.Errorf("encode options: %w", err)
			}
			created := q.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := tx.ExecContext(ctx, ins, q.ID.String(), segmentID.String(), i, q.Text, string(opts), created.UnixMilli()); err != nil {
				return fmt.Errorf("%w: insert question %d: %v", common.ErrDatabase, i, err)
			}
		}
		return nil
	})
}

func (r *sqlTranscriptRepo) EditQuestion(ctx context.Context, questionID uuid.UUID, text string, options []entity.Option) (entity.Question, error) {
	if err := entity.ValidateContent(text, options); err != nil {
		return entity.Question{}, err
	}
	opts, err := json.Marshal(options)
	if err != nil {
		return entity.Question{}, fmt.Errorf("encode options: %w", err)
	}
	res, err := r.db.SQL.ExecContext(ctx, r.q(`UPDATE questions SET text = ?, options = ? WHERE id = ?`), text, string(opts), questionID.String())
	if err != nil {
		return entity.Question{}, fmt.Errorf("%w: update question: %v", common.ErrDatabase, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return entity.Question{}, common.NotFoundf("question %s", questionID)
	}
	return r.GetQuestion(ctx, questionID)
}

func (r *sqlTranscriptRepo) GetSegments(ctx context.Context, jobID uuid.UUID) ([]entity.Segment, error) {
	rows, err := r.db.SQL.QueryContext(ctx, r.q(`SELECT id, job_id, idx, text FROM segments WHERE job_id = ? ORDER BY idx`), jobID.String())
	if err != nil {
		return nil, fmt.Errorf("%w: list segments: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.Segment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list segments: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *sqlTranscriptRepo) GetSegment(ctx context.Context, segmentID uuid.UUID) (entity.Segment, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.q(`SELECT id, job_id, idx, text FROM segments WHERE id = ?`), segmentID.String())
	s, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Segment{}, common.NotFoundf("segment %s", segmentID)
	}
	return s, err
}

func (r *sqlTranscriptRepo) GetQuestions(ctx context.Context, segmentID uuid.UUID) ([]entity.Question, error) {
	if _, err := r.GetSegment(ctx, segmentID); err != nil {
		return nil, err
	}
	rows, err := r.db.SQL.QueryContext(ctx, r.q(`SELECT id, segment_id, text, options, created_at_ms FROM questions WHERE segment_id = ? ORDER BY position`), segmentID.String())
	if err != nil {
		return nil, fmt.Errorf("%w: list questions: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	out := []entity.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list questions: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *sqlTranscriptRepo) GetQuestion(ctx context.Context, questionID uuid.UUID) (entity.Question, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.q(`SELECT id, segment_id, text, options, created_at_ms FROM questions WHERE id = ?`), questionID.String())
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Question{}, common.NotFoundf("question %s", questionID)
	}
	return q, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (entity.Segment, error) {
	var (
		s         entity.Segment
		id, jobID string
	)
	if err := row.Scan(&id, &jobID, &s.Index, &s.Text); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("%w: scan segment: %v", common.ErrDatabase, err)
	}
	var err error
	if s.ID, err = uuid.Parse(id); err != nil {
		return s, fmt.Errorf("%w: segment id: %v", common.ErrDatabase, err)
	}
	if s.JobID, err = uuid.Parse(jobID); err != nil {
		return s, fmt.Errorf("%w: segment job id: %v", common.ErrDatabase, err)
	}
	return s, nil
}

func scanQuestion(row rowScanner) (entity.Question, error) {
	var (
		q             entity.Question
		id, segmentID string
		opts          string
		createdMs     int64
	)
	if err := row.Scan(&id, &segmentID, &q.Text, &opts, &createdMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return q, err
		}
		return q, fmt.Errorf("%w: scan question: %v", common.ErrDatabase, err)
	}
	var err error
	if q.ID, err = uuid.Parse(id); err != nil {
		return q, fmt.Errorf("%w: question id: %v", common.ErrDatabase, err)
	}
	if q.SegmentID, err = uuid.Parse(segmentID); err != nil {
		return q, fmt.Errorf("%w: question segment id: %v", common.ErrDatabase, err)
	}
	if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
		return q, fmt.Errorf("%w: question options: %v", common.ErrDatabase, err)
	}
	q.CreatedAt = time.UnixMilli(createdMs).UTC()
	return q, nil
}
