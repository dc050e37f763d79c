package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/repository"
)

// Format names accepted by Export.
const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// JobReader is the part of the job registry exports need.
type JobReader interface {
	Get(id uuid.UUID) (entity.Job, error)
}

// Service is a tiny façade over the registry and store that produces export bytes.
type Service struct {
	jobs   JobReader
	store  repository.TranscriptRepository
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewService(jobs JobReader, store repository.TranscriptRepository, window time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = constants.SegmentWindowDefault
	}
	return &Service{jobs: jobs, store: store, window: window, logger: logger, now: time.Now}
}

// Build collects transcript and questions of a completed job.
func (s *Service) Build(ctx context.Context, jobID uuid.UUID) (Document, error) {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return Document{}, err
	}
	if job.Stage != constants.StageCompleted {
		return Document{}, fmt.Errorf("export %s in stage %s: %w", jobID, job.Stage, common.ErrNotReady)
	}

	segments, err := s.store.GetSegments(ctx, jobID)
	if err != nil {
		return Document{}, fmt.Errorf("load segments: %w", err)
	}
	doc := Document{
		VideoID:         job.ID,
		Title:           job.Title,
		DurationSeconds: job.DurationSeconds,
		Transcript:      TranscriptSegments(segments, s.window, job.DurationSeconds),
		Questions:       make([]entity.SegmentQuestions, 0, len(segments)),
		ExportedAt:      s.now().UTC(),
	}
	for _, seg := range segments {
		qs, err := s.store.GetQuestions(ctx, seg.ID)
		if err != nil {
			return Document{}, fmt.Errorf("load questions for segment %d: %w", seg.Index, err)
		}
		doc.Questions = append(doc.Questions, entity.SegmentQuestions{SegmentID: seg.ID, Index: seg.Index, Questions: qs})
	}
	return doc, nil
}

// Export renders the job in the requested format and returns bytes plus content type.
func (s *Service) Export(ctx context.Context, jobID uuid.UUID, format string) ([]byte, string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		b, err := s.JSON(ctx, jobID)
		return b, "application/json", err
	case FormatXLSX:
		b, err := s.XLSX(ctx, jobID)
		return b, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", err
	default:
		return nil, "", common.InvalidArgumentErrorf("unsupported export format %q", format)
	}
}

// JSON returns the indented document.
func (s *Service) JSON(ctx context.Context, jobID uuid.UUID) ([]byte, error) {
	doc, err := s.Build(ctx, jobID)
	if err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	s.logger.Info("export.json.ok", "job_id", jobID, "questions", doc.QuestionCount())
	return b, nil
}

// XLSX returns a workbook with a Questions sheet and a Transcript sheet.
func (s *Service) XLSX(ctx context.Context, jobID uuid.UUID) ([]byte, error) {
	start := time.Now()
	doc, err := s.Build(ctx, jobID)
	if err != nil {
		return nil, err
	}
	f, err := Workbook(doc)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("export.xlsx.close_failed", "error", cerr)
		}
	}()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"job_id", jobID.String(),
		"rows", doc.QuestionCount(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// Sheet names of the workbook.
const (
	QuestionsSheet  = "Questions"
	TranscriptSheet = "Transcript"
)

// Workbook lays the document out as a spreadsheet. Options are spread over
// columns A..D (more when a question has more), followed by the correct id.
func Workbook(doc Document) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", QuestionsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(TranscriptSheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(QuestionsSheet)
	f.SetActiveSheet(activeIndex)

	maxOpts := constants.OptionsPerQuestion
	for _, sq := range doc.Questions {
		for _, q := range sq.Questions {
			if len(q.Options) > maxOpts {
				maxOpts = len(q.Options)
			}
		}
	}

	headers := []any{"Segment", "Start", "End", "Question"}
	for i := 0; i < maxOpts; i++ {
		headers = append(headers, fmt.Sprintf("Option %c", 'A'+i))
	}
	headers = append(headers, "Correct")
	if err := f.SetSheetRow(QuestionsSheet, "A1", &headers); err != nil {
		return nil, err
	}

	bounds := make(map[uuid.UUID]TranscriptSegment, len(doc.Transcript))
	for _, ts := range doc.Transcript {
		bounds[ts.ID] = ts
	}

	row := 2
	for _, sq := range doc.Questions {
		ts := bounds[sq.SegmentID]
		for _, q := range sq.Questions {
			values := []any{sq.Index + 1, clock(ts.StartTime), clock(ts.EndTime), q.Text}
			correct := ""
			for i := 0; i < maxOpts; i++ {
				if i < len(q.Options) {
					values = append(values, q.Options[i].Text)
					if q.Options[i].IsCorrect {
						correct = fmt.Sprintf("%c", 'A'+i)
					}
				} else {
					values = append(values, "")
				}
			}
			values = append(values, correct)
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(QuestionsSheet, cell, &values); err != nil {
				return nil, err
			}
			row++
		}
	}

	lastOpt, _ := excelize.ColumnNumberToName(4 + maxOpts)
	_ = f.SetColWidth(QuestionsSheet, "A", "A", 10)
	_ = f.SetColWidth(QuestionsSheet, "B", "C", 8)
	_ = f.SetColWidth(QuestionsSheet, "D", "D", 60)
	_ = f.SetColWidth(QuestionsSheet, "E", lastOpt, 32)

	if err := f.SetSheetRow(TranscriptSheet, "A1", &[]any{"Segment", "Start", "End", "Text"}); err != nil {
		return nil, err
	}
	for i, ts := range doc.Transcript {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(TranscriptSheet, cell, &[]any{ts.Index + 1, clock(ts.StartTime), clock(ts.EndTime), ts.Text}); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(TranscriptSheet, "D", "D", 120)
	return f, nil
}

func clock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
