package lectures_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/ingest"
	"github.com/joseph-ayodele/lecture-quiz/internal/lectures"
	"github.com/joseph-ayodele/lecture-quiz/internal/lectures/lecturetest"
)

func TestCreateJobValidation(t *testing.T) {
	s := lecturetest.New(t)
	_, err := s.Service.CreateJob(context.Background(), lectures.CreateJobRequest{SourceRef: "  "})
	assert.Equal(t, codes.InvalidArgument, common.GRPCCode(err))

	_, err = s.Service.CreateJob(context.Background(), lectures.CreateJobRequest{SourceRef: "a.mp4", SizeBytes: -1})
	assert.Equal(t, codes.InvalidArgument, common.GRPCCode(err))
}

func TestCreateJobDerivesTitle(t *testing.T) {
	s := lecturetest.New(t)
	job, err := s.Service.CreateJob(context.Background(), lectures.CreateJobRequest{SourceRef: "/v/week_2-recursion.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "week 2 recursion", job.Title)
	assert.Equal(t, constants.StageTranscoding, job.Stage)
}

func TestStatusAndVideo(t *testing.T) {
	s := lecturetest.New(t)
	ctx := context.Background()
	job := s.Submit(t, "graphs")

	st, err := s.Service.GetStatus(ctx, job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, constants.StageTranscoding, st.Stage)

	v, err := s.Service.GetVideo(ctx, job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "processing", v.Status)
	assert.Equal(t, "transcode", v.CurrentStep)

	s.Run(t, job.ID)
	v, err = s.Service.GetVideo(ctx, job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "completed", v.Status)
	assert.Equal(t, 100, v.Progress)
	assert.Equal(t, lecturetest.LectureLength.Seconds(), v.Duration)

	_, err = s.Service.GetStatus(ctx, "not-a-uuid")
	assert.Equal(t, codes.InvalidArgument, common.GRPCCode(err))
	_, err = s.Service.GetStatus(ctx, uuid.NewString())
	assert.Equal(t, codes.NotFound, common.GRPCCode(err))
}

func TestListVideosNewestFirst(t *testing.T) {
	s := lecturetest.New(t)
	first := s.Submit(t, "one")
	second := s.Submit(t, "two")

	vs := s.Service.ListVideos(context.Background())
	require.Len(t, vs, 2)
	ids := []uuid.UUID{vs[0].ID, vs[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, ids)
}

func TestTranscriptAndQuestions(t *testing.T) {
	s := lecturetest.New(t)
	ctx := context.Background()
	job := s.Completed(t, "trees")

	transcript, err := s.Service.GetTranscript(ctx, job.ID.String())
	require.NoError(t, err)
	require.Len(t, transcript, 3)
	assert.Equal(t, 600.0, transcript[2].StartTime)
	assert.Equal(t, 720.0, transcript[2].EndTime)

	grouped, err := s.Service.GetJobQuestions(ctx, job.ID.String())
	require.NoError(t, err)
	require.Len(t, grouped, 3)
	for i, g := range grouped {
		assert.Equal(t, i, g.Index)
		assert.Len(t, g.Questions, constants.QuestionsPerSegmentDefault)
	}

	qs, err := s.Service.GetQuestions(ctx, grouped[1].SegmentID.String())
	require.NoError(t, err)
	assert.Equal(t, grouped[1].Questions, qs)

	_, err = s.Service.GetQuestions(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestSegmentsBeforeProcessingAreEmpty(t *testing.T) {
	s := lecturetest.New(t)
	job := s.Submit(t, "pending")
	segs, err := s.Service.GetSegments(context.Background(), job.ID.String())
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestEditQuestion(t *testing.T) {
	s := lecturetest.New(t)
	ctx := context.Background()
	job := s.Completed(t, "sorting")
	grouped, err := s.Service.GetJobQuestions(ctx, job.ID.String())
	require.NoError(t, err)
	q := grouped[0].Questions[0]

	edited, err := s.Service.EditQuestion(ctx, lectures.EditQuestionRequest{
		QuestionID: q.ID.String(),
		Text:       "  Which sort is stable?  ",
		Options: []entity.Option{
			{ID: "a", Text: "Quicksort"},
			{ID: "b", Text: "Merge sort", IsCorrect: true},
			{Text: "Heapsort"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Which sort is stable?", edited.Text)
	require.Len(t, edited.Options, 3)
	assert.NotEmpty(t, edited.Options[2].ID)

	stored, err := s.Store.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, edited, stored)
}

func TestEditQuestionRejectsInvalidAndLeavesQuestion(t *testing.T) {
	s := lecturetest.New(t)
	ctx := context.Background()
	job := s.Completed(t, "hashing")
	grouped, err := s.Service.GetJobQuestions(ctx, job.ID.String())
	require.NoError(t, err)
	q := grouped[0].Questions[0]

	cases := map[string]lectures.EditQuestionRequest{
		"two correct": {QuestionID: q.ID.String(), Text: "x", Options: []entity.Option{{ID: "a", Text: "1", IsCorrect: true}, {ID: "b", Text: "2", IsCorrect: true}}},
		"no correct":  {QuestionID: q.ID.String(), Text: "x", Options: []entity.Option{{ID: "a", Text: "1"}}},
		"blank text":  {QuestionID: q.ID.String(), Text: " ", Options: []entity.Option{{ID: "a", Text: "1", IsCorrect: true}}},
		"long text":   {QuestionID: q.ID.String(), Text: strings.Repeat("x", constants.MaxQuestionTextLen+1), Options: []entity.Option{{ID: "a", Text: "1", IsCorrect: true}}},
		"blank option": {QuestionID: q.ID.String(), Text: "x", Options: []entity.Option{{ID: "a", Text: " ", IsCorrect: true}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Service.EditQuestion(ctx, req)
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, common.GRPCCode(err))

			stored, err := s.Store.GetQuestion(ctx, q.ID)
			require.NoError(t, err)
			assert.Equal(t, q, stored)
		})
	}

	_, err = s.Service.EditQuestion(ctx, lectures.EditQuestionRequest{
		QuestionID: uuid.NewString(), Text: "x", Options: []entity.Option{{ID: "a", Text: "1", IsCorrect: true}},
	})
	assert.Equal(t, codes.NotFound, common.GRPCCode(err))
}

func TestCancel(t *testing.T) {
	s := lecturetest.New(t)
	ctx := context.Background()
	job := s.Submit(t, "cancel me")

	st, err := s.Service.Cancel(ctx, job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, constants.StageTranscoding, st.Stage)

	done := s.Run(t, job.ID)
	assert.Equal(t, constants.StageCancelled, done.Stage)

	_, err = s.Service.Cancel(ctx, job.ID.String())
	assert.Equal(t, codes.FailedPrecondition, common.GRPCCode(err))
}

func TestExport(t *testing.T) {
	s := lecturetest.New(t)
	ctx := context.Background()
	pending := s.Submit(t, "later")
	_, _, err := s.Service.Export(ctx, pending.ID.String(), "json")
	assert.Equal(t, codes.FailedPrecondition, common.GRPCCode(err))

	job := s.Completed(t, "now")
	b, ctype, err := s.Service.Export(ctx, job.ID.String(), "xlsx")
	require.NoError(t, err)
	assert.NotEmpty(t, b)
	assert.Contains(t, ctype, "spreadsheetml")
}

func TestUpload(t *testing.T) {
	s := lecturetest.New(t)
	res, err := s.Service.Upload(context.Background(), ingest.UploadRequest{
		Filename: "lecture.mp4", MimeType: "video/mp4", Size: 4, Body: strings.NewReader("data"),
	})
	require.NoError(t, err)

	job, err := s.Registry.Get(res.JobID)
	require.NoError(t, err)
	assert.Equal(t, "lecture", job.Title)
	assert.Equal(t, res.Path, job.SourceRef)
}
