package server_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/lectures"
	"github.com/joseph-ayodele/lecture-quiz/internal/lectures/lecturetest"
	"github.com/joseph-ayodele/lecture-quiz/internal/server"
)

func testConfig(t *testing.T, dsn string) *common.Config {
	dir := t.TempDir()
	return &common.Config{
		Database: common.DatabaseConfig{DSN: dsn, MaxConns: 2},
		Pipeline: common.PipelineConfig{
			Workers:             1,
			QueueSize:           4,
			BackoffBase:         time.Millisecond,
			BackoffMax:          time.Millisecond,
			SegmentWindow:       constants.SegmentWindowDefault,
			QuestionsPerSegment: constants.QuestionsPerSegmentDefault,
		},
		Media: common.MediaConfig{
			FFmpegPath:  filepath.Join(dir, "no-ffmpeg"),
			FFprobePath: filepath.Join(dir, "no-ffprobe"),
			WorkDir:     filepath.Join(dir, "work"),
		},
		Speech: common.SpeechConfig{Backend: "whispercpp", ModelPath: filepath.Join(dir, "model.bin")},
		LLM:    common.LLMConfig{APIKey: "test", BaseURL: "http://127.0.0.1:1"},
		Ingest: common.IngestConfig{UploadDir: filepath.Join(dir, "uploads"), MaxUploadBytes: 1 << 20},
	}
}

func TestNewAppFailsMissingSource(t *testing.T) {
	ctx := context.Background()
	app, err := server.NewApp(ctx, testConfig(t, ""), lecturetest.QuietLogger())
	require.NoError(t, err)
	defer app.Close(ctx)

	job, err := app.Service.CreateJob(ctx, lectures.CreateJobRequest{SourceRef: "/does/not/exist.mp4", SizeBytes: 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := app.Registry.Get(job.ID)
		return err == nil && j.Stage.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	j, err := app.Registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageFailed, j.Stage)
	require.NotNil(t, j.Error)
	assert.Equal(t, constants.StageTranscoding, j.Error.Stage)
}

func TestNewAppRestoresFromSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "lectures.db")

	first, err := server.NewApp(ctx, testConfig(t, dsn), lecturetest.QuietLogger())
	require.NoError(t, err)
	job, err := first.Registry.Create(ctx, "/videos/a.mp4", 10, "a")
	require.NoError(t, err)
	require.NoError(t, first.Registry.Advance(ctx, job.ID, constants.StageTranscoding))
	first.Close(ctx)

	second, err := server.NewApp(ctx, testConfig(t, dsn), lecturetest.QuietLogger())
	require.NoError(t, err)
	defer second.Close(ctx)

	got, err := second.Registry.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StageFailed, got.Stage)
	require.NotNil(t, got.Error)
	assert.True(t, got.Error.Retryable)
}
