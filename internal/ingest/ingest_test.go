package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

type submission struct {
	sourceRef string
	size      int64
	title     string
}

type fakeSubmitter struct {
	mu   sync.Mutex
	subs []submission
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, sourceRef string, size int64, title string) (entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return entity.Job{}, f.err
	}
	f.subs = append(f.subs, submission{sourceRef, size, title})
	return entity.Job{ID: uuid.New(), SourceRef: sourceRef, SizeBytes: size, Title: title}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func TestTitleFromFilename(t *testing.T) {
	assert.Equal(t, "week 3 closures", TitleFromFilename("week-3_closures.mp4"))
	assert.Equal(t, "lecture", TitleFromFilename(`C:\videos\lecture.MP4`))
	assert.Equal(t, "", TitleFromFilename(".mp4"))
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	u := NewUploader(dir, 1024, sub, nil)
	u.now = func() time.Time { return time.UnixMilli(1700000000000) }

	res, err := u.Upload(context.Background(), UploadRequest{
		Filename: "Intro_to-Go.mp4",
		MimeType: "video/mp4",
		Size:     5,
		Body:     strings.NewReader("hello"),
	})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^1700000000000-\d+\.mp4$`), res.StoredName)
	assert.Equal(t, int64(5), res.SizeBytes)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", res.HashHex)

	b, err := os.ReadFile(filepath.Join(dir, res.StoredName))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	require.Len(t, sub.subs, 1)
	assert.Equal(t, "Intro to Go", sub.subs[0].title)
	assert.Equal(t, res.Path, sub.subs[0].sourceRef)
}

func TestUploadRejects(t *testing.T) {
	cases := map[string]UploadRequest{
		"extension": {Filename: "talk.mov", MimeType: "video/mp4", Body: strings.NewReader("x")},
		"mime":      {Filename: "talk.mp4", MimeType: "video/quicktime", Body: strings.NewReader("x")},
		"no name":   {Filename: " ", MimeType: "video/mp4", Body: strings.NewReader("x")},
		"declared":  {Filename: "talk.mp4", MimeType: "video/mp4", Size: 11, Body: strings.NewReader("x")},
		"streamed":  {Filename: "talk.mp4", MimeType: "video/mp4", Size: -1, Body: bytes.NewReader(make([]byte, 11))},
		"empty":     {Filename: "talk.mp4", MimeType: "video/mp4", Body: strings.NewReader("")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			sub := &fakeSubmitter{}
			u := NewUploader(dir, 10, sub, nil)

			_, err := u.Upload(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, 400, common.HTTPStatus(err))
			assert.Zero(t, sub.count())

			entries, _ := os.ReadDir(dir)
			assert.Empty(t, entries)
		})
	}
}

func TestUploadTooLargeMatchesSentinel(t *testing.T) {
	u := NewUploader(t.TempDir(), 3, &fakeSubmitter{}, nil)
	_, err := u.Upload(context.Background(), UploadRequest{Filename: "a.mp4", MimeType: "video/mp4", Size: -1, Body: strings.NewReader("abcd")})
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestUploadSubmitFailureRemovesFile(t *testing.T) {
	dir := t.TempDir()
	u := NewUploader(dir, 10, &fakeSubmitter{err: errors.New("queue closed")}, nil)
	_, err := u.Upload(context.Background(), UploadRequest{Filename: "a.mp4", MimeType: "video/mp4", Body: strings.NewReader("abc")})
	require.Error(t, err)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.mp4"), "one")
	writeFile(t, filepath.Join(root, "nested", "b.MP4"), "two")
	writeFile(t, filepath.Join(root, "nested", "copy.mp4"), "one")
	writeFile(t, filepath.Join(root, "notes.txt"), "skip")
	writeFile(t, filepath.Join(root, ".hidden", "c.mp4"), "three")

	sub := &fakeSubmitter{}
	ing := NewFSIngestor(sub, nil)
	results, stats, err := ing.IngestDirectory(context.Background(), root, true)
	require.NoError(t, err)

	assert.Equal(t, uint32(3), stats.Matched)
	assert.Equal(t, uint32(3), stats.Succeeded)
	assert.Equal(t, uint32(1), stats.Deduplicated)
	assert.Zero(t, stats.Failed)
	assert.Len(t, results, 3)
	assert.Equal(t, 2, sub.count())
}

func TestIngestPathRejectsExtension(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "clip.avi")
	writeFile(t, p, "x")

	_, err := NewFSIngestor(&fakeSubmitter{}, nil).IngestPath(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, 400, common.HTTPStatus(err))
}

func TestWatchSubmitsNewVideos(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "existing.mp4"), "old")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := &fakeSubmitter{}
	ing := NewFSIngestor(sub, nil)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 100 * time.Millisecond}, ing)
	}()

	require.Eventually(t, func() bool { return sub.count() == 1 }, 3*time.Second, 20*time.Millisecond)

	writeFile(t, filepath.Join(root, "new.mp4"), "fresh")
	writeFile(t, filepath.Join(root, "ignored.txt"), "nope")
	require.Eventually(t, func() bool { return sub.count() == 2 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestStartWatcherRequiresRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{})
	assert.Error(t, err)
}
