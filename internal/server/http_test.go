package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/export"
	"github.com/joseph-ayodele/lecture-quiz/internal/lectures"
	"github.com/joseph-ayodele/lecture-quiz/internal/lectures/lecturetest"
	"github.com/joseph-ayodele/lecture-quiz/internal/server"
)

func init() { gin.SetMode(gin.TestMode) }

func newEngine(t *testing.T) (*lecturetest.Stack, *gin.Engine) {
	stack := lecturetest.New(t)
	cfg := server.HTTPConfig{MaxUploadBytes: 1 << 20, EventPoll: 5 * time.Millisecond}
	return stack, server.NewHTTPHandler(stack.Service, cfg, lecturetest.QuietLogger())
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func multipartUpload(t *testing.T, field, filename, ctype string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", ctype)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	_, r := newEngine(t)
	w := do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(server.RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	_, r := newEngine(t)
	w := do(t, r, http.MethodOptions, "/api/videos", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestUploadCreatesJob(t *testing.T) {
	stack, r := newEngine(t)
	body, ctype := multipartUpload(t, "video", "week-1_intro.mp4", constants.VideoMimeMP4, []byte("fake mp4 bytes"))

	req := httptest.NewRequest(http.MethodPost, "/api/videos/upload", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Message string `json:"message"`
		VideoID string `json:"videoId"`
		File    struct {
			Filename string `json:"filename"`
			Mimetype string `json:"mimetype"`
			Size     int64  `json:"size"`
		} `json:"file"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Video uploaded successfully", resp.Message)
	assert.Equal(t, constants.VideoMimeMP4, resp.File.Mimetype)
	assert.EqualValues(t, len("fake mp4 bytes"), resp.File.Size)
	assert.True(t, strings.HasSuffix(resp.File.Filename, ".mp4"))

	id, err := uuid.Parse(resp.VideoID)
	require.NoError(t, err)
	job, err := stack.Registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "week 1 intro", job.Title)
}

func TestUploadRejections(t *testing.T) {
	_, r := newEngine(t)

	t.Run("missing file", func(t *testing.T) {
		body, ctype := multipartUpload(t, "other", "a.mp4", constants.VideoMimeMP4, []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/videos/upload", body)
		req.Header.Set("Content-Type", ctype)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "No video file uploaded")
	})

	t.Run("wrong type", func(t *testing.T) {
		body, ctype := multipartUpload(t, "video", "a.mov", "video/quicktime", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/videos/upload", body)
		req.Header.Set("Content-Type", ctype)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		body, ctype := multipartUpload(t, "video", "a.mp4", constants.VideoMimeMP4, bytes.Repeat([]byte("x"), 1<<20+10))
		req := httptest.NewRequest(http.MethodPost, "/api/videos/upload", body)
		req.Header.Set("Content-Type", ctype)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestCreateAndListVideos(t *testing.T) {
	_, r := newEngine(t)

	w := do(t, r, http.MethodPost, "/api/videos", map[string]any{"sourceRef": "/videos/recursion.mp4", "sizeBytes": 42})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	v := decode[lectures.Video](t, w)
	assert.Equal(t, "recursion", v.Title)
	assert.Equal(t, "processing", v.Status)

	w = do(t, r, http.MethodPost, "/api/videos", map[string]any{"sourceRef": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/videos", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]lectures.Video](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, v.ID, list[0].ID)

	w = do(t, r, http.MethodGet, "/api/videos/"+v.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusAndErrors(t *testing.T) {
	stack, r := newEngine(t)
	job := stack.Completed(t, "sorting")

	w := do(t, r, http.MethodGet, "/api/videos/"+job.ID.String()+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[map[string]any](t, w)
	assert.Equal(t, job.ID.String(), st["videoId"])
	assert.Equal(t, "completed", st["status"])
	assert.Equal(t, string(constants.StageCompleted), st["stage"])
	assert.EqualValues(t, 100, st["progress"])

	w = do(t, r, http.MethodGet, "/api/videos/not-a-uuid/status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/videos/"+uuid.NewString()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/videos/"+job.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancel(t *testing.T) {
	stack, r := newEngine(t)
	job := stack.Submit(t, "long")

	w := do(t, r, http.MethodPost, "/api/videos/"+job.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	done := stack.Run(t, job.ID)
	assert.Equal(t, constants.StageCancelled, done.Stage)

	w = do(t, r, http.MethodGet, "/api/videos/"+job.ID.String()+"/status", nil)
	st := decode[map[string]any](t, w)
	assert.Equal(t, "error", st["status"])
}

func TestTranscriptAndQuestions(t *testing.T) {
	stack, r := newEngine(t)
	job := stack.Completed(t, "trees")
	base := "/api/videos/" + job.ID.String()

	w := do(t, r, http.MethodGet, base+"/transcript", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ts := decode[[]export.TranscriptSegment](t, w)
	require.Len(t, ts, 3)
	assert.Equal(t, 0.0, ts[0].StartTime)
	assert.Equal(t, 300.0, ts[0].EndTime)
	assert.Equal(t, lecturetest.LectureLength.Seconds(), ts[2].EndTime)

	w = do(t, r, http.MethodGet, base+"/segments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	segs := decode[[]entity.Segment](t, w)
	require.Len(t, segs, 3)

	w = do(t, r, http.MethodGet, base+"/questions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	groups := decode[[]entity.SegmentQuestions](t, w)
	require.Len(t, groups, 3)
	assert.Len(t, groups[1].Questions, constants.QuestionsPerSegmentDefault)

	w = do(t, r, http.MethodGet, "/api/segments/"+segs[2].ID.String()+"/questions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	qs := decode[[]entity.Question](t, w)
	require.Len(t, qs, constants.QuestionsPerSegmentDefault)

	edit := map[string]any{
		"text": "Which traversal visits the root first?",
		"options": []entity.Option{
			{ID: "a", Text: "pre-order", IsCorrect: true},
			{ID: "b", Text: "post-order"},
			{Text: "in-order"},
		},
	}
	w = do(t, r, http.MethodPut, "/api/questions/"+qs[0].ID.String(), edit)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	q := decode[entity.Question](t, w)
	assert.Equal(t, "Which traversal visits the root first?", q.Text)
	require.Len(t, q.Options, 3)
	assert.NotEmpty(t, q.Options[2].ID)

	bad := map[string]any{"text": "none right", "options": []entity.Option{{ID: "a", Text: "x"}}}
	w = do(t, r, http.MethodPut, "/api/questions/"+qs[0].ID.String(), bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/api/questions/"+uuid.NewString(), edit)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExport(t *testing.T) {
	stack, r := newEngine(t)
	job := stack.Completed(t, "graphs")
	base := "/api/videos/" + job.ID.String() + "/export"

	w := do(t, r, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	doc := decode[export.Document](t, w)
	assert.Equal(t, "graphs", doc.Title)
	assert.Equal(t, 3*constants.QuestionsPerSegmentDefault, doc.QuestionCount())

	w = do(t, r, http.MethodGet, base+"?format=xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(export.QuestionsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1+3*constants.QuestionsPerSegmentDefault)

	w = do(t, r, http.MethodGet, base+"?format=csv", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	pending := stack.Submit(t, "pending")
	w = do(t, r, http.MethodGet, "/api/videos/"+pending.ID.String()+"/export", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEventsStream(t *testing.T) {
	stack, r := newEngine(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	job := stack.Submit(t, "streamed")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/videos/" + job.ID.String() + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	go func() { _ = stack.Orchestrator.Process(context.Background(), job.ID) }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var (
		last   int64
		events int
		final  map[string]any
	)
	for final == nil {
		var msg struct {
			Type   string `json:"type"`
			Event  *struct {
				Seq int64 `json:"seq"`
			} `json:"event"`
			Status map[string]any `json:"status"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case "event":
			require.NotNil(t, msg.Event)
			assert.Greater(t, msg.Event.Seq, last)
			last = msg.Event.Seq
			events++
		case "final":
			final = msg.Status
		}
	}
	assert.Positive(t, events)
	assert.Equal(t, string(constants.StageCompleted), final["stage"])

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestEventsRejectedBeforeUpgrade(t *testing.T) {
	stack, r := newEngine(t)
	w := do(t, r, http.MethodGet, "/api/videos/"+uuid.NewString()+"/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	job := stack.Submit(t, "resume")
	w = do(t, r, http.MethodGet, "/api/videos/"+job.ID.String()+"/events?since=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
