package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/ingest"
	"github.com/joseph-ayodele/lecture-quiz/internal/lectures"
)

// HTTPConfig tunes the REST surface.
type HTTPConfig struct {
	MaxUploadBytes int64
	// EventPoll is how often a websocket subscriber checks for new events.
	EventPoll time.Duration
}

// HTTPHandler serves the REST API the web UI talks to.
type HTTPHandler struct {
	svc      *lectures.Service
	cfg      HTTPConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHTTPHandler builds the gin engine with every route registered.
func NewHTTPHandler(svc *lectures.Service, cfg HTTPConfig, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventPoll <= 0 {
		cfg.EventPoll = 250 * time.Millisecond
	}
	h := &HTTPHandler{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger), CORS())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the lecture API routes.
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		videos := api.Group("/videos")
		videos.POST("/upload", h.upload)
		videos.POST("", h.createJob)
		videos.GET("", h.listVideos)
		videos.GET("/:id", h.getVideo)
		videos.GET("/:id/status", h.getStatus)
		videos.POST("/:id/cancel", h.cancel)
		videos.GET("/:id/transcript", h.getTranscript)
		videos.GET("/:id/segments", h.getSegments)
		videos.GET("/:id/questions", h.getVideoQuestions)
		videos.GET("/:id/export", h.export)
		videos.GET("/:id/events", h.events)

		api.GET("/segments/:id/questions", h.getSegmentQuestions)
		api.PUT("/questions/:id", h.editQuestion)
	}
}

// fail writes {"error": ...} with the status the error maps to. Internal
// errors do not leak their cause.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	code := common.HTTPStatus(err)
	if errors.Is(err, ingest.ErrTooLarge) {
		code = http.StatusRequestEntityTooLarge
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(code, gin.H{"error": msg})
}

type uploadResponse struct {
	Message string         `json:"message"`
	VideoID string         `json:"videoId"`
	File    uploadFileInfo `json:"file"`
}

type uploadFileInfo struct {
	Filename string `json:"filename"`
	Mimetype string `json:"mimetype"`
	Size     int64  `json:"size"`
}

func (h *HTTPHandler) upload(c *gin.Context) {
	if h.cfg.MaxUploadBytes > 0 {
		// room for multipart framing; the uploader enforces the exact limit
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes+1<<20)
	}
	fh, err := c.FormFile("video")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			fail(c, ingest.ErrTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file uploaded"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer func() { _ = f.Close() }()

	res, err := h.svc.Upload(c.Request.Context(), ingest.UploadRequest{
		Filename: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Size:     fh.Size,
		Body:     f,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, uploadResponse{
		Message: "Video uploaded successfully",
		VideoID: res.JobID.String(),
		File: uploadFileInfo{
			Filename: res.StoredName,
			Mimetype: res.MimeType,
			Size:     res.SizeBytes,
		},
	})
}

type createJobBody struct {
	SourceRef string `json:"sourceRef"`
	SizeBytes int64  `json:"sizeBytes"`
	Title     string `json:"title"`
}

func (h *HTTPHandler) createJob(c *gin.Context) {
	var body createJobBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.InvalidArgumentErrorf("invalid body: %v", err))
		return
	}
	job, err := h.svc.CreateJob(c.Request.Context(), lectures.CreateJobRequest(body))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, lectures.VideoFromJob(job))
}

func (h *HTTPHandler) listVideos(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ListVideos(c.Request.Context()))
}

func (h *HTTPHandler) getVideo(c *gin.Context) {
	v, err := h.svc.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type statusResponse struct {
	VideoID     string           `json:"videoId"`
	Status      string           `json:"status"`
	CurrentStep string           `json:"currentStep"`
	Progress    int              `json:"progress"`
	Stage       string           `json:"stage"`
	Error       *entity.JobError `json:"error,omitempty"`
}

func toStatusResponse(v lectures.Video) statusResponse {
	return statusResponse{
		VideoID:     v.ID.String(),
		Status:      v.Status,
		CurrentStep: v.CurrentStep,
		Progress:    v.Progress,
		Stage:       string(v.Stage),
		Error:       v.Error,
	}
}

func (h *HTTPHandler) getStatus(c *gin.Context) {
	v, err := h.svc.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(v))
}

func (h *HTTPHandler) cancel(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.svc.Cancel(ctx, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	v, err := h.svc.GetVideo(ctx, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toStatusResponse(v))
}

func (h *HTTPHandler) getTranscript(c *gin.Context) {
	ts, err := h.svc.GetTranscript(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (h *HTTPHandler) getSegments(c *gin.Context) {
	segs, err := h.svc.GetSegments(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, segs)
}

func (h *HTTPHandler) getVideoQuestions(c *gin.Context) {
	qs, err := h.svc.GetJobQuestions(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, qs)
}

func (h *HTTPHandler) getSegmentQuestions(c *gin.Context) {
	qs, err := h.svc.GetQuestions(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, qs)
}

type editQuestionBody struct {
	Text    string          `json:"text"`
	Options []entity.Option `json:"options"`
}

func (h *HTTPHandler) editQuestion(c *gin.Context) {
	var body editQuestionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, common.InvalidArgumentErrorf("invalid body: %v", err))
		return
	}
	q, err := h.svc.EditQuestion(c.Request.Context(), lectures.EditQuestionRequest{
		QuestionID: c.Param("id"),
		Text:       body.Text,
		Options:    body.Options,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *HTTPHandler) export(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	b, ctype, err := h.svc.Export(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="lecture-%s.%s"`, c.Param("id"), format))
	c.Data(http.StatusOK, ctype, b)
}
