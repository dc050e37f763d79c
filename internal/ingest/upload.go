package ingest

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/constants"
	"github.com/joseph-ayodele/lecture-quiz/internal/common"
)

// ErrTooLarge is returned when an upload exceeds the size limit.
var ErrTooLarge = fmt.Errorf("upload exceeds size limit: %w", common.ErrInvalidInput)

// UploadRequest is one incoming video file.
type UploadRequest struct {
	Filename string
	MimeType string
	Size     int64 // declared size, -1 when unknown
	Body     io.Reader
}

// UploadResult describes the stored file and the job created for it.
type UploadResult struct {
	JobID        uuid.UUID
	StoredName   string
	OriginalName string
	MimeType     string
	SizeBytes    int64
	HashHex      string
	Path         string
}

// Uploader stores uploaded videos under Dir and submits them for processing.
type Uploader struct {
	Dir       string
	MaxBytes  int64
	Submitter Submitter
	Logger    *slog.Logger
	now       func() time.Time
}

func NewUploader(dir string, maxBytes int64, s Submitter, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = constants.MaxUploadBytesDefault
	}
	return &Uploader{Dir: dir, MaxBytes: maxBytes, Submitter: s, Logger: logger, now: time.Now}
}

// ValidateUpload checks name, mime type and declared size before any byte is stored.
func (u *Uploader) ValidateUpload(req UploadRequest) error {
	v := common.NewValidator()
	v.Field("filename", req.Filename, common.Required)
	if err := v.Error(); err != nil {
		return err
	}
	if !AllowedExt(filepath.Ext(req.Filename)) {
		return common.InvalidArgumentError("Only MP4 videos are allowed")
	}
	if mt, _, err := mime.ParseMediaType(req.MimeType); err != nil || mt != constants.VideoMimeMP4 {
		return common.InvalidArgumentError("Only MP4 videos are allowed")
	}
	if req.Size > u.MaxBytes {
		return ErrTooLarge
	}
	return nil
}

// Upload validates, stores and submits one video. A failed submit removes the stored file.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if err := u.ValidateUpload(req); err != nil {
		u.Logger.Warn("ingest.upload.rejected", "filename", req.Filename, "mimetype", req.MimeType, "error", err)
		return UploadResult{}, err
	}
	if err := os.MkdirAll(u.Dir, 0o755); err != nil {
		return UploadResult{}, fmt.Errorf("create upload dir: %w", err)
	}

	name, err := u.storedName()
	if err != nil {
		return UploadResult{}, err
	}
	dst := filepath.Join(u.Dir, name)
	size, sum, err := u.store(dst, req.Body)
	if err != nil {
		return UploadResult{}, err
	}

	job, err := u.Submitter.Submit(ctx, dst, size, TitleFromFilename(req.Filename))
	if err != nil {
		if rmErr := os.Remove(dst); rmErr != nil {
			u.Logger.Warn("ingest.upload.cleanup_failed", "path", dst, "error", rmErr)
		}
		return UploadResult{}, err
	}

	res := UploadResult{
		JobID:        job.ID,
		StoredName:   name,
		OriginalName: req.Filename,
		MimeType:     constants.VideoMimeMP4,
		SizeBytes:    size,
		HashHex:      sum,
		Path:         dst,
	}
	u.Logger.Info("ingest.upload.ok", "job_id", job.ID, "stored", name, "size_bytes", size)
	return res, nil
}

// store copies body to dst through a .part file, enforcing MaxBytes.
func (u *Uploader) store(dst string, body io.Reader) (int64, string, error) {
	if body == nil {
		return 0, "", common.InvalidArgumentError("No video file uploaded")
	}
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, "", fmt.Errorf("create: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(body, u.MaxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, "", fmt.Errorf("write upload: %w", err)
	}
	switch {
	case n > u.MaxBytes:
		err = ErrTooLarge
	case n == 0:
		err = common.InvalidArgumentError("uploaded file is empty")
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return 0, "", fmt.Errorf("rename upload: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// storedName is "<unix-ms>-<random>.mp4".
func (u *Uploader) storedName() (string, error) {
	r, err := rand.Int(rand.Reader, big.NewInt(1e9))
	if err != nil {
		return "", fmt.Errorf("random name: %w", err)
	}
	return fmt.Sprintf("%d-%d.mp4", u.now().UnixMilli(), r.Int64()), nil
}
