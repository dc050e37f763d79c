package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
)

// MediaFileName is the transcoded output inside a job's work directory.
const MediaFileName = "media.mp4"

// stderr fragments that mean the input itself is unusable.
var permanentMarkers = []string{
	"Invalid data found when processing input",
	"No such file or directory",
	"does not contain any stream",
	"moov atom not found",
	"Permission denied",
}

// Transcoder converts uploads into a browser-playable H.264/AAC MP4 with ffmpeg.
type Transcoder struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string
	Runner      Runner
	Logger      *slog.Logger
}

func NewTranscoder(ffmpegPath, ffprobePath, workDir string, logger *slog.Logger) *Transcoder {
	if logger == nil {
		logger = slog.Default()
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Transcoder{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		WorkDir:     workDir,
		Runner:      ExecRunner{},
		Logger:      logger,
	}
}

// JobDir returns the work directory of a job.
func (t *Transcoder) JobDir(jobID uuid.UUID) string {
	return filepath.Join(t.WorkDir, jobID.String())
}

// Probe returns the container duration reported by ffprobe.
func (t *Transcoder) Probe(ctx context.Context, path string) (time.Duration, error) {
	stdout, stderr, err := t.Runner.Run(ctx, t.FFprobePath, t.Logger,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, commandError(ctx, "ffprobe", err, stderr)
	}
	raw := strings.TrimSpace(string(stdout))
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("ffprobe: unreadable duration %q: %w", raw, common.ErrPermanent)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Transcode writes WorkDir/<jobID>/media.mp4. The file appears only when
// ffmpeg succeeds, so a retried run starts clean.
func (t *Transcoder) Transcode(ctx context.Context, jobID uuid.UUID, sourceRef string, progress func(int)) (entity.MediaRef, error) {
	if _, err := os.Stat(sourceRef); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return entity.MediaRef{}, fmt.Errorf("source %s: %w", sourceRef, common.ErrPermanent)
		}
		return entity.MediaRef{}, fmt.Errorf("stat source: %v: %w", err, common.ErrTransient)
	}

	duration, err := t.Probe(ctx, sourceRef)
	if err != nil {
		return entity.MediaRef{}, err
	}

	dir := t.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return entity.MediaRef{}, fmt.Errorf("create work dir: %v: %w", err, common.ErrTransient)
	}
	out := filepath.Join(dir, MediaFileName)
	part := out + ".part"
	_ = os.Remove(part)

	stderr, err := t.Runner.Stream(ctx, t.FFmpegPath, t.Logger, progressParser(duration, progress),
		"-y", "-hide_banner", "-nostats", "-loglevel", "error",
		"-i", sourceRef,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-f", "mp4", part,
	)
	if err != nil {
		_ = os.Remove(part)
		return entity.MediaRef{}, commandError(ctx, "ffmpeg", err, stderr)
	}
	if err := os.Rename(part, out); err != nil {
		return entity.MediaRef{}, fmt.Errorf("publish transcoded file: %v: %w", err, common.ErrTransient)
	}

	t.Logger.Info("media.transcode.ok", "job_id", jobID, "out", out, "duration_s", duration.Seconds())
	return entity.MediaRef{Path: out, Duration: duration}, nil
}

// ExtractAudio writes a mono 16 kHz WAV next to the media file and returns its path.
func (t *Transcoder) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	out := filepath.Join(filepath.Dir(videoPath), base+"_audio_16k.wav")

	_, stderr, err := t.Runner.Run(ctx, t.FFmpegPath, t.Logger,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vn", "-ac", "1", "-ar", "16000",
		"-f", "wav", out,
	)
	if err != nil {
		return "", commandError(ctx, "ffmpeg", err, stderr)
	}
	return out, nil
}

// progressParser turns ffmpeg "-progress" key=value lines into percentages.
func progressParser(total time.Duration, progress func(int)) func(string) {
	return func(line string) {
		if progress == nil || total <= 0 {
			return
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			return
		}
		switch key {
		// out_time_ms is in microseconds despite its name.
		case "out_time_us", "out_time_ms":
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || us < 0 {
				return
			}
			pct := int(time.Duration(us) * time.Microsecond * 100 / total)
			if pct > 99 {
				pct = 99
			}
			progress(pct)
		case "progress":
			if value == "end" {
				progress(100)
			}
		}
	}
}

// commandError classifies a failed external command.
func commandError(ctx context.Context, name string, err error, stderr []byte) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", name, ctxErr)
	}
	msg := strings.TrimSpace(truncate(string(stderr), 512))
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s not installed: %v: %w", name, err, common.ErrPermanent)
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%s: %s: %w", name, msg, common.ErrPermanent)
		}
	}
	return fmt.Errorf("%s: %v: %s: %w", name, err, msg, common.ErrTransient)
}
