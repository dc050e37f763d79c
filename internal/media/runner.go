package media

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, logger *slog.Logger, args ...string) (stdout, stderr []byte, err error)
	// Stream calls onLine for every stdout line while the command runs.
	Stream(ctx context.Context, name string, logger *slog.Logger, onLine func(line string), args ...string) (stderr []byte, err error)
}

// ExecRunner runs real processes.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, logger *slog.Logger, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	logger.Debug("running command", "cmd_line", strings.Join(append([]string{name}, args...), " "))

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	logResult(logger, name, time.Since(start), err, errb.String())
	return out.Bytes(), errb.Bytes(), err
}

func (ExecRunner) Stream(ctx context.Context, name string, logger *slog.Logger, onLine func(string), args ...string) ([]byte, error) {
	start := time.Now()
	logger.Debug("streaming command", "cmd_line", strings.Join(append([]string{name}, args...), " "))

	cmd := exec.CommandContext(ctx, name, args...)
	var errb bytes.Buffer
	cmd.Stderr = &errb
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		onLine(sc.Text())
	}
	// Drain whatever the scanner left so Wait does not block on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	err = cmd.Wait()
	logResult(logger, name, time.Since(start), err, errb.String())
	return errb.Bytes(), err
}

func logResult(logger *slog.Logger, name string, dur time.Duration, err error, stderr string) {
	if err != nil {
		logger.Error("exec failed",
			"cmd", name,
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(stderr, 8<<10), // cap at 8KB
		)
		return
	}
	logger.Debug("exec ok", "cmd", name, "duration_ms", dur.Milliseconds())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
