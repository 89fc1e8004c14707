package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
	waitDelay      = 5 * time.Second
)

// Runner executes one external binary. It is the transcoder adapter the clip
// stages talk to; the fetcher uses a second instance for yt-dlp.
type Runner interface {
	// Run executes cmd and returns a *CommandError (matching ErrCommandFailed)
	// on non-zero exit or timeout.
	Run(ctx context.Context, cmd Command) (RunResult, error)

	// Binary returns the resolved path of the executable.
	Binary() string
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	binary string
	logger *slog.Logger
}

// NewRunner creates a SubprocessRunner for an already resolved binary path.
func NewRunner(binary string, logger *slog.Logger) *SubprocessRunner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SubprocessRunner{binary: binary, logger: logger}
}

func (r *SubprocessRunner) Binary() string {
	return r.binary
}

// Run is the core subprocess execution helper.
func (r *SubprocessRunner) Run(ctx context.Context, c Command) (RunResult, error) {
	start := time.Now()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.binary, c.Args...)
	cmd.Dir = c.Dir
	// yt-dlp spawns ffmpeg children that can hold stderr open after a kill.
	cmd.WaitDelay = waitDelay

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}

	r.logger.Debug("executing command",
		"binary", r.binary,
		"args", c.Args,
		"timeout", c.Timeout,
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := strings.TrimSpace(stderrBuf.String())
	result := RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("command timed out",
			"binary", r.binary,
			"duration_ms", elapsed.Milliseconds(),
		)
		if result.ExitCode == 0 {
			result.ExitCode = -1
		}
		return result, &CommandError{
			Binary:     r.binary,
			ExitCode:   result.ExitCode,
			StderrTail: truncate(stderrTail, 512),
			Err:        fmt.Errorf("%w after %s", ErrTimeout, c.Timeout),
		}
	}

	if exitCode != 0 {
		r.logger.Warn("command failed",
			"binary", r.binary,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
		if stderrTail == "" && err != nil {
			stderrTail = err.Error()
		}
		return result, &CommandError{
			Binary:     r.binary,
			ExitCode:   exitCode,
			StderrTail: truncate(stderrTail, 2048),
			Err:        err,
		}
	}

	r.logger.Debug("command succeeded",
		"binary", r.binary,
		"duration_ms", elapsed.Milliseconds(),
		"output", c.Output,
	)

	return result, nil
}

// ResolveBinary finds a usable executable. A configured path must resolve;
// otherwise the candidates are looked up on PATH in order.
func ResolveBinary(preferred string, candidates ...string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("%w: configured %q", ErrBinaryNotFound, preferred)
	}
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w on PATH (tried %s)", ErrBinaryNotFound, strings.Join(candidates, ", "))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
