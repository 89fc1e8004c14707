// Package transcode runs external media binaries (ffmpeg, ffprobe, yt-dlp) as
// subprocesses with per-call timeouts and bounded stderr capture, and probes
// which of them are installed.
package transcode

import (
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrCommandFailed is matched by every non-zero exit reported by a Runner.
	ErrCommandFailed = errors.New("command failed")

	// ErrTimeout indicates the command was killed because its deadline passed.
	ErrTimeout = errors.New("command timed out")

	// ErrBinaryNotFound indicates a binary could not be resolved at startup.
	ErrBinaryNotFound = errors.New("binary not found")
)

// Command is a single invocation handed to a Runner verbatim.
type Command struct {
	Args    []string
	Dir     string        // working directory; file arguments may be relative to it
	Output  string        // file the command is expected to produce, relative to Dir
	Timeout time.Duration // zero means no per-call deadline beyond ctx
	Stdout  io.Writer     // nil discards stdout
}

// RunResult is the structured outcome of executing a subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// CommandError carries the diagnostic output of a failed command.
type CommandError struct {
	Binary     string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited %d", e.Binary, e.ExitCode)
	if e.Err != nil && errors.Is(e.Err, ErrTimeout) {
		msg = fmt.Sprintf("%s: %v", e.Binary, e.Err)
	}
	if e.StderrTail != "" {
		msg += ": " + e.StderrTail
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is reports ErrCommandFailed for every CommandError so callers can match
// failures without caring about the exit code.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}
