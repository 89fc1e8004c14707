package clip

import (
	"errors"
	"fmt"

	"github.com/heimdex/heimdex-clipper/internal/transcode"
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageTrim    Stage = "trim"
	StageCompose Stage = "compose"
	StageCaption Stage = "caption"
)

// ErrInsufficientSpace is returned before a working set is created when the
// scratch volume is below the configured free-space floor.
var ErrInsufficientSpace = errors.New("insufficient scratch space")

// StageError is a terminal failure of one pipeline stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Diagnostic returns the transcoder's stderr tail if the stage failed in a
// subprocess, or the empty string.
func (e *StageError) Diagnostic() string {
	var cmdErr *transcode.CommandError
	if errors.As(e.Err, &cmdErr) {
		return cmdErr.StderrTail
	}
	return ""
}

// StageOf returns the failing stage of err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
