package clip

import (
	"context"
	"fmt"
	"os"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/heimdex/heimdex-clipper/internal/transcode"
)

// Transcoder runs one ffmpeg invocation exactly as given.
type Transcoder interface {
	Run(ctx context.Context, cmd transcode.Command) (transcode.RunResult, error)
}

// SegmentExtractor cuts [start, end) out of the source with stream copy.
type SegmentExtractor struct {
	tc      Transcoder
	timeout time.Duration
}

func NewSegmentExtractor(tc Transcoder, timeout time.Duration) *SegmentExtractor {
	return &SegmentExtractor{tc: tc, timeout: timeout}
}

// Extract writes the trimmed artifact. The end offset is not checked against
// the source duration; the transcoder reports an out-of-range cut.
func (e *SegmentExtractor) Extract(ctx context.Context, ws *WorkingSet, src Artifact, start, end time.Duration) (Artifact, error) {
	out := ws.Artifact(RoleTrimmed)

	_, err := e.tc.Run(ctx, transcode.Command{
		Args:    TrimArgs(src.Name(), out.Name(), start, end),
		Dir:     ws.Dir,
		Output:  out.Name(),
		Timeout: e.timeout,
	})
	if err != nil {
		return Artifact{}, err
	}
	if err := requireOutput(out); err != nil {
		return Artifact{}, err
	}
	return out, nil
}

// TrimArgs builds `-ss S -to E -i src -c copy dst -y`. Seeking on the input
// side with stream copy keeps the samples untouched.
func TrimArgs(src, dst string, start, end time.Duration) []string {
	stream := ffmpeg.Input(src, ffmpeg.KwArgs{
		"ss": FormatTimestamp(start),
		"to": FormatTimestamp(end),
	}).Output(dst, ffmpeg.KwArgs{
		"c": "copy",
	}).OverWriteOutput()

	return append([]string{"-hide_banner", "-nostdin"}, stream.GetArgs()...)
}

// requireOutput fails when a command exited cleanly without writing its
// artifact, e.g. a cut that starts past the end of the source.
func requireOutput(a Artifact) error {
	info, err := os.Stat(a.Path)
	if err != nil {
		return fmt.Errorf("%s artifact missing: %w", a.Role, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s artifact is empty", a.Role)
	}
	return nil
}
