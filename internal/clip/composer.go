package clip

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/assets"
	"github.com/heimdex/heimdex-clipper/internal/transcode"
)

// Canvas is the output frame size.
type Canvas struct {
	Width  int
	Height int
}

// RenderSettings fixes geometry and encoder parameters for every request.
type RenderSettings struct {
	Canvas       Canvas
	LogoFraction float64 // logo width as a fraction of canvas width
	LogoMargin   int     // inset from the bottom-right corner, pixels
	VideoCodec   string
	Preset       string
	CRF          int
	AudioBitrate string
	CaptionEnd   time.Duration // the single cue is shown from 0 to here
}

// DefaultRenderSettings is a 1080x1920 portrait canvas.
func DefaultRenderSettings() RenderSettings {
	return RenderSettings{
		Canvas:       Canvas{Width: 1080, Height: 1920},
		LogoFraction: 0.10,
		LogoMargin:   40,
		VideoCodec:   "libx264",
		Preset:       "veryfast",
		CRF:          23,
		AudioBitrate: "192k",
		CaptionEnd:   59 * time.Second,
	}
}

// LogoWidth is the scaled overlay width in pixels, rounded down to even.
func (s RenderSettings) LogoWidth() int {
	w := int(math.Round(float64(s.Canvas.Width) * s.LogoFraction))
	w -= w % 2
	if w < 2 {
		w = 2
	}
	return w
}

// LetterboxFilter fits the source inside the canvas and pads the rest with
// black. This is the only reframing policy.
func LetterboxFilter(c Canvas) string {
	return fmt.Sprintf(
		"scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1",
		c.Width, c.Height, c.Width, c.Height,
	)
}

// OverlayGraph is the filter_complex used when a logo is present: input 1 is
// scaled, input 0 is letterboxed, and the logo goes bottom-right.
func OverlayGraph(s RenderSettings) string {
	return fmt.Sprintf(
		"[1:v]scale=%d:-1[logo];[0:v]%s[bg];[bg][logo]overlay=W-w-%d:H-h-%d[v]",
		s.LogoWidth(), LetterboxFilter(s.Canvas), s.LogoMargin, s.LogoMargin,
	)
}

// FrameComposer reframes the trimmed clip and composites the optional logo.
type FrameComposer struct {
	tc       Transcoder
	overlay  *assets.Overlay
	settings RenderSettings
	timeout  time.Duration
}

// NewFrameComposer fixes the overlay for the process lifetime; nil disables it.
func NewFrameComposer(tc Transcoder, overlay *assets.Overlay, settings RenderSettings, timeout time.Duration) *FrameComposer {
	return &FrameComposer{tc: tc, overlay: overlay, settings: settings, timeout: timeout}
}

// Compose re-encodes the trimmed artifact onto the canvas.
func (c *FrameComposer) Compose(ctx context.Context, ws *WorkingSet, trimmed Artifact) (Artifact, error) {
	out := ws.Artifact(RoleComposed)

	_, err := c.tc.Run(ctx, transcode.Command{
		Args:    ComposeArgs(trimmed.Name(), out.Name(), c.overlay, c.settings),
		Dir:     ws.Dir,
		Output:  out.Name(),
		Timeout: c.timeout,
	})
	if err != nil {
		return Artifact{}, err
	}
	if err := requireOutput(out); err != nil {
		return Artifact{}, err
	}
	return out, nil
}

// ComposeArgs builds the compose invocation. Without an overlay the command
// has a single input and a plain -vf chain; with one it gains a second input
// and a filter_complex graph.
func ComposeArgs(in, out string, overlay *assets.Overlay, s RenderSettings) []string {
	args := []string{"-hide_banner", "-nostdin", "-i", in}

	if overlay == nil {
		args = append(args, "-vf", LetterboxFilter(s.Canvas))
	} else {
		args = append(args,
			"-i", overlay.Path,
			"-filter_complex", OverlayGraph(s),
			"-map", "[v]",
			"-map", "0:a?",
		)
	}

	args = append(args, videoEncoderArgs(s)...)
	args = append(args,
		"-c:a", "aac",
		"-b:a", s.AudioBitrate,
		"-movflags", "+faststart",
		"-y", out,
	)
	return args
}

func videoEncoderArgs(s RenderSettings) []string {
	return []string{
		"-c:v", s.VideoCodec,
		"-preset", s.Preset,
		"-crf", strconv.Itoa(s.CRF),
		"-pix_fmt", "yuv420p",
	}
}
