package clip

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/heimdex/heimdex-clipper/internal/transcode"
)

const (
	captionFile = "captions.srt"

	captionStyle = "FontName=Arial,FontSize=36,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000," +
		"BorderStyle=1,Outline=2,Shadow=1,Alignment=2,MarginV=80"
)

// captionReplacer neutralises characters the SRT reader or libass treat as
// markup: cue arrows, ASS override blocks, HTML-like font tags, and
// backslash escapes such as \N.
var captionReplacer = strings.NewReplacer(
	"-->", "->",
	"{", "(",
	"}", ")",
	"<", "‹",
	">", "›",
	`\`, "/",
)

// arrowRun matches cue arrows of any length; each is normalised to "-->"
// before captionReplacer runs.
var arrowRun = regexp.MustCompile(`-{2,}>`)

// SanitizeCaption makes free text safe to embed as a single SRT cue payload.
// Blank lines are dropped because a blank line terminates a cue.
func SanitizeCaption(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Map(func(r rune) rune {
			if r == '\t' {
				return ' '
			}
			if unicode.IsControl(r) || r == '\uFEFF' {
				return -1
			}
			return r
		}, line)
		line = arrowRun.ReplaceAllLiteralString(line, "-->")
		line = strings.TrimSpace(captionReplacer.Replace(line))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// FormatSRT serializes one cue from 0 to end carrying text.
func FormatSRT(text string, end time.Duration) string {
	return fmt.Sprintf("1\n%s --> %s\n%s\n", srtTime(0), srtTime(end), text)
}

func srtTime(d time.Duration) string {
	ms := d.Milliseconds()
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// CaptionArgs burns subs into in. The subtitle file is passed by its bare
// name so the filter argument never needs path escaping; the command must run
// inside the working set.
func CaptionArgs(in, subs, out string, s RenderSettings) []string {
	stream := ffmpeg.Input(in).Output(out, ffmpeg.KwArgs{
		"vf":       fmt.Sprintf("subtitles=%s:force_style='%s'", subs, captionStyle),
		"c:v":      s.VideoCodec,
		"preset":   s.Preset,
		"crf":      s.CRF,
		"pix_fmt":  "yuv420p",
		"c:a":      "copy",
		"movflags": "+faststart",
	}).OverWriteOutput()

	return append([]string{"-hide_banner", "-nostdin"}, stream.GetArgs()...)
}

// CaptionRenderer burns the optional caption cue into the composed clip.
type CaptionRenderer struct {
	tc       Transcoder
	settings RenderSettings
	timeout  time.Duration
}

func NewCaptionRenderer(tc Transcoder, settings RenderSettings, timeout time.Duration) *CaptionRenderer {
	return &CaptionRenderer{tc: tc, settings: settings, timeout: timeout}
}

// Render returns the final artifact. With no caption text the composed file
// is handed on as final untouched and nothing is written.
func (c *CaptionRenderer) Render(ctx context.Context, ws *WorkingSet, composed Artifact, text string) (Artifact, error) {
	clean := SanitizeCaption(text)
	if clean == "" {
		return Artifact{Role: RoleFinal, Path: composed.Path}, nil
	}

	srt := FormatSRT(clean, c.settings.CaptionEnd)
	if err := os.WriteFile(ws.Path(captionFile), []byte(srt), 0644); err != nil {
		return Artifact{}, fmt.Errorf("write subtitle track: %w", err)
	}

	out := ws.Artifact(RoleFinal)
	_, err := c.tc.Run(ctx, transcode.Command{
		Args:    CaptionArgs(composed.Name(), captionFile, out.Name(), c.settings),
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
