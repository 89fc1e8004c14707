package clip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-clipper/internal/assets"
	"github.com/heimdex/heimdex-clipper/internal/transcode"
)

func newTestWorkingSet(t *testing.T) *WorkingSet {
	t.Helper()
	ws, err := NewWorkingSet(t.TempDir(), "test")
	require.NoError(t, err)
	return ws
}

func TestTrimArgs(t *testing.T) {
	args := TrimArgs("source.mp4", "trimmed.mp4", 30*time.Second, 45*time.Second)

	ss, ok := flagValue(args, "-ss")
	require.True(t, ok)
	assert.Equal(t, "30.000", ss)
	to, ok := flagValue(args, "-to")
	require.True(t, ok)
	assert.Equal(t, "45.000", to)
	in, _ := flagValue(args, "-i")
	assert.Equal(t, "source.mp4", in)
	c, _ := flagValue(args, "-c")
	assert.Equal(t, "copy", c)

	assert.Less(t, indexOf(args, "-ss"), indexOf(args, "-i"), "seek must be an input option")
	assert.Less(t, indexOf(args, "-i"), indexOf(args, "trimmed.mp4"))
	assert.Contains(t, args, "-y")
	assert.NotContains(t, args, "-vf")
	assert.NotContains(t, args, "-c:v")
}

func TestSegmentExtractor_Extract(t *testing.T) {
	ws := newTestWorkingSet(t)
	tc := &fakeTranscoder{}
	src := ws.Artifact(RoleSource)

	out, err := NewSegmentExtractor(tc, time.Minute).Extract(context.Background(), ws, src, time.Second, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, RoleTrimmed, out.Role)
	assert.NotEqual(t, src.Path, out.Path)
	require.Len(t, tc.commands, 1)
	assert.Equal(t, ws.Dir, tc.commands[0].Dir)
	assert.Equal(t, time.Minute, tc.commands[0].Timeout)
}

func TestSegmentExtractor_NoOutput(t *testing.T) {
	ws := newTestWorkingSet(t)
	tc := &fakeTranscoder{noWrite: true}

	_, err := NewSegmentExtractor(tc, 0).Extract(context.Background(), ws, ws.Artifact(RoleSource), 500*time.Second, 510*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trimmed artifact missing")
}

func TestLetterboxFilter(t *testing.T) {
	got := LetterboxFilter(Canvas{Width: 1080, Height: 1920})
	want := "scale=w=1080:h=1920:force_original_aspect_ratio=decrease,pad=1080:1920:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1"
	assert.Equal(t, want, got)
}

func TestLogoWidth(t *testing.T) {
	s := DefaultRenderSettings()
	assert.Equal(t, 108, s.LogoWidth())

	s.Canvas.Width = 720
	s.LogoFraction = 0.15
	assert.Equal(t, 108, s.LogoWidth())

	s.LogoFraction = 0.001
	assert.Equal(t, 2, s.LogoWidth())
}

func TestComposeArgs_NoOverlay(t *testing.T) {
	args := ComposeArgs("trimmed.mp4", "composed.mp4", nil, DefaultRenderSettings())
	joined := strings.Join(args, " ")

	assert.Equal(t, 1, countFlag(args, "-i"))
	assert.NotContains(t, args, "-filter_complex")
	assert.NotContains(t, joined, "overlay")
	vf, ok := flagValue(args, "-vf")
	require.True(t, ok)
	assert.Equal(t, LetterboxFilter(Canvas{1080, 1920}), vf)

	ab, _ := flagValue(args, "-b:a")
	assert.Equal(t, "192k", ab)
	cv, _ := flagValue(args, "-c:v")
	assert.Equal(t, "libx264", cv)
	assert.Equal(t, "composed.mp4", args[len(args)-1])
}

func TestComposeArgs_WithOverlay(t *testing.T) {
	overlay := &assets.Overlay{Path: "/srv/brand/logo.png", Width: 400, Height: 200}
	args := ComposeArgs("trimmed.mp4", "composed.mp4", overlay, DefaultRenderSettings())

	assert.Equal(t, 2, countFlag(args, "-i"))
	assert.NotContains(t, args, "-vf")
	graph, ok := flagValue(args, "-filter_complex")
	require.True(t, ok)
	assert.Equal(t,
		"[1:v]scale=108:-1[logo];[0:v]"+LetterboxFilter(Canvas{1080, 1920})+"[bg];[bg][logo]overlay=W-w-40:H-h-40[v]",
		graph)
	assert.Contains(t, strings.Join(args, " "), "-map [v] -map 0:a?")
	assert.Less(t, indexOf(args, "trimmed.mp4"), indexOf(args, "/srv/brand/logo.png"), "clip must be input 0")
}

func TestFrameComposer_Compose(t *testing.T) {
	ws := newTestWorkingSet(t)
	tc := &fakeTranscoder{}

	out, err := NewFrameComposer(tc, nil, DefaultRenderSettings(), time.Minute).
		Compose(context.Background(), ws, ws.Artifact(RoleTrimmed))
	require.NoError(t, err)
	assert.Equal(t, RoleComposed, out.Role)
	assert.Equal(t, filepath.Join(ws.Dir, "composed.mp4"), out.Path)
}

func TestSanitizeCaption(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello world", "Hello world"},
		{"  padded  ", "padded"},
		{"line one\r\n\r\nline two", "line one\nline two"},
		{"a --> b", "a -> b"},
		{"a ---> b", "a -> b"},
		{"a ------> b", "a -> b"},
		{"00:00:05,000 ---> 00:00:09,000", "00:00:05,000 -> 00:00:09,000"},
		{"{\\an8}top", "(/an8)top"},
		{"<font color=red>x</font>", "‹font color=red›x‹/font›"},
		{"new\\Nline", "new/Nline"},
		{"bell\x07\x00 tab\there", "bell tab here"},
		{"\n\n", ""},
		{"", ""},
		{"日本語 キャプション 🎬", "日本語 キャプション 🎬"},
	}
	for _, tt := range tests {
		if got := SanitizeCaption(tt.in); got != tt.want {
			t.Errorf("SanitizeCaption(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatSRT_SingleCueWithInjectedTiming(t *testing.T) {
	text := SanitizeCaption("Hi\n00:00:05,000 ---> 00:00:09,000\nInjected")
	srt := FormatSRT(text, 59*time.Second)

	assert.Equal(t, 1, strings.Count(srt, "-->"), srt)
	assert.NotContains(t, text, "-->")
}

func TestFormatSRT(t *testing.T) {
	got := FormatSRT("Hello world", 59*time.Second)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:59,000\nHello world\n", got)

	assert.Equal(t, "01:02:03,456", srtTime(time.Hour+2*time.Minute+3*time.Second+456*time.Millisecond))
}

func TestCaptionArgs(t *testing.T) {
	args := CaptionArgs("composed.mp4", "captions.srt", "final.mp4", DefaultRenderSettings())

	vf, ok := flagValue(args, "-vf")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(vf, "subtitles=captions.srt:force_style='FontName=Arial,FontSize=36,"), vf)
	assert.Contains(t, vf, "Alignment=2,MarginV=80'")
	ca, _ := flagValue(args, "-c:a")
	assert.Equal(t, "copy", ca)
	in, _ := flagValue(args, "-i")
	assert.Equal(t, "composed.mp4", in)
	assert.Contains(t, args, "final.mp4")
	assert.Contains(t, args, "-y")
}

func TestCaptionRenderer_Passthrough(t *testing.T) {
	ws := newTestWorkingSet(t)
	tc := &fakeTranscoder{}
	composed := ws.Artifact(RoleComposed)
	require.NoError(t, os.WriteFile(composed.Path, []byte("composed"), 0644))

	for _, text := range []string{"", "   ", "\n\r\n"} {
		final, err := NewCaptionRenderer(tc, DefaultRenderSettings(), 0).Render(context.Background(), ws, composed, text)
		require.NoError(t, err)
		assert.Equal(t, RoleFinal, final.Role)
		assert.Equal(t, composed.Path, final.Path)
	}

	assert.Empty(t, tc.commands, "passthrough must not invoke the transcoder")
	_, err := os.Stat(ws.Path(captionFile))
	assert.True(t, os.IsNotExist(err), "passthrough must not write a subtitle file")
}

func TestCaptionRenderer_Burn(t *testing.T) {
	ws := newTestWorkingSet(t)
	tc := &fakeTranscoder{}
	composed := ws.Artifact(RoleComposed)

	final, err := NewCaptionRenderer(tc, DefaultRenderSettings(), time.Minute).
		Render(context.Background(), ws, composed, "Hello {world}")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir, "final.mp4"), final.Path)

	srt, err := os.ReadFile(ws.Path(captionFile))
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:59,000\nHello (world)\n", string(srt))
	require.Len(t, tc.commands, 1)
	assert.Equal(t, ws.Dir, tc.commands[0].Dir)
}

func TestCaptionRenderer_FailureSurfaces(t *testing.T) {
	ws := newTestWorkingSet(t)
	tc := &fakeTranscoder{failOn: "final.mp4", failErr: &transcode.CommandError{Binary: "ffmpeg", ExitCode: 1, StderrTail: "No such filter: 'subtitles'"}}

	_, err := NewCaptionRenderer(tc, DefaultRenderSettings(), 0).
		Render(context.Background(), ws, ws.Artifact(RoleComposed), "Hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, transcode.ErrCommandFailed))
}

func TestWorkingSet_UniqueAndRemove(t *testing.T) {
	root := t.TempDir()
	a, err := NewWorkingSet(root, "a")
	require.NoError(t, err)
	_, err = NewWorkingSet(root, "a")
	assert.Error(t, err, "working set names must not be reused")

	require.NoError(t, os.WriteFile(a.Path("x"), []byte("x"), 0644))
	require.NoError(t, a.Remove())
	require.NoError(t, a.Remove())
	_, err = os.Stat(a.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestWorkingSet_ArtifactsDistinct(t *testing.T) {
	ws := newTestWorkingSet(t)
	seen := map[string]bool{}
	for _, r := range []Role{RoleSource, RoleTrimmed, RoleComposed, RoleFinal} {
		p := ws.Artifact(r).Path
		assert.False(t, seen[p], "path %s reused", p)
		seen[p] = true
	}
}

func TestSweepStale(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "clip-old"), 0700))
	require.NoError(t, os.Mkdir(filepath.Join(root, "keep"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "clip-file"), nil, 0644))

	n, err := SweepStale(root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(filepath.Join(root, "keep"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "clip-file"))
	assert.NoError(t, err, "plain files are left alone")

	n, err = SweepStale(filepath.Join(root, "missing"), nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}
