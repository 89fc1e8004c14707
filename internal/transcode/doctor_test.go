package transcode

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeRunner struct {
	binary string
	stdout map[string]string
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context, c Command) (RunResult, error) {
	f.calls++
	if f.err != nil {
		return RunResult{ExitCode: 1}, f.err
	}
	if c.Stdout != nil {
		fmt.Fprint(c.Stdout, f.stdout[c.Args[len(c.Args)-1]])
	}
	return RunResult{}, nil
}

func (f *fakeRunner) Binary() string { return f.binary }

func TestDoctor_AllPresent(t *testing.T) {
	ffmpeg := &fakeRunner{binary: "/usr/bin/ffmpeg", stdout: map[string]string{
		"-version": "ffmpeg version 6.1.1 Copyright (c) 2000-2023\nbuilt with gcc\n",
		"-filters": " ... scale             V->V       Scale the input video size.\n" +
			" ... subtitles         V->V       Render text subtitles onto input video using the libass library.\n",
	}}
	ytdlp := &fakeRunner{binary: "/usr/bin/yt-dlp", stdout: map[string]string{"--version": "2024.08.06\n"}}

	d := &Doctor{FFmpeg: ffmpeg, YtDLP: ytdlp}
	caps, err := d.RunDoctor(context.Background())
	if err != nil {
		t.Fatalf("RunDoctor: %v", err)
	}
	if !caps.FFmpeg.Available || caps.FFmpeg.Version != "ffmpeg version 6.1.1 Copyright (c) 2000-2023" {
		t.Errorf("ffmpeg = %+v", caps.FFmpeg)
	}
	if caps.YtDLP.Version != "2024.08.06" {
		t.Errorf("yt-dlp version = %q", caps.YtDLP.Version)
	}
	if caps.FFprobe.Available {
		t.Error("ffprobe should be unavailable when no runner configured")
	}
	if !caps.HasSubtitles {
		t.Error("expected subtitles filter detected")
	}
	if !caps.CanRender() {
		t.Error("expected CanRender")
	}
}

func TestDoctor_FailingTool(t *testing.T) {
	ffmpeg := &fakeRunner{binary: "ffmpeg", err: errors.New("exec: not found")}
	caps, _ := (&Doctor{FFmpeg: ffmpeg}).RunDoctor(context.Background())
	if caps.FFmpeg.Available || caps.FFmpeg.Error == "" {
		t.Errorf("ffmpeg = %+v, want unavailable with error", caps.FFmpeg)
	}
	if caps.HasSubtitles {
		t.Error("subtitles filter cannot be present without ffmpeg")
	}
	if ffmpeg.calls != 1 {
		t.Errorf("filters probe should be skipped, calls = %d", ffmpeg.calls)
	}
}

func TestHasFilter(t *testing.T) {
	listing := " T.. subtitles         V->V       Render text subtitles\n ... overlay V->V x\n"
	if !hasFilter(listing, "subtitles") {
		t.Error("subtitles not found")
	}
	if hasFilter(listing, "ass") {
		t.Error("ass should not match")
	}
}

type fakeDoctor struct {
	calls int
	err   error
}

func (f *fakeDoctor) RunDoctor(ctx context.Context) (*Capabilities, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Capabilities{ProbedAt: time.Now()}, nil
}

func TestCachedDoctor_TTL(t *testing.T) {
	fake := &fakeDoctor{}
	doc := NewCachedDoctor(fake, nil)
	doc.ttl = 100 * time.Millisecond
	ctx := context.Background()

	caps1, err := doc.Get(ctx)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	caps2, _ := doc.Get(ctx)
	if caps2.ProbedAt != caps1.ProbedAt {
		t.Error("expected cached result on second call")
	}
	if fake.calls != 1 {
		t.Errorf("expected 1 call (cached), got %d", fake.calls)
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := doc.Get(ctx); err != nil {
		t.Fatalf("third Get (after TTL): %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("expected 2 calls after TTL expiry, got %d", fake.calls)
	}
}

func TestCachedDoctor_StaleOnError(t *testing.T) {
	fake := &fakeDoctor{}
	doc := NewCachedDoctor(fake, nil)
	ctx := context.Background()

	first, _ := doc.Get(ctx)
	fake.err = errors.New("boom")

	got, err := doc.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh should return stale cache, got %v", err)
	}
	if got != first {
		t.Error("expected stale capabilities")
	}

	doc.Invalidate()
	if _, err := doc.Refresh(ctx); err == nil {
		t.Error("expected error with empty cache")
	}
}
