package clip

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-clipper/internal/assets"
	"github.com/heimdex/heimdex-clipper/internal/fetch"
	"github.com/heimdex/heimdex-clipper/internal/transcode"
)

type fixedSpace struct {
	free uint64
	err  error
}

func (f fixedSpace) Usage(path string) (*disk.UsageStat, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &disk.UsageStat{Path: path, Free: f.free}, nil
}

type harness struct {
	tc       *fakeTranscoder
	fetcher  *fakeFetcher
	recorder *fakeRecorder
	scratch  string
	orch     *Orchestrator
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		tc:       &fakeTranscoder{},
		fetcher:  &fakeFetcher{},
		recorder: &fakeRecorder{},
		scratch:  t.TempDir(),
	}
	opts := Options{
		Transcoder:    h.tc,
		Fetcher:       h.fetcher,
		Settings:      DefaultRenderSettings(),
		ScratchDir:    h.scratch,
		MaxConcurrent: 2,
		Recorder:      h.recorder,
	}
	if mutate != nil {
		mutate(&opts)
	}
	orch, err := New(opts)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "working set must be removed")
}

func validRequest(caption string) Request {
	return Request{SourceURL: "https://www.youtube.com/watch?v=abc", Start: 10 * time.Second, End: 25 * time.Second, Caption: caption}
}

// readingDeliver copies the final artifact's bytes before the working set goes away.
func readingDeliver(got *[]byte, gotID *string) DeliverFunc {
	return func(ctx context.Context, clipID string, final Artifact) error {
		data, err := os.ReadFile(final.Path)
		if err != nil {
			return err
		}
		*got = data
		*gotID = clipID
		return nil
	}
}

func TestRun_NoCaptionPassthrough(t *testing.T) {
	h := newHarness(t, nil)
	var body []byte
	var id string

	err := h.orch.Run(context.Background(), validRequest(""), readingDeliver(&body, &id))
	require.NoError(t, err)

	assert.Equal(t, "rendered composed.mp4", string(body), "final must be the composed clip byte for byte")
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"trimmed.mp4", "composed.mp4"}, h.tc.outputs())
	assert.Equal(t, []State{
		StateReceived, StateValidated, StateFetched, StateTrimmed,
		StateComposed, StateCaptioned, StateDelivered,
	}, h.recorder.states())
	h.assertScratchEmpty(t)
}

func TestRun_CaptionAndOverlay(t *testing.T) {
	overlay := &assets.Overlay{Path: "/srv/brand/logo.png", Width: 256, Height: 256}
	creds := &assets.Credentials{Path: "/srv/secrets/cookies.txt"}
	h := newHarness(t, func(o *Options) {
		o.Overlay = overlay
		o.Credentials = creds
	})
	var body []byte
	var id string

	err := h.orch.Run(context.Background(), validRequest("Watch till the end"), readingDeliver(&body, &id))
	require.NoError(t, err)

	assert.Equal(t, "rendered final.mp4", string(body))
	assert.Equal(t, []string{"trimmed.mp4", "composed.mp4", "final.mp4"}, h.tc.outputs())
	require.Equal(t, 1, h.fetcher.callCount())
	assert.Same(t, creds, h.fetcher.calls[0].Credentials)
	assert.Equal(t, "source.mp4", h.fetcher.calls[0].Filename)

	compose := h.tc.commands[1]
	assert.Equal(t, 2, countFlag(compose.Args, "-i"))
	assert.Contains(t, compose.Args, "/srv/brand/logo.png")
	assert.True(t, h.orch.HasOverlay())
	h.assertScratchEmpty(t)
}

func TestRun_ValidationError(t *testing.T) {
	h := newHarness(t, nil)
	called := false

	err := h.orch.Run(context.Background(), Request{SourceURL: "https://x", Start: 20 * time.Second, End: 10 * time.Second},
		func(context.Context, string, Artifact) error { called = true; return nil })

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.False(t, called)
	assert.Zero(t, h.fetcher.callCount())
	assert.Empty(t, h.recorder.states(), "invalid requests are never recorded")
	h.assertScratchEmpty(t)
}

func TestRun_FetchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.err = &fetch.Error{Kind: fetch.ErrSourceUnavailable, URL: "https://x", Detail: "Video unavailable"}
	called := false

	err := h.orch.Run(context.Background(), validRequest(""), func(context.Context, string, Artifact) error {
		called = true
		return nil
	})

	stage, ok := StageOf(err)
	require.True(t, ok)
	assert.Equal(t, StageFetch, stage)
	assert.ErrorIs(t, err, fetch.ErrSourceUnavailable)
	assert.False(t, called)
	assert.Empty(t, h.tc.commands)
	states := h.recorder.states()
	assert.Equal(t, StateFailed, states[len(states)-1])
	h.assertScratchEmpty(t)
}

func TestRun_StageFailures(t *testing.T) {
	tests := []struct {
		failOn    string
		wantStage Stage
		wantRuns  int
	}{
		{"trimmed.mp4", StageTrim, 1},
		{"composed.mp4", StageCompose, 2},
		{"final.mp4", StageCaption, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.wantStage), func(t *testing.T) {
			h := newHarness(t, nil)
			h.tc.failOn = tt.failOn
			called := false

			err := h.orch.Run(context.Background(), validRequest("caption"), func(context.Context, string, Artifact) error {
				called = true
				return nil
			})

			require.Error(t, err)
			var se *StageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.wantStage, se.Stage)
			assert.Equal(t, "Invalid data found when processing input", se.Diagnostic())
			assert.ErrorIs(t, err, transcode.ErrCommandFailed)
			assert.False(t, called, "a failed stage must not deliver anything, including the composed clip")
			assert.Len(t, h.tc.commands, tt.wantRuns)
			h.assertScratchEmpty(t)
		})
	}
}

func TestRun_InsufficientSpace(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Space = fixedSpace{free: 10 << 20}
		o.MinFreeBytes = 512 << 20
	})

	err := h.orch.Run(context.Background(), validRequest(""), func(context.Context, string, Artifact) error { return nil })

	stage, ok := StageOf(err)
	require.True(t, ok)
	assert.Equal(t, StageFetch, stage)
	assert.ErrorIs(t, err, ErrInsufficientSpace)
	assert.Zero(t, h.fetcher.callCount())
	h.assertScratchEmpty(t)
}

func TestRun_SpaceProbeErrorIgnored(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Space = fixedSpace{err: errBoom}
		o.MinFreeBytes = 1
	})

	err := h.orch.Run(context.Background(), validRequest(""), func(context.Context, string, Artifact) error { return nil })
	assert.NoError(t, err)
}

func TestRun_DeliverError(t *testing.T) {
	h := newHarness(t, nil)

	err := h.orch.Run(context.Background(), validRequest(""), func(context.Context, string, Artifact) error { return errBoom })

	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	_, isStage := StageOf(err)
	assert.False(t, isStage)
	states := h.recorder.states()
	assert.Equal(t, StateFailed, states[len(states)-1])
	h.assertScratchEmpty(t)
}

func TestRun_ConcurrencyBounded(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 8)

	h := newHarness(t, func(o *Options) { o.MaxConcurrent = 2 })
	h.tc.onRun = func(c transcode.Command) {
		if c.Output == "trimmed.mp4" {
			entered <- struct{}{}
			<-release
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.orch.Run(context.Background(), validRequest(""), func(context.Context, string, Artifact) error { return nil })
		}()
	}

	<-entered
	<-entered
	select {
	case <-entered:
		t.Fatal("third request ran past the semaphore")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, Stats{InFlight: 2, Capacity: 2}, h.orch.Stats())

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 0, h.orch.Stats().InFlight)
	h.assertScratchEmpty(t)
}

func TestRun_ContextCancelledWhileWaiting(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxConcurrent = 1 })
	release := make(chan struct{})
	entered := make(chan struct{})
	h.tc.onRun = func(c transcode.Command) {
		if c.Output == "trimmed.mp4" {
			close(entered)
			<-release
		}
	}

	done := make(chan error)
	go func() {
		done <- h.orch.Run(context.Background(), validRequest(""), func(context.Context, string, Artifact) error { return nil })
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.orch.Run(ctx, validRequest(""), func(context.Context, string, Artifact) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.NoError(t, <-done)
}

func TestRun_UniqueWorkingSets(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxConcurrent = 4 })
	var mu sync.Mutex
	dirs := map[string]bool{}
	h.tc.onRun = func(c transcode.Command) {
		mu.Lock()
		dirs[c.Dir] = true
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.orch.Run(context.Background(), validRequest(""), func(context.Context, string, Artifact) error { return nil })
		}()
	}
	wg.Wait()

	assert.Len(t, dirs, 4)
	h.assertScratchEmpty(t)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Fetcher: &fakeFetcher{}, ScratchDir: t.TempDir()})
	assert.Error(t, err)
	_, err = New(Options{Transcoder: &fakeTranscoder{}, ScratchDir: t.TempDir()})
	assert.Error(t, err)
	_, err = New(Options{Transcoder: &fakeTranscoder{}, Fetcher: &fakeFetcher{}})
	assert.Error(t, err)
}
