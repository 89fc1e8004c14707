// Package clip renders a vertical short-form clip from a time range of a
// remote video: fetch, stream-copy trim, letterbox onto a portrait canvas with
// an optional logo, then burn in an optional caption.
package clip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/heimdex/heimdex-clipper/internal/assets"
	"github.com/heimdex/heimdex-clipper/internal/fetch"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/transcode"
)

// DeliverFunc hands the final artifact to the caller. The working set is
// removed as soon as it returns, so it must finish reading the file.
type DeliverFunc func(ctx context.Context, clipID string, final Artifact) error

// Prober reads back the final artifact for logging.
type Prober interface {
	Probe(ctx context.Context, path string) (*transcode.ProbeResult, error)
}

// Timeouts bound each transcoder call.
type Timeouts struct {
	Trim    time.Duration
	Compose time.Duration
	Caption time.Duration
}

// Options configures an Orchestrator. Overlay and Credentials are optional
// and fixed for the orchestrator's lifetime.
type Options struct {
	Transcoder  Transcoder
	Fetcher     fetch.Fetcher
	Overlay     *assets.Overlay
	Credentials *assets.Credentials
	Settings    RenderSettings
	Timeouts    Timeouts

	ScratchDir    string
	MaxConcurrent int
	MinFreeBytes  uint64
	Space         SpaceProbe // nil skips the free-space check

	Prober   Prober   // optional
	Recorder Recorder // optional
	Logger   *slog.Logger
}

// Stats is a snapshot of render slot usage.
type Stats struct {
	InFlight int `json:"in_flight"`
	Capacity int `json:"capacity"`
}

// Orchestrator runs the clip pipeline. Run is safe for concurrent use; each
// call owns its own working set and at most MaxConcurrent run at once.
type Orchestrator struct {
	fetcher     fetch.Fetcher
	extractor   *SegmentExtractor
	composer    *FrameComposer
	captions    *CaptionRenderer
	overlay     *assets.Overlay
	credentials *assets.Credentials
	settings    RenderSettings

	scratchDir   string
	minFreeBytes uint64
	space        SpaceProbe
	prober       Prober
	recorder     Recorder
	logger       *slog.Logger

	sem      *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Transcoder == nil {
		return nil, errors.New("clip: transcoder is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("clip: fetcher is required")
	}
	if opts.ScratchDir == "" {
		return nil, errors.New("clip: scratch dir is required")
	}
	if err := os.MkdirAll(opts.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("clip: create scratch dir: %w", err)
	}

	capacity := opts.MaxConcurrent
	if capacity < 1 {
		capacity = 1
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Orchestrator{
		fetcher:      opts.Fetcher,
		extractor:    NewSegmentExtractor(opts.Transcoder, opts.Timeouts.Trim),
		composer:     NewFrameComposer(opts.Transcoder, opts.Overlay, opts.Settings, opts.Timeouts.Compose),
		captions:     NewCaptionRenderer(opts.Transcoder, opts.Settings, opts.Timeouts.Caption),
		overlay:      opts.Overlay,
		credentials:  opts.Credentials,
		settings:     opts.Settings,
		scratchDir:   opts.ScratchDir,
		minFreeBytes: opts.MinFreeBytes,
		space:        opts.Space,
		prober:       opts.Prober,
		recorder:     recorder,
		logger:       logging.WithComponent(logger, "clip"),
		sem:          semaphore.NewWeighted(int64(capacity)),
		capacity:     capacity,
	}, nil
}

// Stats reports current slot usage.
func (o *Orchestrator) Stats() Stats {
	return Stats{InFlight: int(o.inFlight.Load()), Capacity: o.capacity}
}

// HasOverlay reports whether the logo stage is active.
func (o *Orchestrator) HasOverlay() bool {
	return o.overlay != nil
}

// Run validates req, renders it and passes the final artifact to deliver.
// The working set is removed on every return path. Failures are returned as
// *ValidationError, *StageError, or a plain error for anything else.
func (o *Orchestrator) Run(ctx context.Context, req Request, deliver DeliverFunc) (err error) {
	if err := req.Validate(); err != nil {
		return err
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for a render slot: %w", err)
	}
	defer o.sem.Release(1)
	o.inFlight.Add(1)
	defer o.inFlight.Add(-1)

	id := uuid.NewString()
	logger := logging.WithClipID(o.logger, id)
	started := time.Now()
	recordCtx := context.WithoutCancel(ctx)

	o.recorder.Record(recordCtx, Event{ClipID: id, State: StateReceived, Request: req, Overlay: o.overlay != nil})
	o.transition(recordCtx, logger, id, StateValidated)

	defer func() {
		if err != nil {
			logger.Warn("clip failed", "error", err, "duration_ms", time.Since(started).Milliseconds())
			o.recorder.Record(recordCtx, Event{ClipID: id, State: StateFailed, Err: err, Elapsed: time.Since(started)})
		}
	}()

	if err = o.checkSpace(); err != nil {
		return &StageError{Stage: StageFetch, Err: err}
	}

	ws, err := NewWorkingSet(o.scratchDir, id)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := ws.Remove(); rmErr != nil {
			logger.Error("failed to remove working set", "dir", ws.Dir, "error", rmErr)
		}
	}()

	srcPath, err := o.fetcher.Fetch(ctx, fetch.Request{
		URL:         req.SourceURL,
		Dir:         ws.Dir,
		Filename:    ws.Artifact(RoleSource).Name(),
		Credentials: o.credentials,
	})
	if err != nil {
		return &StageError{Stage: StageFetch, Err: err}
	}
	src := Artifact{Role: RoleSource, Path: srcPath}
	o.transition(recordCtx, logger, id, StateFetched)

	trimmed, err := o.extractor.Extract(ctx, ws, src, req.Start, req.End)
	if err != nil {
		return &StageError{Stage: StageTrim, Err: err}
	}
	o.transition(recordCtx, logger, id, StateTrimmed)

	composed, err := o.composer.Compose(ctx, ws, trimmed)
	if err != nil {
		return &StageError{Stage: StageCompose, Err: err}
	}
	o.transition(recordCtx, logger, id, StateComposed)

	final, err := o.captions.Render(ctx, ws, composed, req.Caption)
	if err != nil {
		return &StageError{Stage: StageCaption, Err: err}
	}
	o.transition(recordCtx, logger, id, StateCaptioned)

	var size int64
	if info, statErr := os.Stat(final.Path); statErr == nil {
		size = info.Size()
	}
	o.verify(ctx, logger, req, final)

	if err = deliver(ctx, id, final); err != nil {
		return fmt.Errorf("deliver clip: %w", err)
	}

	elapsed := time.Since(started)
	logger.Info("clip delivered",
		"size", humanize.Bytes(uint64(size)),
		"duration_ms", elapsed.Milliseconds(),
		"captioned", final.Path != composed.Path,
		"overlay", o.overlay != nil,
	)
	o.recorder.Record(recordCtx, Event{ClipID: id, State: StateDelivered, Size: size, Elapsed: elapsed})
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, logger *slog.Logger, id string, state State) {
	logger.Debug("clip state", "state", state)
	o.recorder.Record(ctx, Event{ClipID: id, State: state})
}

func (o *Orchestrator) checkSpace() error {
	if o.space == nil || o.minFreeBytes == 0 {
		return nil
	}
	usage, err := o.space.Usage(o.scratchDir)
	if err != nil {
		o.logger.Warn("scratch usage unavailable", "error", err)
		return nil
	}
	if usage.Free < o.minFreeBytes {
		return fmt.Errorf("%w: %s free, need %s", ErrInsufficientSpace,
			humanize.IBytes(usage.Free), humanize.IBytes(o.minFreeBytes))
	}
	return nil
}

// verify probes the final artifact and logs any drift from the requested
// duration or canvas. It never fails the request.
func (o *Orchestrator) verify(ctx context.Context, logger *slog.Logger, req Request, final Artifact) {
	if o.prober == nil {
		return
	}
	res, err := o.prober.Probe(ctx, final.Path)
	if err != nil {
		logger.Warn("final artifact probe failed", "error", err)
		return
	}

	want := req.Duration()
	drift := res.Duration - want
	if drift < 0 {
		drift = -drift
	}
	attrs := []any{
		"duration", res.Duration.String(),
		"requested", want.String(),
		"width", res.Width,
		"height", res.Height,
	}
	if res.Width != o.settings.Canvas.Width || res.Height != o.settings.Canvas.Height || drift > time.Second {
		logger.Warn("final artifact differs from request", attrs...)
		return
	}
	logger.Debug("final artifact verified", attrs...)
}
