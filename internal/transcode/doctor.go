package transcode

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// ToolInfo reports whether one external binary answered its version probe.
type ToolInfo struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities summarises the installed media toolchain.
type Capabilities struct {
	FFmpeg  ToolInfo `json:"ffmpeg"`
	FFprobe ToolInfo `json:"ffprobe"`
	YtDLP   ToolInfo `json:"yt_dlp"`

	// HasSubtitles is true when ffmpeg was built with the libass subtitles filter.
	HasSubtitles bool      `json:"has_subtitles"`
	ProbedAt     time.Time `json:"probed_at"`
}

// CanRender reports whether every binary a clip needs is present.
func (c *Capabilities) CanRender() bool {
	return c.FFmpeg.Available && c.YtDLP.Available
}

// DoctorRunner probes the toolchain.
type DoctorRunner interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// Doctor probes ffmpeg, ffprobe and yt-dlp through their runners.
// Any runner may be nil, in which case that tool is reported unavailable.
type Doctor struct {
	FFmpeg  Runner
	FFprobe Runner
	YtDLP   Runner
	Timeout time.Duration
	Logger  *slog.Logger
}

// RunDoctor executes each version probe and the subtitles filter check.
func (d *Doctor) RunDoctor(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{ProbedAt: time.Now()}

	caps.FFmpeg = d.version(ctx, d.FFmpeg, "-hide_banner", "-version")
	caps.FFprobe = d.version(ctx, d.FFprobe, "-hide_banner", "-version")
	caps.YtDLP = d.version(ctx, d.YtDLP, "--version")

	if caps.FFmpeg.Available {
		var out bytes.Buffer
		_, err := d.FFmpeg.Run(ctx, Command{
			Args:    []string{"-hide_banner", "-filters"},
			Timeout: d.Timeout,
			Stdout:  &out,
		})
		caps.HasSubtitles = err == nil && hasFilter(out.String(), "subtitles")
	}

	if d.Logger != nil {
		d.Logger.Info("doctor probe complete",
			"ffmpeg", caps.FFmpeg.Available,
			"ffprobe", caps.FFprobe.Available,
			"yt_dlp", caps.YtDLP.Available,
			"subtitles_filter", caps.HasSubtitles,
		)
	}

	return caps, nil
}

func (d *Doctor) version(ctx context.Context, r Runner, args ...string) ToolInfo {
	if r == nil {
		return ToolInfo{Error: "not configured"}
	}
	var out bytes.Buffer
	_, err := r.Run(ctx, Command{Args: args, Timeout: d.Timeout, Stdout: &out})
	if err != nil {
		return ToolInfo{Path: r.Binary(), Error: err.Error()}
	}
	return ToolInfo{Available: true, Path: r.Binary(), Version: firstLine(out.String())}
}

// hasFilter scans `ffmpeg -filters` output, whose rows look like
// " ... subtitles         V->V       Render text subtitles ...".
func hasFilter(listing, name string) bool {
	sc := bufio.NewScanner(strings.NewReader(listing))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// CachedDoctor wraps a DoctorRunner to cache probe results with a configurable TTL.
// This avoids spawning the version probes on every status request.
type CachedDoctor struct {
	runner DoctorRunner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(runner DoctorRunner, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		runner: runner,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new doctor probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.runner.RunDoctor(ctx)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("doctor probe failed", "error", err)
		}
		// Return stale cache if available
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
