package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/heimdex/heimdex-clipper/internal/assets"
	"github.com/heimdex/heimdex-clipper/internal/clip"
	"github.com/heimdex/heimdex-clipper/internal/config"
	"github.com/heimdex/heimdex-clipper/internal/db"
	"github.com/heimdex/heimdex-clipper/internal/fetch"
	"github.com/heimdex/heimdex-clipper/internal/history"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/transcode"
)

// toolchain holds the external binaries, each resolved once. A nil runner
// means the binary was not found.
type toolchain struct {
	ffmpeg  transcode.Runner
	ffprobe transcode.Runner
	ytdlp   transcode.Runner
}

func resolveToolchain(cfg config.Config, logger *slog.Logger) toolchain {
	var tc toolchain
	tc.ffmpeg = resolveRunner(logger, "ffmpeg", cfg.FFmpegPath(), "ffmpeg")
	tc.ffprobe = resolveRunner(logger, "ffprobe", cfg.FFprobePath(), "ffprobe")
	tc.ytdlp = resolveRunner(logger, "yt-dlp", cfg.YtDLPPath(), "yt-dlp", "yt_dlp")
	return tc
}

func resolveRunner(logger *slog.Logger, name, preferred string, candidates ...string) transcode.Runner {
	path, err := transcode.ResolveBinary(preferred, candidates...)
	if err != nil {
		logger.Warn("binary not available", "tool", name, "error", err)
		return nil
	}
	logger.Debug("binary resolved", "tool", name, "path", logging.SanitizePath(path))
	return transcode.NewRunner(path, logger)
}

func (tc toolchain) doctor(cfg config.Config, logger *slog.Logger) *transcode.Doctor {
	return &transcode.Doctor{
		FFmpeg:  tc.ffmpeg,
		FFprobe: tc.ffprobe,
		YtDLP:   tc.ytdlp,
		Timeout: cfg.TimeoutProbe(),
		Logger:  logger,
	}
}

// loadAssets validates the optional logo and cookie bundle. A configured file
// that is missing disables the feature with a warning; one that exists but is
// unusable is a startup error.
func loadAssets(cfg config.Config, logger *slog.Logger) (*assets.Overlay, *assets.Credentials, error) {
	overlay, err := assets.LoadOverlay(cfg.LogoPath())
	switch {
	case errors.Is(err, assets.ErrNotFound):
		logger.Warn("logo not found, overlay disabled", "path", logging.SanitizePath(cfg.LogoPath()))
		overlay = nil
	case err != nil:
		return nil, nil, fmt.Errorf("invalid logo: %w", err)
	case overlay != nil:
		logger.Info("overlay enabled", "path", logging.SanitizePath(overlay.Path),
			"format", overlay.Format, "width", overlay.Width, "height", overlay.Height)
	}

	creds, err := assets.LoadCredentials(cfg.CookiesPath())
	switch {
	case errors.Is(err, assets.ErrNotFound):
		logger.Warn("cookie file not found, fetching anonymously", "path", logging.SanitizePath(cfg.CookiesPath()))
		creds = nil
	case err != nil:
		return nil, nil, fmt.Errorf("invalid cookie file: %w", err)
	case creds != nil:
		logger.Info("fetch credentials enabled")
	}

	return overlay, creds, nil
}

func renderSettings(cfg config.Config) clip.RenderSettings {
	return clip.RenderSettings{
		Canvas:       clip.Canvas{Width: cfg.CanvasWidth(), Height: cfg.CanvasHeight()},
		LogoFraction: cfg.LogoFraction(),
		LogoMargin:   cfg.LogoMargin(),
		VideoCodec:   cfg.VideoCodec(),
		Preset:       cfg.Preset(),
		CRF:          cfg.CRF(),
		AudioBitrate: cfg.AudioBitrate(),
		CaptionEnd:   cfg.CaptionEnd(),
	}
}

// app is the wiring shared by serve and render.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	tools       toolchain
	doctor      *transcode.CachedDoctor
	overlay     *assets.Overlay
	credentials *assets.Credentials
	database    *db.DB
	history     history.Repository
	orch        *clip.Orchestrator
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, withHistory bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.tools = resolveToolchain(cfg, logger)
	if a.tools.ffmpeg == nil {
		return nil, fmt.Errorf("ffmpeg is required: %w", transcode.ErrBinaryNotFound)
	}

	a.doctor = transcode.NewCachedDoctor(a.tools.doctor(cfg, logger), logger)
	if caps, err := a.doctor.Refresh(ctx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else {
		logger.Info("toolchain detected",
			"ffmpeg", caps.FFmpeg.Version,
			"yt_dlp", caps.YtDLP.Version,
			"subtitles_filter", caps.HasSubtitles,
		)
		if !caps.HasSubtitles {
			logger.Warn("ffmpeg lacks the subtitles filter, captioned requests will fail")
		}
	}

	var err error
	a.overlay, a.credentials, err = loadAssets(cfg, logger)
	if err != nil {
		return nil, err
	}

	if n, err := clip.SweepStale(cfg.ScratchDir(), logger); err != nil {
		logger.Warn("failed to sweep scratch dir", "error", err)
	} else if n > 0 {
		logger.Info("removed stale working sets", "count", n)
	}

	var recorder clip.Recorder
	if withHistory && cfg.HistoryEnabled() {
		a.database, err = db.New(cfg.DBPath(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		repo := history.NewRepository(a.database.Conn())
		a.history = repo
		recorder = history.NewRecorder(repo, logger)
	}

	opts := clip.Options{
		Transcoder: a.tools.ffmpeg,
		Fetcher: fetch.New(fetch.Config{
			YtDLP:   a.tools.ytdlp,
			Timeout: cfg.TimeoutFetch(),
			Logger:  logger,
		}),
		Overlay:     a.overlay,
		Credentials: a.credentials,
		Settings:    renderSettings(cfg),
		Timeouts: clip.Timeouts{
			Trim:    cfg.TimeoutTrim(),
			Compose: cfg.TimeoutCompose(),
			Caption: cfg.TimeoutCaption(),
		},
		ScratchDir:    cfg.ScratchDir(),
		MaxConcurrent: cfg.MaxConcurrent(),
		MinFreeBytes:  cfg.MinFreeBytes(),
		Space:         clip.DiskSpace{},
		Recorder:      recorder,
		Logger:        logger,
	}
	if a.tools.ffprobe != nil {
		opts.Prober = transcode.NewProber(a.tools.ffprobe, cfg.TimeoutProbe())
	}

	a.orch, err = clip.New(opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
}

func ensureDirs(cfg config.Config) error {
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ScratchDir(), 0755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return nil
}
