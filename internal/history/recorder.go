package history

import (
	"context"
	"log/slog"

	"github.com/heimdex/heimdex-clipper/internal/clip"
	"github.com/heimdex/heimdex-clipper/internal/logging"
)

const maxErrorLen = 1024

// Recorder writes clip state transitions to the repository. Source URLs are
// stored without query or userinfo. Storage errors are logged and never reach
// the pipeline.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logging.WithComponent(logger, "history")}
}

func (r *Recorder) Record(ctx context.Context, ev clip.Event) {
	var err error
	switch ev.State {
	case clip.StateReceived:
		err = r.repo.Create(ctx, &Record{
			ID:         ev.ClipID,
			SourceURL:  logging.SanitizeURL(ev.Request.SourceURL),
			StartMs:    ev.Request.Start.Milliseconds(),
			EndMs:      ev.Request.End.Milliseconds(),
			HasCaption: ev.Request.HasCaption(),
			HasOverlay: ev.Overlay,
			State:      string(clip.StateReceived),
		})
	case clip.StateFailed:
		stage, _ := clip.StageOf(ev.Err)
		msg := ""
		if ev.Err != nil {
			msg = truncateError(ev.Err.Error())
		}
		err = r.repo.Fail(ctx, ev.ClipID, string(stage), msg)
	case clip.StateDelivered:
		err = r.repo.Deliver(ctx, ev.ClipID, ev.Size, ev.Elapsed.Milliseconds())
	default:
		err = r.repo.UpdateState(ctx, ev.ClipID, string(ev.State))
	}
	if err != nil {
		r.logger.Warn("failed to record clip state", "clip_id", ev.ClipID, "state", ev.State, "error", err)
	}
}

func truncateError(s string) string {
	if len(s) <= maxErrorLen {
		return s
	}
	return s[:maxErrorLen] + "..."
}
