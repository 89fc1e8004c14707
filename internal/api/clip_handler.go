package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/heimdex/heimdex-clipper/internal/clip"
	"github.com/heimdex/heimdex-clipper/internal/delivery"
)

const maxClipBodyBytes = 1 << 20

func clipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(cfg.Logger, r)

		var body ClipRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxClipBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "request body too large", "PAYLOAD_TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "BAD_REQUEST")
			return
		}

		req, err := clip.NewRequest(clip.Input{
			VideoURL:  body.VideoURL,
			Start:     string(body.Start),
			End:       string(body.End),
			Subtitles: body.Subtitles,
		})
		if err != nil {
			writeClipError(w, err)
			return
		}

		headersSent := false
		err = cfg.Renderer.Run(r.Context(), req, func(ctx context.Context, clipID string, final clip.Artifact) error {
			sent, err := cfg.Delivery.ServeAttachment(w, final.Path, delivery.AttachmentName, clipID)
			headersSent = sent
			return err
		})
		if err == nil {
			return
		}

		switch {
		case headersSent:
			logger.Warn("clip response interrupted", "error", err)
		case errors.Is(err, context.Canceled):
			logger.Info("client went away before the clip was ready", "error", err)
		default:
			writeClipError(w, err)
		}
	}
}

// writeClipError maps orchestrator failures to responses: validation is a
// 400, a stage failure is a 500 naming the stage and carrying its
// diagnostics, anything else is a generic 500.
func writeClipError(w http.ResponseWriter, err error) {
	var ve *clip.ValidationError
	if errors.As(err, &ve) {
		WriteError(w, http.StatusBadRequest, ve.Message, "BAD_REQUEST")
		return
	}

	var se *clip.StageError
	if errors.As(err, &se) {
		code := strings.ToUpper(string(se.Stage)) + "_FAILED"
		WriteError(w, http.StatusInternalServerError, se.Error(), code)
		return
	}

	WriteError(w, http.StatusInternalServerError, "internal error while rendering clip", "INTERNAL_ERROR")
}
