package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-clipper/internal/history"
)

const (
	livenessStatus  = "OK"
	livenessMessage = "Clipper Service is live!"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/", livenessHandler())
	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(cfg))
	r.Post("/clip", clipHandler(cfg))

	if cfg.History != nil {
		r.Group(func(r chi.Router) {
			if cfg.APIToken != "" {
				r.Use(AuthMiddleware(cfg.APIToken, cfg.Logger))
			}
			r.Get("/clips", listClipsHandler(cfg))
			r.Get("/clips/{id}", getClipHandler(cfg))
		})
	}

	return r
}

func livenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, LivenessResponse{Status: livenessStatus, Message: livenessMessage})
	}
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			State:       "idle",
			Credentials: cfg.HasCredentials,
		}

		if cfg.Renderer != nil {
			stats := cfg.Renderer.Stats()
			resp.InFlight = stats.InFlight
			resp.Capacity = stats.Capacity
			resp.Overlay = cfg.Renderer.HasOverlay()
			if stats.InFlight > 0 {
				resp.State = "rendering"
			}
		}

		if cfg.Doctor != nil {
			caps, err := cfg.Doctor.Get(r.Context())
			if err == nil && caps != nil {
				resp.Toolchain = CapabilitiesToResponse(caps)
				if !caps.CanRender() {
					resp.State = "degraded"
				}
			}
		}

		if cfg.Space != nil && cfg.ScratchDir != "" {
			usage, err := cfg.Space.Usage(cfg.ScratchDir)
			if err != nil {
				requestLogger(cfg.Logger, r).Warn("scratch usage unavailable", "error", err)
			} else {
				resp.Scratch = &ScratchResponse{
					Path:        cfg.ScratchDir,
					FreeBytes:   usage.Free,
					TotalBytes:  usage.Total,
					UsedPercent: usage.UsedPercent,
					Free:        humanize.IBytes(usage.Free),
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := history.DefaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > history.MaxListLimit {
				WriteError(w, http.StatusBadRequest,
					"limit must be between 1 and "+strconv.Itoa(history.MaxListLimit), "BAD_REQUEST")
				return
			}
			limit = n
		}

		records, err := cfg.History.List(r.Context(), limit)
		if err != nil {
			requestLogger(cfg.Logger, r).Error("failed to list clips", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to list clips", "INTERNAL_ERROR")
			return
		}

		resp := ClipsResponse{Clips: make([]ClipRecordResponse, len(records))}
		for i, rec := range records {
			resp.Clips[i] = RecordToResponse(rec)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "clip id required", "BAD_REQUEST")
			return
		}

		rec, err := cfg.History.Get(r.Context(), id)
		if err != nil {
			requestLogger(cfg.Logger, r).Error("failed to get clip", "clip_id", id, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to get clip", "INTERNAL_ERROR")
			return
		}
		if rec == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, RecordToResponse(rec))
	}
}
