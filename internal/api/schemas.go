package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/clip"
	"github.com/heimdex/heimdex-clipper/internal/history"
	"github.com/heimdex/heimdex-clipper/internal/transcode"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string             `json:"state"`
	InFlight    int                `json:"in_flight"`
	Capacity    int                `json:"capacity"`
	Overlay     bool               `json:"overlay"`
	Credentials bool               `json:"credentials"`
	Toolchain   *ToolchainResponse `json:"toolchain,omitempty"`
	Scratch     *ScratchResponse   `json:"scratch,omitempty"`
}

type ToolchainResponse struct {
	FFmpeg       transcode.ToolInfo `json:"ffmpeg"`
	FFprobe      transcode.ToolInfo `json:"ffprobe"`
	YtDLP        transcode.ToolInfo `json:"yt_dlp"`
	HasSubtitles bool               `json:"has_subtitles"`
	LastProbeAt  string             `json:"last_probe_at,omitempty"`
}

type ScratchResponse struct {
	Path        string  `json:"path"`
	FreeBytes   uint64  `json:"free_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedPercent float64 `json:"used_percent"`
	Free        string  `json:"free"`
}

// ClipRequest is the POST /clip body. start and end may be JSON numbers or
// strings.
type ClipRequest struct {
	VideoURL  string     `json:"videoUrl"`
	Start     flexString `json:"start"`
	End       flexString `json:"end"`
	Subtitles string     `json:"subtitles,omitempty"`
}

// flexString accepts a JSON string or number and keeps its text form. null
// decodes as empty, which reads as a missing field.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return errors.New("must be a string or a number")
	}
	*f = flexString(n.String())
	return nil
}

type ClipRecordResponse struct {
	ID          string `json:"id"`
	SourceURL   string `json:"source_url"`
	Start       string `json:"start"`
	End         string `json:"end"`
	HasCaption  bool   `json:"has_caption"`
	HasOverlay  bool   `json:"has_overlay"`
	State       string `json:"state"`
	Stage       string `json:"stage,omitempty"`
	Error       string `json:"error,omitempty"`
	OutputBytes int64  `json:"output_bytes"`
	ElapsedMs   int64  `json:"elapsed_ms"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type ClipsResponse struct {
	Clips []ClipRecordResponse `json:"clips"`
}

func RecordToResponse(r *history.Record) ClipRecordResponse {
	return ClipRecordResponse{
		ID:          r.ID,
		SourceURL:   r.SourceURL,
		Start:       formatMillis(r.StartMs),
		End:         formatMillis(r.EndMs),
		HasCaption:  r.HasCaption,
		HasOverlay:  r.HasOverlay,
		State:       r.State,
		Stage:       r.Stage,
		Error:       r.Error,
		OutputBytes: r.OutputBytes,
		ElapsedMs:   r.ElapsedMs,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
	}
}

func CapabilitiesToResponse(c *transcode.Capabilities) *ToolchainResponse {
	resp := &ToolchainResponse{
		FFmpeg:       c.FFmpeg,
		FFprobe:      c.FFprobe,
		YtDLP:        c.YtDLP,
		HasSubtitles: c.HasSubtitles,
	}
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}

func formatMillis(ms int64) string {
	return clip.FormatTimestamp(time.Duration(ms) * time.Millisecond)
}
