// Package history persists one row per clip request so operators can see
// what was rendered, what failed and at which stage.
package history

import "time"

// Record is the persisted summary of one clip request.
type Record struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	StartMs     int64     `json:"start_ms"`
	EndMs       int64     `json:"end_ms"`
	HasCaption  bool      `json:"has_caption"`
	HasOverlay  bool      `json:"has_overlay"`
	State       string    `json:"state"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	OutputBytes int64     `json:"output_bytes"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)
