package clip

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// maxTimestampSeconds bounds parsed timestamps well below Duration overflow.
const maxTimestampSeconds = 1e7

// MissingParamsMessage is returned verbatim when a required field is absent.
const MissingParamsMessage = "Missing required parameters: videoUrl, start, end"

// ValidationError rejects a request before any stage runs.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Request is an accepted, immutable clip job.
type Request struct {
	SourceURL string
	Start     time.Duration
	End       time.Duration
	Caption   string // raw caption text; sanitized when the cue is written
}

// Input carries the raw request fields as received.
type Input struct {
	VideoURL  string
	Start     string
	End       string
	Subtitles string
}

// NewRequest parses and validates raw input.
func NewRequest(in Input) (Request, error) {
	sourceURL := strings.TrimSpace(in.VideoURL)
	rawStart := strings.TrimSpace(in.Start)
	rawEnd := strings.TrimSpace(in.End)

	if sourceURL == "" || rawStart == "" || rawEnd == "" {
		return Request{}, &ValidationError{Message: MissingParamsMessage}
	}

	start, err := ParseTimestamp(rawStart)
	if err != nil {
		return Request{}, &ValidationError{Message: fmt.Sprintf("invalid start: %v", err)}
	}
	end, err := ParseTimestamp(rawEnd)
	if err != nil {
		return Request{}, &ValidationError{Message: fmt.Sprintf("invalid end: %v", err)}
	}

	req := Request{
		SourceURL: sourceURL,
		Start:     start,
		End:       end,
		Caption:   in.Subtitles,
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks the request invariants.
func (r Request) Validate() error {
	if r.SourceURL == "" {
		return &ValidationError{Message: MissingParamsMessage}
	}
	if r.Start < 0 || r.End < 0 {
		return &ValidationError{Message: "start and end must not be negative"}
	}
	if r.End <= r.Start {
		return &ValidationError{Message: "end must be after start"}
	}
	return nil
}

// Duration is the length of the requested range.
func (r Request) Duration() time.Duration {
	return r.End - r.Start
}

// HasCaption reports whether a cue will be burned in.
func (r Request) HasCaption() bool {
	return SanitizeCaption(r.Caption) != ""
}

// ParseTimestamp accepts raw seconds ("30", "12.5"), MM:SS or HH:MM:SS with
// optional fractional seconds. The result is rounded to milliseconds.
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty timestamp")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("expected HH:MM:SS, MM:SS, or seconds, got %q", s)
	}

	secs, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("expected HH:MM:SS, MM:SS, or seconds, got %q", s)
	}
	if len(parts) > 1 && (secs < 0 || secs >= 60) {
		return 0, fmt.Errorf("seconds out of range in %q", s)
	}

	total := secs
	multiplier := 60.0
	for i := len(parts) - 2; i >= 0; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("expected HH:MM:SS, MM:SS, or seconds, got %q", s)
		}
		if i == len(parts)-2 && len(parts) == 3 && n >= 60 {
			return 0, fmt.Errorf("minutes out of range in %q", s)
		}
		total += float64(n) * multiplier
		multiplier *= 60
	}

	if total < 0 {
		return 0, fmt.Errorf("timestamp %q is negative", s)
	}
	if total > maxTimestampSeconds {
		return 0, fmt.Errorf("timestamp %q is too large", s)
	}

	ms := math.Round(total * 1000)
	return time.Duration(ms) * time.Millisecond, nil
}

// FormatTimestamp renders d as seconds with millisecond precision, which is
// what the transcoder's -ss/-to options expect.
func FormatTimestamp(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
