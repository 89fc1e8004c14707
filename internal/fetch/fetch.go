// Package fetch materializes a remote source video into a local file.
// Page URLs go through yt-dlp; direct links to media files are downloaded
// over HTTP. Failures are classified as unavailable or restricted.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/heimdex/heimdex-clipper/internal/assets"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/transcode"
)

var (
	// ErrSourceUnavailable covers unreachable hosts, removed videos and network failures.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceRestricted means the source needs credentials that were missing or rejected.
	ErrSourceRestricted = errors.New("source requires authentication")
)

// Error is a classified fetch failure.
type Error struct {
	Kind   error // ErrSourceUnavailable or ErrSourceRestricted
	URL    string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Request names the source and where to put it.
type Request struct {
	URL         string
	Dir         string // destination directory (the request's working set)
	Filename    string
	Credentials *assets.Credentials // optional cookie bundle
}

// Fetcher resolves a URL into a local file path.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (string, error)
}

// Config holds the client's collaborators.
type Config struct {
	YtDLP      transcode.Runner // nil disables page URLs
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client is the production Fetcher.
type Client struct {
	ytdlp   transcode.Runner
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		ytdlp:   cfg.YtDLP,
		http:    hc,
		timeout: cfg.Timeout,
		logger:  logging.WithComponent(logger, "fetch"),
	}
}

// directExtensions are container formats downloaded without yt-dlp.
var directExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// Fetch downloads req.URL into req.Dir/req.Filename.
func (c *Client) Fetch(ctx context.Context, req Request) (string, error) {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &Error{Kind: ErrSourceUnavailable, URL: req.URL, Detail: "unsupported URL, expected http(s)"}
	}

	dest := filepath.Join(req.Dir, req.Filename)
	start := time.Now()

	if directExtensions[strings.ToLower(path.Ext(u.Path))] {
		err = c.download(ctx, req.URL, dest)
	} else {
		err = c.runYtDLP(ctx, req)
	}
	if err != nil {
		return "", err
	}

	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		return "", &Error{Kind: ErrSourceUnavailable, URL: req.URL, Detail: "fetcher produced no media file"}
	}

	c.logger.Info("source fetched",
		"url", logging.SanitizeURL(req.URL),
		"size", humanize.Bytes(uint64(info.Size())),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return dest, nil
}

func (c *Client) runYtDLP(ctx context.Context, req Request) error {
	if c.ytdlp == nil {
		return &Error{Kind: ErrSourceUnavailable, URL: req.URL, Detail: "yt-dlp is not installed"}
	}

	_, err := c.ytdlp.Run(ctx, Command(req, c.timeout))
	if err == nil {
		return nil
	}

	var cmdErr *transcode.CommandError
	detail := err.Error()
	if errors.As(err, &cmdErr) {
		detail = cmdErr.StderrTail
		if errors.Is(err, transcode.ErrTimeout) {
			return &Error{Kind: ErrSourceUnavailable, URL: req.URL, Detail: fmt.Sprintf("download timed out after %s", c.timeout)}
		}
	}
	return &Error{Kind: Classify(detail), URL: req.URL, Detail: lastErrorLine(detail)}
}

// Command builds the yt-dlp invocation for req.
func Command(req Request, timeout time.Duration) transcode.Command {
	var args []string
	if req.Credentials != nil {
		args = append(args, "--cookies", req.Credentials.Path)
	}
	args = append(args,
		"--no-playlist",
		"--no-progress",
		"-f", "mp4",
		"-o", req.Filename,
		"--", req.URL,
	)
	return transcode.Command{
		Args:    args,
		Dir:     req.Dir,
		Output:  req.Filename,
		Timeout: timeout,
	}
}

func (c *Client) download(ctx context.Context, rawURL, dest string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &Error{Kind: ErrSourceUnavailable, URL: rawURL, Detail: err.Error()}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &Error{Kind: ErrSourceUnavailable, URL: rawURL, Detail: fmt.Sprintf("http request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: classifyStatus(resp.StatusCode), URL: rawURL, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dest), err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return &Error{Kind: ErrSourceUnavailable, URL: rawURL, Detail: fmt.Sprintf("download interrupted: %v", err)}
	}
	return f.Close()
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrSourceRestricted
	default:
		return ErrSourceUnavailable
	}
}

// restrictedMarkers are yt-dlp diagnostics that mean "log in first".
var restrictedMarkers = []string{
	"sign in to confirm",
	"login required",
	"log in",
	"private video",
	"members-only",
	"available to this channel's members",
	"confirm your age",
	"age-restricted",
	"use --cookies",
	"http error 401",
	"http error 403",
}

// Classify maps yt-dlp stderr to ErrSourceRestricted or ErrSourceUnavailable.
func Classify(stderr string) error {
	lower := strings.ToLower(stderr)
	for _, m := range restrictedMarkers {
		if strings.Contains(lower, m) {
			return ErrSourceRestricted
		}
	}
	return ErrSourceUnavailable
}

// lastErrorLine keeps the last "ERROR:" line of yt-dlp output, which is the
// one that names the cause. Falls back to the full text.
func lastErrorLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "ERROR:") {
			return strings.TrimSpace(lines[i])
		}
	}
	return strings.TrimSpace(s)
}
