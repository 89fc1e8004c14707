// Package delivery hands a finished clip to its consumer: an HTTP response
// for the service, or a local file for the render command.
package delivery

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

const (
	ContentType       = "video/mp4"
	AttachmentName    = "tiktok_clip.mp4"
	HeaderClipID      = "X-Clip-ID"
	headerDisposition = "Content-Disposition"
)

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{logger: logger}
}

// ServeAttachment streams the file at path as a download. It reports whether
// the status line was written; once it was, a later error can only be
// logged, and the caller must not write an error body.
func (s *Server) ServeAttachment(w http.ResponseWriter, path, filename, clipID string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open clip: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat clip: %w", err)
	}

	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set(headerDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	h.Set("Content-Length", strconv.FormatInt(stat.Size(), 10))
	if clipID != "" {
		h.Set(HeaderClipID, clipID)
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, file)
	if err != nil {
		s.logger.Warn("clip transfer interrupted", "clip_id", clipID, "written", n, "size", stat.Size(), "error", err)
		return true, fmt.Errorf("failed to stream clip: %w", err)
	}
	return true, nil
}

// SaveAs copies the file at src to dst, creating dst's directory. dst is
// written through a temporary sibling and renamed so a partial copy never
// takes its name.
func SaveAs(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open clip: %w", err)
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to write output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("failed to move output file: %w", err)
	}
	return n, nil
}
