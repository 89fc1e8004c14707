// Package assets loads the optional, process-wide inputs of the clip pipeline:
// the overlay logo and the cookie bundle handed to the fetcher. Both are
// resolved once at startup; a nil value means the feature is off.
package assets

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrNotFound is returned when a configured asset path does not exist.
var ErrNotFound = errors.New("asset not found")

// Overlay is a validated, read-only logo image.
type Overlay struct {
	Path   string // absolute
	Format string
	Width  int
	Height int
}

// LoadOverlay validates the image at path. An empty path returns (nil, nil).
func LoadOverlay(path string) (*Overlay, error) {
	if path == "" {
		return nil, nil
	}

	abs, err := absRegular(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open overlay: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("overlay %s is not a decodable image: %w", filepath.Base(abs), err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("overlay %s has zero dimensions", filepath.Base(abs))
	}

	return &Overlay{Path: abs, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Credentials is an opaque cookie bundle passed to the fetcher.
type Credentials struct {
	Path string // absolute
}

// LoadCredentials checks the cookie file at path. An empty path returns (nil, nil).
func LoadCredentials(path string) (*Credentials, error) {
	if path == "" {
		return nil, nil
	}

	abs, err := absRegular(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("cookie file %s is empty", filepath.Base(abs))
	}

	return &Credentials{Path: abs}, nil
}

func absRegular(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, abs)
		}
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", abs)
	}
	return abs, nil
}
