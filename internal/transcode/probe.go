package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ProbeResult is the subset of ffprobe output used to verify rendered clips.
type ProbeResult struct {
	Duration   time.Duration
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Prober reads container metadata with ffprobe.
type Prober struct {
	runner  Runner
	timeout time.Duration
}

func NewProber(ffprobe Runner, timeout time.Duration) *Prober {
	return &Prober{runner: ffprobe, timeout: timeout}
}

// Probe returns duration and video geometry of the file at path.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	var out bytes.Buffer
	_, err := p.runner.Run(ctx, Command{
		Args: []string{
			"-v", "error",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			path,
		},
		Timeout: p.timeout,
		Stdout:  &out,
	})
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(out.Bytes())
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{}
	if raw.Format.Duration != "" {
		secs, err := strconv.ParseFloat(raw.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", raw.Format.Duration, err)
		}
		res.Duration = time.Duration(secs * float64(time.Second))
	}

	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if res.VideoCodec == "" {
				res.VideoCodec = s.CodecName
				res.Width = s.Width
				res.Height = s.Height
			}
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}

	return res, nil
}
