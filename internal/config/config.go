// Package config provides configuration management for the clipper service.
// Configuration starts from defaults, is overlaid by an optional YAML file and
// finally by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultHost     = "0.0.0.0"
	DefaultPort     = 8000
	DefaultLogLevel = "info"
	DefaultDataDir  = ".clipper"

	// Environment variable names
	EnvConfigFile    = "CLIPPER_CONFIG"
	EnvHost          = "CLIPPER_HOST"
	EnvPort          = "CLIPPER_PORT"
	EnvLogLevel      = "CLIPPER_LOG_LEVEL"
	EnvDataDir       = "CLIPPER_DATA_DIR"
	EnvScratchDir    = "CLIPPER_SCRATCH_DIR"
	EnvAPIToken      = "CLIPPER_API_TOKEN"
	EnvMaxConcurrent = "CLIPPER_MAX_CONCURRENT"
	EnvHistory       = "CLIPPER_HISTORY_ENABLED"

	// Binary and asset environment variable names
	EnvFFmpegPath  = "CLIPPER_FFMPEG_PATH"
	EnvFFprobePath = "CLIPPER_FFPROBE_PATH"
	EnvYtDLPPath   = "CLIPPER_YTDLP_PATH"
	EnvLogoPath    = "CLIPPER_LOGO_PATH"
	EnvCookiesPath = "CLIPPER_COOKIES_PATH"

	// Timeout environment variable names (seconds)
	EnvTimeoutFetch   = "CLIPPER_TIMEOUT_FETCH"
	EnvTimeoutTrim    = "CLIPPER_TIMEOUT_TRIM"
	EnvTimeoutCompose = "CLIPPER_TIMEOUT_COMPOSE"
	EnvTimeoutCaption = "CLIPPER_TIMEOUT_CAPTION"
	EnvTimeoutProbe   = "CLIPPER_TIMEOUT_PROBE"

	// Database filename
	DBFilename = "clipper.db"

	DefaultMaxConcurrent = 2
	DefaultMinFreeBytes  = 512 * 1024 * 1024

	// Timeout defaults in seconds
	DefaultTimeoutFetch   = 600
	DefaultTimeoutTrim    = 120
	DefaultTimeoutCompose = 900
	DefaultTimeoutCaption = 900
	DefaultTimeoutProbe   = 30

	// Render defaults
	DefaultCanvasWidth  = 1080
	DefaultCanvasHeight = 1920
	DefaultLogoFraction = 0.10
	DefaultLogoMargin   = 40
	DefaultVideoCodec   = "libx264"
	DefaultPreset       = "veryfast"
	DefaultCRF          = 23
	DefaultAudioBitrate = "192k"
	DefaultCaptionEnd   = 59
)

// Config defines the application configuration interface
type Config interface {
	Host() string
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ScratchDir() string
	APIToken() string
	MaxConcurrent() int
	MinFreeBytes() uint64
	HistoryEnabled() bool

	FFmpegPath() string
	FFprobePath() string
	YtDLPPath() string
	LogoPath() string
	CookiesPath() string

	TimeoutFetch() time.Duration
	TimeoutTrim() time.Duration
	TimeoutCompose() time.Duration
	TimeoutCaption() time.Duration
	TimeoutProbe() time.Duration

	CanvasWidth() int
	CanvasHeight() int
	LogoFraction() float64
	LogoMargin() int
	VideoCodec() string
	Preset() string
	CRF() int
	AudioBitrate() string
	CaptionEnd() time.Duration
}

// EnvConfig holds the resolved configuration
type EnvConfig struct {
	host          string
	port          int
	logLevel      string
	dataDir       string
	scratchDir    string
	apiToken      string
	maxConcurrent int
	minFreeBytes  uint64
	history       bool

	ffmpegPath  string
	ffprobePath string
	ytdlpPath   string
	logoPath    string
	cookiesPath string

	timeoutFetch   int
	timeoutTrim    int
	timeoutCompose int
	timeoutCaption int
	timeoutProbe   int

	canvasWidth  int
	canvasHeight int
	logoFraction float64
	logoMargin   int
	videoCodec   string
	preset       string
	crf          int
	audioBitrate string
	captionEnd   int
}

// fileConfig mirrors the YAML layout. Empty strings and nil pointers mean
// "not set"; an explicit 0 is applied and left to Validate.
type fileConfig struct {
	Host          string  `yaml:"host"`
	Port          *int    `yaml:"port"`
	LogLevel      string  `yaml:"log_level"`
	DataDir       string  `yaml:"data_dir"`
	ScratchDir    string  `yaml:"scratch_dir"`
	APIToken      string  `yaml:"api_token"`
	MaxConcurrent *int    `yaml:"max_concurrent_clips"`
	MinFreeBytes  *uint64 `yaml:"min_free_bytes"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	YtDLPPath   string `yaml:"ytdlp_path"`
	LogoPath    string `yaml:"logo_path"`
	CookiesPath string `yaml:"cookies_path"`

	Timeouts struct {
		Fetch   *int `yaml:"fetch"`
		Trim    *int `yaml:"trim"`
		Compose *int `yaml:"compose"`
		Caption *int `yaml:"caption"`
		Probe   *int `yaml:"probe"`
	} `yaml:"timeouts"`

	Render struct {
		Width        *int     `yaml:"width"`
		Height       *int     `yaml:"height"`
		LogoFraction *float64 `yaml:"logo_fraction"`
		LogoMargin   *int     `yaml:"logo_margin"`
		VideoCodec   string   `yaml:"video_codec"`
		Preset       string   `yaml:"preset"`
		CRF          *int     `yaml:"crf"`
		AudioBitrate string   `yaml:"audio_bitrate"`
		CaptionEnd   *int     `yaml:"caption_end"`
	} `yaml:"render"`

	History struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"history"`
}

// New creates a new EnvConfig with defaults and environment variable overrides.
// If CLIPPER_CONFIG names a YAML file it is applied before the environment.
func New() (*EnvConfig, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// Load creates an EnvConfig from defaults, the YAML file at path (optional,
// empty skips it) and environment variable overrides, in that order.
func Load(path string) (*EnvConfig, error) {
	cfg := defaults()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.scratchDir == "" {
		cfg.scratchDir = filepath.Join(cfg.dataDir, "scratch")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *EnvConfig {
	return &EnvConfig{
		host:           DefaultHost,
		port:           DefaultPort,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		maxConcurrent:  DefaultMaxConcurrent,
		minFreeBytes:   DefaultMinFreeBytes,
		history:        true,
		timeoutFetch:   DefaultTimeoutFetch,
		timeoutTrim:    DefaultTimeoutTrim,
		timeoutCompose: DefaultTimeoutCompose,
		timeoutCaption: DefaultTimeoutCaption,
		timeoutProbe:   DefaultTimeoutProbe,
		canvasWidth:    DefaultCanvasWidth,
		canvasHeight:   DefaultCanvasHeight,
		logoFraction:   DefaultLogoFraction,
		logoMargin:     DefaultLogoMargin,
		videoCodec:     DefaultVideoCodec,
		preset:         DefaultPreset,
		crf:            DefaultCRF,
		audioBitrate:   DefaultAudioBitrate,
		captionEnd:     DefaultCaptionEnd,
	}
}

func (c *EnvConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.host, fc.Host)
	setInt(&c.port, fc.Port)
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	setString(&c.scratchDir, fc.ScratchDir)
	setString(&c.apiToken, fc.APIToken)
	setInt(&c.maxConcurrent, fc.MaxConcurrent)
	if fc.MinFreeBytes != nil {
		c.minFreeBytes = *fc.MinFreeBytes
	}

	setString(&c.ffmpegPath, fc.FFmpegPath)
	setString(&c.ffprobePath, fc.FFprobePath)
	setString(&c.ytdlpPath, fc.YtDLPPath)
	setString(&c.logoPath, fc.LogoPath)
	setString(&c.cookiesPath, fc.CookiesPath)

	setInt(&c.timeoutFetch, fc.Timeouts.Fetch)
	setInt(&c.timeoutTrim, fc.Timeouts.Trim)
	setInt(&c.timeoutCompose, fc.Timeouts.Compose)
	setInt(&c.timeoutCaption, fc.Timeouts.Caption)
	setInt(&c.timeoutProbe, fc.Timeouts.Probe)

	setInt(&c.canvasWidth, fc.Render.Width)
	setInt(&c.canvasHeight, fc.Render.Height)
	if fc.Render.LogoFraction != nil {
		c.logoFraction = *fc.Render.LogoFraction
	}
	setInt(&c.logoMargin, fc.Render.LogoMargin)
	setString(&c.videoCodec, fc.Render.VideoCodec)
	setString(&c.preset, fc.Render.Preset)
	setInt(&c.crf, fc.Render.CRF)
	setString(&c.audioBitrate, fc.Render.AudioBitrate)
	setInt(&c.captionEnd, fc.Render.CaptionEnd)

	if fc.History.Enabled != nil {
		c.history = *fc.History.Enabled
	}

	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.host, os.Getenv(EnvHost))
	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.scratchDir, os.Getenv(EnvScratchDir))
	setString(&c.apiToken, os.Getenv(EnvAPIToken))

	setString(&c.ffmpegPath, os.Getenv(EnvFFmpegPath))
	setString(&c.ffprobePath, os.Getenv(EnvFFprobePath))
	setString(&c.ytdlpPath, os.Getenv(EnvYtDLPPath))
	setString(&c.logoPath, os.Getenv(EnvLogoPath))
	setString(&c.cookiesPath, os.Getenv(EnvCookiesPath))

	ints := []struct {
		env string
		dst *int
	}{
		{EnvMaxConcurrent, &c.maxConcurrent},
		{EnvTimeoutFetch, &c.timeoutFetch},
		{EnvTimeoutTrim, &c.timeoutTrim},
		{EnvTimeoutCompose, &c.timeoutCompose},
		{EnvTimeoutCaption, &c.timeoutCaption},
		{EnvTimeoutProbe, &c.timeoutProbe},
	}
	for _, item := range ints {
		v := os.Getenv(item.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", item.env, err)
		}
		*item.dst = n
	}

	if h := os.Getenv(EnvHistory); h != "" {
		enabled, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHistory, err)
		}
		c.history = enabled
	}

	return nil
}

// Validate checks ranges that would otherwise surface as confusing runtime failures.
func (c *EnvConfig) Validate() error {
	var problems []string

	if c.port < 1 || c.port > 65535 {
		problems = append(problems, "port must be between 1 and 65535")
	}
	if c.maxConcurrent < 1 {
		problems = append(problems, "max_concurrent_clips must be at least 1")
	}
	if c.canvasWidth <= 0 || c.canvasHeight <= 0 {
		problems = append(problems, "render width and height must be positive")
	}
	if c.canvasWidth%2 != 0 || c.canvasHeight%2 != 0 {
		problems = append(problems, "render width and height must be even")
	}
	if c.logoFraction <= 0 || c.logoFraction > 1 {
		problems = append(problems, "render.logo_fraction must be in (0, 1]")
	}
	if c.logoMargin < 0 {
		problems = append(problems, "render.logo_margin must not be negative")
	}
	if c.crf < 0 || c.crf > 51 {
		problems = append(problems, "render.crf must be between 0 and 51")
	}
	if c.captionEnd <= 0 {
		problems = append(problems, "render.caption_end must be positive")
	}
	for _, t := range []struct {
		name string
		v    int
	}{
		{"fetch", c.timeoutFetch},
		{"trim", c.timeoutTrim},
		{"compose", c.timeoutCompose},
		{"caption", c.timeoutCaption},
		{"probe", c.timeoutProbe},
	} {
		if t.v <= 0 {
			problems = append(problems, fmt.Sprintf("timeouts.%s must be positive", t.name))
		}
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Host returns the interface the HTTP server binds to
func (c *EnvConfig) Host() string {
	return c.host
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ScratchDir returns the root under which per-request working sets are created
func (c *EnvConfig) ScratchDir() string {
	return c.scratchDir
}

// APIToken returns the bearer token protecting the history routes; empty disables auth
func (c *EnvConfig) APIToken() string {
	return c.apiToken
}

func (c *EnvConfig) MaxConcurrent() int {
	return c.maxConcurrent
}

func (c *EnvConfig) MinFreeBytes() uint64 {
	return c.minFreeBytes
}

func (c *EnvConfig) HistoryEnabled() bool {
	return c.history
}

// FFmpegPath returns the configured ffmpeg binary; empty means PATH lookup
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) YtDLPPath() string {
	return c.ytdlpPath
}

// LogoPath returns the overlay image path; empty disables the overlay
func (c *EnvConfig) LogoPath() string {
	return c.logoPath
}

// CookiesPath returns the cookie bundle handed to the fetcher; empty means none
func (c *EnvConfig) CookiesPath() string {
	return c.cookiesPath
}

func (c *EnvConfig) TimeoutFetch() time.Duration {
	return time.Duration(c.timeoutFetch) * time.Second
}

func (c *EnvConfig) TimeoutTrim() time.Duration {
	return time.Duration(c.timeoutTrim) * time.Second
}

func (c *EnvConfig) TimeoutCompose() time.Duration {
	return time.Duration(c.timeoutCompose) * time.Second
}

func (c *EnvConfig) TimeoutCaption() time.Duration {
	return time.Duration(c.timeoutCaption) * time.Second
}

func (c *EnvConfig) TimeoutProbe() time.Duration {
	return time.Duration(c.timeoutProbe) * time.Second
}

func (c *EnvConfig) CanvasWidth() int {
	return c.canvasWidth
}

func (c *EnvConfig) CanvasHeight() int {
	return c.canvasHeight
}

func (c *EnvConfig) LogoFraction() float64 {
	return c.logoFraction
}

func (c *EnvConfig) LogoMargin() int {
	return c.logoMargin
}

func (c *EnvConfig) VideoCodec() string {
	return c.videoCodec
}

func (c *EnvConfig) Preset() string {
	return c.preset
}

func (c *EnvConfig) CRF() int {
	return c.crf
}

func (c *EnvConfig) AudioBitrate() string {
	return c.audioBitrate
}

// CaptionEnd returns how long the caption cue stays on screen
func (c *EnvConfig) CaptionEnd() time.Duration {
	return time.Duration(c.captionEnd) * time.Second
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
