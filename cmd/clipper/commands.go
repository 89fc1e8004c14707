package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-clipper/internal/api"
	"github.com/heimdex/heimdex-clipper/internal/clip"
	"github.com/heimdex/heimdex-clipper/internal/config"
	"github.com/heimdex/heimdex-clipper/internal/delivery"
	"github.com/heimdex/heimdex-clipper/internal/logging"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "clipper",
	Short: "Render vertical short-form clips from online videos",
	Long: `clipper cuts a time range out of a remote video, letterboxes it onto a
portrait canvas with an optional logo, burns in an optional caption and
returns the result as an MP4.

Running clipper without a subcommand starts the HTTP service.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	RunE:  runServe,
}

var renderFlags struct {
	url       string
	start     string
	end       string
	subtitles string
	out       string
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render one clip to a local file",
	Example: `  clipper render --url https://www.youtube.com/watch?v=abc --start 1:05 --end 1:20 --out clip.mp4
  clipper render --url https://cdn.example.com/a.mp4 --start 0 --end 12.5 --subtitles "Wait for it" --out clip.mp4`,
	RunE: runRender,
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check ffmpeg, ffprobe and yt-dlp",
	RunE:  runDoctor,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "clipper version %s (commit %s, built %s)\n",
			config.Version, config.GitCommit, config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $"+config.EnvConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	renderCmd.Flags().StringVar(&renderFlags.url, "url", "", "source video URL")
	renderCmd.Flags().StringVar(&renderFlags.start, "start", "", "clip start (seconds, MM:SS or HH:MM:SS)")
	renderCmd.Flags().StringVar(&renderFlags.end, "end", "", "clip end (seconds, MM:SS or HH:MM:SS)")
	renderCmd.Flags().StringVar(&renderFlags.subtitles, "subtitles", "", "caption text to burn in")
	renderCmd.Flags().StringVarP(&renderFlags.out, "out", "o", "clip.mp4", "output file")
	renderCmd.MarkFlagRequired("url")
	renderCmd.MarkFlagRequired("start")
	renderCmd.MarkFlagRequired("end")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := ensureDirs(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func level(cfg config.Config) string {
	if logLevel != "" {
		return logLevel
	}
	return cfg.LogLevel()
}

func runServe(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.NewLogger(level(cfg))
	logger.Info("starting clipper", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	apiServer := api.NewServer(api.ServerConfig{
		Host:           cfg.Host(),
		Port:           cfg.Port(),
		Renderer:       a.orch,
		Delivery:       delivery.NewServer(logger),
		History:        a.history,
		Doctor:         a.doctor,
		ScratchDir:     cfg.ScratchDir(),
		Space:          clip.DiskSpace{},
		HasCredentials: a.credentials != nil,
		APIToken:       cfg.APIToken(),
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.NewLogger(level(cfg))

	req, err := clip.NewRequest(clip.Input{
		VideoURL:  renderFlags.url,
		Start:     renderFlags.start,
		End:       renderFlags.end,
		Subtitles: renderFlags.subtitles,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var written int64
	err = a.orch.Run(ctx, req, func(ctx context.Context, clipID string, final clip.Artifact) error {
		n, err := delivery.SaveAs(final.Path, renderFlags.out)
		written = n
		return err
	})
	if err != nil {
		var se *clip.StageError
		if errors.As(err, &se) && se.Diagnostic() != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), se.Diagnostic())
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", renderFlags.out, humanize.Bytes(uint64(written)))
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.NewLogger(level(cfg))

	tools := resolveToolchain(cfg, logger)
	caps, err := tools.doctor(cfg, logger).RunDoctor(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(caps); err != nil {
		return err
	}
	if !caps.CanRender() {
		return errors.New("toolchain incomplete: ffmpeg and yt-dlp are required")
	}
	return nil
}
