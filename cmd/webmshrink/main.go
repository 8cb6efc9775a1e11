// Package main provides the CLI entry point for webmshrink.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/ideamans/go-l10n"

	"github.com/user/webmshrink/pkg/adapters/ffmpegcodec"
	"github.com/user/webmshrink/pkg/adapters/filesink"
	"github.com/user/webmshrink/pkg/adapters/fileupload"
	"github.com/user/webmshrink/pkg/adapters/ggrenderer"
	"github.com/user/webmshrink/pkg/adapters/logger"
	"github.com/user/webmshrink/pkg/adapters/mp4demuxer"
	"github.com/user/webmshrink/pkg/adapters/nullsink"
	"github.com/user/webmshrink/pkg/adapters/osfilesystem"
	"github.com/user/webmshrink/pkg/adapters/swiftupload"
	"github.com/user/webmshrink/pkg/adapters/webmmuxer"
	"github.com/user/webmshrink/pkg/config"
	"github.com/user/webmshrink/pkg/metrics"
	"github.com/user/webmshrink/pkg/orchestrator"
	"github.com/user/webmshrink/pkg/ports"
	"github.com/user/webmshrink/pkg/summarizer"
)

// CLI defines the command-line interface with subcommands.
type CLI struct {
	Transcode TranscodeCmd `cmd:"" help:"Transcode an MP4 file to WebM and upload it."`
	Presets   PresetsCmd   `cmd:"" help:"List the resolution presets."`
	Version   VersionCmd   `cmd:"" help:"Show version information."`
}

// TranscodeCmd defines the transcode subcommand.
type TranscodeCmd struct {
	// Required arguments
	Input string `arg:"" type:"existingfile" help:"Input MP4 file."`

	// Configuration
	Config string  `short:"c" type:"existingfile" help:"YAML configuration file."`
	Preset *string `short:"p" help:"Resolution preset (144p, qvga, vga, hd)."`

	// Encoding options (override config and preset)
	Codec     *string  `help:"Output codec string (e.g., vp8, vp09.00.10.08, av01.0.04M.08)."`
	Width     *int     `short:"W" help:"Output video width."`
	Height    *int     `short:"H" help:"Output video height."`
	Bitrate   *int     `short:"b" help:"Target bitrate in bits per second."`
	Framerate *float64 `help:"Output frame rate."`
	HW        *string  `name:"hw" help:"Hardware acceleration (no-preference, prefer-hardware, prefer-software)."`
	Label     *string  `help:"Output name label (default: <height>p)."`

	// Pipeline options
	RemuxPolicy *string `help:"What to do when the output format changes (restart, reject)."`
	FFmpegPath  string  `help:"Path to ffmpeg executable (falls back to FFMPEG_PATH env, then PATH)."`

	// Upload options
	Target    *string `short:"t" help:"Upload target (file, swift)."`
	Threshold *int64  `help:"Upload unit threshold in bytes."`
	OutDir    *string `short:"o" help:"Output directory for the file target."`
	Parts     bool    `help:"Keep each upload unit as a separate part file."`
	SwiftKey  string  `env:"SWIFT_API_KEY" help:"Swift API key (overrides the config file)."`

	// Preview
	Render bool `short:"r" help:"Render a preview of the encoded output."`

	// Observability
	MetricsAddr *string `help:"Serve Prometheus metrics on this address (e.g., :9090)."`
	Summary     string  `short:"s" help:"Write a Markdown summary to this path (- for stdout)."`

	// Debug options
	Debug    bool    `short:"d" help:"Enable debug output."`
	DebugDir *string `help:"Directory for debug output."`

	// Logging options
	LogLevel *string `short:"l" help:"Log level (debug, info, warn, error)."`
	Quiet    bool    `short:"Q" help:"Suppress all log output."`
}

// PresetsCmd lists the resolution presets.
type PresetsCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}

var version = "dev"

func main() {
	cli := CLI{}

	ctx := kong.Parse(&cli,
		kong.Name("webmshrink"),
		kong.Description("Transcode MP4 video to WebM with chunked upload."),
		kong.UsageOnError(),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

// Run executes the transcode command.
func (cmd *TranscodeCmd) Run() error {
	cfg, err := cmd.buildConfig()
	if err != nil {
		return err
	}

	// Create logger
	var log ports.Logger
	if cmd.Quiet {
		log = logger.NewNoop()
	} else {
		log = logger.NewConsole(ports.ParseLogLevel(cfg.LogLevel))
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create adapters
	fs := osfilesystem.New()

	var sink ports.DebugSink
	if cfg.Debug {
		if err := fs.MkdirAll(cfg.DebugDir); err != nil {
			return fmt.Errorf("create debug directory: %w", err)
		}
		sink = filesink.New(cfg.DebugDir, fs)
	} else {
		sink = nullsink.New()
	}

	codecs, err := ffmpegcodec.NewFactory(ffmpegcodec.Options{
		FFmpegPath:           cfg.FFmpegPath,
		HardwareAcceleration: ports.HardwareAcceleration(cfg.Encoder.HardwareAcceleration),
	})
	if err != nil {
		return err
	}

	transport, location, err := newTransport(cfg, fs)
	if err != nil {
		return err
	}

	var renderer ports.FrameRenderer
	if cfg.Render.Enabled {
		surface, err := ggrenderer.New(ggrenderer.Options{
			Width:      cfg.Encoder.Width,
			Height:     cfg.Encoder.Height,
			Background: config.ParseColor(cfg.Render.BackgroundColor),
			TextColor:  config.ParseColor(cfg.Render.TextColor),
			Every:      cfg.Render.Every,
		}, sink)
		if err != nil {
			return err
		}
		renderer = surface
	}

	orch := orchestrator.New(
		mp4demuxer.New(),
		codecs,
		webmmuxer.New(),
		transport,
		sink,
		log,
	)

	// The first signal drains the pipeline, the second aborts it.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		log.Warn("Interrupted, stopping gracefully...")
		orch.Stop()

		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		log.Warn("Interrupted again, aborting")
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		log.Info("Serving metrics on %s", cfg.MetricsAddr)
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Warn("Metrics server stopped: %v", err)
			}
		}()
	}

	input, err := fs.Open(cmd.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer input.Close()

	size, err := inputSize(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	done, err := orch.Run(ctx, orchestrator.Job{
		Input:    input,
		Name:     filepath.Base(cmd.Input),
		Renderer: renderer,
		Config:   cfg.ToOrchestratorConfig(),
	})
	if err != nil {
		return err
	}

	if cmd.Summary == "" {
		return nil
	}

	summary := summarizer.NewBuilder().
		WithInput(filepath.Base(cmd.Input), size).
		WithSettings(summarizer.Settings{
			Preset:               cfg.Preset,
			Codec:                cfg.Encoder.Codec,
			Width:                cfg.Encoder.Width,
			Height:               cfg.Encoder.Height,
			Bitrate:              cfg.Encoder.Bitrate,
			Framerate:            cfg.Encoder.Framerate,
			HardwareAcceleration: cfg.Encoder.HardwareAcceleration,
			RemuxPolicy:          cfg.Pipeline.RemuxPolicy,
			Target:               cfg.Upload.Target,
			Threshold:            cfg.Upload.Threshold,
		}).
		WithLocation(location).
		WithDone(done).
		Build()

	formatter := summarizer.NewMarkdownFormatter(summarizer.WithVersion(version))
	if cmd.Summary == "-" {
		fmt.Print(formatter.Format(summary))
		return nil
	}
	if err := summarizer.NewWriter(formatter, fs).Write(cmd.Summary, summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	log.Info("Summary written to %s", cmd.Summary)
	return nil
}

// buildConfig creates a Config from the config file, the preset and CLI
// overrides, in that order.
func (cmd *TranscodeCmd) buildConfig() (config.Config, error) {
	cfg := config.Defaults()
	if cmd.Config != "" {
		var err error
		cfg, err = config.LoadFromFile(cmd.Config)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}

	preset := cfg.Preset
	if cmd.Preset != nil {
		preset = *cmd.Preset
	}
	if preset != "" {
		if err := cfg.ApplyPreset(preset); err != nil {
			return cfg, err
		}
	}

	// Encoding overrides
	if cmd.Codec != nil {
		cfg.Encoder.Codec = *cmd.Codec
	}
	if cmd.Width != nil {
		cfg.Encoder.Width = *cmd.Width
	}
	if cmd.Height != nil {
		cfg.Encoder.Height = *cmd.Height
	}
	if cmd.Bitrate != nil {
		cfg.Encoder.Bitrate = *cmd.Bitrate
	}
	if cmd.Framerate != nil {
		cfg.Encoder.Framerate = *cmd.Framerate
	}
	if cmd.HW != nil {
		cfg.Encoder.HardwareAcceleration = *cmd.HW
	}
	if cmd.Label != nil {
		cfg.Encoder.Label = *cmd.Label
	}

	// Pipeline overrides
	if cmd.RemuxPolicy != nil {
		cfg.Pipeline.RemuxPolicy = *cmd.RemuxPolicy
	}
	if cmd.FFmpegPath != "" {
		cfg.FFmpegPath = cmd.FFmpegPath
	}

	// Upload overrides
	if cmd.Target != nil {
		cfg.Upload.Target = *cmd.Target
	}
	if cmd.Threshold != nil {
		cfg.Upload.Threshold = *cmd.Threshold
	}
	if cmd.OutDir != nil {
		cfg.Upload.Dir = *cmd.OutDir
	}
	if cmd.Parts {
		cfg.Upload.Parts = true
	}
	if cmd.SwiftKey != "" {
		cfg.Upload.Swift.APIKey = cmd.SwiftKey
	}

	if cmd.Render {
		cfg.Render.Enabled = true
	}
	if cmd.MetricsAddr != nil {
		cfg.MetricsAddr = *cmd.MetricsAddr
	}
	if cmd.Debug {
		cfg.Debug = true
	}
	if cmd.DebugDir != nil {
		cfg.DebugDir = *cmd.DebugDir
	}
	if cmd.LogLevel != nil {
		cfg.LogLevel = *cmd.LogLevel
	}

	return cfg, cfg.Validate()
}

// newTransport builds the upload transport for the configured target and
// describes where it stores the output.
func newTransport(cfg config.Config, fs ports.FileSystem) (ports.UploadTransport, string, error) {
	switch cfg.Upload.Target {
	case config.TargetSwift:
		s := cfg.Upload.Swift
		conn, err := swiftupload.Authenticate(swiftupload.Credentials{
			UserName:    s.UserName,
			APIKey:      s.APIKey,
			AuthURL:     s.AuthURL,
			Domain:      s.Domain,
			Tenant:      s.Tenant,
			Region:      s.Region,
			AuthVersion: s.AuthVersion,
		})
		if err != nil {
			return nil, "", err
		}
		return swiftupload.New(conn, s.Container), "swift:" + s.Container, nil
	default:
		if err := fs.MkdirAll(cfg.Upload.Dir); err != nil {
			return nil, "", fmt.Errorf("create output directory: %w", err)
		}
		return fileupload.New(cfg.Upload.Dir, fs, cfg.Upload.Parts), cfg.Upload.Dir, nil
	}
}

// inputSize returns the size of a seekable input and rewinds it.
func inputSize(r io.Seeker) (int64, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

// Run executes the presets command.
func (cmd *PresetsCmd) Run() error {
	for _, name := range config.PresetNames() {
		p := config.Presets[name]
		fmt.Printf("%-6s %dx%d\n", name, p.Width, p.Height)
	}
	return nil
}

// Run executes the version command.
func (cmd *VersionCmd) Run() error {
	fmt.Println(l10n.F("webmshrink version %s", version))
	return nil
}
