// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"image/color"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/user/webmshrink/pkg/orchestrator"
	"github.com/user/webmshrink/pkg/ports"
	"github.com/user/webmshrink/pkg/stages/remux"
)

// Config represents the full configuration for webmshrink.
type Config struct {
	// Preset selects a resolution preset; size flags win over it.
	Preset string `yaml:"preset"`

	Encoder  EncoderConfig  `yaml:"encoder"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Render   RenderConfig   `yaml:"render"`
	Upload   UploadConfig   `yaml:"upload"`

	// Tools
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Observability
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Debug
	Debug    bool   `yaml:"debug"`
	DebugDir string `yaml:"debug_dir"`
}

// EncoderConfig represents the output encoding settings.
type EncoderConfig struct {
	Codec                string  `yaml:"codec"`
	Width                int     `yaml:"width"`
	Height               int     `yaml:"height"`
	Bitrate              int     `yaml:"bitrate"`
	Framerate            float64 `yaml:"framerate"`
	HardwareAcceleration string  `yaml:"hardware_acceleration"`
	Label                string  `yaml:"label"`
}

// PipelineConfig represents stage wiring settings.
type PipelineConfig struct {
	ChannelCapacity int    `yaml:"channel_capacity"`
	ReorderDepth    int    `yaml:"reorder_depth"`
	RemuxPolicy     string `yaml:"remux_policy"`
}

// RenderConfig represents the preview renderer settings.
type RenderConfig struct {
	Enabled   bool `yaml:"enabled"`
	QueueSize int  `yaml:"queue_size"`
	// Every saves one snapshot per this many rendered frames.
	Every int `yaml:"every"`

	BackgroundColor string `yaml:"background_color"`
	TextColor       string `yaml:"text_color"`
}

// UploadConfig represents the upload target settings.
type UploadConfig struct {
	// Target is "file" or "swift".
	Target    string `yaml:"target"`
	Threshold int64  `yaml:"threshold"`

	// file target
	Dir   string `yaml:"dir"`
	Parts bool   `yaml:"parts"`

	Swift SwiftConfig `yaml:"swift"`
}

// SwiftConfig represents OpenStack Swift credentials.
type SwiftConfig struct {
	AuthURL     string `yaml:"auth_url"`
	UserName    string `yaml:"user"`
	APIKey      string `yaml:"key"`
	Tenant      string `yaml:"tenant"`
	Domain      string `yaml:"domain"`
	Region      string `yaml:"region"`
	AuthVersion int    `yaml:"auth_version"`
	Container   string `yaml:"container"`
}

// Upload targets.
const (
	TargetFile  = "file"
	TargetSwift = "swift"
)

// Preset is a named output resolution.
type Preset struct {
	Width  int
	Height int
	Label  string
}

// Presets lists the resolution presets by name.
var Presets = map[string]Preset{
	"144p": {Width: 256, Height: 144, Label: "144p"},
	"qvga": {Width: 320, Height: 240},
	"vga":  {Width: 640, Height: 480},
	"hd":   {Width: 1280, Height: 720},
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		Encoder: EncoderConfig{
			Codec:                "vp09.00.10.08",
			Width:                320,
			Height:               240,
			Bitrate:              10_000_000,
			Framerate:            30,
			HardwareAcceleration: string(ports.SoftwarePreferred),
		},
		Pipeline: PipelineConfig{
			ChannelCapacity: 8,
			ReorderDepth:    4,
			RemuxPolicy:     string(remux.PolicyRestart),
		},
		Render: RenderConfig{
			QueueSize:       16,
			Every:           30,
			BackgroundColor: "#000000",
			TextColor:       "#ffffff",
		},
		Upload: UploadConfig{
			Target:    TargetFile,
			Threshold: 10_000_000,
			Dir:       ".",
		},
		LogLevel: "info",
		DebugDir: "./debug",
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ApplyPreset sets the output size and label from a named preset.
func (c *Config) ApplyPreset(name string) error {
	p, ok := Presets[name]
	if !ok {
		return fmt.Errorf("unknown preset: %s", name)
	}
	c.Preset = name
	c.Encoder.Width = p.Width
	c.Encoder.Height = p.Height
	c.Encoder.Label = p.Label
	return nil
}

// Validate checks the configuration for values no job could run with.
func (c Config) Validate() error {
	e := c.Encoder
	if e.Codec == "" {
		return fmt.Errorf("encoder.codec is required")
	}
	if e.Width <= 0 || e.Height <= 0 {
		return fmt.Errorf("invalid output size %dx%d", e.Width, e.Height)
	}
	if e.Width%2 != 0 || e.Height%2 != 0 {
		return fmt.Errorf("output size %dx%d must be even", e.Width, e.Height)
	}
	if e.Bitrate <= 0 {
		return fmt.Errorf("invalid bitrate: %d", e.Bitrate)
	}
	if e.Framerate <= 0 {
		return fmt.Errorf("invalid framerate: %v", e.Framerate)
	}
	switch ports.HardwareAcceleration(e.HardwareAcceleration) {
	case ports.HardwareNoPreference, ports.HardwarePreferred, ports.SoftwarePreferred:
	default:
		return fmt.Errorf("invalid hardware_acceleration: %s", e.HardwareAcceleration)
	}

	if c.Pipeline.ChannelCapacity < 1 {
		return fmt.Errorf("pipeline.channel_capacity must be at least 1")
	}
	if c.Pipeline.ReorderDepth < 0 {
		return fmt.Errorf("pipeline.reorder_depth must not be negative")
	}
	if _, err := remux.ParsePolicy(c.Pipeline.RemuxPolicy); err != nil {
		return err
	}

	if c.Upload.Threshold <= 0 {
		return fmt.Errorf("upload.threshold must be positive")
	}
	switch c.Upload.Target {
	case TargetFile:
	case TargetSwift:
		if c.Upload.Swift.AuthURL == "" || c.Upload.Swift.Container == "" {
			return fmt.Errorf("upload.swift needs auth_url and container")
		}
	default:
		return fmt.Errorf("unknown upload target: %s", c.Upload.Target)
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error", "quiet":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	return nil
}

// ToOrchestratorConfig converts Config to orchestrator.Config.
func (c Config) ToOrchestratorConfig() orchestrator.Config {
	policy, _ := remux.ParsePolicy(c.Pipeline.RemuxPolicy)
	return orchestrator.Config{
		Codec:                c.Encoder.Codec,
		Width:                c.Encoder.Width,
		Height:               c.Encoder.Height,
		Bitrate:              c.Encoder.Bitrate,
		Framerate:            c.Encoder.Framerate,
		HardwareAcceleration: ports.HardwareAcceleration(c.Encoder.HardwareAcceleration),

		Label: c.Encoder.Label,

		ChannelCapacity: c.Pipeline.ChannelCapacity,
		ReorderDepth:    c.Pipeline.ReorderDepth,
		RemuxPolicy:     policy,

		RenderQueue: c.Render.QueueSize,

		UploadThreshold: c.Upload.Threshold,
	}
}

// ParseColor parses a hex color string to color.Color.
func ParseColor(hex string) color.Color {
	if len(hex) == 0 {
		return color.Black
	}

	if hex[0] == '#' {
		hex = hex[1:]
	}

	if len(hex) != 6 {
		return color.Black
	}

	return color.RGBA{
		R: hexValue(hex[0])<<4 | hexValue(hex[1]),
		G: hexValue(hex[2])<<4 | hexValue(hex[3]),
		B: hexValue(hex[4])<<4 | hexValue(hex[5]),
		A: 255,
	}
}

func hexValue(c byte) uint8 {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}
