package summarizer

import (
	"fmt"
	"strings"

	"github.com/ideamans/go-l10n"
)

// MarkdownFormatter renders a Summary as a Markdown document.
type MarkdownFormatter struct {
	translate func(string) string
	version   string
}

// MarkdownOption configures a MarkdownFormatter.
type MarkdownOption func(*MarkdownFormatter)

// WithTranslator replaces the label translator (l10n.T by default).
func WithTranslator(translate func(string) string) MarkdownOption {
	return func(f *MarkdownFormatter) {
		f.translate = translate
	}
}

// WithVersion adds the program version to the footer.
func WithVersion(version string) MarkdownOption {
	return func(f *MarkdownFormatter) {
		f.version = version
	}
}

// NewMarkdownFormatter creates a new MarkdownFormatter.
func NewMarkdownFormatter(opts ...MarkdownOption) *MarkdownFormatter {
	f := &MarkdownFormatter{
		translate: l10n.T,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format implements the Formatter interface.
func (f *MarkdownFormatter) Format(s *Summary) string {
	t := f.translate
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", t("Transcode Summary"))
	fmt.Fprintf(&b, "%s: %s\n\n", t("Generated"), s.GeneratedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprintf(&b, "## %s\n\n", t("Results"))
	f.header(&b)
	status := t("Completed")
	if s.Results.Stopped {
		status = t("Stopped early")
	}
	row(&b, t("Status"), status)
	row(&b, t("Input"), s.Input.Name)
	if s.Input.Size > 0 {
		row(&b, t("Input Size"), formatBytes(s.Input.Size))
	}
	row(&b, t("Output"), s.Output.Filename)
	if s.Output.Location != "" {
		row(&b, t("Location"), s.Output.Location)
	}
	row(&b, t("Output Size"), formatBytes(s.Output.Bytes))
	row(&b, t("Upload Units"), fmt.Sprintf("%d", s.Output.Flushes))
	row(&b, t("Elapsed"), fmt.Sprintf("%d ms", s.Results.DurationMs))
	b.WriteString("\n")

	fmt.Fprintf(&b, "## %s\n\n", t("Settings"))
	f.header(&b)
	if s.Settings.Preset != "" {
		row(&b, t("Preset"), s.Settings.Preset)
	}
	row(&b, t("Codec"), s.Settings.Codec)
	row(&b, t("Resolution"), fmt.Sprintf("%dx%d", s.Settings.Width, s.Settings.Height))
	row(&b, t("Bitrate"), formatBitrate(s.Settings.Bitrate))
	row(&b, t("Framerate"), fmt.Sprintf("%g fps", s.Settings.Framerate))
	if s.Settings.HardwareAcceleration != "" {
		row(&b, t("Hardware Acceleration"), s.Settings.HardwareAcceleration)
	}
	if s.Settings.RemuxPolicy != "" {
		row(&b, t("Remux Policy"), s.Settings.RemuxPolicy)
	}
	if s.Settings.Target != "" {
		row(&b, t("Upload Target"), s.Settings.Target)
	}
	row(&b, t("Upload Threshold"), formatBytes(s.Settings.Threshold))
	b.WriteString("\n")

	fmt.Fprintf(&b, "## %s\n\n", t("Pipeline Details"))
	f.header(&b)
	row(&b, t("Samples"), fmt.Sprintf("%d", s.Results.Samples))
	row(&b, t("Frames Decoded"), fmt.Sprintf("%d", s.Results.FramesDecoded))
	row(&b, t("Frames Encoded"), fmt.Sprintf("%d", s.Results.FramesEncoded))
	row(&b, t("Chunks"), fmt.Sprintf("%d", s.Results.Chunks))
	if s.Results.FramesRendered > 0 || s.Results.RenderDrops > 0 {
		row(&b, t("Frames Rendered"), fmt.Sprintf("%d", s.Results.FramesRendered))
		row(&b, t("Frames Dropped"), fmt.Sprintf("%d", s.Results.RenderDrops))
	}
	row(&b, t("Segments"), fmt.Sprintf("%d", s.Results.Segments))
	row(&b, t("Containers"), fmt.Sprintf("%d", s.Results.Containers))
	b.WriteString("\n")

	b.WriteString("---\n\n")
	if f.version != "" {
		fmt.Fprintf(&b, "%s webmshrink %s\n", t("Generated by"), f.version)
	} else {
		fmt.Fprintf(&b, "%s webmshrink\n", t("Generated by"))
	}

	return b.String()
}

func (f *MarkdownFormatter) header(b *strings.Builder) {
	fmt.Fprintf(b, "| %s | %s |\n", f.translate("Item"), f.translate("Value"))
	b.WriteString("|------|------|\n")
}

func row(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "| %s | %s |\n", label, value)
}

// formatBytes formats a byte count with binary units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMG"[exp])
}

func formatBitrate(bps int) string {
	switch {
	case bps >= 1_000_000:
		return fmt.Sprintf("%.1f Mbps", float64(bps)/1e6)
	case bps >= 1_000:
		return fmt.Sprintf("%d kbps", bps/1000)
	}
	return fmt.Sprintf("%d bps", bps)
}
