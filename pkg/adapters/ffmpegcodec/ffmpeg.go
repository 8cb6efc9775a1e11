// Package ffmpegcodec implements asynchronous video decoders and encoders on
// top of an external ffmpeg process. Compressed data goes in on stdin and
// raw RGBA frames (decoding) or IVF packets (encoding) come back on stdout.
package ffmpegcodec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	// ErrFFmpegNotFound is returned when ffmpeg is not found.
	ErrFFmpegNotFound = errors.New("ffmpegcodec: ffmpeg not found")

	// ErrNotConfigured is returned when a codec is used before Configure.
	ErrNotConfigured = errors.New("ffmpegcodec: codec not configured")

	// ErrClosed is returned when a codec is used after Close.
	ErrClosed = errors.New("ffmpegcodec: codec closed")
)

// FindFFmpeg searches for ffmpeg.
// Priority: 1) custom path, 2) FFMPEG_PATH env, 3) PATH, 4) common locations
func FindFFmpeg(custom string) (string, error) {
	if custom != "" {
		if _, err := os.Stat(custom); err == nil {
			return custom, nil
		}
		return "", fmt.Errorf("%w: custom path %s not found", ErrFFmpegNotFound, custom)
	}

	if envPath := os.Getenv("FFMPEG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
		return "", fmt.Errorf("%w: FFMPEG_PATH %s not found", ErrFFmpegNotFound, envPath)
	}

	execName := "ffmpeg"
	if runtime.GOOS == "windows" {
		execName = "ffmpeg.exe"
	}

	path, err := exec.LookPath(execName)
	if err == nil {
		return path, nil
	}

	var commonPaths []string
	switch runtime.GOOS {
	case "windows":
		commonPaths = []string{
			`C:\ffmpeg\bin\ffmpeg.exe`,
			`C:\Program Files\ffmpeg\bin\ffmpeg.exe`,
			`C:\Program Files (x86)\ffmpeg\bin\ffmpeg.exe`,
		}
	case "darwin":
		commonPaths = []string{
			"/opt/homebrew/bin/ffmpeg",
			"/usr/local/bin/ffmpeg",
			"/usr/bin/ffmpeg",
		}
	default:
		commonPaths = []string{
			"/usr/bin/ffmpeg",
			"/usr/local/bin/ffmpeg",
			"/opt/homebrew/bin/ffmpeg",
			"/snap/bin/ffmpeg",
		}
	}

	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", ErrFFmpegNotFound
}

// capabilities lists the codec implementations an ffmpeg binary offers.
type capabilities struct {
	encoders map[string]bool
	decoders map[string]bool
}

var (
	capsMu    sync.Mutex
	capsCache = map[string]*capabilities{}
)

// probe runs "ffmpeg -encoders" and "ffmpeg -decoders" once per binary.
func probe(ffmpegPath string) *capabilities {
	capsMu.Lock()
	defer capsMu.Unlock()

	if c, ok := capsCache[ffmpegPath]; ok {
		return c
	}
	c := &capabilities{
		encoders: listCodecs(ffmpegPath, "-encoders"),
		decoders: listCodecs(ffmpegPath, "-decoders"),
	}
	capsCache[ffmpegPath] = c
	return c
}

func listCodecs(ffmpegPath, flag string) map[string]bool {
	out, err := exec.Command(ffmpegPath, "-hide_banner", flag).Output()
	if err != nil {
		return map[string]bool{}
	}
	return parseCodecList(out)
}

// parseCodecList reads the listing printed by -encoders and -decoders:
// a legend, a " ------" separator, then one " FLAGS name  description"
// line per codec.
func parseCodecList(out []byte) map[string]bool {
	names := map[string]bool{}
	started := false
	for _, line := range strings.Split(string(bytes.TrimSpace(out)), "\n") {
		fields := strings.Fields(line)
		if !started {
			if len(fields) == 1 && strings.HasPrefix(fields[0], "---") {
				started = true
			}
			continue
		}
		if len(fields) >= 2 {
			names[fields[1]] = true
		}
	}
	return names
}

var (
	verifiedMu sync.Mutex
	verified   = map[string]bool{}
)

// verifyEncoder runs a five frame test encode through backend once per
// binary and remembers the outcome.
func verifyEncoder(ffmpegPath string, backend Backend) bool {
	verifiedMu.Lock()
	defer verifiedMu.Unlock()

	key := ffmpegPath + "\x00" + string(backend)
	if ok, seen := verified[key]; seen {
		return ok
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	input, output := hwSetup(backend)
	args := append([]string{"-hide_banner", "-loglevel", "error"}, input...)
	args = append(args, "-f", "lavfi", "-i", "testsrc=duration=0.2:size=320x240:rate=25")
	args = append(args, output...)
	args = append(args, "-c:v", string(backend), "-frames:v", "5", "-f", "null", "-")

	ok := exec.CommandContext(ctx, ffmpegPath, args...).Run() == nil
	verified[key] = ok
	return ok
}
