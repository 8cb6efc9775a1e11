package ffmpegcodec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/user/webmshrink/pkg/adapters/codecdetect"
	"github.com/user/webmshrink/pkg/ports"
)

// Encoder implements ports.VideoEncoder with an ffmpeg process that reads
// raw RGBA frames on stdin and writes IVF on stdout.
type Encoder struct {
	ffmpegPath string

	mu      sync.Mutex
	cfg     ports.EncoderConfig
	family  codecdetect.Codec
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  bytes.Buffer
	scratch *image.RGBA
	pending []frameTiming
	err     error
	flushed bool
	closed  bool
	started bool

	outputs  chan ports.EncodedOutput
	done     chan struct{}
	readDone chan struct{}
}

type frameTiming struct {
	ts  time.Duration
	dur time.Duration
}

// NewEncoder creates an encoder using the given ffmpeg binary.
func NewEncoder(ffmpegPath string) *Encoder {
	return &Encoder{
		ffmpegPath: ffmpegPath,
		outputs:    make(chan ports.EncodedOutput, 16),
		done:       make(chan struct{}),
		readDone:   make(chan struct{}),
	}
}

// IsConfigSupported reports whether the binary can encode cfg into WebM.
func (e *Encoder) IsConfigSupported(cfg ports.EncoderConfig) bool {
	if cfg.Width < 0 || cfg.Height < 0 || cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		return false
	}
	if cfg.Bitrate <= 0 || cfg.Framerate <= 0 {
		return false
	}
	_, ok := e.backend(cfg)
	return ok
}

func (e *Encoder) backend(cfg ports.EncoderConfig) (Backend, bool) {
	set, ok := encoderBackends[codecdetect.Family(cfg.Codec)]
	if !ok {
		return "", false
	}
	// Hardware encoders are listed even without a usable device, so they
	// have to pass a short test encode first.
	usable := func(b Backend) bool {
		return !set.isHardware(b) || verifyEncoder(e.ffmpegPath, b)
	}
	return selectBackend(probe(e.ffmpegPath).encoders, set, cfg.HardwareAcceleration, usable)
}

// Configure starts the ffmpeg process.
func (e *Encoder) Configure(cfg ports.EncoderConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.started {
		return fmt.Errorf("ffmpegcodec: encoder already configured")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("ffmpegcodec: invalid size %dx%d", cfg.Width, cfg.Height)
	}

	backend, ok := e.backend(cfg)
	if !ok {
		return fmt.Errorf("ffmpegcodec: no encoder for %s", cfg.Codec)
	}
	e.cfg = cfg
	e.family = codecdetect.Family(cfg.Codec)

	args := encoderArgs(cfg, backend)

	e.cmd = exec.Command(e.ffmpegPath, args...)
	e.cmd.Stderr = &e.stderr

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	e.stdin = stdin
	e.started = true
	e.scratch = image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))

	go e.readPackets(stdout)
	return nil
}

// encoderArgs builds the command line that turns raw RGBA on stdin into IVF
// on stdout.
func encoderArgs(cfg ports.EncoderConfig, backend Backend) []string {
	// one key frame every two seconds
	gop := int(math.Max(1, math.Round(cfg.Framerate*2)))
	input, output := hwSetup(backend)

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", fmt.Sprintf("%.2f", cfg.Framerate),
		"-i", "pipe:0",
	)
	args = append(args, output...)
	args = append(args,
		"-c:v", string(backend),
		"-b:v", fmt.Sprintf("%d", cfg.Bitrate),
		"-g", fmt.Sprintf("%d", gop),
	)
	args = append(args, backendArgs(backend)...)
	return append(args, "-f", "ivf", "pipe:1")
}

// backendArgs returns low-latency settings per implementation.
func backendArgs(b Backend) []string {
	switch b {
	case "libvpx", "libvpx-vp9":
		return []string{"-deadline", "realtime", "-cpu-used", "8", "-lag-in-frames", "0"}
	case "libaom-av1":
		return []string{"-usage", "realtime", "-cpu-used", "8", "-lag-in-frames", "0"}
	case "libsvtav1":
		return []string{"-preset", "10"}
	}
	return nil
}

// Encode writes one frame to ffmpeg, scaling it to the configured size.
func (e *Encoder) Encode(ctx context.Context, frame *ports.VideoFrame) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if !e.started || e.flushed {
		e.mu.Unlock()
		return ErrNotConfigured
	}
	if e.err != nil {
		err := e.err
		e.mu.Unlock()
		return err
	}

	src := frame.Image
	if src.Bounds().Dx() != e.cfg.Width || src.Bounds().Dy() != e.cfg.Height {
		draw.ApproxBiLinear.Scale(e.scratch, e.scratch.Bounds(), src, src.Bounds(), draw.Src, nil)
		src = e.scratch
	}
	pix := src.Pix
	if src != e.scratch && (src.Stride != 4*e.cfg.Width || src.Rect.Min != (image.Point{})) {
		draw.Copy(e.scratch, image.Point{}, src, src.Bounds(), draw.Src, nil)
		pix = e.scratch.Pix
	}
	e.pending = append(e.pending, frameTiming{ts: frame.Timestamp, dur: frame.Duration})
	stdin := e.stdin
	e.mu.Unlock()

	stop := context.AfterFunc(ctx, e.kill)
	defer stop()

	_, err := stdin.Write(pix)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return e.fail(fmt.Errorf("failed to write frame: %w", err))
	}
	return nil
}

// Outputs returns the output channel.
func (e *Encoder) Outputs() <-chan ports.EncodedOutput {
	return e.outputs
}

// Flush closes ffmpeg's input. Outputs() is closed once ffmpeg exits.
func (e *Encoder) Flush(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotConfigured
	}
	if e.flushed {
		e.mu.Unlock()
		return nil
	}
	e.flushed = true
	stdin := e.stdin
	e.mu.Unlock()

	if err := stdin.Close(); err != nil {
		return e.fail(fmt.Errorf("close stdin: %w", err))
	}
	return nil
}

// Err returns the terminal error, if any.
func (e *Encoder) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Close kills ffmpeg and closes Outputs(), discarding pending output.
func (e *Encoder) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	started := e.started
	e.mu.Unlock()

	close(e.done)
	if !started {
		close(e.outputs)
		return nil
	}
	e.kill()
	<-e.readDone
	return nil
}

func (e *Encoder) readPackets(stdout io.Reader) {
	defer close(e.readDone)
	defer close(e.outputs)

	r := &ivfReader{r: stdout}
	first := true
	for {
		data, err := r.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.fail(fmt.Errorf("read packet: %w", err))
			}
			e.wait()
			return
		}

		timing := e.nextTiming()
		out := ports.EncodedOutput{
			Chunk: ports.DataChunk{
				Data:      data,
				Type:      ports.ChunkDelta,
				Timestamp: timing.ts,
				Duration:  timing.dur,
			},
		}
		if isKeyFrame(e.family, data) {
			out.Chunk.Type = ports.ChunkKey
		}
		if first {
			out.Config = &ports.ContainerConfig{
				Codec:  e.cfg.Codec,
				Width:  e.cfg.Width,
				Height: e.cfg.Height,
			}
			first = false
		}

		select {
		case e.outputs <- out:
		case <-e.done:
			e.wait()
			return
		}
	}
}

// nextTiming pairs packets with submitted frames in order. The realtime
// settings keep the encoders from reordering or dropping frames.
func (e *Encoder) nextTiming() frameTiming {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return frameTiming{}
	}
	t := e.pending[0]
	e.pending = e.pending[1:]
	return t
}

func (e *Encoder) wait() {
	err := e.cmd.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil && !e.closed && e.err == nil {
		e.err = fmt.Errorf("ffmpeg encoding failed: %w\nstderr: %s", err, e.stderr.String())
	}
}

func (e *Encoder) fail(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		e.err = err
	}
	return e.err
}

func (e *Encoder) kill() {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

var _ ports.VideoEncoder = (*Encoder)(nil)
