package ffmpegcodec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/user/webmshrink/pkg/adapters/codecdetect"
	"github.com/user/webmshrink/pkg/ports"
)

// DefaultMaxFrames is the number of decoded frames a decoder hands out
// before it waits for one to be released. It must stay above the reorder
// depth of whoever consumes the frames.
const DefaultMaxFrames = 8

// Decoder implements ports.VideoDecoder with an ffmpeg process that reads
// H.264 Annex B or IVF on stdin and writes raw RGBA frames on stdout.
type Decoder struct {
	ffmpegPath string
	hw         ports.HardwareAcceleration
	maxFrames  int

	mu      sync.Mutex
	family  codecdetect.Codec
	cfg     ports.ContainerConfig
	spsPPS  []byte
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  bytes.Buffer
	pending []time.Duration // submitted timestamps not yet matched to a frame
	durs    map[time.Duration]time.Duration
	err     error
	flushed bool
	closed  bool

	frames    chan *ports.VideoFrame
	slots     chan struct{}
	pool      sync.Pool
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

// NewDecoder creates a decoder using the given ffmpeg binary.
func NewDecoder(ffmpegPath string, hw ports.HardwareAcceleration, maxFrames int) *Decoder {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	return &Decoder{
		ffmpegPath: ffmpegPath,
		hw:         hw,
		maxFrames:  maxFrames,
		frames:     make(chan *ports.VideoFrame, maxFrames),
		slots:      make(chan struct{}, maxFrames),
		done:       make(chan struct{}),
		readDone:   make(chan struct{}),
		durs:       make(map[time.Duration]time.Duration),
	}
}

// IsConfigSupported reports whether the binary can decode cfg.
func (d *Decoder) IsConfigSupported(cfg ports.ContainerConfig) bool {
	_, ok := d.backend(cfg)
	return ok && cfg.Width > 0 && cfg.Height > 0
}

func (d *Decoder) backend(cfg ports.ContainerConfig) (Backend, bool) {
	set, ok := decoderBackends[codecdetect.Family(cfg.Codec)]
	if !ok {
		return "", false
	}
	return selectBackend(probe(d.ffmpegPath).decoders, set, d.hw, nil)
}

// Configure starts the ffmpeg process.
func (d *Decoder) Configure(cfg ports.ContainerConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.cmd != nil {
		return fmt.Errorf("ffmpegcodec: decoder already configured")
	}

	backend, ok := d.backend(cfg)
	if !ok {
		return fmt.Errorf("ffmpegcodec: no decoder for %s", cfg.Codec)
	}
	d.family = codecdetect.Family(cfg.Codec)
	d.cfg = cfg

	inputFormat := "ivf"
	if d.family == codecdetect.CodecH264 {
		inputFormat = "h264"
		sets, err := parameterSets(cfg.Description)
		if err != nil {
			return fmt.Errorf("ffmpegcodec: parse avcC: %w", err)
		}
		d.spsPPS = sets
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", inputFormat,
		"-c:v", string(backend),
		"-i", "pipe:0",
		"-fps_mode", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"pipe:1",
	}

	d.cmd = exec.Command(d.ffmpegPath, args...)
	d.cmd.Stderr = &d.stderr

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	d.stdin = stdin

	if inputFormat == "ivf" {
		if err := writeIVFHeader(stdin, ivfFourCC(d.family), cfg.Width, cfg.Height); err != nil {
			d.kill()
			return fmt.Errorf("write IVF header: %w", err)
		}
	}

	go d.readFrames(stdout)
	return nil
}

// Decode writes one sample to ffmpeg. It blocks while ffmpeg is blocked on
// output nobody released.
func (d *Decoder) Decode(ctx context.Context, sample ports.EncodedSample) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.stdin == nil || d.flushed {
		d.mu.Unlock()
		return ErrNotConfigured
	}
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return err
	}
	d.track(sample.Timestamp, sample.Duration)
	stdin := d.stdin
	family := d.family
	spsPPS := d.spsPPS
	d.mu.Unlock()

	stop := context.AfterFunc(ctx, d.kill)
	defer stop()

	var err error
	if family == codecdetect.CodecH264 {
		data := avccToAnnexB(sample.Data)
		if sample.Type == ports.ChunkKey && len(spsPPS) > 0 {
			data = append(append([]byte{}, spsPPS...), data...)
		}
		_, err = stdin.Write(data)
	} else {
		err = writeIVFFrame(stdin, sample.Timestamp.Microseconds(), sample.Data)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return d.fail(fmt.Errorf("write sample: %w", err))
	}
	return nil
}

// Frames returns the output channel.
func (d *Decoder) Frames() <-chan *ports.VideoFrame {
	return d.frames
}

// Flush closes ffmpeg's input. Frames() is closed once ffmpeg exits.
func (d *Decoder) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.stdin == nil {
		d.mu.Unlock()
		return ErrNotConfigured
	}
	if d.flushed {
		d.mu.Unlock()
		return nil
	}
	d.flushed = true
	stdin := d.stdin
	d.mu.Unlock()

	if err := stdin.Close(); err != nil {
		return d.fail(fmt.Errorf("close stdin: %w", err))
	}
	return nil
}

// Err returns the terminal error, if any.
func (d *Decoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close kills ffmpeg and closes Frames().
func (d *Decoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.cmd != nil
	d.mu.Unlock()

	d.closeOnce.Do(func() { close(d.done) })
	if !started {
		close(d.frames)
		return nil
	}
	d.kill()
	<-d.readDone
	return nil
}

// readFrames turns stdout into frames until EOF, then reaps ffmpeg and
// closes Frames().
func (d *Decoder) readFrames(stdout io.Reader) {
	defer close(d.readDone)
	defer close(d.frames)

	width, height := d.cfg.Width, d.cfg.Height
	frameSize := width * height * 4

	for {
		select {
		case d.slots <- struct{}{}:
		case <-d.done:
			d.wait()
			return
		}

		img := d.image(width, height)
		if _, err := io.ReadFull(stdout, img.Pix[:frameSize]); err != nil {
			<-d.slots
			d.pool.Put(img)
			if !errors.Is(err, io.EOF) {
				d.fail(fmt.Errorf("read frame: %w", err))
			}
			d.wait()
			return
		}

		ts, dur := d.nextTimestamp()
		frame := ports.NewVideoFrame(img, ts, dur, func() {
			d.pool.Put(img)
			<-d.slots
		})

		select {
		case d.frames <- frame:
		case <-d.done:
			frame.Release()
			d.wait()
			return
		}
	}
}

func (d *Decoder) image(width, height int) *image.RGBA {
	if img, ok := d.pool.Get().(*image.RGBA); ok {
		return img
	}
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

// wait reaps the process and records a failure unless the decoder was
// closed on purpose.
func (d *Decoder) wait() {
	err := d.cmd.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil && !d.closed && d.err == nil {
		d.err = fmt.Errorf("ffmpeg decoding failed: %w\nstderr: %s", err, d.stderr.String())
	}
}

func (d *Decoder) fail(err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err == nil {
		d.err = err
	}
	return d.err
}

func (d *Decoder) kill() {
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// track records a submitted timestamp. ffmpeg emits frames in
// presentation order, so each frame takes the smallest pending timestamp.
// Callers hold d.mu.
func (d *Decoder) track(ts, dur time.Duration) {
	i := sort.Search(len(d.pending), func(i int) bool { return d.pending[i] > ts })
	d.pending = append(d.pending, 0)
	copy(d.pending[i+1:], d.pending[i:])
	d.pending[i] = ts
	d.durs[ts] = dur
}

func (d *Decoder) nextTimestamp() (time.Duration, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) == 0 {
		return 0, 0
	}
	ts := d.pending[0]
	d.pending = d.pending[1:]
	dur := d.durs[ts]
	delete(d.durs, ts)
	return ts, dur
}

var _ ports.VideoDecoder = (*Decoder)(nil)
