package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/parley-voice/parley/pkg/media"
)

// errEncoderStopped signals to the feed loop that Stop won the race against
// the first ready frame and no process may be spawned any more.
var errEncoderStopped = errors.New("capture: ffmpeg encoder stopped")

// FFmpegConfig configures the external encoder process.
type FFmpegConfig struct {
	// Binary is the ffmpeg executable. Empty means "ffmpeg" on PATH.
	Binary string

	// PixelFormat is the raw input pixel format fed to the encoder. It must
	// match the camera track's native layout. Empty means "yuyv422".
	PixelFormat string

	// FPS is the rate at which the track surface is sampled into the encoder.
	// Zero means 30.
	FPS int
}

func (c FFmpegConfig) withDefaults() FFmpegConfig {
	if c.Binary == "" {
		c.Binary = "ffmpeg"
	}
	if c.PixelFormat == "" {
		c.PixelFormat = "yuyv422"
	}
	if c.FPS == 0 {
		c.FPS = 30
	}
	return c
}

// FFmpegEncoder implements [Encoder] by piping raw frames through an ffmpeg
// subprocess that emits an incrementally written WebM container on stdout.
// Chunks are pushed to the callback as ffmpeg writes them, not polled.
type FFmpegEncoder struct {
	cfg FFmpegConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool
	stopped bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ Encoder = (*FFmpegEncoder)(nil)

// NewFFmpegEncoder creates an encoder with the given config.
func NewFFmpegEncoder(cfg FFmpegConfig) *FFmpegEncoder {
	return &FFmpegEncoder{
		cfg:  cfg.withDefaults(),
		done: make(chan struct{}),
	}
}

// MIMEType implements [Encoder].
func (e *FFmpegEncoder) MIMEType() string { return "video/webm" }

// Start implements [Encoder]. The subprocess is launched lazily on the first
// ready frame, because the raw input geometry is only known once the track
// surface reports non-zero dimensions.
func (e *FFmpegEncoder) Start(track media.VideoTrack, onChunk func([]byte)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return fmt.Errorf("capture: ffmpeg encoder already stopped")
	}
	if e.started {
		return fmt.Errorf("capture: ffmpeg encoder already started")
	}
	e.started = true

	e.wg.Add(1)
	go e.feedLoop(track, onChunk)
	return nil
}

// feedLoop samples the track at the configured FPS and writes raw frames to
// the encoder's stdin. Write failures on one frame are logged and the frame
// is skipped; they do not abort the recording.
func (e *FFmpegEncoder) feedLoop(track media.VideoTrack, onChunk func([]byte)) {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			frame, ok := track.Latest()
			if !ok || frame.Width == 0 || frame.Height == 0 {
				continue
			}

			stdin, err := e.ensureProcess(frame, onChunk)
			if err != nil {
				if !errors.Is(err, errEncoderStopped) {
					slog.Warn("capture: ffmpeg spawn failed", "err", err)
				}
				return
			}
			if _, err := stdin.Write(frame.Pix); err != nil {
				select {
				case <-e.done:
				default:
					slog.Warn("capture: ffmpeg frame write failed, skipping", "err", err)
				}
			}
		}
	}
}

// ensureProcess launches ffmpeg on first use with the geometry of the first
// ready frame, and starts the stdout chunk pump.
func (e *FFmpegEncoder) ensureProcess(frame media.VideoFrame, onChunk func([]byte)) (io.Writer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// Stop may have run while the feed loop was reading the track surface; a
	// process spawned now would never be reaped.
	if e.stopped {
		return nil, errEncoderStopped
	}
	if e.stdin != nil {
		return e.stdin, nil
	}

	size := strconv.Itoa(frame.Width) + "x" + strconv.Itoa(frame.Height)
	cmd := exec.Command(e.cfg.Binary,
		"-f", "rawvideo",
		"-pix_fmt", e.cfg.PixelFormat,
		"-s", size,
		"-r", strconv.Itoa(e.cfg.FPS),
		"-i", "-",
		"-c:v", "libvpx",
		"-f", "webm",
		"-",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	e.cmd = cmd
	e.stdin = stdin

	e.wg.Add(1)
	go e.pumpChunks(stdout, onChunk)

	return stdin, nil
}

// pumpChunks pushes encoder output to the callback as it is produced.
func (e *FFmpegEncoder) pumpChunks(stdout io.Reader, onChunk func([]byte)) {
	defer e.wg.Done()

	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			onChunk(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Stop implements [Encoder]. It stops sampling, closes stdin so ffmpeg
// finalises the container, drains the remaining chunks, and reaps the
// process. Idempotent.
func (e *FFmpegEncoder) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	stdin := e.stdin
	cmd := e.cmd
	e.mu.Unlock()

	close(e.done)

	var errs []error
	if stdin != nil {
		if err := stdin.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	// Wait for the feed loop and the chunk pump; the pump exits once ffmpeg
	// finishes writing the finalised container.
	e.wg.Wait()

	if cmd != nil {
		if err := cmd.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("capture: ffmpeg exit: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
