package app

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/parley-voice/parley/pkg/media"
)

// PreviewSurface retains the most recently sampled camera frame while video
// capture runs. It is the live consumer of the continuous-extraction capture
// path: the session controller's frame sampler pushes frames through
// [PreviewSurface.Accept], and the observability server exposes the latched
// frame at /previewz so an operator can inspect what the camera sees.
type PreviewSurface struct {
	mu    sync.Mutex
	frame media.VideoFrame
	at    time.Time
}

// Accept latches one sampled frame, replacing the previous one. It satisfies
// [capture.VideoSink].
func (p *PreviewSurface) Accept(frame media.VideoFrame) {
	p.mu.Lock()
	p.frame = frame
	p.at = time.Now()
	p.mu.Unlock()
}

// Latest returns the most recently latched frame and its arrival time, or
// ok=false while no frame has been sampled yet.
func (p *PreviewSurface) Latest() (frame media.VideoFrame, at time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frame.Width == 0 || p.frame.Height == 0 {
		return media.VideoFrame{}, time.Time{}, false
	}
	return p.frame, p.at, true
}

// ServeHTTP serves the latched frame as raw pixel data. The raster geometry
// travels in headers so a client can reassemble the frame without parsing the
// body. Responds 404 while no frame has been sampled.
func (p *PreviewSurface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame, at, ok := p.Latest()
	if !ok {
		http.Error(w, "no preview frame", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Preview-Width", strconv.Itoa(frame.Width))
	w.Header().Set("X-Preview-Height", strconv.Itoa(frame.Height))
	w.Header().Set("X-Preview-Captured-At", at.UTC().Format(time.RFC3339Nano))
	_, _ = w.Write(frame.Pix)
}
