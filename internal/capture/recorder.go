package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/parley-voice/parley/pkg/media"
)

// RecordingSink receives exactly one finalised recording when the chunked
// recorder stops.
type RecordingSink func(media.VideoRecording)

// Encoder turns a live video track into an incrementally encoded container.
// Implementations push each encoded chunk to the registered callback as soon
// as it is produced. [Encoder.Stop] must flush any tail data through the
// callback before returning.
type Encoder interface {
	// Start begins encoding frames from track, delivering chunks to onChunk.
	// onChunk is invoked from a single goroutine in production order.
	Start(track media.VideoTrack, onChunk func([]byte)) error

	// Stop finalises the container and stops chunk production. Idempotent.
	Stop() error

	// MIMEType declares the container format of the produced chunks.
	MIMEType() string
}

// ChunkRecorder is the chunked-container video capture design: it accumulates
// encoded chunks as the encoder produces them and yields a single complete
// [media.VideoRecording] when recording stops. Accumulation is a strict
// append — chunks are never dropped or overwritten between Start and Stop.
//
// A ChunkRecorder is single-use: after Stop it cannot be started again.
type ChunkRecorder struct {
	enc  Encoder
	sink RecordingSink

	mu       sync.Mutex
	chunks   [][]byte
	started  bool
	stopping bool // a Stop call has claimed finalisation
	stopped  bool // no further chunks are accepted
}

// NewChunkRecorder creates a recorder encoding through enc and delivering the
// finalised recording to sink.
func NewChunkRecorder(enc Encoder, sink RecordingSink) *ChunkRecorder {
	return &ChunkRecorder{enc: enc, sink: sink}
}

// Start begins incremental encoding of track.
func (r *ChunkRecorder) Start(track media.VideoTrack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		return fmt.Errorf("capture: chunk recorder already stopped")
	}
	if r.started {
		return fmt.Errorf("capture: chunk recorder already started")
	}

	if err := r.enc.Start(track, r.append); err != nil {
		return fmt.Errorf("capture: start encoder: %w", err)
	}
	r.started = true
	return nil
}

// append accumulates one encoded chunk in arrival order.
func (r *ChunkRecorder) append(chunk []byte) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.chunks = append(r.chunks, cp)
}

// Stop finalises encoding, concatenates all accumulated chunks in arrival
// order into one recording, and delivers it to the sink. Stopping with zero
// accumulated chunks yields an empty-but-valid recording with the declared
// MIME type. Stop before Start is a no-op; repeated Stops are no-ops.
func (r *ChunkRecorder) Stop() {
	r.mu.Lock()
	if r.stopping || !r.started {
		r.stopping = true
		// Only the finalising Stop may close the chunk intake: a racing
		// second Stop must not drop the encoder's tail chunks.
		if !r.started {
			r.stopped = true
		}
		r.mu.Unlock()
		return
	}
	r.stopping = true
	r.mu.Unlock()

	// Finalise first so the encoder flushes its tail chunks through append.
	// A failed finalise still yields whatever was accumulated so far.
	if err := r.enc.Stop(); err != nil {
		slog.Warn("capture: encoder finalise failed", "err", err)
	}

	r.mu.Lock()
	r.stopped = true
	var size int
	for _, c := range r.chunks {
		size += len(c)
	}
	data := make([]byte, 0, size)
	for _, c := range r.chunks {
		data = append(data, c...)
	}
	r.chunks = nil
	r.mu.Unlock()

	r.sink(media.VideoRecording{Data: data, MIMEType: r.enc.MIMEType()})
}
