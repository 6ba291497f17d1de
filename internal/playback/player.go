// Package playback implements the synthesised-audio playback unit: an
// ordered, gapless FIFO queue rendered through a [media.Speaker], with an
// immediate all-frames-discarded stop used as the barge-in primitive.
//
// This package is internal because it encapsulates application-private
// pipeline logic and is not intended for import by external code.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/parley-voice/parley/pkg/media"
)

// Player renders audio frames in the exact order Play was called. A single
// render goroutine pops the queue, so frames are never reordered even when
// they become render-ready at different times.
//
// Player is safe for concurrent use.
type Player struct {
	speaker media.Speaker
	observe func(delta int64) // queue-depth deltas; may be nil

	mu     sync.Mutex
	queue  []media.AudioFrame
	cancel context.CancelFunc // cancels the frame currently rendering
	closed bool

	// kick wakes the render loop when frames are enqueued or discarded.
	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Player.
type Option func(*Player)

// WithQueueObserver registers a callback invoked with the queue-depth delta
// each time frames are enqueued, popped for rendering, or discarded. Used to
// feed the playback queue gauge.
func WithQueueObserver(f func(delta int64)) Option {
	return func(p *Player) { p.observe = f }
}

// New creates a Player rendering through speaker and starts its render loop.
// The Player does not own the speaker; closing the Player leaves the speaker
// open.
func New(speaker media.Speaker, opts ...Option) *Player {
	p := &Player{
		speaker: speaker,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.wg.Add(1)
	go p.renderLoop()
	return p
}

// Reset clears any pending playback state and prepares for a new utterance.
// Equivalent to [Player.Stop] for queue purposes; kept separate because
// callers invoke it at session start, before any frame exists.
func (p *Player) Reset() {
	p.discard()
}

// Play enqueues one frame for ordered, gapless playback. Frames render in
// FIFO order. Calling Play after Stop starts a fresh queue; the discarded
// frames never render.
func (p *Player) Play(frame media.AudioFrame) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, frame)
	p.mu.Unlock()

	p.report(1)
	p.wake()
}

// Stop immediately halts the currently rendering frame and discards every
// still-queued frame. This is the barge-in interruption primitive; after it
// returns there is no audible residue from the discarded frames.
func (p *Player) Stop() {
	p.discard()
}

// Close stops rendering permanently and waits for the render loop to exit.
// Idempotent. The speaker is left open for its owner to close.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	dropped := len(p.queue)
	p.queue = nil
	p.mu.Unlock()

	p.report(-int64(dropped))
	if cancel != nil {
		cancel()
	}
	close(p.done)
	p.wg.Wait()
}

// QueueLen reports the number of frames waiting to render. Used by metrics
// and tests; the value is immediately stale.
func (p *Player) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// discard drops the queue, cancels the in-flight render, and flushes the
// speaker's device-side buffer.
func (p *Player) discard() {
	p.mu.Lock()
	dropped := len(p.queue)
	p.queue = nil
	cancel := p.cancel
	p.mu.Unlock()

	p.report(-int64(dropped))
	if cancel != nil {
		cancel()
	}
	p.speaker.Flush()
}

// renderLoop pops frames one at a time and renders them to completion.
// A render failure on one frame is logged and that frame is skipped; it does
// not abort the remaining queue.
//
// Popping a frame and registering its cancel happen in a single critical
// section: a Stop arriving at any point either still sees the frame in the
// queue or sees the registered cancel, so no frame can slip past the discard.
func (p *Player) renderLoop() {
	defer p.wg.Done()

	for {
		ctx, cancel := context.WithCancel(context.Background())

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			cancel()
			return
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			cancel()
			select {
			case <-p.kick:
				continue
			case <-p.done:
				return
			}
		}
		frame := p.queue[0]
		p.queue = p.queue[1:]
		p.cancel = cancel
		p.mu.Unlock()

		p.report(-1)

		var err error
		if ctx.Err() == nil {
			err = p.speaker.Render(ctx, frame)
		}

		p.mu.Lock()
		p.cancel = nil
		p.mu.Unlock()
		cancel()

		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("playback: frame render failed, skipping", "err", err)
		}
	}
}

// report forwards a queue-depth delta to the observer, if any.
func (p *Player) report(delta int64) {
	if p.observe != nil && delta != 0 {
		p.observe(delta)
	}
}

// wake nudges the render loop without blocking.
func (p *Player) wake() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}
