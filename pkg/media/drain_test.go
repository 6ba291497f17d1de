package media_test

import (
	"testing"

	"github.com/parley-voice/parley/pkg/media"
)

// ─── TestDrain_EmptiesClosedChannel ───────────────────────────────────────────

func TestDrain_EmptiesClosedChannel(t *testing.T) {
	t.Parallel()

	ch := make(chan media.AudioFrame, 4)
	for i := 0; i < 4; i++ {
		ch <- media.AudioFrame{Data: []byte{byte(i)}}
	}
	close(ch)

	media.Drain(ch)

	if got := len(ch); got != 0 {
		t.Fatalf("expected drained channel, %d frames left", got)
	}
}

// ─── TestDrain_ReturnsOnEmptyClosedChannel ────────────────────────────────────

func TestDrain_ReturnsOnEmptyClosedChannel(t *testing.T) {
	t.Parallel()

	ch := make(chan media.VideoFrame)
	close(ch)
	media.Drain(ch)
}
