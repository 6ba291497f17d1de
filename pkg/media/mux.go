package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Mux composes single-kind device backends into one [Acquirer]. Audio
// constraints are routed to AudioBackend, video constraints to VideoBackend.
// When both kinds are requested, a failure acquiring the second kind releases
// the first before Acquire returns — no partial acquisition is ever left
// behind.
type Mux struct {
	AudioBackend Acquirer
	VideoBackend Acquirer
}

var _ Acquirer = (*Mux)(nil)

// Acquire implements [Acquirer].
func (m *Mux) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("media: empty constraints: %w", ErrDeviceUnavailable)
	}

	var audioStream, videoStream Stream

	if c.Audio {
		if m.AudioBackend == nil {
			return nil, fmt.Errorf("media: no audio backend: %w", ErrDeviceUnavailable)
		}
		s, err := m.AudioBackend.Acquire(ctx, Constraints{Audio: true})
		if err != nil {
			return nil, err
		}
		audioStream = s
	}

	if c.Video {
		if m.VideoBackend == nil {
			if audioStream != nil {
				_ = audioStream.Release()
			}
			return nil, fmt.Errorf("media: no video backend: %w", ErrDeviceUnavailable)
		}
		s, err := m.VideoBackend.Acquire(ctx, Constraints{Video: true})
		if err != nil {
			if audioStream != nil {
				_ = audioStream.Release()
			}
			return nil, err
		}
		videoStream = s
	}

	return &muxStream{audio: audioStream, video: videoStream}, nil
}

// muxStream joins an audio-only and a video-only stream behind one handle.
type muxStream struct {
	audio Stream
	video Stream

	mu       sync.Mutex
	released bool
}

func (s *muxStream) Audio() AudioTrack {
	if s.audio == nil {
		return nil
	}
	return s.audio.Audio()
}

func (s *muxStream) Video() VideoTrack {
	if s.video == nil {
		return nil
	}
	return s.video.Video()
}

// Release releases every constituent stream. Idempotent; errors from the
// constituents are joined.
func (s *muxStream) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.mu.Unlock()

	var errs []error
	if s.audio != nil {
		errs = append(errs, s.audio.Release())
	}
	if s.video != nil {
		errs = append(errs, s.video.Release())
	}
	return errors.Join(errs...)
}
