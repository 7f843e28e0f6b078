package audio

import (
	"errors"
	"time"
)

type fakeVoice struct {
	sink    *fakeSink
	start   time.Duration
	stopped bool
}

func (v *fakeVoice) Stop() { v.stopped = true }

type fakeSink struct {
	voices  []*fakeVoice
	failing bool
	closed  bool
}

func (s *fakeSink) Play(_ []float32, at time.Duration) (Voice, error) {
	if s.failing {
		return nil, errors.New("sink refused")
	}
	v := &fakeVoice{sink: s, start: at}
	s.voices = append(s.voices, v)
	return v, nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

// pcmFor returns silent 16-bit PCM lasting d at the playback rate.
func pcmFor(d time.Duration) []byte {
	return make([]byte, SamplesFor(d, PlaybackSampleRate)*2)
}
