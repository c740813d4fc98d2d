// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync/atomic"
	"time"
)

// ToneSource generates sine wave as 16 bit LPCM stream. It acts as
// capture source replacement for environments without audio device
// and gives deterministic input in tests.
//
// Generation is phase continuous across reads, so chunk boundaries
// do not produce clicks.
type ToneSource struct {
	Freq        float64
	Volume      float64
	SampleRate  int
	NumChannels int
	// Duration limits generated audio. Zero means endless.
	Duration time.Duration
	// Realtime paces reads to wall clock of generated samples.
	Realtime bool

	phase   int64
	limit   int64
	started time.Time
	closed  atomic.Bool
}

func NewToneSource(freq float64, sampleRate int, numChannels int) *ToneSource {
	return &ToneSource{
		Freq:        freq,
		Volume:      0.2,
		SampleRate:  sampleRate,
		NumChannels: numChannels,
	}
}

func (s *ToneSource) Read(b []byte) (int, error) {
	if s.closed.Load() {
		return 0, io.EOF
	}

	if s.started.IsZero() {
		s.started = time.Now()
		s.limit = -1
		if s.Duration > 0 {
			s.limit = int64(float64(s.SampleRate) * s.Duration.Seconds())
		}
	}

	frameSize := 2 * s.NumChannels
	numFrames := len(b) / frameSize
	if numFrames == 0 {
		return 0, io.ErrShortBuffer
	}

	if s.limit >= 0 {
		remaining := s.limit - s.phase
		if remaining <= 0 {
			return 0, io.EOF
		}
		if int64(numFrames) > remaining {
			numFrames = int(remaining)
		}
	}

	for i := 0; i < numFrames; i++ {
		t := float64(s.phase+int64(i)) / float64(s.SampleRate)
		sample := s.Volume * math.Sin(2*math.Pi*s.Freq*t)
		intSample := int16(sample * math.MaxInt16)
		for ch := 0; ch < s.NumChannels; ch++ {
			binary.LittleEndian.PutUint16(b[(i*s.NumChannels+ch)*2:], uint16(intSample))
		}
	}
	s.phase += int64(numFrames)

	if s.Realtime {
		generated := time.Duration(float64(s.phase) / float64(s.SampleRate) * float64(time.Second))
		if sleep := generated - time.Since(s.started); sleep > 0 {
			time.Sleep(sleep)
		}
	}

	return numFrames * frameSize, nil
}

// Close stops generation. Reads return EOF after.
func (s *ToneSource) Close() error {
	s.closed.Store(true)
	return nil
}
