// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package micgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/emiago/micgo/audio"
	"github.com/emiago/micgo/relay"
	"github.com/rs/zerolog/log"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateAcquiring
	StateRecording
	StateStopping
	StateFinalized
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// SessionStats is point in time view of session progress.
type SessionStats struct {
	ID        string
	State     SessionState
	NumChunks int
	NumBytes  int64
	Duration  time.Duration
	// Level is RMS of last collected chunk
	Level float64
}

// Session is single capture attempt. It is created by Recorder Start
// and moves through states
//
//	idle -> acquiring -> recording -> stopping -> finalized
//
// with acquiring -> failed when source can not be opened. Finalized and
// failed are terminal, session is never restarted. Audio is collected
// in memory as ordered chunks and serialized with Finalize.
type Session struct {
	ID string

	constraints      Constraints
	wavFormat        int
	stopTimeout      time.Duration
	quantumSamples   int
	progressInterval time.Duration
	onProgress       func(SessionStats)

	mu       sync.Mutex
	state    SessionState
	frames   [][]byte
	numBytes int64
	source   io.ReadCloser
	control  *audio.CaptureControl
	rel      *relay.Relay
	stopErr  error
	stopDone chan struct{}
	released bool
	onClose  func()

	drainDone chan struct{}
}

func (s *Session) start(ctx context.Context, opener SourceOpener) error {
	s.setState(StateAcquiring)

	source, err := opener.OpenSource(ctx, s.constraints)
	if err != nil {
		s.setState(StateFailed)
		return errors.Join(ErrSessionAcquisition, err)
	}

	control := audio.NewCaptureControl(source)
	rel, err := relay.New(control, relay.Config{
		NumChannels:    s.constraints.NumChannels,
		QuantumSamples: s.quantumSamples,
	})
	if err != nil {
		source.Close()
		s.setState(StateFailed)
		return errors.Join(ErrSessionAcquisition, err)
	}

	s.mu.Lock()
	s.source = source
	s.control = control
	s.rel = rel
	s.state = StateRecording
	s.mu.Unlock()

	go rel.Run()
	go s.drain()

	log.Debug().Str("id", s.ID).
		Int("rate", s.constraints.SampleRate).
		Int("channels", s.constraints.NumChannels).
		Msg("Capture started")
	return nil
}

// drain collects chunks on controller side. It always consumes until
// relay closes pipe, so relay can never block on full pipe. Chunks
// arriving after session left recording state are not part of session.
func (s *Session) drain() {
	nextProgress := s.progressInterval
	for chunk := range s.rel.Pipe() {
		s.mu.Lock()
		if s.state != StateRecording {
			s.mu.Unlock()
			continue
		}
		s.frames = append(s.frames, chunk.Samples)
		s.numBytes += int64(len(chunk.Samples))
		stats := s.statsUnsafe()
		s.mu.Unlock()

		if s.onProgress != nil && s.progressInterval > 0 && stats.Duration >= nextProgress {
			nextProgress += s.progressInterval
			s.onProgress(stats)
		}
	}
	close(s.drainDone)
}

// Stop signals capture halt and waits for acknowledgment, bounded by
// stop timeout. On timeout session is finalized with collected audio
// and ErrSessionStopTimeout is returned. Source is released on every
// path. Stop is idempotent, later calls return result of first one.
// Canceled context forces finalize early same as timeout.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateFinalized:
		err := s.stopErr
		s.mu.Unlock()
		return err
	case StateStopping:
		done := s.stopDone
		s.mu.Unlock()
		<-done

		s.mu.Lock()
		err := s.stopErr
		s.mu.Unlock()
		return err
	case StateRecording:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session is not recording, state=%s", state)
	}

	s.state = StateStopping
	s.stopDone = make(chan struct{})
	s.mu.Unlock()

	log.Debug().Str("id", s.ID).Msg("Stopping capture")
	s.rel.SignalStop()

	wait := s.stopWait()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var stopErr error
	select {
	case <-s.drainDone:
	case <-timer.C:
		stopErr = errors.Join(ErrSessionStopTimeout, fmt.Errorf("no acknowledgment within %v", wait))
	case <-ctx.Done():
		stopErr = ctx.Err()
	}

	return s.finishStop(stopErr)
}

func (s *Session) finishStop(stopErr error) error {
	// Source never outlives session, even when capture is stuck on it
	stopErr = errors.Join(stopErr, s.releaseSource())

	s.mu.Lock()
	s.state = StateFinalized
	s.stopErr = stopErr
	stats := s.statsUnsafe()
	onClose := s.onClose
	s.onClose = nil
	close(s.stopDone)
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}

	log.Debug().Str("id", s.ID).
		Int("chunks", stats.NumChunks).
		Dur("duration", stats.Duration).
		Msg("Capture stopped")
	return stopErr
}

func (s *Session) stopWait() time.Duration {
	if s.stopTimeout > 0 {
		return s.stopTimeout
	}

	quantum := s.quantumSamples
	if quantum <= 0 {
		quantum = relay.QuantumSamples
	}
	// Few quantum durations. Capture sits at most one quantum in source
	// read before it observes signal.
	wait := 8 * time.Duration(quantum) * time.Second / time.Duration(s.constraints.SampleRate)
	if wait < 50*time.Millisecond {
		wait = 50 * time.Millisecond
	}
	return wait
}

func (s *Session) releaseSource() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	source := s.source
	s.mu.Unlock()

	if source == nil {
		return nil
	}
	return source.Close()
}

// Finalize serializes collected audio as wav and returns it as bytes.
// Valid once session is finalized. Empty session is an error, no output
// is produced for it.
func (s *Session) Finalize() ([]byte, error) {
	buf := &audio.SeekableBuffer{}
	if err := s.FinalizeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FinalizeTo serializes collected audio as wav into caller writer.
// WavWriter updates header on close, so writer must rewrite in place
// after seek like os.File or audio.SeekableBuffer do.
func (s *Session) FinalizeTo(w io.WriteSeeker) error {
	s.mu.Lock()
	if s.state != StateFinalized {
		state := s.state
		s.mu.Unlock()
		return errors.Join(ErrSessionNotStopped, fmt.Errorf("state=%s", state))
	}
	frames := s.frames
	s.mu.Unlock()

	if len(frames) == 0 {
		return ErrSessionEmpty
	}

	ww := audio.NewWavWriter(w)
	ww.SampleRate = s.constraints.SampleRate
	ww.NumChans = s.constraints.NumChannels
	ww.BitDepth = 16
	ww.AudioFormat = audio.FormatPCM

	var out io.Writer = ww
	if s.wavFormat != audio.FormatPCM {
		ww.BitDepth = 8
		ww.AudioFormat = s.wavFormat

		enc, err := audio.NewPCMEncoderWriter(s.wavFormat, ww)
		if err != nil {
			return err
		}
		out = enc
	}

	for _, frame := range frames {
		if _, err := out.Write(frame); err != nil {
			return err
		}
	}
	return ww.Close()
}

// Mute zero fills captured samples without interrupting chunk flow.
func (s *Session) Mute(mute bool) {
	s.control.Mute(mute)
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsUnsafe()
}

func (s *Session) statsUnsafe() SessionStats {
	stats := SessionStats{
		ID:        s.ID,
		State:     s.state,
		NumChunks: len(s.frames),
		NumBytes:  s.numBytes,
	}

	bytesPerSec := int64(s.constraints.SampleRate * s.constraints.NumChannels * 2)
	if bytesPerSec > 0 {
		stats.Duration = time.Duration(float64(s.numBytes) / float64(bytesPerSec) * float64(time.Second))
	}
	if len(s.frames) > 0 {
		stats.Level = audio.RMS(s.frames[len(s.frames)-1])
	}
	return stats
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// OnClose adds hook called once when session finalizes. Multiple hooks
// are chained in order they were added.
func (s *Session) OnClose(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCloseUnsafe(f)
}

func (s *Session) onCloseUnsafe(f func()) {
	if s.onClose != nil {
		prev := s.onClose
		s.onClose = func() {
			prev()
			f()
		}
		return
	}
	s.onClose = f
}
