// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package micgo implements microphone style audio capture sessions.
// Capture runs on isolated goroutine that relays fixed size quanta of
// 16 bit LPCM over ordered pipe to session, which collects them in
// memory and serializes recording as wav on finalize.
package micgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/emiago/micgo/audio"
	"github.com/google/uuid"
)

var (
	ErrSessionAcquisition = errors.New("source acquisition failed")
	ErrSessionStopTimeout = errors.New("stop not acknowledged")
	ErrSessionEmpty       = errors.New("no audio captured")
	ErrSessionActive      = errors.New("session already active")
	ErrSessionNotStopped  = errors.New("session not stopped")
)

// Constraints describe audio that source must deliver. Fields left
// zero get capture defaults 48000Hz mono.
type Constraints struct {
	SampleRate  int
	NumChannels int
}

func (c Constraints) withDefaults() Constraints {
	if c.SampleRate == 0 {
		c.SampleRate = 48000
	}
	if c.NumChannels == 0 {
		c.NumChannels = 1
	}
	return c
}

// SourceOpener acquires capture source honoring given constraints.
// Returned reader must deliver 16 bit little endian interleaved LPCM.
// Failure to satisfy constraints must be returned as error, sessions
// never resample.
type SourceOpener interface {
	OpenSource(ctx context.Context, constraints Constraints) (io.ReadCloser, error)
}

type SourceOpenerFunc func(ctx context.Context, constraints Constraints) (io.ReadCloser, error)

func (f SourceOpenerFunc) OpenSource(ctx context.Context, constraints Constraints) (io.ReadCloser, error) {
	return f(ctx, constraints)
}

// Recorder creates capture sessions. Single session can be active at a
// time, Start of next one is rejected until previous finalizes.
type Recorder struct {
	opener           SourceOpener
	wavFormat        int
	stopTimeout      time.Duration
	quantumSamples   int
	progressInterval time.Duration
	onProgress       func(SessionStats)

	log *slog.Logger

	mu     sync.Mutex
	active *Session
}

type RecorderOption func(r *Recorder)

// WithSourceOpener sets where audio comes from. Without this option
// recorder captures generated tone, which keeps it working in
// environments with no audio device.
func WithSourceOpener(opener SourceOpener) RecorderOption {
	return func(r *Recorder) {
		r.opener = opener
	}
}

// WithWavEncoding sets wav output format on finalize. Capture always
// runs 16 bit LPCM, companding to audio.FormatUlaw or audio.FormatAlaw
// happens only during serialization.
func WithWavEncoding(format int) RecorderOption {
	return func(r *Recorder) {
		r.wavFormat = format
	}
}

// WithStopTimeout overrides bounded wait on Stop. Default is derived
// from quantum duration.
func WithStopTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		r.stopTimeout = d
	}
}

// WithQuantumSamples overrides relay quantum for sessions of this
// recorder.
func WithQuantumSamples(n int) RecorderOption {
	return func(r *Recorder) {
		r.quantumSamples = n
	}
}

// WithProgress registers callback fired from collecting goroutine every
// time captured duration crosses next interval multiple.
func WithProgress(interval time.Duration, f func(SessionStats)) RecorderOption {
	return func(r *Recorder) {
		r.progressInterval = interval
		r.onProgress = f
	}
}

func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.log = l
	}
}

func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		opener:    ToneOpener(440),
		wavFormat: audio.FormatPCM,
		log:       slog.Default(),
	}

	for _, o := range opts {
		o(r)
	}
	return r
}

// Start acquires source and begins capture. On acquisition failure no
// session is retained and recorder can Start again. While previous
// session is still recording or stopping, ErrSessionActive is returned.
func (r *Recorder) Start(ctx context.Context, constraints Constraints) (*Session, error) {
	constraints = constraints.withDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, errors.Join(ErrSessionActive, fmt.Errorf("session %q not finalized", r.active.ID))
	}

	sess := &Session{
		ID:               uuid.NewString(),
		constraints:      constraints,
		wavFormat:        r.wavFormat,
		stopTimeout:      r.stopTimeout,
		quantumSamples:   r.quantumSamples,
		progressInterval: r.progressInterval,
		onProgress:       r.onProgress,
		state:            StateIdle,
		drainDone:        make(chan struct{}),
	}

	r.log.Debug("Starting session", "id", sess.ID, "rate", constraints.SampleRate, "channels", constraints.NumChannels)
	if err := sess.start(ctx, r.opener); err != nil {
		return nil, err
	}

	r.active = sess
	sess.OnClose(func() {
		r.clearActive(sess)
	})
	return sess, nil
}

func (r *Recorder) clearActive(sess *Session) {
	r.mu.Lock()
	if r.active == sess {
		r.active = nil
	}
	r.mu.Unlock()
}

// ActiveSession returns session that is recording or stopping, nil
// otherwise.
func (r *Recorder) ActiveSession() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Close stops active session if there is one. Stop wait bound applies.
func (r *Recorder) Close() error {
	active := r.ActiveSession()
	if active == nil {
		return nil
	}
	return active.Stop(context.Background())
}

// ToneOpener opens sine tone generator as capture source. Generation
// is paced to wall clock like real device.
func ToneOpener(freq float64) SourceOpener {
	return SourceOpenerFunc(func(ctx context.Context, constraints Constraints) (io.ReadCloser, error) {
		tone := audio.NewToneSource(freq, constraints.SampleRate, constraints.NumChannels)
		tone.Realtime = true
		return tone, nil
	})
}

// FileOpener opens wav file as capture source. File properties must
// match constraints. Telephony grade files with ulaw or alaw data are
// transcoded to LPCM while reading.
func FileOpener(path string) SourceOpener {
	return SourceOpenerFunc(func(ctx context.Context, constraints Constraints) (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}

		wr := audio.NewWavReader(f)
		if err := wr.ReadHeaders(); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read wav headers: %w", err)
		}

		if int(wr.SampleRate) != constraints.SampleRate {
			f.Close()
			return nil, fmt.Errorf("file sample rate %d does not match requested %d", wr.SampleRate, constraints.SampleRate)
		}
		if int(wr.NumChannels) != constraints.NumChannels {
			f.Close()
			return nil, fmt.Errorf("file channels %d does not match requested %d", wr.NumChannels, constraints.NumChannels)
		}

		var reader io.Reader = wr
		switch int(wr.WavAudioFormat) {
		case audio.FormatPCM:
			if wr.BitsPerSample != 16 {
				f.Close()
				return nil, fmt.Errorf("received bitdepth=%d, but only 16 bit PCM supported", wr.BitsPerSample)
			}
		case audio.FormatUlaw, audio.FormatAlaw:
			dec, err := audio.NewPCMDecoderReader(int(wr.WavAudioFormat), wr)
			if err != nil {
				f.Close()
				return nil, err
			}
			reader = dec
		default:
			f.Close()
			return nil, fmt.Errorf("unsupported wav format %d", wr.WavAudioFormat)
		}

		return &fileSource{Reader: reader, closer: f}, nil
	})
}

type fileSource struct {
	io.Reader
	closer io.Closer
}

func (s *fileSource) Close() error {
	return s.closer.Close()
}
