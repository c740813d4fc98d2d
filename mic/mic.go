// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package mic provides microphone capture source backed by PortAudio.
// It uses blocking stream reads, no audio callbacks, so it fits
// io.Reader model of capture sessions.
package mic

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/emiago/micgo"
	"github.com/emiago/micgo/audio"
	"github.com/emiago/micgo/relay"
	"github.com/gordonklaus/portaudio"
)

// Source is default input device stream delivering 16 bit LPCM.
// One device read fills one relay quantum.
type Source struct {
	stream *portaudio.Stream
	buffer []int16

	bytes []byte
	// carry keeps converted bytes that did not fit into last Read
	carry []byte
}

// Opener acquires default input device on session start. Device or
// host failures surface as acquisition errors.
func Opener() micgo.SourceOpener {
	return micgo.SourceOpenerFunc(func(ctx context.Context, constraints micgo.Constraints) (io.ReadCloser, error) {
		return Open(constraints)
	})
}

func Open(constraints micgo.Constraints) (*Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio host: %w", err)
	}

	frames := relay.QuantumSamples
	buffer := make([]int16, frames*constraints.NumChannels)

	stream, err := portaudio.OpenDefaultStream(constraints.NumChannels, 0, float64(constraints.SampleRate), frames, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	return &Source{
		stream: stream,
		buffer: buffer,
	}, nil
}

func (s *Source) Read(p []byte) (n int, err error) {
	if len(s.carry) > 0 {
		n = copy(p, s.carry)
		s.carry = s.carry[n:]
		return n, nil
	}

	if err := s.stream.Read(); err != nil {
		return 0, err
	}

	if s.bytes == nil {
		s.bytes = make([]byte, len(s.buffer)*2)
	}
	if _, err := audio.SamplesInt16ToBytes(s.buffer, s.bytes); err != nil {
		return 0, err
	}

	n = copy(p, s.bytes)
	if n < len(s.bytes) {
		s.carry = s.bytes[n:]
	}
	return n, nil
}

// Close stops stream and releases audio host.
func (s *Source) Close() error {
	var errStop, errClose error
	if s.stream != nil {
		errStop = s.stream.Stop()
		errClose = s.stream.Close()
	}
	errTerm := portaudio.Terminate()
	return errors.Join(errStop, errClose, errTerm)
}
