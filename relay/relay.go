// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package relay moves fixed size audio quanta from capture source to
// session over ordered pipe. It is the only code running on the capture
// goroutine, so it must not block on anything except source reads.
package relay

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

var (
	// QuantumSamples is number of sample frames forwarded per chunk.
	QuantumSamples = 128

	// PipeSize is chunk capacity of pipe. When receiver drains slower
	// than capture produces, relay blocks on full pipe instead of
	// dropping audio.
	PipeSize = 128

	// RelayDebug enables per quantum logging. Very verbose.
	RelayDebug = false
)

// Chunk is one quantum of 16 bit LPCM. Samples buffer is owned by
// receiver once forwarded and never reused by relay.
type Chunk struct {
	Seq     uint32
	Samples []byte
}

// Relay pumps quanta from capture source until stop is signaled or
// source ends. Create with New, start Run on dedicated goroutine and
// receive from Pipe until it is closed. Closed pipe is the halt
// acknowledgment. Relay guarantees no writes after close, so receiver
// can rely on channel range loop.
type Relay struct {
	source      io.Reader
	quantum     int
	sampleBytes int

	pipe     chan Chunk
	stopCh   chan struct{}
	stopOnce sync.Once

	// Owned by capture goroutine
	stopped bool
	seq     uint32
}

type Config struct {
	// NumChannels of interleaved LPCM delivered by source. Default 1.
	NumChannels int
	// QuantumSamples overrides package default when positive.
	QuantumSamples int
}

func New(source io.Reader, conf Config) (*Relay, error) {
	if source == nil {
		return nil, errors.New("relay: source must be set")
	}

	numChans := conf.NumChannels
	if numChans == 0 {
		numChans = 1
	}
	quantum := conf.QuantumSamples
	if quantum <= 0 {
		quantum = QuantumSamples
	}

	r := &Relay{
		source:      source,
		quantum:     quantum,
		sampleBytes: 2 * numChans,
		pipe:        make(chan Chunk, PipeSize),
		stopCh:      make(chan struct{}),
	}
	return r, nil
}

// Pipe is receive side of chunk pipe. Chunks arrive in capture order,
// one per quantum.
func (r *Relay) Pipe() <-chan Chunk {
	return r.pipe
}

// SignalStop requests halt. It never blocks and can be called any
// number of times from any goroutine. First call wins, signal stays up.
func (r *Relay) SignalStop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

// Run is capture loop. It returns when stop was observed or source
// ended, and pipe close on return is the only halt acknowledgment.
func (r *Relay) Run() {
	defer close(r.pipe)
	for r.processQuantum() {
	}
}

// processQuantum is single capture iteration: observe stop signal, read
// one quantum, forward it. Stop observation is non blocking so capture
// timing never depends on controller. Returns false when loop must halt.
func (r *Relay) processQuantum() bool {
	if !r.stopped {
		select {
		case <-r.stopCh:
			r.stopped = true
		default:
		}
	}
	if r.stopped {
		return false
	}

	buf := make([]byte, r.quantum*r.sampleBytes)
	n, err := io.ReadFull(r.source, buf)
	if n > 0 {
		chunk := Chunk{Seq: r.seq, Samples: buf[:n]}
		r.seq++

		if RelayDebug {
			slog.Debug("Chunk forwarded", "seq", chunk.Seq, "bytes", len(chunk.Samples))
		}
		r.pipe <- chunk
	}

	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			slog.Error("Capture source failed", "error", err)
		}
		return false
	}
	return true
}
