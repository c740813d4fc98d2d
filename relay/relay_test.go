// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package relay

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDevice = errors.New("device lost")

type endlessReader struct{}

func (endlessReader) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = 1
	}
	return len(b), nil
}

type failingReader struct {
	data []byte
	pos  int
}

func (f *failingReader) Read(b []byte) (int, error) {
	if f.pos >= len(f.data) {
		return 0, errDevice
	}
	n := copy(b, f.data[f.pos:])
	f.pos += n
	return n, nil
}

func TestRelayForwardsInOrder(t *testing.T) {
	input := make([]byte, 10*128*2)
	for i := range input {
		input[i] = byte(i)
	}

	r, err := New(bytes.NewReader(input), Config{})
	require.NoError(t, err)
	go r.Run()

	collected := []byte{}
	count := 0
	for chunk := range r.Pipe() {
		assert.EqualValues(t, count, chunk.Seq)
		assert.Len(t, chunk.Samples, 128*2)
		collected = append(collected, chunk.Samples...)
		count++
	}

	require.Equal(t, 10, count)
	require.Equal(t, input, collected)
}

func TestRelayQuantumSize(t *testing.T) {
	input := make([]byte, 1920)

	r, err := New(bytes.NewReader(input), Config{NumChannels: 2, QuantumSamples: 240})
	require.NoError(t, err)
	go r.Run()

	count := 0
	for chunk := range r.Pipe() {
		require.Len(t, chunk.Samples, 240*4)
		count++
	}
	require.Equal(t, 2, count)
}

func TestRelayPartialFinalQuantum(t *testing.T) {
	input := make([]byte, 2*256+100)

	r, err := New(bytes.NewReader(input), Config{})
	require.NoError(t, err)
	go r.Run()

	sizes := []int{}
	for chunk := range r.Pipe() {
		sizes = append(sizes, len(chunk.Samples))
	}
	require.Equal(t, []int{256, 256, 100}, sizes)
}

func TestRelayStop(t *testing.T) {
	r, err := New(endlessReader{}, Config{})
	require.NoError(t, err)
	go r.Run()

	// Let capture produce
	<-r.Pipe()

	r.SignalStop()
	// Signal is monotonic, repeated calls must stay safe
	r.SignalStop()

	halted := make(chan struct{})
	go func() {
		for range r.Pipe() {
		}
		close(halted)
	}()

	select {
	case <-halted:
	case <-time.After(time.Second):
		t.Fatal("relay did not halt after stop signal")
	}
}

func TestRelayStopBeforeRun(t *testing.T) {
	r, err := New(endlessReader{}, Config{})
	require.NoError(t, err)

	r.SignalStop()
	go r.Run()

	count := 0
	for range r.Pipe() {
		count++
	}
	// Stop observed before first read, nothing may be forwarded
	require.Equal(t, 0, count)
}

func TestRelaySourceError(t *testing.T) {
	r, err := New(&failingReader{data: make([]byte, 256)}, Config{})
	require.NoError(t, err)
	go r.Run()

	count := 0
	for range r.Pipe() {
		count++
	}
	// One good quantum forwarded, then device failure halts relay
	require.Equal(t, 1, count)
}
