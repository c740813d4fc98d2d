// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package micgo

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emiago/micgo/audio"
	"github.com/mattetti/filebuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zaf/g711"
)

func staticOpener(data []byte) SourceOpener {
	return SourceOpenerFunc(func(ctx context.Context, constraints Constraints) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

func openerFor(source io.ReadCloser) SourceOpener {
	return SourceOpenerFunc(func(ctx context.Context, constraints Constraints) (io.ReadCloser, error) {
		return source, nil
	})
}

// pacedReader produces same byte endlessly at device like pace.
type pacedReader struct {
	delay time.Duration
	value byte
}

func (p pacedReader) Read(b []byte) (int, error) {
	time.Sleep(p.delay)
	for i := range b {
		b[i] = p.value
	}
	return len(b), nil
}

type countingSource struct {
	reader io.Reader
	closes int32
}

func (c *countingSource) Read(b []byte) (int, error) { return c.reader.Read(b) }

func (c *countingSource) Close() error {
	atomic.AddInt32(&c.closes, 1)
	return nil
}

// hangAfterSource delivers fixed data and then blocks until closed,
// like stuck device driver.
type hangAfterSource struct {
	data    []byte
	pos     int
	unblock chan struct{}
	once    sync.Once
}

func newHangAfterSource(data []byte) *hangAfterSource {
	return &hangAfterSource{data: data, unblock: make(chan struct{})}
}

func (h *hangAfterSource) Read(b []byte) (int, error) {
	if h.pos < len(h.data) {
		n := copy(b, h.data[h.pos:])
		h.pos += n
		return n, nil
	}
	<-h.unblock
	return 0, io.EOF
}

func (h *hangAfterSource) Close() error {
	h.once.Do(func() { close(h.unblock) })
	return nil
}

func waitChunks(t *testing.T, sess *Session, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.Stats().NumChunks >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d chunks, got %d", want, sess.Stats().NumChunks)
}

func TestSessionCapture(t *testing.T) {
	// 10 quanta of 128 samples at 48000Hz mono
	input := make([]byte, 10*128*2)
	for i := range input {
		input[i] = byte(i % 251)
	}

	rec := NewRecorder(WithSourceOpener(staticOpener(input)))
	sess, err := rec.Start(context.Background(), Constraints{SampleRate: 48000, NumChannels: 1})
	require.NoError(t, err)
	waitChunks(t, sess, 10)

	require.NoError(t, sess.Stop(context.Background()))
	require.Equal(t, StateFinalized, sess.State())

	stats := sess.Stats()
	assert.Equal(t, 10, stats.NumChunks)
	assert.EqualValues(t, 2560, stats.NumBytes)
	assert.InDelta(t, float64(26666*time.Microsecond), float64(stats.Duration), float64(time.Millisecond))

	data, err := sess.Finalize()
	require.NoError(t, err)
	require.Len(t, data, 44+len(input))

	// Samples survive byte exact and in capture order
	require.Equal(t, input, data[44:])

	// Independent decoder agrees on header
	dec := audio.NewWavDecoder(filebuffer.New(data))
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.EqualValues(t, 48000, dec.SampleRate)
	assert.EqualValues(t, 1, dec.NumChans)
	assert.EqualValues(t, 16, dec.BitDepth)
	require.Len(t, buf.Data, 1280)
}

func TestSessionStopIdempotent(t *testing.T) {
	src := &countingSource{reader: pacedReader{delay: time.Millisecond, value: 1}}

	rec := NewRecorder(WithSourceOpener(openerFor(src)))
	sess, err := rec.Start(context.Background(), Constraints{})
	require.NoError(t, err)
	waitChunks(t, sess, 1)

	require.NoError(t, sess.Stop(context.Background()))
	require.NoError(t, sess.Stop(context.Background()))
	require.Equal(t, StateFinalized, sess.State())

	// Source released exactly once
	assert.EqualValues(t, 1, atomic.LoadInt32(&src.closes))
}

func TestSessionEmpty(t *testing.T) {
	rec := NewRecorder(WithSourceOpener(staticOpener(nil)))
	sess, err := rec.Start(context.Background(), Constraints{})
	require.NoError(t, err)

	require.NoError(t, sess.Stop(context.Background()))

	_, err = sess.Finalize()
	require.ErrorIs(t, err, ErrSessionEmpty)
}

func TestSessionStopTimeout(t *testing.T) {
	input := make([]byte, 2*256)
	for i := range input {
		input[i] = byte(i % 251)
	}
	src := newHangAfterSource(input)

	rec := NewRecorder(
		WithSourceOpener(openerFor(src)),
		WithStopTimeout(30*time.Millisecond),
	)
	sess, err := rec.Start(context.Background(), Constraints{})
	require.NoError(t, err)
	waitChunks(t, sess, 2)

	started := time.Now()
	err = sess.Stop(context.Background())
	require.ErrorIs(t, err, ErrSessionStopTimeout)
	require.Less(t, time.Since(started), 500*time.Millisecond)
	require.Equal(t, StateFinalized, sess.State())

	// Collected audio stays available after forced finalize
	data, err := sess.Finalize()
	require.NoError(t, err)
	assert.Equal(t, input, data[44:])
}

func TestSessionStopOrderedPrefix(t *testing.T) {
	input := make([]byte, 100*256)
	for i := range input {
		input[i] = byte(i % 251)
	}

	rec := NewRecorder(WithSourceOpener(staticOpener(input)))
	sess, err := rec.Start(context.Background(), Constraints{})
	require.NoError(t, err)
	waitChunks(t, sess, 3)

	require.NoError(t, sess.Stop(context.Background()))

	data, err := sess.Finalize()
	require.NoError(t, err)
	raw := data[44:]
	require.NotEmpty(t, raw)

	// Chunks delivered after stop are not part of session. Whatever was
	// collected must be exact ordered prefix of source data.
	assert.LessOrEqual(t, len(raw), len(input))
	assert.Equal(t, input[:len(raw)], raw)
}

func TestSessionFinalizeBeforeStop(t *testing.T) {
	rec := NewRecorder(WithSourceOpener(openerFor(io.NopCloser(pacedReader{delay: time.Millisecond, value: 1}))))
	sess, err := rec.Start(context.Background(), Constraints{})
	require.NoError(t, err)
	waitChunks(t, sess, 1)

	_, err = sess.Finalize()
	require.ErrorIs(t, err, ErrSessionNotStopped)

	require.NoError(t, sess.Stop(context.Background()))
	_, err = sess.Finalize()
	require.NoError(t, err)
}

func TestSessionMute(t *testing.T) {
	rec := NewRecorder(WithSourceOpener(openerFor(io.NopCloser(pacedReader{delay: 2 * time.Millisecond, value: 1}))))
	sess, err := rec.Start(context.Background(), Constraints{})
	require.NoError(t, err)
	waitChunks(t, sess, 2)

	sess.Mute(true)
	waitChunks(t, sess, 8)

	require.NoError(t, sess.Stop(context.Background()))

	data, err := sess.Finalize()
	require.NoError(t, err)
	raw := data[44:]

	// First chunk is before mute, last one is muted
	assert.Equal(t, bytes.Repeat([]byte{1}, 256), raw[:256])
	assert.Equal(t, make([]byte, 256), raw[len(raw)-256:])
}

func TestSessionProgress(t *testing.T) {
	var mu sync.Mutex
	var reports []SessionStats

	// Half second of audio at 48000Hz mono
	rec := NewRecorder(
		WithSourceOpener(staticOpener(make([]byte, 48000))),
		WithProgress(100*time.Millisecond, func(stats SessionStats) {
			mu.Lock()
			reports = append(reports, stats)
			mu.Unlock()
		}),
	)
	sess, err := rec.Start(context.Background(), Constraints{})
	require.NoError(t, err)
	waitChunks(t, sess, 188)

	require.NoError(t, sess.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(reports), 4)
	require.LessOrEqual(t, len(reports), 6)
	for i := 1; i < len(reports); i++ {
		assert.Greater(t, reports[i].NumChunks, reports[i-1].NumChunks)
	}
}

func TestSessionFinalizeG711(t *testing.T) {
	input := make([]byte, 4*256)
	for i := range input {
		input[i] = byte(i % 251)
	}

	tests := []struct {
		name    string
		format  int
		encoded []byte
	}{
		{"Ulaw", audio.FormatUlaw, g711.EncodeUlaw(input)},
		{"Alaw", audio.FormatAlaw, g711.EncodeAlaw(input)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := NewRecorder(
				WithSourceOpener(staticOpener(input)),
				WithWavEncoding(tc.format),
			)
			sess, err := rec.Start(context.Background(), Constraints{SampleRate: 8000})
			require.NoError(t, err)
			waitChunks(t, sess, 4)

			require.NoError(t, sess.Stop(context.Background()))

			data, err := sess.Finalize()
			require.NoError(t, err)

			// 512 samples companded to single byte each after 58 byte header
			require.Len(t, data, 58+512)
			assert.EqualValues(t, tc.format, binary.LittleEndian.Uint16(data[20:22]))
			assert.EqualValues(t, 8000, binary.LittleEndian.Uint32(data[24:28]))
			assert.EqualValues(t, 512, binary.LittleEndian.Uint32(data[46:50]))
			assert.Equal(t, tc.encoded, data[58:])
		})
	}
}

func TestSessionQuantumSamples(t *testing.T) {
	input := make([]byte, 4*128)
	for i := range input {
		input[i] = byte(i % 251)
	}

	// 64 sample quanta make 128 byte chunks out of 512 byte source
	rec := NewRecorder(
		WithSourceOpener(staticOpener(input)),
		WithQuantumSamples(64),
	)
	sess, err := rec.Start(context.Background(), Constraints{})
	require.NoError(t, err)
	waitChunks(t, sess, 4)

	require.NoError(t, sess.Stop(context.Background()))

	stats := sess.Stats()
	assert.Equal(t, 4, stats.NumChunks)
	assert.EqualValues(t, 512, stats.NumBytes)

	data, err := sess.Finalize()
	require.NoError(t, err)
	require.Equal(t, input, data[44:])
}
