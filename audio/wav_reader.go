// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"io"
	"time"

	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
)

// WavReader is stream friendly wav parser. It only needs io.Reader
// and after headers are read it exposes raw data chunk as Read.
type WavReader struct {
	riff.Parser
	chunkData *riff.Chunk
	DataSize  int
}

func NewWavReader(r io.Reader) *WavReader {
	parser := riff.New(r)
	reader := WavReader{Parser: *parser}
	return &reader
}

// ReadHeaders reads until data chunk
func (r *WavReader) ReadHeaders() error {
	if err := r.Parser.ParseHeaders(); err != nil {
		return err
	}

	chunk, err := r.nextChunkByID(riff.FmtID)
	if err != nil {
		return err
	}
	if err := chunk.DecodeWavHeader(&r.Parser); err != nil {
		return err
	}

	return r.readDataChunk()
}

func (r *WavReader) readDataChunk() error {
	chunk, err := r.nextChunkByID(riff.DataFormatID)
	if err != nil {
		return err
	}
	r.chunkData = chunk
	r.DataSize = chunk.Size
	return nil
}

func (r *WavReader) nextChunkByID(id [4]byte) (*riff.Chunk, error) {
	for {
		chunk, err := r.NextChunk()
		if err != nil {
			return nil, err
		}

		if chunk.ID != id {
			chunk.Drain()
			continue
		}
		return chunk, nil
	}
}

// Read returns PCM underneath
func (r *WavReader) Read(buf []byte) (n int, err error) {
	if r.chunkData != nil {
		return r.chunkData.Read(buf)
	}

	if err := r.readDataChunk(); err != nil {
		return 0, err
	}
	return r.chunkData.Read(buf)
}

// Duration is playtime of data chunk. Valid after ReadHeaders.
func (r *WavReader) Duration() time.Duration {
	if r.AvgBytesPerSec == 0 {
		return 0
	}
	return time.Duration(float64(r.DataSize) / float64(r.AvgBytesPerSec) * float64(time.Second))
}

// NewWavDecoder is full decoder when seeking is available.
func NewWavDecoder(r io.ReadSeeker) *wav.Decoder {
	dec := wav.NewDecoder(r)
	return dec
}
