// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

/*
	Capture pipeline is always 16 bit little endian LPCM.
	Companded formats only appear on edges, when serializing recording
	or when reading telephony grade wav files as capture input.
*/

// PCMEncoder translates LPCM to companded format given by wav format code.
type PCMEncoder struct {
	EncoderTo func(encoded []byte, lpcm []byte) (int, error)
}

func NewPCMEncoder(format int) (*PCMEncoder, error) {
	enc := &PCMEncoder{}
	return enc, enc.Init(format)
}

// Init should be called only once after creating PCMEncoder
func (enc *PCMEncoder) Init(format int) error {
	switch format {
	case FormatUlaw:
		enc.EncoderTo = EncodeUlawTo
	case FormatAlaw:
		enc.EncoderTo = EncodeAlawTo
	default:
		return fmt.Errorf("not supported format %d", format)
	}
	return nil
}

// PCMDecoder translates companded format back to LPCM.
type PCMDecoder struct {
	// DecoderTo must know size in advance
	DecoderTo func(lpcm []byte, encoded []byte) (int, error)
}

func NewPCMDecoder(format int) (*PCMDecoder, error) {
	dec := &PCMDecoder{}
	return dec, dec.Init(format)
}

func (dec *PCMDecoder) Init(format int) error {
	switch format {
	case FormatUlaw:
		dec.DecoderTo = DecodeUlawTo
	case FormatAlaw:
		dec.DecoderTo = DecodeAlawTo
	default:
		return fmt.Errorf("not supported format %d", format)
	}
	return nil
}

// PCMDecoderReader is streamer implementing io.Reader. It reads encoded
// data from source and returns LPCM. Read buffer dictates how much
// encoded data is pulled, so short final reads stay aligned.
type PCMDecoderReader struct {
	PCMDecoder
	Source  io.Reader
	BufSize int
	buf     []byte
}

func NewPCMDecoderReader(format int, reader io.Reader) (*PCMDecoderReader, error) {
	dec, err := NewPCMDecoder(format)
	if err != nil {
		return nil, err
	}
	return &PCMDecoderReader{
		PCMDecoder: *dec,
		Source:     reader,
		BufSize:    4096,
	}, nil
}

func (d *PCMDecoderReader) Read(b []byte) (n int, err error) {
	if d.buf == nil {
		d.buf = make([]byte, d.BufSize)
	}

	// Every encoded byte expands to 2 bytes of LPCM
	max := len(b) / 2
	if max == 0 {
		return 0, io.ErrShortBuffer
	}
	if max > len(d.buf) {
		max = len(d.buf)
	}

	n, err = d.Source.Read(d.buf[:max])
	if err != nil {
		return 0, err
	}

	return d.DecoderTo(b, d.buf[:n])
}

// PCMEncoderWriter encodes LPCM writes and passes encoded data to writer.
type PCMEncoderWriter struct {
	PCMEncoder
	Writer io.Writer
	buf    []byte
}

func NewPCMEncoderWriter(format int, writer io.Writer) (*PCMEncoderWriter, error) {
	enc, err := NewPCMEncoder(format)
	if err != nil {
		return nil, err
	}
	return &PCMEncoderWriter{PCMEncoder: *enc, Writer: writer}, nil
}

func (d *PCMEncoderWriter) Write(lpcm []byte) (int, error) {
	need := (len(lpcm) + 1) / 2
	if len(d.buf) < need {
		d.buf = make([]byte, need)
	}

	n, err := d.EncoderTo(d.buf, lpcm)
	if err != nil {
		return 0, err
	}
	encoded := d.buf[:n]

	nn, err := d.Writer.Write(encoded)
	if err != nil {
		return nn, err
	}
	if nn != len(encoded) {
		return 0, io.ErrShortWrite
	}

	return len(lpcm), nil
}

func SamplesByteToInt16(input []byte, output []int16) (int, error) {
	if len(output) < len(input)/2 {
		return 0, fmt.Errorf("SamplesByteToInt16: output is too small buffer. expected=%d, received=%d: %w", len(input)/2, len(output), io.ErrShortBuffer)
	}

	j := 0
	for i := 0; i < len(input); i, j = i+2, j+1 {
		output[j] = int16(binary.LittleEndian.Uint16(input[i : i+2]))
	}
	return len(input) / 2, nil
}

func SamplesInt16ToBytes(input []int16, output []byte) (int, error) {
	if len(output) < len(input)*2 {
		return 0, fmt.Errorf("SamplesInt16ToBytes: output is too small buffer. expected=%d, received=%d: %w", len(input)*2, len(output), io.ErrShortBuffer)
	}

	j := 0
	for _, sample := range input {
		binary.LittleEndian.PutUint16(output[j:j+2], uint16(sample))
		j += 2
	}
	return len(input) * 2, nil
}

// RMS is root mean square level of LPCM frame. Useful for level meters
// and silence detection on clean samples.
func RMS(lpcm []byte) float64 {
	numSamples := len(lpcm) / 2
	if numSamples == 0 {
		return 0
	}

	var sumSquares float64
	for i := 0; i+1 < len(lpcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(lpcm[i:])))
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(numSamples))
}
