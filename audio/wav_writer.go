// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"encoding/binary"
	"io"
)

// WAV format codes used in fmt chunk.
const (
	FormatPCM  = 1
	FormatAlaw = 6
	FormatUlaw = 7
)

// WavWriter writes wav stream on top of io.WriteSeeker.
// Header is written lazily on first write and finalized on Close,
// which makes it usable for captures where data size is not known upfront.
type WavWriter struct {
	SampleRate  int
	BitDepth    int
	NumChans    int
	AudioFormat int

	W              io.WriteSeeker
	headersWritten bool
	dataSize       int64
}

// NewWavWriter creates wav writer with capture defaults 48000 16bit mono PCM.
func NewWavWriter(w io.WriteSeeker) *WavWriter {
	return &WavWriter{
		SampleRate:  48000,
		BitDepth:    16,
		NumChans:    1,
		AudioFormat: FormatPCM,
		dataSize:    0,
		W:           w,
	}
}

func (ww *WavWriter) Write(audio []byte) (int, error) {
	n, err := ww.writeData(audio)
	ww.dataSize += int64(n)
	return n, err
}

func (ww *WavWriter) writeData(audio []byte) (int, error) {
	w := ww.W
	if ww.headersWritten {
		return w.Write(audio)
	}

	_, err := ww.writeHeader()
	if err != nil {
		return 0, err
	}
	ww.headersWritten = true

	n, err := w.Write(audio)
	return n, err
}

func (ww *WavWriter) headerSize() int {
	if ww.AudioFormat == FormatPCM {
		return 44
	}
	// Non PCM carries extended fmt chunk and fact chunk
	return 58
}

func (ww *WavWriter) writeHeader() (int, error) {
	w := ww.W

	audioFormat := ww.AudioFormat
	numChannels := ww.NumChans
	bitsPerSample := ww.BitDepth
	sampleRate := ww.SampleRate
	blockAlign := bitsPerSample * numChannels / 8
	byteRate := sampleRate * blockAlign

	headerSize := ww.headerSize()
	// Calculate file size
	fileSize := ww.dataSize + int64(headerSize) - 8

	// Create the header
	header := make([]byte, headerSize)
	copy(header[0:4], []byte("RIFF"))
	binary.LittleEndian.PutUint32(header[4:8], uint32(fileSize))
	copy(header[8:12], []byte("WAVE"))

	// fmt subchunk
	fmtChunkSize := 16
	if audioFormat != FormatPCM {
		fmtChunkSize = 18
	}
	copy(header[12:16], []byte("fmt "))
	binary.LittleEndian.PutUint32(header[16:20], uint32(fmtChunkSize))
	binary.LittleEndian.PutUint16(header[20:22], uint16(audioFormat))
	binary.LittleEndian.PutUint16(header[22:24], uint16(numChannels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))

	off := 36
	if audioFormat != FormatPCM {
		// cbSize with no extension bytes
		binary.LittleEndian.PutUint16(header[36:38], 0)
		// fact subchunk carries number of sample frames, required for non PCM
		copy(header[38:42], []byte("fact"))
		binary.LittleEndian.PutUint32(header[42:46], 4)
		binary.LittleEndian.PutUint32(header[46:50], uint32(ww.dataSize/int64(blockAlign)))
		off = 50
	}

	// data chunk
	copy(header[off:off+4], []byte("data"))
	binary.LittleEndian.PutUint32(header[off+4:off+8], uint32(ww.dataSize))

	return w.Write(header)
}

func (ww *WavWriter) Close() error {
	// It is needed to finalize and update wav
	_, err := ww.W.Seek(0, 0)
	if err != nil {
		return err
	}
	// Update header.
	_, err = ww.writeHeader()
	if err != nil {
		return err
	}
	return err
}
