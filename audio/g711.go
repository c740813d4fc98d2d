// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"io"

	"github.com/zaf/g711"
)

/*
	G711 transcoding between 16 bit LPCM and companded 8 bit formats.
	All functions write into caller buffers to avoid allocations on audio path.
*/

func EncodeUlawTo(ulaw []byte, lpcm []byte) (int, error) {
	return encodeG711To(ulaw, lpcm, g711.EncodeUlawFrame)
}

func EncodeAlawTo(alaw []byte, lpcm []byte) (int, error) {
	return encodeG711To(alaw, lpcm, g711.EncodeAlawFrame)
}

func DecodeUlawTo(lpcm []byte, ulaw []byte) (int, error) {
	return decodeG711To(lpcm, ulaw, g711.DecodeUlawFrame)
}

func DecodeAlawTo(lpcm []byte, alaw []byte) (int, error) {
	return decodeG711To(lpcm, alaw, g711.DecodeAlawFrame)
}

func encodeG711To(encoded []byte, lpcm []byte, encodeFrame func(int16) uint8) (n int, err error) {
	if len(lpcm) > len(encoded)*2 {
		return 0, io.ErrShortBuffer
	}

	for i, j := 0, 0; j <= len(lpcm)-2; i, j = i+1, j+2 {
		encoded[i] = encodeFrame(int16(lpcm[j]) | int16(lpcm[j+1])<<8)
		n++
	}
	return n, nil
}

func decodeG711To(lpcm []byte, encoded []byte, decodeFrame func(uint8) int16) (n int, err error) {
	if encoded == nil {
		return 0, nil
	}

	if len(lpcm) < 2*len(encoded) {
		return 0, io.ErrShortBuffer
	}
	for i, j := 0, 0; i < len(encoded); i, j = i+1, j+2 {
		frame := decodeFrame(encoded[i])
		lpcm[j] = byte(frame)
		lpcm[j+1] = byte(frame >> 8)
		n += 2
	}
	return n, nil
}
