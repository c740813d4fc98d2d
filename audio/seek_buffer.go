// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"fmt"
	"io"
)

// SeekableBuffer is in memory io.WriteSeeker with file like writes.
// Writing after seek overwrites in place and keeps bytes past the
// written region, so WavWriter header rewrite on Close does not drop
// payload. Append only buffers truncate on such writes.
type SeekableBuffer struct {
	data []byte
	off  int64
}

func (b *SeekableBuffer) Write(p []byte) (int, error) {
	if end := b.off + int64(len(p)); end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	n := copy(b.data[b.off:], p)
	b.off += int64(n)
	return n, nil
}

func (b *SeekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = b.off + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("seek buffer: invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("seek buffer: negative position %d", pos)
	}
	b.off = pos
	return pos, nil
}

// Bytes is full written content regardless of current offset.
func (b *SeekableBuffer) Bytes() []byte {
	return b.data
}
