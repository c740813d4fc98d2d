package audio

import (
	"io"
	"sync/atomic"
)

/*
	Capture control provides Mute Unmute over capture source.
	Muted reads keep their size and timing, samples are zeroed.
*/

type CaptureControl struct {
	source io.Reader

	muted atomic.Bool
}

func NewCaptureControl(source io.Reader) *CaptureControl {
	return &CaptureControl{
		source: source,
	}
}

func (c *CaptureControl) Read(b []byte) (n int, err error) {
	n, err = c.source.Read(b)
	if n <= 0 || !c.muted.Load() {
		return n, err
	}

	for i := range b[:n] {
		b[i] = 0
	}
	return n, err
}

func (c *CaptureControl) Mute(mute bool) {
	c.muted.Store(mute)
}
