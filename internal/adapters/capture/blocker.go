// Package capture opens the host audio device through miniaudio and delivers
// fixed-size blocks of interleaved 16-bit samples.
package capture

import (
	"encoding/binary"

	"github.com/dkeye/audiocast/internal/core"
)

// blocker regroups the variable-size periods a driver hands out into blocks
// of exactly len(buf) samples. It allocates nothing after construction and
// is driven from one device thread only.
type blocker struct {
	buf     []int16
	n       int
	onBlock core.BlockFunc
}

func newBlocker(blockLen int, onBlock core.BlockFunc) *blocker {
	return &blocker{buf: make([]int16, blockLen), onBlock: onBlock}
}

// write consumes little-endian S16 samples. A trailing odd byte is ignored.
// miniaudio does not surface xruns, so blocks are reported without flags.
func (b *blocker) write(p []byte) {
	for len(p) >= 2 {
		take := min(len(p)/2, len(b.buf)-b.n)
		for i := 0; i < take; i++ {
			b.buf[b.n+i] = int16(binary.LittleEndian.Uint16(p[2*i:]))
		}
		b.n += take
		p = p[2*take:]
		if b.n == len(b.buf) {
			b.onBlock(b.buf, 0)
			b.n = 0
		}
	}
}
