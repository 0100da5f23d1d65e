// Package domain contains entity without logic, just meta-data
package domain

import "time"

// Format describes interleaved signed 16-bit PCM captured in fixed blocks.
type Format struct {
	SampleRate   int
	Channels     int
	BlockSamples int // samples per channel in one block
}

// DefaultFormat is 48 kHz stereo, 960 samples (20 ms) per block.
var DefaultFormat = Format{
	SampleRate:   48000,
	Channels:     2,
	BlockSamples: 960,
}

// BlockLen is the number of int16 values in one interleaved block.
func (f Format) BlockLen() int { return f.BlockSamples * f.Channels }

// BlockDuration is the wall-clock length of one block.
func (f Format) BlockDuration() time.Duration {
	return time.Duration(f.BlockSamples) * time.Second / time.Duration(f.SampleRate)
}

// AudioBlock is one captured block. Samples is shared by every subscriber and
// must never be written after capture.
type AudioBlock struct {
	Index   uint64
	Samples []int16
}

// Frame is a block stamped for the transport.
// PTS counts samples per channel delivered so far, in units of 1/ClockRate seconds.
type Frame struct {
	Block     AudioBlock
	PTS       uint64
	ClockRate int
	Channels  int
}

// Duration is the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.ClockRate == 0 || f.Channels == 0 {
		return 0
	}
	n := len(f.Block.Samples) / f.Channels
	return time.Duration(n) * time.Second / time.Duration(f.ClockRate)
}
