package rtc

import "fmt"

// pcmuRate is the G.711 sample rate.
const pcmuRate = 8000

// pcmuEncoder turns captured blocks into G.711 μ-law payloads: channels are
// mixed down to mono and groups of `ratio` frames are averaged to reach 8 kHz.
type pcmuEncoder struct {
	channels int
	ratio    int
	buf      []byte
}

func newPCMUEncoder(sampleRate, channels int) (*pcmuEncoder, error) {
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if sampleRate < pcmuRate || sampleRate%pcmuRate != 0 {
		return nil, fmt.Errorf("sample rate %d is not a multiple of %d", sampleRate, pcmuRate)
	}
	return &pcmuEncoder{channels: channels, ratio: sampleRate / pcmuRate}, nil
}

// encode returns a payload valid until the next call.
func (e *pcmuEncoder) encode(samples []int16) []byte {
	group := e.ratio * e.channels
	n := len(samples) / group
	e.buf = e.buf[:0]
	for i := 0; i < n; i++ {
		var acc int32
		for _, s := range samples[i*group : (i+1)*group] {
			acc += int32(s)
		}
		e.buf = append(e.buf, linearToMulaw(acc/int32(group)))
	}
	return e.buf
}

// samplesPerPayload is the RTP timestamp increment for a block of n frames.
func (e *pcmuEncoder) samplesPerPayload(frames int) uint32 {
	return uint32(frames / e.ratio)
}

// linearToMulaw converts a 16-bit signed PCM sample to μ-law.
func linearToMulaw(sample int32) byte {
	const bias = 0x84
	const clip = 32635

	sign := byte(0)
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > clip {
		sample = clip
	}
	sample += bias

	exp := 7
	for mask := int32(0x4000); exp > 0; exp-- {
		if sample&mask != 0 {
			break
		}
		mask >>= 1
	}
	mantissa := (sample >> (uint(exp) + 3)) & 0x0F
	return ^(sign | byte(exp<<4) | byte(mantissa))
}
