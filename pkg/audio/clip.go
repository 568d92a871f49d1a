// Package audio holds the PCM plumbing vocalis needs around its providers:
// WAV encoding and decoding, channel down-mixing, resampling and the voice
// sample cleanup applied to enrolled references.
//
// All sample data is 16-bit signed PCM, interleaved by channel.
package audio

import "time"

// Clip is a buffer of interleaved 16-bit PCM samples.
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames returns the number of sample frames (samples per channel).
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Mono down-mixes the clip to a single channel by averaging each frame.
// A mono clip is returned unchanged.
func (c Clip) Mono() Clip {
	if c.Channels <= 1 {
		return c
	}
	frames := c.Frames()
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range c.Channels {
			sum += int32(c.Samples[i*c.Channels+ch])
		}
		out[i] = int16(sum / int32(c.Channels))
	}
	return Clip{SampleRate: c.SampleRate, Channels: 1, Samples: out}
}

// Resample converts a mono clip to rate using linear interpolation. Clips that
// are not mono are down-mixed first.
func (c Clip) Resample(rate int) Clip {
	m := c.Mono()
	if rate <= 0 || m.SampleRate <= 0 || m.SampleRate == rate || len(m.Samples) == 0 {
		return m
	}
	src := m.Samples
	n := int(int64(len(src)) * int64(rate) / int64(m.SampleRate))
	out := make([]int16, n)
	ratio := float64(m.SampleRate) / float64(rate)
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := src[idx]
		s1 := s0
		if idx+1 < len(src) {
			s1 = src[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return Clip{SampleRate: rate, Channels: 1, Samples: out}
}

// Float32 returns the samples normalised to [-1.0, 1.0].
func (c Clip) Float32() []float32 {
	out := make([]float32, len(c.Samples))
	for i, s := range c.Samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Slice returns the frames in [from, to), clamped to the clip bounds.
func (c Clip) Slice(from, to int) Clip {
	frames := c.Frames()
	from = max(0, min(from, frames))
	to = max(from, min(to, frames))
	return Clip{
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		Samples:    c.Samples[from*c.Channels : to*c.Channels],
	}
}
