package audio

import (
	"math"
	"time"
)

// SanitizeOptions tunes [Sanitize]. Zero fields take the defaults noted below.
type SanitizeOptions struct {
	// MinSilence is the shortest quiet stretch that gets cut. Default 500ms.
	MinSilence time.Duration

	// ThresholdOffset is how many dB below the clip's average loudness a
	// window must be to count as silence. Default 16.
	ThresholdOffset float64

	// KeepSilence is the padding left around each voiced chunk. Default 200ms.
	KeepSilence time.Duration

	// MaxDuration caps the result length. Default 10s.
	MaxDuration time.Duration

	// Headroom is the peak level, in dB below full scale, the result is
	// normalised to. Default 0.1.
	Headroom float64
}

func (o SanitizeOptions) withDefaults() SanitizeOptions {
	if o.MinSilence <= 0 {
		o.MinSilence = 500 * time.Millisecond
	}
	if o.ThresholdOffset <= 0 {
		o.ThresholdOffset = 16
	}
	if o.KeepSilence <= 0 {
		o.KeepSilence = 200 * time.Millisecond
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 10 * time.Second
	}
	if o.Headroom <= 0 {
		o.Headroom = 0.1
	}
	return o
}

// analysisWindow is the granularity of the silence scan.
const analysisWindow = 10 * time.Millisecond

// Sanitize prepares a voice reference for cloning: long silences are removed,
// the result is capped to MaxDuration and peak-normalised. A clip that is
// silent throughout is only capped and normalised.
func Sanitize(c Clip, opts SanitizeOptions) Clip {
	opts = opts.withDefaults()
	if c.Frames() == 0 || c.SampleRate <= 0 {
		return c
	}

	out := removeSilence(c, opts)
	if limit := framesFor(out.SampleRate, opts.MaxDuration); out.Frames() > limit {
		out = out.Slice(0, limit)
	}
	return normalize(out, opts.Headroom)
}

func framesFor(rate int, d time.Duration) int {
	return int(int64(rate) * int64(d) / int64(time.Second))
}

// dBFS returns the RMS level of samples relative to full scale. Silence is
// -Inf.
func dBFS(samples []int16) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32768.0)
}

// removeSilence splits c on quiet stretches of at least MinSilence and joins
// the voiced chunks, each padded by KeepSilence.
func removeSilence(c Clip, opts SanitizeOptions) Clip {
	threshold := dBFS(c.Samples) - opts.ThresholdOffset
	win := max(1, framesFor(c.SampleRate, analysisWindow))
	minRun := max(1, int(opts.MinSilence/analysisWindow))
	keep := framesFor(c.SampleRate, opts.KeepSilence)

	windows := (c.Frames() + win - 1) / win
	silent := make([]bool, windows)
	for i := range windows {
		w := c.Slice(i*win, (i+1)*win)
		silent[i] = dBFS(w.Samples) < threshold
	}

	// Collect voiced ranges in frames, separated by silent runs >= minRun.
	type span struct{ from, to int }
	var voiced []span
	start := 0
	for i := 0; i <= windows; i++ {
		if i < windows && !silent[i] {
			continue
		}
		runStart := i
		for i < windows && silent[i] {
			i++
		}
		if i-runStart >= minRun || i == windows {
			if runStart > start {
				voiced = append(voiced, span{start * win, runStart * win})
			}
			start = i
		}
	}
	if len(voiced) == 0 {
		return c
	}

	var samples []int16
	prevEnd := 0
	for _, v := range voiced {
		from := max(prevEnd, v.from-keep)
		to := min(c.Frames(), v.to+keep)
		samples = append(samples, c.Slice(from, to).Samples...)
		prevEnd = to
	}
	return Clip{SampleRate: c.SampleRate, Channels: c.Channels, Samples: samples}
}

// normalize scales c so its peak sits headroom dB below full scale.
func normalize(c Clip, headroom float64) Clip {
	var peak int32
	for _, s := range c.Samples {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		peak = max(peak, v)
	}
	if peak == 0 {
		return c
	}
	target := 32767 * math.Pow(10, -headroom/20)
	gain := target / float64(peak)

	out := make([]int16, len(c.Samples))
	for i, s := range c.Samples {
		v := math.Round(float64(s) * gain)
		out[i] = int16(max(-32768, min(32767, v)))
	}
	return Clip{SampleRate: c.SampleRate, Channels: c.Channels, Samples: out}
}
