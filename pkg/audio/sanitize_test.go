package audio

import (
	"math"
	"testing"
	"time"
)

const testRate = 16000

// tone returns d of a 440 Hz sine at the given amplitude.
func tone(d time.Duration, amp float64) []int16 {
	n := framesFor(testRate, d)
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*440*float64(i)/testRate))
	}
	return out
}

func silence(d time.Duration) []int16 {
	return make([]int16, framesFor(testRate, d))
}

func concat(parts ...[]int16) []int16 {
	var out []int16
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestSanitize_RemovesLongSilence(t *testing.T) {
	t.Parallel()

	in := Clip{SampleRate: testRate, Channels: 1, Samples: concat(
		silence(time.Second),
		tone(time.Second, 8000),
		silence(2*time.Second),
		tone(time.Second, 8000),
		silence(time.Second),
	)}

	out := Sanitize(in, SanitizeOptions{})
	// Two voiced seconds plus at most 200ms padding on each side of each chunk.
	if d := out.Duration(); d < 2*time.Second || d > 2*time.Second+900*time.Millisecond {
		t.Fatalf("duration = %v, want roughly 2s", d)
	}
}

func TestSanitize_KeepsShortPauses(t *testing.T) {
	t.Parallel()

	in := Clip{SampleRate: testRate, Channels: 1, Samples: concat(
		tone(time.Second, 8000),
		silence(300*time.Millisecond),
		tone(time.Second, 8000),
	)}
	out := Sanitize(in, SanitizeOptions{})
	if out.Frames() != in.Frames() {
		t.Fatalf("frames = %d, want %d", out.Frames(), in.Frames())
	}
}

func TestSanitize_CapsDuration(t *testing.T) {
	t.Parallel()

	in := Clip{SampleRate: testRate, Channels: 1, Samples: tone(15*time.Second, 8000)}
	out := Sanitize(in, SanitizeOptions{})
	if d := out.Duration(); d != 10*time.Second {
		t.Fatalf("duration = %v, want 10s", d)
	}
}

func TestSanitize_Normalizes(t *testing.T) {
	t.Parallel()

	in := Clip{SampleRate: testRate, Channels: 1, Samples: tone(time.Second, 1000)}
	out := Sanitize(in, SanitizeOptions{})

	var peak int16
	for _, s := range out.Samples {
		peak = max(peak, s)
	}
	want := int16(32767 * math.Pow(10, -0.1/20))
	if peak < want-2 || peak > want+2 {
		t.Fatalf("peak = %d, want about %d", peak, want)
	}
}

func TestSanitize_AllSilent(t *testing.T) {
	t.Parallel()

	in := Clip{SampleRate: testRate, Channels: 1, Samples: silence(time.Second)}
	out := Sanitize(in, SanitizeOptions{})
	if out.Frames() != in.Frames() {
		t.Fatalf("frames = %d, want %d", out.Frames(), in.Frames())
	}
}
