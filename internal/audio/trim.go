package audio

import "math"

const (
	// SilenceThreshold is the absolute amplitude a sample must exceed to count as sound.
	SilenceThreshold = 0.01
	// AttackBackoff is kept before the first loud sample so the attack is not cut.
	AttackBackoff = 0.01 // seconds
)

// FirstSound returns the index of the first sample on channel 0 whose
// absolute amplitude exceeds SilenceThreshold, or -1 if there is none.
func FirstSound(b *Buffer) int {
	if b.NumChannels() == 0 {
		return -1
	}
	for i, s := range b.Channels[0] {
		if math.Abs(float64(s)) > SilenceThreshold {
			return i
		}
	}
	return -1
}

// TrimLeadingSilence drops everything before the first sound minus the
// attack back-off. Entirely silent buffers, and buffers whose sound begins
// within the back-off window, are returned unchanged. Trimming a trimmed
// buffer is a no-op.
func TrimLeadingSilence(b *Buffer) *Buffer {
	first := FirstSound(b)
	if first < 0 {
		return b
	}
	start := max(0, first-int(math.Floor(float64(b.SampleRate)*AttackBackoff)))
	if start == 0 {
		return b
	}
	return b.Slice(start, b.Len())
}
