package audio

import "math"

const (
	MinStretchRatio = 0.3
	MaxStretchRatio = 3.0
)

// TimeStretch changes playback rate so b lasts roughly targetDuration
// seconds. The rate is clamped to [MinStretchRatio, MaxStretchRatio] and,
// like a sped-up tape, pitch moves with it. Samples between source frames
// are linearly interpolated.
func TimeStretch(b *Buffer, targetDuration float64) *Buffer {
	if targetDuration <= 0 || b.Len() == 0 {
		return b
	}
	ratio := b.Duration() / targetDuration
	ratio = math.Max(MinStretchRatio, math.Min(MaxStretchRatio, ratio))

	n := int(math.Ceil(float64(b.Len()) / ratio))
	out := NewBuffer(b.NumChannels(), n, b.SampleRate)
	last := b.Len() - 1

	for ch, src := range b.Channels {
		dst := out.Channels[ch]
		for i := range dst {
			pos := float64(i) * ratio
			j := int(pos)
			if j >= last {
				// playback ran past the source end
				if j == last {
					dst[i] = src[last]
				}
				continue
			}
			frac := float32(pos - float64(j))
			dst[i] = src[j]*(1-frac) + src[j+1]*frac
		}
	}
	return out
}
