package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts b to the target sample rate, one channel at a time, and
// returns b itself when the rates already match. The output is padded or cut
// to the length implied by the rate ratio so clip durations survive the
// filter's group delay.
func Resample(b *Buffer, rate int) (*Buffer, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("resample: invalid target rate %d", rate)
	}
	if b.SampleRate == rate {
		return b, nil
	}
	if b.Len() == 0 {
		return NewBuffer(b.NumChannels(), 0, rate), nil
	}

	want := int(float64(b.Len()) * float64(rate) / float64(b.SampleRate))
	out := NewBuffer(b.NumChannels(), want, rate)

	for ch, data := range b.Channels {
		r, err := resampling.New(&resampling.Config{
			InputRate:  float64(b.SampleRate),
			OutputRate: float64(rate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create resampler: %w", err)
		}

		input := make([]float64, len(data))
		for i, s := range data {
			input[i] = float64(s)
		}
		output, err := r.Process(input)
		if err != nil {
			return nil, fmt.Errorf("resample error: %w", err)
		}
		tail, err := r.Flush()
		if err != nil {
			return nil, fmt.Errorf("resample flush: %w", err)
		}
		output = append(output, tail...)

		dst := out.Channels[ch]
		for i := 0; i < len(dst) && i < len(output); i++ {
			dst[i] = float32(output[i])
		}
	}
	return out, nil
}
