package audio

import (
	"math"
	"time"
)

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Buffer is decoded floating-point audio, one slice per channel.
// Every channel slice has the same length.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NewBuffer allocates a silent buffer of the given shape.
func NewBuffer(channels, length, sampleRate int) *Buffer {
	b := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range b.Channels {
		b.Channels[ch] = make([]float32, length)
	}
	return b
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	return len(b.Channels)
}

// Len returns the number of frames (samples per channel).
func (b *Buffer) Len() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.SampleRate)
}

// Slice returns a copy of frames [start, end).
func (b *Buffer) Slice(start, end int) *Buffer {
	n := b.Len()
	start = max(0, min(start, n))
	end = max(start, min(end, n))
	out := NewBuffer(b.NumChannels(), end-start, b.SampleRate)
	for ch, data := range b.Channels {
		copy(out.Channels[ch], data[start:end])
	}
	return out
}

// FramesFor converts seconds to a frame count at rate, rounding up like an
// offline render context sizes its output.
func FramesFor(seconds float64, rate int) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Ceil(seconds * float64(rate)))
}

// DecodeError reports audio bytes the decoder rejected or a container with
// no decodable audio stream.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Source == "" {
		return "decode audio: " + e.Err.Error()
	}
	return "decode audio " + e.Source + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }
