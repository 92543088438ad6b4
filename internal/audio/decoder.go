package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Decoder turns encoded audio (any container ffmpeg understands) into a
// Buffer at a fixed output rate.
type Decoder struct {
	FFmpeg     string // binary path, "ffmpeg" when empty
	SampleRate int    // output rate, SampleRate when zero
}

// NewDecoder creates a decoder producing audio at sampleRate.
func NewDecoder(ffmpeg string, sampleRate int) *Decoder {
	return &Decoder{FFmpeg: ffmpeg, SampleRate: sampleRate}
}

func (d *Decoder) bin() string {
	if d.FFmpeg == "" {
		return "ffmpeg"
	}
	return d.FFmpeg
}

func (d *Decoder) rate() int {
	if d.SampleRate <= 0 {
		return SampleRate
	}
	return d.SampleRate
}

// DecodeFile runs FFmpeg over path and returns its first audio stream as
// float samples with the given channel count.
func (d *Decoder) DecodeFile(ctx context.Context, path string, channels int) (*Buffer, error) {
	return d.run(ctx, path, nil, channels)
}

// DecodeBytes decodes an in-memory file. PCM WAV is read directly and
// resampled in-process; everything else is piped through FFmpeg.
func (d *Decoder) DecodeBytes(ctx context.Context, data []byte, channels int) (*Buffer, error) {
	if IsWAV(data) {
		if b, err := DecodeWAV(data); err == nil {
			b, err = Resample(b, d.rate())
			if err != nil {
				return nil, &DecodeError{Err: err}
			}
			return Remix(b, channels), nil
		}
	}
	return d.run(ctx, "pipe:0", data, channels)
}

func (d *Decoder) run(ctx context.Context, input string, stdin []byte, channels int) (*Buffer, error) {
	if channels <= 0 {
		channels = Channels
	}
	cmd := exec.CommandContext(ctx, d.bin(),
		"-i", input,
		"-vn",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ar", strconv.Itoa(d.rate()),
		"-ac", strconv.Itoa(channels),
		"-loglevel", "error",
		"pipe:1",
	)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, &DecodeError{Source: input, Err: fmt.Errorf("ffmpeg decode: %w", err)}
	}
	if len(out) < 4*channels {
		return nil, &DecodeError{Source: input, Err: errors.New("no decodable audio stream")}
	}
	return fromF32LE(out, channels, d.rate()), nil
}

func fromF32LE(raw []byte, channels, rate int) *Buffer {
	frames := len(raw) / (4 * channels)
	b := NewBuffer(channels, frames, rate)
	off := 0
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			b.Channels[ch][i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
			off += 4
		}
	}
	return b
}

// Remix returns b with the requested channel count: mono is duplicated
// upward, extra channels are averaged down to mono or dropped otherwise.
func Remix(b *Buffer, channels int) *Buffer {
	if channels <= 0 || b.NumChannels() == channels || b.NumChannels() == 0 {
		return b
	}
	out := NewBuffer(channels, b.Len(), b.SampleRate)
	switch {
	case b.NumChannels() == 1:
		for ch := range out.Channels {
			copy(out.Channels[ch], b.Channels[0])
		}
	case channels == 1:
		scale := 1 / float32(b.NumChannels())
		for _, src := range b.Channels {
			for i, s := range src {
				out.Channels[0][i] += s * scale
			}
		}
	default:
		for ch := range out.Channels {
			copy(out.Channels[ch], b.Channels[ch%b.NumChannels()])
		}
	}
	return out
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
