package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

// roundTripTolerance is one 16-bit step: 1/32768 below zero, 1/32767 at
// and above it.
func roundTripTolerance(s float32) float64 {
	if s < 0 {
		return 1.0/32768 + 1e-7
	}
	return 1.0/32767 + 1e-7
}

func sineBuffer(channels, rate int, seconds, freq, amp float64) *Buffer {
	n := int(float64(rate) * seconds)
	b := NewBuffer(channels, n, rate)
	for ch := range b.Channels {
		for i := range b.Channels[ch] {
			phase := float64(ch) * math.Pi / 4
			b.Channels[ch][i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)+phase))
		}
	}
	return b
}

func TestEncodeWAVHeader(t *testing.T) {
	b := NewBuffer(2, 100, 44100)
	data := EncodeWAV(b)

	dataLen := 2 * 2 * 100
	if len(data) != WAVHeaderSize+dataLen {
		t.Fatalf("len = %d, want %d", len(data), WAVHeaderSize+dataLen)
	}

	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"riff size", binary.LittleEndian.Uint32(data[4:]), uint32(36 + dataLen)},
		{"fmt size", binary.LittleEndian.Uint32(data[16:]), 16},
		{"format", uint32(binary.LittleEndian.Uint16(data[20:])), 1},
		{"channels", uint32(binary.LittleEndian.Uint16(data[22:])), 2},
		{"sample rate", binary.LittleEndian.Uint32(data[24:]), 44100},
		{"byte rate", binary.LittleEndian.Uint32(data[28:]), 44100 * 4},
		{"block align", uint32(binary.LittleEndian.Uint16(data[32:])), 4},
		{"bits", uint32(binary.LittleEndian.Uint16(data[34:])), 16},
		{"data size", binary.LittleEndian.Uint32(data[40:]), uint32(dataLen)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	for off, tag := range map[int]string{0: "RIFF", 8: "WAVE", 12: "fmt ", 36: "data"} {
		if got := string(data[off : off+4]); got != tag {
			t.Errorf("tag at %d = %q, want %q", off, got, tag)
		}
	}
}

func TestEncodeWAVQuantization(t *testing.T) {
	b := NewBuffer(1, 7, 8000)
	copy(b.Channels[0], []float32{0, 1, -1, 1.5, -2, 0.5, -0.5})

	data := EncodeWAV(b)
	want := []int16{0, 32767, -32768, 32767, -32768, 16383, -16384}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(data[WAVHeaderSize+i*2:]))
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestEncodeWAVInterleaves(t *testing.T) {
	b := NewBuffer(2, 2, 8000)
	b.Channels[0][0], b.Channels[0][1] = 1, 0
	b.Channels[1][0], b.Channels[1][1] = 0, -1

	data := EncodeWAV(b)
	want := []int16{32767, 0, 0, -32768}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(data[WAVHeaderSize+i*2:]))
		if got != w {
			t.Errorf("interleaved[%d] = %d, want %d", i, got, w)
		}
	}
}

func TestEncodeWAVEmptyBuffer(t *testing.T) {
	data := EncodeWAV(NewBuffer(1, 0, 16000))
	if len(data) != WAVHeaderSize {
		t.Errorf("empty buffer encodes to %d bytes, want %d", len(data), WAVHeaderSize)
	}
	if got := binary.LittleEndian.Uint32(data[4:]); got != 36 {
		t.Errorf("riff size = %d, want 36", got)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	for _, channels := range []int{1, 2} {
		for _, rate := range []int{8000, 44100, 48000} {
			b := sineBuffer(channels, rate, 0.05, 440, 0.8)
			out, err := DecodeWAV(EncodeWAV(b))
			if err != nil {
				t.Fatalf("DecodeWAV(%dch %dHz): %v", channels, rate, err)
			}
			if out.NumChannels() != channels || out.SampleRate != rate || out.Len() != b.Len() {
				t.Fatalf("shape = %dch %dHz %d frames, want %dch %dHz %d frames",
					out.NumChannels(), out.SampleRate, out.Len(), channels, rate, b.Len())
			}
			for ch := range b.Channels {
				for i := range b.Channels[ch] {
					if d := math.Abs(float64(out.Channels[ch][i] - b.Channels[ch][i])); d > roundTripTolerance(b.Channels[ch][i]) {
						t.Fatalf("%dch %dHz sample[%d][%d] off by %v", channels, rate, ch, i, d)
					}
				}
			}
		}
	}
}

func TestWAVRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	b := NewBuffer(2, 2000, 22050)
	for ch := range b.Channels {
		for i := range b.Channels[ch] {
			b.Channels[ch][i] = float32(r.Float64()*2 - 1)
		}
	}
	out, err := DecodeWAV(EncodeWAV(b))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	for ch := range b.Channels {
		for i := range b.Channels[ch] {
			if d := math.Abs(float64(out.Channels[ch][i] - b.Channels[ch][i])); d > roundTripTolerance(b.Channels[ch][i]) {
				t.Fatalf("sample[%d][%d] off by %v", ch, i, d)
			}
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, err := DecodeWAV([]byte("definitely not a wav file"))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
}

func TestParseWAVInfo(t *testing.T) {
	b := NewBuffer(2, 48000, 48000)
	info, err := ParseWAVInfo(EncodeWAV(b))
	if err != nil {
		t.Fatalf("ParseWAVInfo: %v", err)
	}
	if info.SampleRate != 48000 || info.Channels != 2 || info.BitsPerSample != 16 {
		t.Errorf("info = %+v", info)
	}
	if info.Frames != 48000 {
		t.Errorf("Frames = %d, want 48000", info.Frames)
	}
	if math.Abs(info.Duration-1) > 1e-9 {
		t.Errorf("Duration = %v, want 1", info.Duration)
	}
}

func TestParseWAVInfoShort(t *testing.T) {
	if _, err := ParseWAVInfo([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short data")
	}
	bad := make([]byte, 50)
	copy(bad, "FAKE")
	if _, err := ParseWAVInfo(bad); err == nil {
		t.Error("expected error for missing RIFF")
	}
}
