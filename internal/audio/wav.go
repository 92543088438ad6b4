package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVHeaderSize is the size of the canonical PCM header written by EncodeWAV.
const WAVHeaderSize = 44

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * BlockAlign
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV serializes b as 16-bit PCM WAV. Samples are clamped to [-1, 1]
// and scaled asymmetrically (32768 below zero, 32767 otherwise) so +1.0 does
// not overflow. Channel slices of unequal length are a caller bug.
func EncodeWAV(b *Buffer) []byte {
	numChannels := b.NumChannels()
	frames := b.Len()
	blockAlign := numChannels * BitDepth / 8
	dataSize := frames * blockAlign

	out := make([]byte, WAVHeaderSize+dataSize)
	putHeader(out, numChannels, b.SampleRate, dataSize)

	off := WAVHeaderSize
	for i := 0; i < frames; i++ {
		for ch := 0; ch < numChannels; ch++ {
			binary.LittleEndian.PutUint16(out[off:], uint16(quantize(b.Channels[ch][i])))
			off += 2
		}
	}
	return out
}

func putHeader(out []byte, numChannels, sampleRate, dataSize int) {
	blockAlign := numChannels * BitDepth / 8
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], uint16(numChannels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], BitDepth)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
}

func quantize(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

func dequantize(v int) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}

// IsWAV reports whether data starts with a RIFF/WAVE signature.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV decodes integer PCM WAV data into a Buffer. 16-bit data uses the
// inverse of EncodeWAV's scaling.
func DecodeWAV(data []byte) (*Buffer, error) {
	if !IsWAV(data) {
		return nil, &DecodeError{Err: errors.New("not a RIFF/WAVE stream")}
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, &DecodeError{Err: errors.New("invalid wav header")}
	}
	if dec.WavAudioFormat != 1 {
		return nil, &DecodeError{Err: fmt.Errorf("unsupported wav format %d (only PCM)", dec.WavAudioFormat)}
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("read pcm: %w", err)}
	}
	return fromIntBuffer(pcm, int(dec.BitDepth))
}

func fromIntBuffer(pcm *goaudio.IntBuffer, bitDepth int) (*Buffer, error) {
	if pcm.Format == nil || pcm.Format.NumChannels <= 0 || pcm.Format.SampleRate <= 0 {
		return nil, &DecodeError{Err: errors.New("missing pcm format")}
	}

	var scale func(int) float32
	switch bitDepth {
	case 16:
		scale = dequantize
	case 24:
		scale = func(v int) float32 { return float32(v) / (1 << 23) }
	case 32:
		scale = func(v int) float32 { return float32(float64(v) / (1 << 31)) }
	default:
		return nil, &DecodeError{Err: fmt.Errorf("unsupported bit depth %d", bitDepth)}
	}

	nc := pcm.Format.NumChannels
	frames := len(pcm.Data) / nc
	b := NewBuffer(nc, frames, pcm.Format.SampleRate)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < nc; ch++ {
			b.Channels[ch][i] = scale(pcm.Data[i*nc+ch])
		}
	}
	return b, nil
}

// WAVInfo describes a canonical PCM WAV header.
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	DataSize      uint32  `json:"data_size_bytes"`
	Frames        uint32  `json:"frames"`
	Duration      float64 `json:"duration_seconds"`
}

// ParseWAVInfo reads the 44-byte header written by EncodeWAV.
func ParseWAVInfo(data []byte) (*WAVInfo, error) {
	if len(data) < WAVHeaderSize {
		return nil, fmt.Errorf("wav data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	var h wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		return nil, errors.New("invalid wav file: missing RIFF/WAVE")
	}
	if string(h.Subchunk1ID[:]) != "fmt " || string(h.Subchunk2ID[:]) != "data" {
		return nil, errors.New("invalid wav file: non-canonical chunk layout")
	}
	if h.BlockAlign == 0 || h.SampleRate == 0 {
		return nil, errors.New("invalid wav file: zero block align or sample rate")
	}

	frames := h.Subchunk2Size / uint32(h.BlockAlign)
	return &WAVInfo{
		SampleRate:    h.SampleRate,
		Channels:      h.NumChannels,
		BitsPerSample: h.BitsPerSample,
		DataSize:      h.Subchunk2Size,
		Frames:        frames,
		Duration:      float64(frames) / float64(h.SampleRate),
	}, nil
}
