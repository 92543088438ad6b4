package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/satindergrewal/dubstudio/internal/audio"
)

// ExtractedName is the file name given to every extracted track.
const ExtractedName = "extracted-audio.wav"

// AudioFile is an encoded audio file held in memory.
type AudioFile struct {
	Name        string
	ContentType string
	Data        []byte
	Duration    float64
}

// Extractor pulls the audio track out of a video as a stereo WAV.
type Extractor struct {
	tools   *Toolkit
	decoder *audio.Decoder
	rate    int
}

// NewExtractor creates an extractor decoding at sampleRate.
func NewExtractor(tools *Toolkit, sampleRate int) *Extractor {
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	return &Extractor{
		tools:   tools,
		decoder: audio.NewDecoder(tools.FFmpeg, sampleRate),
		rate:    sampleRate,
	}
}

// ExtractAudio decodes the whole audio track of the video at videoPath in a
// single pass and returns it as a 16-bit stereo WAV. The output length is
// the container duration: short tracks are padded with silence, overflow is
// dropped.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath string) (*AudioFile, error) {
	info, err := e.tools.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if !info.HasAudio() {
		return nil, &audio.DecodeError{Source: videoPath, Err: errors.New("no audio stream")}
	}

	decoded, err := e.decoder.DecodeFile(ctx, videoPath, 2)
	if err != nil {
		return nil, err
	}

	buf := audio.NewBuffer(2, audio.FramesFor(info.Duration, e.rate), e.rate)
	for ch := range buf.Channels {
		copy(buf.Channels[ch], decoded.Channels[ch])
	}

	log.Printf("[extract] %s: %.2fs %s, %d frames at %dHz",
		videoPath, info.Duration, info.AudioCodec, buf.Len(), e.rate)

	return &AudioFile{
		Name:        ExtractedName,
		ContentType: "audio/wav",
		Data:        audio.EncodeWAV(buf),
		Duration:    buf.Duration(),
	}, nil
}

// ExtractAudioBytes extracts from an in-memory video, such as an upload.
// The bytes are staged in a temp file that is removed before returning.
func (e *Extractor) ExtractAudioBytes(ctx context.Context, data []byte, name string) (*AudioFile, error) {
	path, cleanup, err := e.tools.stage(data, name)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return e.ExtractAudio(ctx, path)
}

// VideoDuration returns the duration of the video at path in seconds.
func (e *Extractor) VideoDuration(ctx context.Context, path string) (float64, error) {
	return e.tools.VideoDuration(ctx, path)
}

// stage writes data to a temp file carrying name's extension.
func (t *Toolkit) stage(data []byte, name string) (string, func(), error) {
	f, err := os.CreateTemp(t.WorkDir, "studio-upload-*"+safeExt(name))
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}

func safeExt(name string) string {
	for i := len(name) - 1; i >= 0 && len(name)-i <= 8; i-- {
		switch name[i] {
		case '.':
			return name[i:]
		case '/', '\\':
			return ""
		}
	}
	return ""
}
