package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

type probeFormat struct {
	Filename string `json:"filename"`
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

// ProbeStream is one stream as reported by ffprobe.
type ProbeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"` // video, audio, subtitle
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	RFrameRate string `json:"r_frame_rate,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Duration   string `json:"duration,omitempty"`
}

// MediaInfo is the metadata a player needs before it can start: duration,
// frame size and which tracks exist.
type MediaInfo struct {
	Duration   float64       `json:"duration"`
	VideoCodec string        `json:"video_codec"`
	AudioCodec string        `json:"audio_codec"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	FrameRate  string        `json:"frame_rate"`
	Streams    []ProbeStream `json:"streams"`
}

// HasVideo reports whether a video stream was found.
func (m *MediaInfo) HasVideo() bool { return m.VideoCodec != "" }

// HasAudio reports whether an audio stream was found.
func (m *MediaInfo) HasAudio() bool { return m.AudioCodec != "" }

// LoadError reports media whose metadata could not be read.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Probe loads metadata for path with ffprobe.
func (t *Toolkit) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, t.ffprobe(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, &LoadError{Source: path, Err: fmt.Errorf("ffprobe: %w", err)}
	}

	info, err := parseProbe(output)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	return info, nil
}

func parseProbe(output []byte) (*MediaInfo, error) {
	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &MediaInfo{Streams: result.Streams}
	if d, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
		info.Duration = d
	}

	for _, s := range result.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
				info.FrameRate = s.RFrameRate
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
		// Some containers only carry duration per stream.
		if info.Duration <= 0 {
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > 0 {
				info.Duration = d
			}
		}
	}

	if info.Duration <= 0 {
		return nil, errors.New("unknown duration")
	}
	return info, nil
}

// VideoDuration returns the duration of a video in seconds.
func (t *Toolkit) VideoDuration(ctx context.Context, path string) (float64, error) {
	info, err := t.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if !info.HasVideo() {
		return 0, &LoadError{Source: path, Err: errors.New("no video stream")}
	}
	return info.Duration, nil
}
