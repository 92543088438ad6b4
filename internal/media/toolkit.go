// Package media wraps the ffmpeg and ffprobe binaries: metadata probing,
// audio extraction, raw frame decoding and WebM recording.
package media

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
)

// Toolkit locates the ffmpeg binaries and the directory for temp files.
type Toolkit struct {
	FFmpeg  string // "ffmpeg" when empty
	FFprobe string // "ffprobe" when empty
	WorkDir string // os.TempDir when empty

	encOnce  sync.Once
	encoders string
}

// NewToolkit creates a toolkit using the given binaries.
func NewToolkit(ffmpeg, ffprobe, workDir string) *Toolkit {
	return &Toolkit{FFmpeg: ffmpeg, FFprobe: ffprobe, WorkDir: workDir}
}

func (t *Toolkit) ffmpeg() string {
	if t.FFmpeg == "" {
		return "ffmpeg"
	}
	return t.FFmpeg
}

func (t *Toolkit) ffprobe() string {
	if t.FFprobe == "" {
		return "ffprobe"
	}
	return t.FFprobe
}

// HasEncoder reports whether the local ffmpeg was built with the named
// encoder. The encoder list is read once per toolkit.
func (t *Toolkit) HasEncoder(ctx context.Context, name string) bool {
	t.encOnce.Do(func() {
		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, t.ffmpeg(), "-hide_banner", "-encoders")
		cmd.Stdout = &out
		if err := cmd.Run(); err == nil {
			t.encoders = out.String()
		}
	})
	return listsEncoder(t.encoders, name)
}

// listsEncoder scans `ffmpeg -encoders` output, where each entry is a flags
// column followed by the encoder name.
func listsEncoder(list, name string) bool {
	for _, line := range strings.Split(list, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}
