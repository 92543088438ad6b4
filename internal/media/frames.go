package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// BytesPerPixel is the stride of decoded rgba frames.
const BytesPerPixel = 4

// FrameReader decodes a video into raw rgba frames at a fixed rate.
// Frame k covers presentation time k/FrameRate.
type FrameReader struct {
	info      *MediaInfo
	frameRate int
	frameLen  int

	cmd    *exec.Cmd
	cancel context.CancelFunc
	out    *bufio.Reader
	stderr bytes.Buffer
	err    error
}

// OpenFrames probes path and starts decoding it at frameRate.
// Metadata failure returns *LoadError.
func (t *Toolkit) OpenFrames(ctx context.Context, path string, frameRate int) (*FrameReader, error) {
	info, err := t.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if !info.HasVideo() || info.Width <= 0 || info.Height <= 0 {
		return nil, &LoadError{Source: path, Err: errors.New("no video stream")}
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &FrameReader{
		info:      info,
		frameRate: frameRate,
		frameLen:  info.Width * info.Height * BytesPerPixel,
		cancel:    cancel,
	}
	r.cmd = exec.CommandContext(ctx, t.ffmpeg(),
		"-i", path,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-r", strconv.Itoa(frameRate),
		"-loglevel", "error",
		"pipe:1",
	)
	r.cmd.Stderr = &r.stderr

	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := r.cmd.Start(); err != nil {
		cancel()
		return nil, &LoadError{Source: path, Err: fmt.Errorf("start ffmpeg: %w", err)}
	}
	r.out = bufio.NewReaderSize(stdout, r.frameLen)
	return r, nil
}

// Width returns the native frame width.
func (r *FrameReader) Width() int { return r.info.Width }

// Height returns the native frame height.
func (r *FrameReader) Height() int { return r.info.Height }

// Duration returns the container duration in seconds.
func (r *FrameReader) Duration() float64 { return r.info.Duration }

// FrameRate returns the decode rate.
func (r *FrameReader) FrameRate() int { return r.frameRate }

// ReadFrame returns the next frame. It returns io.EOF once the decoder has
// no more frames.
func (r *FrameReader) ReadFrame() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	frame := make([]byte, r.frameLen)
	if _, err := io.ReadFull(r.out, frame); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		r.err = err
		return nil, err
	}
	return frame, nil
}

// Close stops the decoder. It is safe to call more than once.
func (r *FrameReader) Close() error {
	if r.cmd == nil {
		return nil
	}
	r.cancel()
	r.cmd.Wait()
	r.cmd = nil
	if r.err == nil {
		r.err = io.EOF
	}
	return nil
}
