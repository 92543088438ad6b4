package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/satindergrewal/dubstudio/internal/audio"
)

const (
	MimeWebMVP9 = "video/webm;codecs=vp9"
	MimeWebM    = "video/webm"

	chunkSize = 4096
)

// RecordingError reports a recorder that could not start or produced no
// output.
type RecordingError struct {
	Err error
}

func (e *RecordingError) Error() string { return "recording: " + e.Err.Error() }

func (e *RecordingError) Unwrap() error { return e.Err }

// RecorderConfig describes the two input tracks of a recording.
type RecorderConfig struct {
	Width      int
	Height     int
	FrameRate  int
	SampleRate int
	Channels   int
}

// Recorder muxes raw rgba frames and interleaved PCM into WebM with ffmpeg.
// Video goes in over stdin, audio over a second pipe, and the muxed stream
// is collected from stdout in chunks.
type Recorder struct {
	mimeType string

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr bytes.Buffer

	video chan []byte
	audio chan []int16

	sendMu  sync.RWMutex // held for writing while the queues are closed
	closed  bool
	writers sync.WaitGroup
	reader  chan struct{}
	failed  chan struct{}
	once    sync.Once
	err     error

	mu     sync.Mutex
	chunks [][]byte
	size   int
	state  string // recording, stopped
}

// RecordingMimeType returns the container type the local ffmpeg can
// produce: VP9 when libvpx-vp9 is available, VP8 otherwise.
func (t *Toolkit) RecordingMimeType(ctx context.Context) string {
	if t.HasEncoder(ctx, "libvpx-vp9") {
		return MimeWebMVP9
	}
	return MimeWebM
}

// StartRecorder launches ffmpeg and returns a recorder accepting frames.
func (t *Toolkit) StartRecorder(ctx context.Context, cfg RecorderConfig) (*Recorder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FrameRate <= 0 {
		return nil, &RecordingError{Err: fmt.Errorf("invalid frame geometry %dx%d@%d", cfg.Width, cfg.Height, cfg.FrameRate)}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = audio.Channels
	}

	mimeType := t.RecordingMimeType(ctx)
	videoCodec := "libvpx"
	if mimeType == MimeWebMVP9 {
		videoCodec = "libvpx-vp9"
	}

	audioR, audioW, err := os.Pipe()
	if err != nil {
		return nil, &RecordingError{Err: fmt.Errorf("audio pipe: %w", err)}
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &Recorder{
		mimeType: mimeType,
		cancel:   cancel,
		video:    make(chan []byte, cfg.FrameRate),
		audio:    make(chan []int16, 500),
		reader:   make(chan struct{}),
		failed:   make(chan struct{}),
		state:    "recording",
	}
	r.cmd = exec.CommandContext(ctx, t.ffmpeg(),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", strconv.Itoa(cfg.FrameRate),
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", strconv.Itoa(cfg.Channels),
		"-i", "pipe:3",
		"-c:v", videoCodec,
		"-deadline", "realtime",
		"-b:v", "2M",
		"-c:a", "libopus",
		"-f", "webm",
		"-loglevel", "error",
		"pipe:1",
	)
	r.cmd.ExtraFiles = []*os.File{audioR}
	r.cmd.Stderr = &r.stderr

	videoW, err := r.cmd.StdinPipe()
	if err != nil {
		cancel()
		audioR.Close()
		audioW.Close()
		return nil, &RecordingError{Err: fmt.Errorf("video pipe: %w", err)}
	}
	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		cancel()
		audioR.Close()
		audioW.Close()
		return nil, &RecordingError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	if err := r.cmd.Start(); err != nil {
		cancel()
		audioR.Close()
		audioW.Close()
		return nil, &RecordingError{Err: fmt.Errorf("start ffmpeg: %w", err)}
	}
	// The child holds its own copy of the read end.
	audioR.Close()

	r.writers.Add(2)
	go r.pump(videoW, func(w *bufio.Writer) error {
		for frame := range r.video {
			if _, err := w.Write(frame); err != nil {
				return err
			}
		}
		return nil
	})
	go r.pump(audioW, func(w *bufio.Writer) error {
		for samples := range r.audio {
			if _, err := w.Write(audio.SamplesToBytes(samples)); err != nil {
				return err
			}
		}
		return nil
	})
	go r.collect(stdout)

	log.Printf("[recorder] started %dx%d@%dfps %s", cfg.Width, cfg.Height, cfg.FrameRate, mimeType)
	return r, nil
}

// MimeType returns the container type of the recording.
func (r *Recorder) MimeType() string { return r.mimeType }

// pump drains one input queue into its pipe, then closes the pipe so
// ffmpeg sees end of stream.
func (r *Recorder) pump(pipe io.WriteCloser, drain func(*bufio.Writer) error) {
	defer r.writers.Done()
	w := bufio.NewWriterSize(pipe, 64*1024)
	err := drain(w)
	if err == nil {
		err = w.Flush()
	}
	pipe.Close()
	if err != nil {
		r.fail(err)
		// Keep draining so senders never block on a dead pipe.
		drain(bufio.NewWriter(io.Discard))
	}
}

// collect gathers muxed output the same way a browser recorder delivers
// data chunks.
func (r *Recorder) collect(stdout io.Reader) {
	defer close(r.reader)
	buf := make([]byte, chunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.mu.Lock()
			r.chunks = append(r.chunks, chunk)
			r.size += n
			r.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (r *Recorder) fail(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.failed)
	})
}

// WriteVideoFrame queues one rgba frame.
func (r *Recorder) WriteVideoFrame(frame []byte) error {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return &RecordingError{Err: errors.New("recorder not active")}
	}
	select {
	case r.video <- frame:
		return nil
	case <-r.failed:
		return &RecordingError{Err: r.err}
	}
}

// WriteAudio queues interleaved PCM.
func (r *Recorder) WriteAudio(samples []int16) error {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return &RecordingError{Err: errors.New("recorder not active")}
	}
	select {
	case r.audio <- samples:
		return nil
	case <-r.failed:
		return &RecordingError{Err: r.err}
	}
}

func (r *Recorder) closeInputs() {
	r.sendMu.Lock()
	r.closed = true
	close(r.video)
	close(r.audio)
	r.sendMu.Unlock()
}

// Stop ends both inputs, waits for ffmpeg to finish muxing and returns the
// concatenated output.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	if r.state != "recording" {
		r.mu.Unlock()
		return nil, &RecordingError{Err: errors.New("recorder not active")}
	}
	r.state = "stopped"
	r.mu.Unlock()

	r.closeInputs()
	r.writers.Wait()
	<-r.reader
	waitErr := r.cmd.Wait()
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		err := waitErr
		if err == nil {
			err = errors.New("no data recorded")
		}
		if msg := strings.TrimSpace(r.stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, &RecordingError{Err: err}
	}
	if waitErr != nil {
		log.Printf("[recorder] ffmpeg exited with %v after %d bytes", waitErr, r.size)
	}

	out := make([]byte, 0, r.size)
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	r.chunks = nil
	return out, nil
}

// Abort kills ffmpeg and discards any output. It is a no-op once the
// recorder has stopped.
func (r *Recorder) Abort() {
	r.mu.Lock()
	if r.state != "recording" {
		r.mu.Unlock()
		return
	}
	r.state = "stopped"
	r.mu.Unlock()

	r.cancel()
	r.closeInputs()
	r.writers.Wait()
	<-r.reader
	r.cmd.Wait()

	r.mu.Lock()
	r.chunks = nil
	r.mu.Unlock()
}
