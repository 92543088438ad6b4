// Package recombine replaces the audio track of a video by playing the
// video and a new audio file side by side in real time and recording both
// into WebM. The video clock is master: the audio is re-seeked whenever it
// drifts too far.
package recombine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"path"
	"time"

	"github.com/satindergrewal/dubstudio/internal/audio"
	"github.com/satindergrewal/dubstudio/internal/media"
	"github.com/satindergrewal/dubstudio/internal/metrics"
)

// RecordingError reports a recorder that could not start or produced no data.
type RecordingError = media.RecordingError

// State is the lifecycle of one Replace call.
type State int

const (
	Idle State = iota
	MetadataLoaded
	Recording
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case MetadataLoaded:
		return "metadata_loaded"
	case Recording:
		return "recording"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// VideoSource yields decoded frames at the capture rate: frame k is the
// picture at k/frameRate seconds.
type VideoSource interface {
	Width() int
	Height() int
	Duration() float64
	ReadFrame() ([]byte, error) // io.EOF after the last frame
	Close() error
}

// AudioSource is a real-time player whose clock can be read and seeked.
type AudioSource interface {
	Run(ctx context.Context)
	Frames() <-chan []int16
	Play()
	Pause()
	Seek(seconds float64)
	CurrentTime() float64
	Duration() float64
	SampleRate() int
	NumChannels() int
}

// Recorder captures the combined stream.
type Recorder interface {
	WriteVideoFrame(frame []byte) error
	WriteAudio(samples []int16) error
	Stop() ([]byte, error)
	Abort()
	MimeType() string
}

// Platform opens sources and recorders. Load failures are *media.LoadError,
// recorder failures *RecordingError.
type Platform interface {
	OpenVideo(ctx context.Context, url string, frameRate int) (VideoSource, error)
	OpenAudio(ctx context.Context, url string) (AudioSource, error)
	StartRecorder(ctx context.Context, cfg media.RecorderConfig) (Recorder, error)
}

// Monitor receives the audio that is being recorded. Begin reports whether
// the session got the monitor; only then does it Publish and End.
type Monitor interface {
	Begin(source string) bool
	Publish(frame []int16)
	End(source string)
}

// ProgressFunc receives completion percentages in [0, 100].
type ProgressFunc func(percent float64)

// Options tunes the real-time loop.
type Options struct {
	FrameRate      int           // capture rate, 30 when zero
	SyncInterval   time.Duration // drift check period, 100ms when zero
	DriftThreshold float64       // seconds, 0.1 when zero
	SettleDelay    time.Duration // recorder tail after video end; negative means none
	Monitor        Monitor       // optional live output
	Metrics        *metrics.Metrics
	OnState        func(State) // optional transition hook
}

// Result is a finished recording.
type Result struct {
	Data             []byte
	MimeType         string
	Frames           int
	DriftCorrections int
	Elapsed          time.Duration
}

// Recombiner runs Replace. It holds no per-call state and may be shared.
type Recombiner struct {
	platform Platform
	opts     Options
}

// New creates a recombiner.
func New(platform Platform, opts Options) *Recombiner {
	if opts.FrameRate <= 0 {
		opts.FrameRate = 30
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 100 * time.Millisecond
	}
	if opts.DriftThreshold <= 0 {
		opts.DriftThreshold = 0.1
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 100 * time.Millisecond
	}
	return &Recombiner{platform: platform, opts: opts}
}

// session owns everything one Replace call acquires.
type session struct {
	opts  Options
	label string
	state State

	video     VideoSource
	audio     AudioSource
	recorder  Recorder
	stopped   bool
	monitored bool

	cancel  context.CancelFunc
	runDone chan struct{}

	// video clock
	started  time.Time
	duration float64

	// frame pump
	frame    []byte
	decoded  int
	videoEOF bool

	frames      int
	corrections int
}

func (s *session) setState(next State) {
	log.Printf("[recombine] %s: %s -> %s", s.label, s.state, next)
	s.state = next
	if s.opts.OnState != nil {
		s.opts.OnState(next)
	}
}

// release runs on every exit path.
func (s *session) release() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.audio != nil {
		s.audio.Pause()
		if s.runDone != nil {
			<-s.runDone
		}
	}
	if s.video != nil {
		s.video.Close()
	}
	if s.recorder != nil && !s.stopped {
		s.recorder.Abort()
	}
	if s.state >= Recording && s.state != Stopped {
		s.setState(Stopped)
	}
	if s.monitored {
		s.opts.Monitor.End(s.label)
	}
}

// Replace records the video at videoURL with the audio at audioURL as its
// only soundtrack. It runs in real time: the call takes about as long as
// the video.
func (r *Recombiner) Replace(ctx context.Context, videoURL, audioURL string, onProgress ProgressFunc) (*Result, error) {
	began := time.Now()
	ctx, cancel := context.WithCancel(ctx)

	s := &session{opts: r.opts, label: path.Base(videoURL), cancel: cancel}
	defer s.release()

	video, err := r.platform.OpenVideo(ctx, videoURL, r.opts.FrameRate)
	if err != nil {
		return nil, loadError(ctx, videoURL, err)
	}
	s.video = video

	src, err := r.platform.OpenAudio(ctx, audioURL)
	if err != nil {
		return nil, loadError(ctx, audioURL, err)
	}
	s.audio = src

	s.duration = video.Duration()
	if s.duration <= 0 || math.IsInf(s.duration, 0) || math.IsNaN(s.duration) {
		return nil, &media.LoadError{Source: videoURL, Err: errors.New("unknown duration")}
	}
	s.setState(MetadataLoaded)

	rec, err := r.platform.StartRecorder(ctx, media.RecorderConfig{
		Width:      video.Width(),
		Height:     video.Height(),
		FrameRate:  r.opts.FrameRate,
		SampleRate: src.SampleRate(),
		Channels:   src.NumChannels(),
	})
	if err != nil {
		var re *RecordingError
		if !errors.As(err, &re) {
			err = &RecordingError{Err: err}
		}
		return nil, err
	}
	s.recorder = rec

	if r.opts.Monitor != nil {
		s.monitored = r.opts.Monitor.Begin(s.label)
	}

	// Recording is live before playback starts.
	s.setState(Recording)
	s.runDone = make(chan struct{})
	go func() {
		defer close(s.runDone)
		src.Run(ctx)
	}()
	s.started = time.Now()
	src.Play()

	if err := s.record(ctx, onProgress); err != nil {
		return nil, err
	}

	s.setState(Draining)
	if err := s.settle(ctx); err != nil {
		return nil, err
	}
	report(onProgress, 100)

	data, err := rec.Stop()
	s.stopped = true
	if err != nil {
		var re *RecordingError
		if !errors.As(err, &re) {
			err = &RecordingError{Err: err}
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, &RecordingError{Err: errors.New("no data recorded")}
	}
	s.setState(Stopped)
	r.opts.Metrics.RecordRecording(len(data))

	res := &Result{
		Data:             data,
		MimeType:         rec.MimeType(),
		Frames:           s.frames,
		DriftCorrections: s.corrections,
		Elapsed:          time.Since(began),
	}
	log.Printf("[recombine] %s: %d frames, %d drift corrections, %d bytes %s in %s",
		s.label, res.Frames, res.DriftCorrections, len(data), res.MimeType, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// videoTime is the master clock, pinned at the video's end.
func (s *session) videoTime() float64 {
	return math.Min(time.Since(s.started).Seconds(), s.duration)
}

// record pumps frames and audio until the video ends.
func (s *session) record(ctx context.Context, onProgress ProgressFunc) error {
	frameTicker := time.NewTicker(time.Second / time.Duration(s.opts.FrameRate))
	defer frameTicker.Stop()
	syncTicker := time.NewTicker(s.opts.SyncInterval)
	defer syncTicker.Stop()

	audioFrames := s.audio.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-audioFrames:
			if !ok {
				audioFrames = nil
				continue
			}
			if err := s.forwardAudio(frame); err != nil {
				return err
			}

		case <-syncTicker.C:
			s.checkDrift()

		case <-frameTicker.C:
			vt := s.videoTime()
			if vt >= s.duration {
				return nil // ended
			}
			if err := s.drawFrame(vt); err != nil {
				return err
			}
			report(onProgress, vt/s.duration*100)
		}
	}
}

// settle keeps the recorder fed with the held last frame and any trailing
// audio so the tail is captured before stopping.
func (s *session) settle(ctx context.Context) error {
	if s.opts.SettleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(s.opts.SettleDelay)
	defer timer.Stop()
	frameTicker := time.NewTicker(time.Second / time.Duration(s.opts.FrameRate))
	defer frameTicker.Stop()

	audioFrames := s.audio.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case frame, ok := <-audioFrames:
			if !ok {
				audioFrames = nil
				continue
			}
			if err := s.forwardAudio(frame); err != nil {
				return err
			}
		case <-frameTicker.C:
			if err := s.writeFrame(); err != nil {
				return err
			}
		}
	}
}

func (s *session) forwardAudio(frame []int16) error {
	if err := s.recorder.WriteAudio(frame); err != nil {
		return err
	}
	if s.monitored {
		s.opts.Monitor.Publish(frame)
	}
	return nil
}

// checkDrift re-seeks the audio to the video clock when they disagree by
// more than the threshold.
func (s *session) checkDrift() {
	vt := s.videoTime()
	at := s.audio.CurrentTime()
	if math.Abs(vt-at) <= s.opts.DriftThreshold {
		return
	}
	if at >= s.audio.Duration() && vt >= at {
		return // audio already ended
	}
	log.Printf("[recombine] %s: drift %.3fs (video %.3fs, audio %.3fs), seeking audio",
		s.label, vt-at, vt, at)
	s.audio.Seek(vt)
	s.corrections++
	s.opts.Metrics.RecordDriftCorrection()
}

// drawFrame advances the decoder to the frame covering vt and records it.
func (s *session) drawFrame(vt float64) error {
	target := int(vt * float64(s.opts.FrameRate))
	for !s.videoEOF && s.decoded <= target {
		frame, err := s.video.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[recombine] %s: frame decode error: %v", s.label, err)
			}
			s.videoEOF = true
			break
		}
		s.frame = frame
		s.decoded++
	}
	return s.writeFrame()
}

// writeFrame records the current picture, black before the first frame.
func (s *session) writeFrame() error {
	if s.frame == nil {
		s.frame = make([]byte, s.video.Width()*s.video.Height()*media.BytesPerPixel)
	}
	if err := s.recorder.WriteVideoFrame(s.frame); err != nil {
		return err
	}
	s.frames++
	s.opts.Metrics.RecordFrame()
	return nil
}

func loadError(ctx context.Context, source string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var le *media.LoadError
	if errors.As(err, &le) {
		return err
	}
	return &media.LoadError{Source: source, Err: err}
}

func report(fn ProgressFunc, percent float64) {
	if fn != nil {
		fn(percent)
	}
}

var _ AudioSource = (*audio.Player)(nil)
