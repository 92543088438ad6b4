package recombine

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/dubstudio/internal/audio"
	"github.com/satindergrewal/dubstudio/internal/compositor"
	"github.com/satindergrewal/dubstudio/internal/media"
)

// --- Fakes ---

type fakeVideo struct {
	duration float64
	frames   int
	read     int
	closed   bool
}

func (v *fakeVideo) Width() int        { return 4 }
func (v *fakeVideo) Height() int       { return 2 }
func (v *fakeVideo) Duration() float64 { return v.duration }

func (v *fakeVideo) ReadFrame() ([]byte, error) {
	if v.read >= v.frames {
		return nil, io.EOF
	}
	frame := make([]byte, 4*2*media.BytesPerPixel)
	frame[0] = byte(v.read)
	v.read++
	return frame, nil
}

func (v *fakeVideo) Close() error {
	v.closed = true
	return nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	videoFrames int
	audioFrames int
	stopped     bool
	aborted     bool
	output      []byte
	stopErr     error
}

func (r *fakeRecorder) WriteVideoFrame(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videoFrames++
	return nil
}

func (r *fakeRecorder) WriteAudio(samples []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioFrames++
	return nil
}

func (r *fakeRecorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return r.output, r.stopErr
}

func (r *fakeRecorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = true
}

func (r *fakeRecorder) MimeType() string { return media.MimeWebM }

type fakePlatform struct {
	video    *fakeVideo
	audio    AudioSource
	recorder *fakeRecorder

	videoErr error
	audioErr error
	recErr   error

	audioOpened bool
	recCfg      media.RecorderConfig
	onAudio     func(url string)
}

func (p *fakePlatform) OpenVideo(ctx context.Context, url string, frameRate int) (VideoSource, error) {
	if p.videoErr != nil {
		return nil, p.videoErr
	}
	return p.video, nil
}

func (p *fakePlatform) OpenAudio(ctx context.Context, url string) (AudioSource, error) {
	p.audioOpened = true
	if p.onAudio != nil {
		p.onAudio(url)
	}
	if p.audioErr != nil {
		return nil, p.audioErr
	}
	return p.audio, nil
}

func (p *fakePlatform) StartRecorder(ctx context.Context, cfg media.RecorderConfig) (Recorder, error) {
	p.recCfg = cfg
	if p.recErr != nil {
		return nil, p.recErr
	}
	return p.recorder, nil
}

type fakeMonitor struct {
	busy         bool
	begun, ended string
	frames       int
}

func (m *fakeMonitor) Begin(source string) bool {
	if m.busy {
		return false
	}
	m.begun = source
	return true
}
func (m *fakeMonitor) Publish(frame []int16) { m.frames++ }
func (m *fakeMonitor) End(source string)     { m.ended = source }

// laggingAudio reports a clock that trails by lag seconds until seeked.
type laggingAudio struct {
	*audio.Player
	lag   float64
	seeks []float64
}

func (a *laggingAudio) CurrentTime() float64 {
	return math.Max(0, a.Player.CurrentTime()-a.lag)
}

func (a *laggingAudio) Seek(seconds float64) {
	a.seeks = append(a.seeks, seconds)
	a.lag = 0
	a.Player.Seek(seconds)
}

func newPlatform(videoSeconds float64) *fakePlatform {
	return &fakePlatform{
		video:    &fakeVideo{duration: videoSeconds, frames: int(videoSeconds * 30)},
		audio:    audio.NewPlayer(audio.NewBuffer(2, audio.SampleRate, audio.SampleRate)),
		recorder: &fakeRecorder{output: []byte("webm-bytes")},
	}
}

// --- Replace ---

func TestReplaceRecordsWholeVideo(t *testing.T) {
	p := newPlatform(0.5)
	mon := &fakeMonitor{}
	var states []State
	r := New(p, Options{Monitor: mon, OnState: func(s State) { states = append(states, s) }})

	var progress []float64
	res, err := r.Replace(context.Background(), "/videos/clip.mp4", "/audio/dub.wav", func(pct float64) {
		progress = append(progress, pct)
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if string(res.Data) != "webm-bytes" || res.MimeType != media.MimeWebM {
		t.Errorf("result = %q (%s)", res.Data, res.MimeType)
	}
	// 0.5s at 30fps plus the 100ms settle tail, with ticker slack
	if res.Frames < 10 || res.Frames > 22 {
		t.Errorf("Frames = %d, want about 18", res.Frames)
	}
	if p.recorder.videoFrames != res.Frames {
		t.Errorf("recorder got %d frames, result says %d", p.recorder.videoFrames, res.Frames)
	}
	if p.recorder.audioFrames == 0 {
		t.Error("recorder got no audio")
	}
	if !p.recorder.stopped || p.recorder.aborted {
		t.Errorf("recorder stopped=%v aborted=%v, want stopped only", p.recorder.stopped, p.recorder.aborted)
	}
	if !p.video.closed {
		t.Error("video not closed")
	}
	if res.Elapsed < 500*time.Millisecond {
		t.Errorf("Elapsed = %v, want real-time (>= 500ms)", res.Elapsed)
	}

	wantStates := []State{MetadataLoaded, Recording, Draining, Stopped}
	if len(states) != len(wantStates) {
		t.Fatalf("states = %v, want %v", states, wantStates)
	}
	for i := range wantStates {
		if states[i] != wantStates[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], wantStates[i])
		}
	}

	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("progress = %v, want to end at 100", progress)
	}
	for i, pct := range progress[:len(progress)-1] {
		if pct >= 100 {
			t.Errorf("progress[%d] = %v before the end", i, pct)
		}
		if i > 0 && pct < progress[i-1] {
			t.Errorf("progress went backwards at %d: %v", i, progress)
		}
	}

	if p.recCfg.Width != 4 || p.recCfg.Height != 2 || p.recCfg.FrameRate != 30 {
		t.Errorf("recorder config = %+v, want 4x2@30", p.recCfg)
	}
	if mon.begun != "clip.mp4" || mon.ended != "clip.mp4" || mon.frames == 0 {
		t.Errorf("monitor = %+v", mon)
	}
}

func TestReplaceSkipsBusyMonitor(t *testing.T) {
	p := newPlatform(0.2)
	mon := &fakeMonitor{busy: true}
	r := New(p, Options{Monitor: mon})

	if _, err := r.Replace(context.Background(), "/videos/second.mp4", "/audio/dub.wav", nil); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if mon.frames != 0 {
		t.Errorf("published %d frames into a busy monitor, want 0", mon.frames)
	}
	if mon.ended != "" {
		t.Errorf("ended = %q, want the live session left alone", mon.ended)
	}
	if p.recorder.audioFrames == 0 {
		t.Error("recorder got no audio")
	}
}

func TestReplaceCorrectsDrift(t *testing.T) {
	p := newPlatform(0.6)
	lag := &laggingAudio{
		Player: audio.NewPlayer(audio.NewBuffer(2, audio.SampleRate, audio.SampleRate)),
		lag:    0.5,
	}
	p.audio = lag

	res, err := New(p, Options{SyncInterval: 50 * time.Millisecond}).Replace(context.Background(), "v.mp4", "a.wav", nil)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if res.DriftCorrections < 1 || len(lag.seeks) < 1 {
		t.Fatalf("DriftCorrections = %d, seeks = %v, want at least one", res.DriftCorrections, lag.seeks)
	}
	if lag.seeks[0] <= 0 || lag.seeks[0] > 0.6 {
		t.Errorf("seek target = %v, want the video time", lag.seeks[0])
	}
}

func TestReplaceAudioWithinThresholdNotSeeked(t *testing.T) {
	p := newPlatform(0.4)
	lag := &laggingAudio{
		Player: audio.NewPlayer(audio.NewBuffer(2, audio.SampleRate, audio.SampleRate)),
		lag:    0,
	}
	p.audio = lag

	// generous threshold so ticker jitter never counts as drift
	res, err := New(p, Options{DriftThreshold: 0.3}).Replace(context.Background(), "v.mp4", "a.wav", nil)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if res.DriftCorrections != 0 {
		t.Errorf("DriftCorrections = %d, want 0", res.DriftCorrections)
	}
}

// --- Failure paths ---

func TestReplaceVideoLoadError(t *testing.T) {
	p := newPlatform(1)
	p.videoErr = errors.New("404")

	_, err := New(p, Options{}).Replace(context.Background(), "v.mp4", "a.wav", nil)
	var le *media.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *media.LoadError", err)
	}
	if le.Source != "v.mp4" {
		t.Errorf("Source = %q", le.Source)
	}
	if p.audioOpened {
		t.Error("audio opened after video failed")
	}
}

func TestReplaceAudioLoadError(t *testing.T) {
	p := newPlatform(1)
	p.audioErr = &media.LoadError{Source: "a.wav", Err: errors.New("bad")}

	_, err := New(p, Options{}).Replace(context.Background(), "v.mp4", "a.wav", nil)
	var le *media.LoadError
	if !errors.As(err, &le) || le.Source != "a.wav" {
		t.Fatalf("err = %v, want *media.LoadError for a.wav", err)
	}
	if !p.video.closed {
		t.Error("video not released after audio failure")
	}
}

func TestReplaceRecorderStartError(t *testing.T) {
	p := newPlatform(1)
	p.recErr = errors.New("no encoder")
	var states []State

	_, err := New(p, Options{OnState: func(s State) { states = append(states, s) }}).
		Replace(context.Background(), "v.mp4", "a.wav", nil)
	var re *RecordingError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RecordingError", err)
	}
	if !p.video.closed {
		t.Error("video not released")
	}
	if len(states) != 1 || states[0] != MetadataLoaded {
		t.Errorf("states = %v, want [metadata_loaded]", states)
	}
}

func TestReplaceEmptyRecording(t *testing.T) {
	p := newPlatform(0.2)
	p.recorder.output = nil

	_, err := New(p, Options{SettleDelay: -1}).Replace(context.Background(), "v.mp4", "a.wav", nil)
	var re *RecordingError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RecordingError", err)
	}
}

func TestReplaceCancelReleasesEverything(t *testing.T) {
	p := newPlatform(5)
	mon := &fakeMonitor{}
	var states []State
	r := New(p, Options{Monitor: mon, OnState: func(s State) { states = append(states, s) }})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	start := time.Now()
	_, err := r.Replace(ctx, "v.mp4", "a.wav", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("cancel took %v", time.Since(start))
	}
	if !p.recorder.aborted || p.recorder.stopped {
		t.Errorf("recorder aborted=%v stopped=%v, want aborted only", p.recorder.aborted, p.recorder.stopped)
	}
	if !p.video.closed {
		t.Error("video not closed")
	}
	if mon.ended != "v.mp4" {
		t.Errorf("monitor not ended: %+v", mon)
	}
	if states[len(states)-1] != Stopped {
		t.Errorf("final state = %v, want stopped", states[len(states)-1])
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Idle:           "idle",
		MetadataLoaded: "metadata_loaded",
		Recording:      "recording",
		Draining:       "draining",
		Stopped:        "stopped",
		State(42):      "state(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

// --- Dub ---

type fakeDownloader struct{ cleaned bool }

func (d *fakeDownloader) Download(ctx context.Context, url string) (string, func(), error) {
	return "/tmp/" + url, func() { d.cleaned = true }, nil
}

type fixedProber float64

func (p fixedProber) VideoDuration(ctx context.Context, path string) (float64, error) {
	return float64(p), nil
}

type fakeMerger struct {
	total float64
}

func (m *fakeMerger) Merge(ctx context.Context, segs []compositor.Segment, total float64, onProgress compositor.ProgressFunc) ([]byte, error) {
	m.total = total
	onProgress(50)
	onProgress(100)
	return audio.EncodeWAV(audio.NewBuffer(2, 100, audio.SampleRate)), nil
}

func TestDubMergesThenRecombines(t *testing.T) {
	p := newPlatform(0.3)
	var wavPath string
	p.onAudio = func(url string) {
		wavPath = url
		if _, err := os.Stat(url); err != nil {
			t.Errorf("merged wav missing during recombine: %v", err)
		}
	}

	dl := &fakeDownloader{}
	merger := &fakeMerger{}
	d := NewDubber(dl, fixedProber(0.3), merger, New(p, Options{}), t.TempDir())

	var progress []float64
	res, err := d.Dub(context.Background(), "movie.mp4", []compositor.Segment{{SourceURL: "a"}}, func(pct float64) {
		progress = append(progress, pct)
	})
	if err != nil {
		t.Fatalf("Dub: %v", err)
	}
	if string(res.Data) != "webm-bytes" {
		t.Errorf("Data = %q", res.Data)
	}
	if merger.total != 0.3 {
		t.Errorf("merge total = %v, want the video duration 0.3", merger.total)
	}
	if !dl.cleaned {
		t.Error("downloaded video not cleaned up")
	}
	if _, err := os.Stat(wavPath); !os.IsNotExist(err) {
		t.Errorf("merged wav %q not removed: %v", wavPath, err)
	}

	if len(progress) < 4 {
		t.Fatalf("progress = %v", progress)
	}
	if progress[0] != 5 || progress[1] != 25 || progress[2] != 45 {
		t.Errorf("progress head = %v, want [5 25 45 ...]", progress[:3])
	}
	if last := progress[len(progress)-1]; last != 100 {
		t.Errorf("final progress = %v, want 100", last)
	}
}
