package audio

import (
	"context"
	"sync"
	"time"
)

// Player plays a Buffer at real-time rate, emitting interleaved int16 frames
// of FrameDuration each. Its clock only advances while playing, so a caller
// can compare CurrentTime against another clock and Seek to correct drift.
type Player struct {
	buf       *Buffer
	frameSize int
	frameCh   chan []int16

	mu      sync.RWMutex
	pos     int // next frame index to emit
	playing bool
}

// NewPlayer creates a paused player for b.
func NewPlayer(b *Buffer) *Player {
	frameSize := b.SampleRate * int(FrameDuration/time.Millisecond) / 1000
	if frameSize <= 0 {
		frameSize = FrameSize
	}
	return &Player{
		buf:       b,
		frameSize: frameSize,
		frameCh:   make(chan []int16, 100),
	}
}

// Frames returns the channel of outgoing PCM frames. It is closed when Run
// returns.
func (p *Player) Frames() <-chan []int16 {
	return p.frameCh
}

// SampleRate returns the rate of emitted frames.
func (p *Player) SampleRate() int {
	return p.buf.SampleRate
}

// NumChannels returns the interleave width of emitted frames.
func (p *Player) NumChannels() int {
	return p.buf.NumChannels()
}

// Duration returns the total length in seconds.
func (p *Player) Duration() float64 {
	return p.buf.Duration()
}

// Play starts or resumes playback.
func (p *Player) Play() {
	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
}

// Pause stops the clock without releasing the buffer.
func (p *Player) Pause() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

// CurrentTime returns the playback position in seconds.
func (p *Player) CurrentTime() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return float64(p.pos) / float64(p.buf.SampleRate)
}

// Seek moves the playback position, clamped to the buffer.
func (p *Player) Seek(seconds float64) {
	pos := int(seconds * float64(p.buf.SampleRate))
	pos = max(0, min(pos, p.buf.Len()))
	p.mu.Lock()
	p.pos = pos
	p.mu.Unlock()
}

// Run paces playback until the buffer ends or ctx is cancelled.
func (p *Player) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, ok := p.next()
		if !ok {
			return
		}
		if frame == nil {
			continue // paused
		}

		select {
		case p.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// next cuts the frame at the current position and advances the clock.
// It returns nil while paused and false once the buffer is exhausted.
func (p *Player) next() ([]int16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.buf.Len()
	if p.pos >= n {
		return nil, false
	}
	if !p.playing {
		return nil, true
	}

	nc := p.buf.NumChannels()
	frame := make([]int16, p.frameSize*nc)
	end := min(p.pos+p.frameSize, n)
	for i := p.pos; i < end; i++ {
		for ch := 0; ch < nc; ch++ {
			frame[(i-p.pos)*nc+ch] = quantize(p.buf.Channels[ch][i])
		}
	}
	p.pos = end
	return frame, true
}
