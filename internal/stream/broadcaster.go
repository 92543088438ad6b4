// Package stream carries the live monitor: whatever a recombination is
// playing is fanned out to HTTP (MP3) and WebRTC (Opus) listeners, the way
// a browser would play it through the speakers while recording.
package stream

import (
	"log"
	"sync"
)

// Broadcaster fans out PCM frames from the active source to N listeners.
// One session owns it at a time; any number of listeners may attach.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	source    string // label of the session currently publishing
	published uint64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C    chan []int16 // buffered channel of 20ms PCM frames
	done chan struct{}
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Status is a snapshot of the monitor for the API.
type Status struct {
	Source    string `json:"source"`
	Listeners int    `json:"listeners"`
	Frames    uint64 `json:"frames_published"`
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener. Returns a Listener that receives frames.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, 150), // ~3 seconds of buffer at 20ms/frame
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Begin claims the monitor for source. It reports false while another
// session holds it; that session keeps the listeners until it ends.
func (b *Broadcaster) Begin(source string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.source != "" {
		log.Printf("[monitor] %s not monitored, %s is live", source, b.source)
		return false
	}
	b.source = source
	return true
}

// End releases the monitor if source still holds it.
func (b *Broadcaster) End(source string) {
	b.mu.Lock()
	if b.source == source {
		b.source = ""
	}
	b.mu.Unlock()
}

// Status returns the current monitor state.
func (b *Broadcaster) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Status{Source: b.source, Listeners: len(b.listeners), Frames: b.published}
}

// Publish delivers one frame to every listener. Slow listeners get the
// frame dropped rather than blocking the publisher. Only the session whose
// Begin succeeded should publish.
func (b *Broadcaster) Publish(frame []int16) {
	b.mu.Lock()
	b.published++
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			// listener too slow, drop frame to keep the session moving
		}
	}
	b.mu.Unlock()
}
