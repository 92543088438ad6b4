// Package compositor renders timed audio segments onto one stereo track.
//
// Each segment plays at natural speed from its start time until the next
// segment begins (or the track ends). Clips longer than their slot are cut
// off hard; rendering never speeds a clip up or slows it down. Stretch does
// that for a single clip when asked.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/satindergrewal/dubstudio/internal/audio"
	"github.com/satindergrewal/dubstudio/internal/metrics"
)

// DefaultSlotCeiling bounds the last slot when the track length is unknown.
const DefaultSlotCeiling = 10.0

var (
	ErrEmptyInput = errors.New("no audio segments provided")
	ErrNoSegments = errors.New("no audio segments could be loaded")
)

// Segment is one clip placed on the timeline.
type Segment struct {
	SourceURL      string   `json:"source_url" yaml:"source_url"`
	StartTime      float64  `json:"start_time" yaml:"start_time"`
	TargetDuration *float64 `json:"target_duration,omitempty" yaml:"target_duration,omitempty"`
}

// FetchError reports a segment whose bytes could not be retrieved.
type FetchError struct {
	Index int
	URL   string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("segment %d (%s): %v", e.Index, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves the encoded bytes of a clip.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Decoder turns encoded bytes into samples.
type Decoder interface {
	DecodeBytes(ctx context.Context, data []byte, channels int) (*audio.Buffer, error)
}

// ProgressFunc receives completion percentages in [0, 100].
type ProgressFunc func(percent float64)

// Options configures a Compositor.
type Options struct {
	SampleRate  int     // render rate, audio.SampleRate when zero
	SlotCeiling float64 // DefaultSlotCeiling when zero
	Metrics     *metrics.Metrics
}

// Compositor merges segments. It holds no per-call state and may be shared.
type Compositor struct {
	fetcher Fetcher
	decoder Decoder
	rate    int
	ceiling float64
	metrics *metrics.Metrics
}

// New creates a compositor.
func New(fetcher Fetcher, decoder Decoder, opts Options) *Compositor {
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.SampleRate
	}
	if opts.SlotCeiling <= 0 {
		opts.SlotCeiling = DefaultSlotCeiling
	}
	return &Compositor{
		fetcher: fetcher,
		decoder: decoder,
		rate:    opts.SampleRate,
		ceiling: opts.SlotCeiling,
		metrics: opts.Metrics,
	}
}

// SampleRate returns the render rate.
func (c *Compositor) SampleRate() int { return c.rate }

// clip is a loaded, trimmed segment waiting for placement.
type clip struct {
	index  int
	buf    *audio.Buffer
	start  float64
	target *float64
}

// Merge renders segments over totalDuration seconds and encodes the result
// as a 16-bit stereo WAV.
func (c *Compositor) Merge(ctx context.Context, segments []Segment, totalDuration float64, onProgress ProgressFunc) ([]byte, error) {
	track, err := c.Render(ctx, segments, totalDuration, onProgress)
	if err != nil {
		return nil, err
	}
	data := audio.EncodeWAV(track)
	report(onProgress, 100)
	return data, nil
}

// Render mixes segments into a stereo buffer of ceil(totalDuration*rate)
// frames. Segments that fail to fetch or decode are logged and skipped.
// A non-positive totalDuration sizes the track to its content.
func (c *Compositor) Render(ctx context.Context, segments []Segment, totalDuration float64, onProgress ProgressFunc) (*audio.Buffer, error) {
	if len(segments) == 0 {
		return nil, ErrEmptyInput
	}

	clips, err := c.load(ctx, segments, onProgress)
	if err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, ErrNoSegments
	}

	report(onProgress, 60)
	slots := make([]float64, len(clips))
	length := totalDuration
	for i, cl := range clips {
		var next *clip
		if i+1 < len(clips) {
			next = &clips[i+1]
		}
		slots[i] = c.slot(cl, next, totalDuration)
		// An unknown track length grows to fit the last audible clip.
		if totalDuration <= 0 && slots[i] > 0 {
			length = max(length, cl.start+min(cl.buf.Duration(), slots[i]))
		}
	}

	track := audio.NewBuffer(2, audio.FramesFor(length, c.rate), c.rate)
	for i, cl := range clips {
		c.place(track, cl, slots[i])
	}
	report(onProgress, 90)

	log.Printf("[merge] rendered %d/%d segments into %.2fs at %dHz",
		len(clips), len(segments), track.Duration(), c.rate)
	return track, nil
}

// load fetches, decodes and trims every segment in order.
func (c *Compositor) load(ctx context.Context, segments []Segment, onProgress ProgressFunc) ([]clip, error) {
	n := len(segments)
	clips := make([]clip, 0, n)

	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf, err := c.loadOne(ctx, i, seg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[merge] segment %d dropped: %v", i, err)
		} else {
			trimmed := audio.TrimLeadingSilence(buf)
			log.Printf("[merge] segment %d: original=%.3fs trimmed=%.3fs start=%.3fs",
				i, buf.Duration(), trimmed.Duration(), seg.StartTime)
			clips = append(clips, clip{index: i, buf: trimmed, start: seg.StartTime, target: seg.TargetDuration})
		}
		report(onProgress, float64(i)/float64(n)*40)
	}
	return clips, nil
}

func (c *Compositor) loadOne(ctx context.Context, i int, seg Segment) (*audio.Buffer, error) {
	data, err := c.fetcher.Fetch(ctx, seg.SourceURL)
	if err != nil {
		c.metrics.RecordSegmentDropped("fetch")
		return nil, &FetchError{Index: i, URL: seg.SourceURL, Err: err}
	}

	buf, err := c.decoder.DecodeBytes(ctx, data, 2)
	if err != nil {
		c.metrics.RecordSegmentDropped("decode")
		return nil, err
	}
	if buf.SampleRate != c.rate {
		buf, err = audio.Resample(buf, c.rate)
		if err != nil {
			c.metrics.RecordSegmentDropped("decode")
			return nil, &audio.DecodeError{Source: seg.SourceURL, Err: err}
		}
	}
	return buf, nil
}

// slot returns how long cur may play. The next segment's start bounds it;
// the last segment is bounded by the track end. A target duration only
// ever shortens a known bound, and stands in for it when there is none.
func (c *Compositor) slot(cur clip, next *clip, totalDuration float64) float64 {
	var bound float64
	known := true
	switch {
	case next != nil:
		bound = next.start - cur.start
		if bound < 0 {
			log.Printf("[merge] segment %d starts after segment %d; it will be silent", cur.index, next.index)
		}
	case totalDuration > 0:
		bound = totalDuration - cur.start
	default:
		known = false
	}

	if !known {
		if cur.target != nil && *cur.target > 0 {
			return math.Min(*cur.target, c.ceiling)
		}
		return c.ceiling
	}
	if cur.target != nil && *cur.target > 0 && *cur.target < bound {
		return *cur.target
	}
	return bound
}

// place sums cur into track from its start frame for at most slot seconds.
func (c *Compositor) place(track *audio.Buffer, cur clip, slot float64) {
	if slot <= 0 {
		c.metrics.RecordSegmentDropped("empty_slot")
		return
	}

	startFrame := int(math.Round(cur.start * float64(c.rate)))
	length := cur.buf.Len()
	limit := int(math.Round(slot * float64(c.rate)))
	truncated := length > limit
	if truncated {
		log.Printf("[merge] segment %d: truncating %.2fs from end", cur.index,
			float64(length-limit)/float64(c.rate))
		length = limit
	}
	srcOff := 0
	if startFrame < 0 {
		srcOff = min(-startFrame, length)
		length -= srcOff
		startFrame = 0
	}
	if startFrame+length > track.Len() {
		length = max(0, track.Len()-startFrame)
	}

	log.Printf("[merge] segment %d: start=%.2fs duration=%.2fs (max=%.2fs)",
		cur.index, cur.start, float64(length)/float64(c.rate), slot)

	if length == 0 {
		return
	}
	nc := cur.buf.NumChannels()
	for ch := range track.Channels {
		src := cur.buf.Channels[min(ch, nc-1)][srcOff:]
		dst := track.Channels[ch][startFrame:]
		for i := 0; i < length; i++ {
			dst[i] += src[i]
		}
	}
	c.metrics.RecordSegmentMerged(truncated)
}

// ClipDuration returns the decoded length of the clip at url in seconds.
func (c *Compositor) ClipDuration(ctx context.Context, url string) (float64, error) {
	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, &FetchError{Index: -1, URL: url, Err: err}
	}
	buf, err := c.decoder.DecodeBytes(ctx, data, 0)
	if err != nil {
		return 0, err
	}
	return buf.Duration(), nil
}

// Stretch speeds up or slows down the clip at url so it lasts about
// targetDuration seconds and returns it as WAV. The rate change is clamped
// like audio.TimeStretch.
func (c *Compositor) Stretch(ctx context.Context, url string, targetDuration float64) ([]byte, error) {
	if targetDuration <= 0 {
		return nil, fmt.Errorf("stretch: target duration must be positive, got %v", targetDuration)
	}
	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, &FetchError{Index: -1, URL: url, Err: err}
	}
	buf, err := c.decoder.DecodeBytes(ctx, data, 0)
	if err != nil {
		return nil, err
	}
	out := audio.TimeStretch(buf, targetDuration)
	log.Printf("[stretch] %s: %.2fs -> %.2fs", url, buf.Duration(), out.Duration())
	return audio.EncodeWAV(out), nil
}

func report(fn ProgressFunc, percent float64) {
	if fn != nil {
		fn(percent)
	}
}
