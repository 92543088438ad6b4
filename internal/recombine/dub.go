package recombine

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/satindergrewal/dubstudio/internal/compositor"
)

// Downloader makes a URL available as a local file.
type Downloader interface {
	Download(ctx context.Context, url string) (path string, cleanup func(), err error)
}

// Prober reads a video's duration.
type Prober interface {
	VideoDuration(ctx context.Context, path string) (float64, error)
}

// Merger renders positioned segments to WAV bytes.
type Merger interface {
	Merge(ctx context.Context, segments []compositor.Segment, totalDuration float64, onProgress compositor.ProgressFunc) ([]byte, error)
}

// Dubber replaces a video's soundtrack with positioned segments in one
// pass: merge the segments against the video's length, then recombine.
type Dubber struct {
	downloader Downloader
	prober     Prober
	merger     Merger
	recombiner *Recombiner
	workDir    string
}

// NewDubber wires the merge and recombine steps together.
func NewDubber(d Downloader, p Prober, m Merger, r *Recombiner, workDir string) *Dubber {
	return &Dubber{downloader: d, prober: p, merger: m, recombiner: r, workDir: workDir}
}

// Dub merges segments over the length of the video at videoURL and records
// the video with the merged track. Progress runs 5% after probing, 5-45%
// while merging and 45-100% while recording.
func (d *Dubber) Dub(ctx context.Context, videoURL string, segments []compositor.Segment, onProgress ProgressFunc) (*Result, error) {
	videoPath, cleanupVideo, err := d.downloader.Download(ctx, videoURL)
	if err != nil {
		return nil, err
	}
	defer cleanupVideo()

	duration, err := d.prober.VideoDuration(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	report(onProgress, 5)

	wav, err := d.merger.Merge(ctx, segments, duration, func(p float64) {
		report(onProgress, min(45, 5+p*0.4))
	})
	if err != nil {
		return nil, fmt.Errorf("merge segments: %w", err)
	}

	f, err := os.CreateTemp(d.workDir, "studio-merged-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(wav); err != nil {
		f.Close()
		return nil, fmt.Errorf("write merged audio: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close merged audio: %w", err)
	}

	log.Printf("[dub] %d segments merged over %.2fs, recombining", len(segments), duration)
	return d.recombiner.Replace(ctx, videoPath, f.Name(), func(p float64) {
		report(onProgress, min(100, 45+p*0.55))
	})
}
