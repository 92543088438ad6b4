package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/satindergrewal/dubstudio/internal/compositor"
	"github.com/satindergrewal/dubstudio/internal/fetch"
	"github.com/satindergrewal/dubstudio/internal/job"
	"github.com/satindergrewal/dubstudio/internal/media"
	"github.com/satindergrewal/dubstudio/internal/recombine"
)

// Output names of the studio operations.
const (
	MergedName     = "merged-audio.wav"
	RecombinedName = "recombined-video.webm"
	DubbedName     = "dubbed-video.webm"
)

// Extractor pulls the audio track out of uploaded video bytes.
type Extractor interface {
	ExtractAudioBytes(ctx context.Context, data []byte, name string) (*media.AudioFile, error)
}

// Merger renders positioned segments to WAV bytes.
type Merger interface {
	Merge(ctx context.Context, segments []compositor.Segment, totalDuration float64, onProgress compositor.ProgressFunc) ([]byte, error)
}

// Replacer records a video with a new soundtrack.
type Replacer interface {
	Replace(ctx context.Context, videoURL, audioURL string, onProgress recombine.ProgressFunc) (*recombine.Result, error)
}

// Dubber merges segments over a video and records the result.
type Dubber interface {
	Dub(ctx context.Context, videoURL string, segments []compositor.Segment, onProgress recombine.ProgressFunc) (*recombine.Result, error)
}

// StudioHandler turns studio requests into background jobs.
type StudioHandler struct {
	jobs      *job.Manager
	extractor Extractor
	merger    Merger
	replacer  Replacer
	dubber    Dubber
	maxUpload int64
}

func NewStudioHandler(jobs *job.Manager, e Extractor, m Merger, r Replacer, d Dubber, maxUpload int64) *StudioHandler {
	return &StudioHandler{jobs: jobs, extractor: e, merger: m, replacer: r, dubber: d, maxUpload: maxUpload}
}

type MergeRequest struct {
	Segments      []compositor.Segment `json:"segments"`
	TotalDuration float64              `json:"total_duration"`
}

type ReplaceRequest struct {
	VideoURL string `json:"video_url"`
	AudioURL string `json:"audio_url"`
}

type DubRequest struct {
	VideoURL string               `json:"video_url"`
	Segments []compositor.Segment `json:"segments"`
}

// Extract accepts a multipart upload in the "video" field.
func (h *StudioHandler) Extract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "missing video file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, "failed to read upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		jsonError(w, "empty video file", http.StatusBadRequest)
		return
	}
	name := header.Filename

	h.submit(w, job.TypeExtract, func(ctx context.Context, progress func(float64)) (*job.Result, error) {
		af, err := h.extractor.ExtractAudioBytes(ctx, data, name)
		if err != nil {
			return nil, err
		}
		return &job.Result{Name: af.Name, ContentType: af.ContentType, Data: af.Data}, nil
	})
}

// Merge composites segments into one WAV track.
func (h *StudioHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateSegments(req.Segments); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TotalDuration < 0 {
		jsonError(w, "total_duration must not be negative", http.StatusBadRequest)
		return
	}

	h.submit(w, job.TypeMerge, func(ctx context.Context, progress func(float64)) (*job.Result, error) {
		wav, err := h.merger.Merge(ctx, req.Segments, req.TotalDuration, progress)
		if err != nil {
			return nil, err
		}
		return &job.Result{Name: MergedName, ContentType: "audio/wav", Data: wav}, nil
	})
}

// Replace records a video with the audio at audio_url.
func (h *StudioHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var req ReplaceRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.VideoURL) == "" || strings.TrimSpace(req.AudioURL) == "" {
		jsonError(w, "video_url and audio_url are required", http.StatusBadRequest)
		return
	}
	for _, u := range []string{req.VideoURL, req.AudioURL} {
		if err := fetch.CheckRemote(u); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	h.submit(w, job.TypeReplace, func(ctx context.Context, progress func(float64)) (*job.Result, error) {
		res, err := h.replacer.Replace(ctx, req.VideoURL, req.AudioURL, progress)
		if err != nil {
			return nil, err
		}
		return &job.Result{Name: RecombinedName, ContentType: res.MimeType, Data: res.Data}, nil
	})
}

// Dub merges segments over the video's length and records the result.
func (h *StudioHandler) Dub(w http.ResponseWriter, r *http.Request) {
	var req DubRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.VideoURL) == "" {
		jsonError(w, "video_url is required", http.StatusBadRequest)
		return
	}
	if err := fetch.CheckRemote(req.VideoURL); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateSegments(req.Segments); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.submit(w, job.TypeDub, func(ctx context.Context, progress func(float64)) (*job.Result, error) {
		res, err := h.dubber.Dub(ctx, req.VideoURL, req.Segments, progress)
		if err != nil {
			return nil, err
		}
		return &job.Result{Name: DubbedName, ContentType: res.MimeType, Data: res.Data}, nil
	})
}

func (h *StudioHandler) submit(w http.ResponseWriter, typ job.Type, fn job.Func) {
	j, err := h.jobs.Submit(typ, fn)
	switch {
	case errors.Is(err, job.ErrQueueFull):
		jsonError(w, "too many queued jobs", http.StatusServiceUnavailable)
	case err != nil:
		jsonError(w, "failed to queue job: "+err.Error(), http.StatusServiceUnavailable)
	default:
		jsonResponse(w, j, http.StatusAccepted)
	}
}

func validateSegments(segments []compositor.Segment) error {
	if len(segments) == 0 {
		return compositor.ErrEmptyInput
	}
	for i, s := range segments {
		if strings.TrimSpace(s.SourceURL) == "" {
			return fmt.Errorf("segment %d: source_url is required", i)
		}
		if err := fetch.CheckRemote(s.SourceURL); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		if s.TargetDuration != nil && *s.TargetDuration <= 0 {
			return fmt.Errorf("segment %d: target_duration must be positive", i)
		}
	}
	return nil
}
