package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/satindergrewal/dubstudio/internal/compositor"
	"github.com/satindergrewal/dubstudio/internal/job"
	"github.com/satindergrewal/dubstudio/internal/media"
	"github.com/satindergrewal/dubstudio/internal/metrics"
	"github.com/satindergrewal/dubstudio/internal/recombine"
	"github.com/satindergrewal/dubstudio/internal/stream"
)

// --- Fakes ---

type fakeStudio struct {
	mu       sync.Mutex
	uploaded []byte
	segments []compositor.Segment
	total    float64
	urls     []string
	block    chan struct{}
	mergeErr error
}

func (f *fakeStudio) ExtractAudioBytes(ctx context.Context, data []byte, name string) (*media.AudioFile, error) {
	f.mu.Lock()
	f.uploaded = data
	f.mu.Unlock()
	return &media.AudioFile{Name: media.ExtractedName, ContentType: "audio/wav", Data: []byte("RIFF-extracted")}, nil
}

func (f *fakeStudio) Merge(ctx context.Context, segments []compositor.Segment, total float64, onProgress compositor.ProgressFunc) ([]byte, error) {
	f.mu.Lock()
	f.segments, f.total = segments, total
	f.mu.Unlock()
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	onProgress(50)
	return []byte("RIFF-merged"), nil
}

func (f *fakeStudio) Replace(ctx context.Context, videoURL, audioURL string, onProgress recombine.ProgressFunc) (*recombine.Result, error) {
	f.mu.Lock()
	f.urls = []string{videoURL, audioURL}
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &recombine.Result{Data: []byte("webm"), MimeType: media.MimeWebMVP9}, nil
}

func (f *fakeStudio) Dub(ctx context.Context, videoURL string, segments []compositor.Segment, onProgress recombine.ProgressFunc) (*recombine.Result, error) {
	f.mu.Lock()
	f.urls = []string{videoURL}
	f.segments = segments
	f.mu.Unlock()
	return &recombine.Result{Data: []byte("dubbed"), MimeType: media.MimeWebM}, nil
}

func newTestServer(t *testing.T, studio *fakeStudio) (*httptest.Server, *job.Manager, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	jobs := job.NewManager(1, m)
	b := stream.NewBroadcaster()
	router := NewRouter(Deps{
		Jobs:        jobs,
		Extractor:   studio,
		Merger:      studio,
		Replacer:    studio,
		Dubber:      studio,
		Monitor:     b,
		WebRTC:      stream.NewWebRTCHandler(b),
		Metrics:     m,
		Gatherer:    reg,
		CORSOrigins: []string{"*"},
		MaxUpload:   1 << 10,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		jobs.Stop()
	})
	return srv, jobs, reg
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJob(t *testing.T, resp *http.Response) job.Job {
	t.Helper()
	defer resp.Body.Close()
	var j job.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return j
}

func waitDone(t *testing.T, base, id string) job.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(base + "/api/jobs/" + id)
		if err != nil {
			t.Fatalf("GET job: %v", err)
		}
		j := decodeJob(t, resp)
		if j.Status.Finished() {
			return j
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s still %s", id, j.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- Studio operations ---

func TestMergeJobAndResultDownload(t *testing.T) {
	studio := &fakeStudio{}
	srv, _, _ := newTestServer(t, studio)

	resp := postJSON(t, srv.URL+"/api/merge",
		`{"segments":[{"source_url":"http://x/a.wav","start_time":0},{"source_url":"http://x/b.wav","start_time":2,"target_duration":1.5}],"total_duration":8}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	j := decodeJob(t, resp)
	if j.Type != job.TypeMerge {
		t.Errorf("Type = %s, want merge", j.Type)
	}

	done := waitDone(t, srv.URL, j.ID)
	if done.Status != job.StatusCompleted {
		t.Fatalf("Status = %s (%s), want completed", done.Status, done.Error)
	}

	studio.mu.Lock()
	if len(studio.segments) != 2 || studio.total != 8 {
		t.Errorf("merge got %d segments over %v, want 2 over 8", len(studio.segments), studio.total)
	}
	if td := studio.segments[1].TargetDuration; td == nil || *td != 1.5 {
		t.Errorf("TargetDuration = %v, want 1.5", td)
	}
	studio.mu.Unlock()

	res, err := http.Get(srv.URL + "/api/jobs/" + j.ID + "/result")
	if err != nil {
		t.Fatalf("GET result: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("result status = %d, want 200", res.StatusCode)
	}
	if string(body) != "RIFF-merged" {
		t.Errorf("body = %q, want RIFF-merged", body)
	}
	if ct := res.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	if cd := res.Header.Get("Content-Disposition"); !strings.Contains(cd, "merged-audio.wav") {
		t.Errorf("Content-Disposition = %q, want merged-audio.wav", cd)
	}

	again, _ := http.Get(srv.URL + "/api/jobs/" + j.ID + "/result")
	again.Body.Close()
	if again.StatusCode != http.StatusGone {
		t.Errorf("second download status = %d, want 410", again.StatusCode)
	}
}

func TestMergeValidation(t *testing.T) {
	srv, jobs, _ := newTestServer(t, &fakeStudio{})

	tests := []struct {
		name string
		body string
	}{
		{"no segments", `{"segments":[],"total_duration":4}`},
		{"missing url", `{"segments":[{"start_time":0}]}`},
		{"bad target", `{"segments":[{"source_url":"http://x/a.wav","start_time":0,"target_duration":0}]}`},
		{"negative total", `{"segments":[{"source_url":"http://x/a.wav","start_time":0}],"total_duration":-1}`},
		{"unknown field", `{"segments":[{"source_url":"http://x/a.wav"}],"speed":2}`},
		{"malformed", `{"segments":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/merge", tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
	if n := len(jobs.List()); n != 0 {
		t.Errorf("%d jobs queued from invalid requests, want 0", n)
	}
}

func TestLocalSourcesRejected(t *testing.T) {
	srv, jobs, _ := newTestServer(t, &fakeStudio{})

	tests := []struct {
		name string
		path string
		body string
	}{
		{"merge file url", "/api/merge", `{"segments":[{"source_url":"file:///etc/passwd","start_time":0}]}`},
		{"merge bare path", "/api/merge", `{"segments":[{"source_url":"/etc/passwd","start_time":0}]}`},
		{"replace file video", "/api/replace", `{"video_url":"file:///root/v.mp4","audio_url":"http://x/a.wav"}`},
		{"replace bare audio", "/api/replace", `{"video_url":"http://x/v.mp4","audio_url":"a.wav"}`},
		{"dub bare video", "/api/dub", `{"video_url":"/srv/v.mp4","segments":[{"source_url":"http://x/a.wav","start_time":0}]}`},
		{"dub file segment", "/api/dub", `{"video_url":"http://x/v.mp4","segments":[{"source_url":"file:///etc/shadow","start_time":0}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+tt.path, tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
	if n := len(jobs.List()); n != 0 {
		t.Errorf("%d jobs queued for local sources, want 0", n)
	}
}

func TestFailedMergeReportsError(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStudio{mergeErr: compositor.ErrNoSegments})

	resp := postJSON(t, srv.URL+"/api/merge", `{"segments":[{"source_url":"http://x/a.wav","start_time":0}]}`)
	j := decodeJob(t, resp)
	done := waitDone(t, srv.URL, j.ID)

	if done.Status != job.StatusFailed {
		t.Fatalf("Status = %s, want failed", done.Status)
	}
	if done.Error != compositor.ErrNoSegments.Error() {
		t.Errorf("Error = %q, want %q", done.Error, compositor.ErrNoSegments.Error())
	}
	if done.Progress != 0 {
		t.Errorf("Progress = %v, want 0", done.Progress)
	}

	res, _ := http.Get(srv.URL + "/api/jobs/" + j.ID + "/result")
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Errorf("result status = %d, want 409", res.StatusCode)
	}
}

func TestExtractUpload(t *testing.T) {
	studio := &fakeStudio{}
	srv, _, _ := newTestServer(t, studio)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("video", "clip.mp4")
	fw.Write([]byte("fake video bytes"))
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/extract", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	j := decodeJob(t, resp)
	done := waitDone(t, srv.URL, j.ID)
	if done.Result == nil || done.Result.Name != media.ExtractedName {
		t.Errorf("Result = %+v, want %s", done.Result, media.ExtractedName)
	}

	studio.mu.Lock()
	defer studio.mu.Unlock()
	if string(studio.uploaded) != "fake video bytes" {
		t.Errorf("uploaded = %q", studio.uploaded)
	}
}

func TestExtractRejectsBadUploads(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStudio{})

	t.Run("missing field", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		mw.WriteField("other", "x")
		mw.Close()
		resp, _ := http.Post(srv.URL+"/api/extract", mw.FormDataContentType(), &body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("too large", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, _ := mw.CreateFormFile("video", "big.mp4")
		fw.Write(bytes.Repeat([]byte{1}, 4<<10))
		mw.Close()
		resp, _ := http.Post(srv.URL+"/api/extract", mw.FormDataContentType(), &body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", resp.StatusCode)
		}
	})
}

func TestReplaceAndDub(t *testing.T) {
	studio := &fakeStudio{}
	srv, _, _ := newTestServer(t, studio)

	resp := postJSON(t, srv.URL+"/api/replace", `{"video_url":"http://x/v.mp4","audio_url":"http://x/a.wav"}`)
	j := decodeJob(t, resp)
	done := waitDone(t, srv.URL, j.ID)
	if done.Result == nil || done.Result.ContentType != media.MimeWebMVP9 {
		t.Errorf("replace Result = %+v, want %s", done.Result, media.MimeWebMVP9)
	}

	resp = postJSON(t, srv.URL+"/api/dub", `{"video_url":"http://x/v.mp4","segments":[{"source_url":"http://x/a.wav","start_time":1}]}`)
	j = decodeJob(t, resp)
	done = waitDone(t, srv.URL, j.ID)
	if done.Result == nil || done.Result.Name != "dubbed-video.webm" {
		t.Errorf("dub Result = %+v, want dubbed-video.webm", done.Result)
	}

	resp = postJSON(t, srv.URL+"/api/replace", `{"video_url":"http://x/v.mp4"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("replace without audio status = %d, want 400", resp.StatusCode)
	}
}

// --- Jobs ---

func TestCancelJobOverHTTP(t *testing.T) {
	studio := &fakeStudio{block: make(chan struct{})}
	srv, jobs, _ := newTestServer(t, studio)

	resp := postJSON(t, srv.URL+"/api/replace", `{"video_url":"http://x/v.mp4","audio_url":"http://x/a.wav"}`)
	j := decodeJob(t, resp)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := jobs.Get(j.ID)
		if got.Status == job.StatusRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/jobs/"+j.ID, nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", del.StatusCode)
	}

	done := waitDone(t, srv.URL, j.ID)
	if done.Status != job.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", done.Status)
	}

	del, _ = http.DefaultClient.Do(req)
	del.Body.Close()
	if del.StatusCode != http.StatusConflict {
		t.Errorf("second DELETE status = %d, want 409", del.StatusCode)
	}
}

func TestUnknownJobIs404(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStudio{})

	for _, path := range []string{"/api/jobs/missing", "/api/jobs/missing/result"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestListJobsEmptyArray(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStudio{})

	resp, err := http.Get(srv.URL + "/api/jobs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

// --- Health, metrics, CORS ---

func TestHealthIncludesMonitor(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStudio{})

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Status  string        `json:"status"`
		Monitor stream.Status `json:"monitor"`
		Peers   *int          `json:"webrtc_peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Peers == nil || *body.Peers != 0 {
		t.Errorf("webrtc_peers = %v, want 0", body.Peers)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStudio{})

	for range 2 {
		resp, _ := http.Get(srv.URL + "/api/jobs/abc")
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	want := `studio_http_requests_total{method="GET",route="/api/jobs/{id}",status_code="404"} 2`
	if !strings.Contains(string(body), want) {
		t.Errorf("metrics missing %q", want)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStudio{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/merge", nil)
	req.Header.Set("Origin", "http://studio.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestOfferRoute(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeStudio{})

	resp := postJSON(t, srv.URL+"/offer", "{not json")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
