package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/satindergrewal/dubstudio/internal/job"
)

type JobHandler struct {
	jobs *job.Manager
}

func NewJobHandler(jobs *job.Manager) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// ListJobs returns all jobs, newest first
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, h.jobs.List(), http.StatusOK)
}

// GetJob returns a single job by ID
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, j, http.StatusOK)
}

// CancelJob cancels a pending or running job
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	err := h.jobs.Cancel(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, job.ErrNotFound):
		jsonError(w, "job not found", http.StatusNotFound)
	case errors.Is(err, job.ErrFinished):
		jsonError(w, "job already finished", http.StatusConflict)
	case err != nil:
		jsonError(w, "failed to cancel job: "+err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// Result streams a completed job's output. It can be downloaded once.
func (h *JobHandler) Result(w http.ResponseWriter, r *http.Request) {
	res, err := h.jobs.TakeResult(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, job.ErrNotFound):
		jsonError(w, "job not found", http.StatusNotFound)
		return
	case errors.Is(err, job.ErrNotReady):
		jsonError(w, "job has no result yet", http.StatusConflict)
		return
	case errors.Is(err, job.ErrTaken):
		jsonError(w, "result already downloaded", http.StatusGone)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	if res.Name != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Name))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}
