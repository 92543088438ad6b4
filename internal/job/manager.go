// Package job runs studio operations in the background and keeps their
// status, progress and output in memory until the output is downloaded or
// the retention period runs out.
package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/dubstudio/internal/metrics"
)

var (
	ErrNotFound  = errors.New("job not found")
	ErrFinished  = errors.New("job already finished")
	ErrNotReady  = errors.New("job has no result yet")
	ErrTaken     = errors.New("job result already downloaded")
	ErrQueueFull = errors.New("job queue full")
	ErrStopped   = errors.New("job manager stopped")
)

type entry struct {
	job    Job
	fn     Func
	result *Result
	seq    uint64
}

// Manager dispatches jobs to a fixed pool of workers.
type Manager struct {
	mu      sync.RWMutex
	jobs    map[string]*entry
	cancels map[string]context.CancelFunc
	pending chan string
	seq     uint64
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager starts workers goroutines. A nil m disables metrics.
func NewManager(workers int, m *metrics.Metrics) *Manager {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		jobs:    make(map[string]*entry),
		cancels: make(map[string]context.CancelFunc),
		pending: make(chan string, 100),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
	for range workers {
		mgr.wg.Add(1)
		go mgr.worker()
	}
	return mgr
}

// Submit queues fn and returns the pending job.
func (m *Manager) Submit(typ Type, fn Func) (Job, error) {
	if m.ctx.Err() != nil {
		return Job{}, ErrStopped
	}
	e := &entry{
		job: Job{
			ID:        uuid.New().String(),
			Type:      typ,
			Status:    StatusPending,
			CreatedAt: time.Now(),
		},
		fn: fn,
	}

	m.mu.Lock()
	m.seq++
	e.seq = m.seq
	m.jobs[e.job.ID] = e
	j := e.job
	m.mu.Unlock()

	select {
	case m.pending <- j.ID:
	default:
		m.mu.Lock()
		delete(m.jobs, j.ID)
		m.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	log.Printf("[job] %s %s queued", j.Type, j.ID)
	return j, nil
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return snapshot(e), nil
}

// List returns all jobs, newest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.jobs))
	for _, e := range m.jobs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	jobs := make([]Job, len(entries))
	for i, e := range entries {
		jobs[i] = snapshot(e)
	}
	m.mu.RUnlock()
	return jobs
}

// Cancel stops a pending or running job.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if e.job.Status.Finished() {
		return ErrFinished
	}
	if cancelFn, ok := m.cancels[id]; ok {
		cancelFn()
		delete(m.cancels, id)
	}
	if e.job.Status == StatusPending {
		m.finish(e, StatusCancelled, "")
	}
	// a running job is marked when its function returns
	return nil
}

// TakeResult hands out a completed job's output and drops the bytes.
func (m *Manager) TakeResult(id string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.job.Status != StatusCompleted {
		return nil, ErrNotReady
	}
	if e.result == nil {
		return nil, ErrTaken
	}
	res := e.result
	e.result = nil
	e.job.Result.Taken = true
	return res, nil
}

// Expire drops finished jobs that completed more than ttl ago, together
// with any result nobody downloaded. It returns how many were dropped.
func (m *Manager) Expire(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.jobs {
		if !e.job.Status.Finished() || e.job.CompletedAt == nil || e.job.CompletedAt.After(cutoff) {
			continue
		}
		delete(m.jobs, id)
		n++
	}
	if n > 0 {
		log.Printf("[job] expired %d finished jobs", n)
	}
	return n
}

// Retain expires finished jobs in the background until Stop. A ttl of zero
// or less keeps them forever.
func (m *Manager) Retain(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	interval := max(ttl/2, 10*time.Millisecond)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.Expire(ttl)
			}
		}
	}()
}

// Stop cancels all running jobs and waits for the workers to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case id := <-m.pending:
			m.process(id)
		}
	}
}

func (m *Manager) process(id string) {
	ctx, cancelFn := context.WithCancel(m.ctx)
	defer cancelFn()

	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.job.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	e.job.Status = StatusRunning
	e.job.StartedAt = &now
	m.cancels[id] = cancelFn
	fn, typ := e.fn, e.job.Type
	m.mu.Unlock()

	m.metrics.RecordJobStarted(string(typ))
	log.Printf("[job] %s %s running", typ, id)

	updateProgress := func(p float64) {
		if math.IsNaN(p) {
			return
		}
		p = math.Max(0, math.Min(100, p))
		m.mu.Lock()
		if e.job.Status == StatusRunning {
			e.job.Progress = p
		}
		m.mu.Unlock()
	}

	res, err := run(ctx, fn, updateProgress)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, id)
	switch {
	case ctx.Err() != nil:
		m.finish(e, StatusCancelled, "")
	case err != nil:
		m.finish(e, StatusFailed, err.Error())
	case res == nil:
		m.finish(e, StatusFailed, "no output produced")
	default:
		e.result = res
		e.job.Result = &Artifact{Name: res.Name, ContentType: res.ContentType, Size: len(res.Data)}
		m.finish(e, StatusCompleted, "")
	}
}

// run calls fn, turning a panic into a job failure.
func run(ctx context.Context, fn Func, updateProgress func(float64)) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, updateProgress)
}

// finish must be called with m.mu held.
func (m *Manager) finish(e *entry, status Status, errMsg string) {
	now := time.Now()
	e.job.Status = status
	e.job.Error = errMsg
	e.job.CompletedAt = &now
	e.fn = nil
	switch status {
	case StatusCompleted:
		e.job.Progress = 100
		log.Printf("[job] %s %s completed", e.job.Type, e.job.ID)
	case StatusFailed:
		e.job.Progress = 0
		log.Printf("[job] %s %s failed: %s", e.job.Type, e.job.ID, errMsg)
	default:
		log.Printf("[job] %s %s %s", e.job.Type, e.job.ID, status)
	}
	if e.job.StartedAt != nil {
		m.metrics.RecordJobFinished(string(e.job.Type), string(status), now.Sub(*e.job.StartedAt).Seconds())
	}
}

func snapshot(e *entry) Job {
	j := e.job
	if j.Result != nil {
		a := *j.Result
		j.Result = &a
	}
	return j
}
