package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/vastchain/internal/loader"
)

// JobStatus represents the state of a chain load job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusLoading   JobStatus = "loading"
	StatusCompleted JobStatus = "completed"
	StatusPartial   JobStatus = "partial"
	StatusFailed    JobStatus = "failed"
)

// Job tracks the state of a single chain load.
type Job struct {
	mu sync.Mutex

	ID     string            `json:"job_id"`
	Config loader.LoadConfig `json:"-"`
	Status JobStatus         `json:"status"`
	Phase  string            `json:"phase"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	loads  []loader.LoadEvent
	ads    []loader.AdEvent
	errors []string
}

// Progress counts load outcomes as they arrive.
type Progress struct {
	DocumentsLoaded int      `json:"documents_loaded"`
	DocumentsFailed int      `json:"documents_failed"`
	Ads             int      `json:"ads"`
	AdFailures      int      `json:"ad_failures"`
	Errors          []string `json:"errors"`
}

// NewJob creates a queued job for cfg.
func NewJob(cfg loader.LoadConfig) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Config:    cfg,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// AddLoadEvent appends a load event in arrival order.
func (j *Job) AddLoadEvent(ev loader.LoadEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.loads = append(j.loads, ev)
	if ev.Type == loader.EventLoaded {
		j.Progress.DocumentsLoaded++
	} else {
		j.Progress.DocumentsFailed++
	}
	j.UpdatedAt = time.Now()
}

// AddAdEvent appends an ad event in arrival order.
func (j *Job) AddAdEvent(ev loader.AdEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ads = append(j.ads, ev)
	if ev.Type == loader.EventAdLoaded {
		j.Progress.Ads++
	} else {
		j.Progress.AdFailures++
	}
	j.UpdatedAt = time.Now()
}

// Events returns copies of the recorded load and ad events.
func (j *Job) Events() ([]loader.LoadEvent, []loader.AdEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]loader.LoadEvent(nil), j.loads...), append([]loader.AdEvent(nil), j.ads...)
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID         string             `json:"job_id"`
	URI        string             `json:"uri"`
	Status     JobStatus          `json:"status"`
	Phase      string             `json:"phase"`
	Progress   Progress           `json:"progress"`
	LoadEvents []loader.LoadEvent `json:"load_events"`
	AdEvents   []loader.AdEvent   `json:"ad_events"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := j.Progress.Errors
	if errs == nil {
		errs = []string{}
	}
	return JobSnapshot{
		ID:     j.ID,
		URI:    j.Config.URI,
		Status: j.Status,
		Phase:  j.Phase,
		Progress: Progress{
			DocumentsLoaded: j.Progress.DocumentsLoaded,
			DocumentsFailed: j.Progress.DocumentsFailed,
			Ads:             j.Progress.Ads,
			AdFailures:      j.Progress.AdFailures,
			Errors:          append([]string{}, errs...),
		},
		LoadEvents: append([]loader.LoadEvent{}, j.loads...),
		AdEvents:   append([]loader.AdEvent{}, j.ads...),
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}
