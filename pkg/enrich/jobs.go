package enrich

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobOptions controls per-job behavior.
type JobOptions struct {
	CreateTags      bool
	RedactionMode   bool
	RedactionPrompt string
}

// Job is one enrichment request: a set of document ids analyzed under a
// single prompt.
type Job struct {
	ID          string
	DocumentIDs []string
	Prompt      string
	Options     JobOptions
}

// Progress is the observable state of a running job. Results are appended in
// completion order, not submission order.
type Progress struct {
	Total           int
	Processed       int
	CurrentDocument string
	CurrentSubject  string
	Results         []AnalysisResult
	Redactions      []Redaction
	Completed       bool
	CompletedAt     time.Time
}

type jobEntry struct {
	job      Job
	progress Progress
}

// Registry tracks job progress process-wide. Entries are created on job
// start, mutated only under the registry lock, and evicted once the
// retention period past completion has elapsed. Eviction is lazy: expired
// entries are dropped whenever the registry is touched.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*jobEntry
	ttl     time.Duration
	nowFunc func() time.Time
}

// DefaultJobTTL is how long a completed job's progress remains readable.
const DefaultJobTTL = 30 * time.Minute

// NewRegistry creates a registry with the given retention for completed
// jobs; zero means DefaultJobTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &Registry{
		jobs:    make(map[string]*jobEntry),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// StartJob registers a new job and returns it with a fresh id.
func (r *Registry) StartJob(documentIDs []string, prompt string, opts JobOptions) Job {
	job := Job{
		ID:          uuid.NewString(),
		DocumentIDs: documentIDs,
		Prompt:      prompt,
		Options:     opts,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	r.jobs[job.ID] = &jobEntry{
		job:      job,
		progress: Progress{Total: len(documentIDs)},
	}
	return job
}

// Update mutates a job's progress under the registry lock.
func (r *Registry) Update(jobID string, fn func(*Progress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.jobs[jobID]; ok {
		fn(&entry.progress)
		if entry.progress.Completed && entry.progress.CompletedAt.IsZero() {
			entry.progress.CompletedAt = r.nowFunc()
		}
	}
}

// Get returns a snapshot of a job's progress.
func (r *Registry) Get(jobID string) (Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()

	entry, ok := r.jobs[jobID]
	if !ok {
		return Progress{}, false
	}

	snapshot := entry.progress
	snapshot.Results = append([]AnalysisResult(nil), entry.progress.Results...)
	snapshot.Redactions = append([]Redaction(nil), entry.progress.Redactions...)
	return snapshot, true
}

// Active returns the number of tracked jobs.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	return len(r.jobs)
}

func (r *Registry) evictLocked() {
	cutoff := r.nowFunc().Add(-r.ttl)
	for id, entry := range r.jobs {
		if entry.progress.Completed && entry.progress.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}
