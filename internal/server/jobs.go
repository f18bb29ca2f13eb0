package server

import (
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeongseonghan/qpsk-receiver/internal/modem"
)

// JobStatus is the lifecycle state of a decode job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// maxConstellationPoints bounds the symbols kept per job for charts.
const maxConstellationPoints = 4000

// Job is one uploaded capture and its decode result.
type Job struct {
	ID        string
	Filename  string
	Samples   int
	Status    JobStatus
	Error     string
	Stage     modem.Stage
	CreatedAt time.Time
	DoneAt    time.Time

	Estimate modem.FrequencyEstimate
	Frame    modem.FrameMatch
	Symbols  []complex128 // decimated carrier-corrected symbols
	Image    *image.Gray
}

// JobView is the JSON representation of a job.
type JobView struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Samples   int       `json:"samples"`
	Status    JobStatus `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	DoneAt    time.Time `json:"doneAt,omitzero"`

	OffsetHz     float64 `json:"offsetHz,omitempty"`
	ResolutionHz float64 `json:"resolutionHz,omitempty"`
	PayloadStart int     `json:"payloadStart,omitempty"`
	Score        float64 `json:"score,omitempty"`
	Inverted     bool    `json:"inverted,omitempty"`
	HasImage     bool    `json:"hasImage"`
}

// View returns the JSON representation.
func (j *Job) View() JobView {
	return JobView{
		ID:           j.ID,
		Filename:     j.Filename,
		Samples:      j.Samples,
		Status:       j.Status,
		Stage:        string(j.Stage),
		Error:        j.Error,
		CreatedAt:    j.CreatedAt,
		DoneAt:       j.DoneAt,
		OffsetHz:     j.Estimate.OffsetHz,
		ResolutionHz: j.Estimate.ResolutionHz,
		PayloadStart: j.Frame.PayloadStart,
		Score:        j.Frame.Score,
		Inverted:     j.Frame.Inverted,
		HasImage:     j.Image != nil,
	}
}

// JobStore keeps jobs in memory, keyed by ID.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create registers a new queued job.
func (s *JobStore) Create(filename string, samples int) *Job {
	j := &Job{
		ID:        uuid.NewString(),
		Filename:  filename,
		Samples:   samples,
		Status:    JobQueued,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
	return j
}

// Get returns a snapshot of the job.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Update applies fn to the job under the store lock.
func (s *JobStore) Update(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		fn(j)
	}
}

// Counts returns the number of jobs per status.
func (s *JobStore) Counts() map[JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[JobStatus]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts
}

func decimateSymbols(symbols []complex128) []complex128 {
	step := (len(symbols) + maxConstellationPoints - 1) / maxConstellationPoints
	if step < 1 {
		step = 1
	}
	out := make([]complex128, 0, len(symbols)/step+1)
	for i := 0; i < len(symbols); i += step {
		out = append(out, symbols[i])
	}
	return out
}
