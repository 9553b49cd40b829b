package jobs

import (
	"sync"
)

// Store is the in-memory job table. The map lock only guards membership;
// each record carries its own lock so jobs never serialize on each other.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	job Job
}

// NewStore creates an empty job store
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*entry),
	}
}

// Create inserts a new job, failing if the ID is already present
func (s *Store) Create(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrJobExists
	}
	s.jobs[job.ID] = &entry{job: job}
	return nil
}

// Get returns a copy of the job
func (s *Store) Get(id string) (Job, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Job{}, ErrJobNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, nil
}

// Update applies fn to the job under the record's lock and returns the
// updated copy.
func (s *Store) Update(id string, fn func(*Job)) (Job, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Job{}, ErrJobNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.job)
	return e.job, nil
}

// Delete removes a job and reports whether it existed
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Snapshot copies every job. Records are read one at a time, so the view
// is not a global point-in-time freeze.
func (s *Store) Snapshot() []Job {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.job)
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of live jobs
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	return e, ok
}
