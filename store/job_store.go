package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eleflea/sense-voice-recognizer/model"
)

// JobStore keeps lifecycle records of recognition jobs.
type JobStore interface {
	Add(ctx context.Context, rec *model.JobRecord) error
	Get(ctx context.Context, id string) (*model.JobRecord, error)
	GetAll(ctx context.Context) ([]*model.JobRecord, error)
	// List returns at most limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*model.JobRecord, error)
	UpdateStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore is the default JobStore. Records older than the retention
// window are dropped by Prune.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*model.JobRecord
	retention time.Duration
	now       func() time.Time
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*model.JobRecord),
		retention: retention,
		now:       time.Now,
	}
}

func (s *MemoryStore) Add(_ context.Context, rec *model.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.jobs[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.jobs[id]
	if !exists {
		return nil, model.ErrJobNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetAll returns copies of every record, newest first.
func (s *MemoryStore) GetAll(ctx context.Context) ([]*model.JobRecord, error) {
	return s.List(ctx, 0)
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*model.JobRecord, error) {
	s.mu.RLock()
	recs := make([]*model.JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		cp := *rec
		recs = append(recs, &cp)
	}
	s.mu.RUnlock()

	sortNewestFirst(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status model.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.jobs[id]
	if !exists {
		return model.ErrJobNotFound
	}
	rec.Apply(status, errMsg, s.now())
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	return nil
}

// Prune removes finished records last updated before the retention window
// and returns how many were removed. Pending records are never pruned.
func (s *MemoryStore) Prune() int {
	if s.retention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.jobs {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// StartJanitor prunes on every tick until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Prune()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *MemoryStore) Close() error {
	return nil
}

func sortNewestFirst(recs []*model.JobRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].EnqueuedAt.After(recs[j].EnqueuedAt)
	})
}
