package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleflea/sense-voice-recognizer/model"
)

func newRecord(id string, enqueuedAt time.Time) *model.JobRecord {
	return &model.JobRecord{
		ID:         id,
		Language:   "auto",
		Status:     model.StatusQueued,
		EnqueuedAt: enqueuedAt,
		UpdatedAt:  enqueuedAt,
	}
}

func TestJobStore_AddAndGet(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, newRecord("test-id", time.Now())))

	result, err := s.Get(ctx, "test-id")
	require.NoError(t, err)
	assert.Equal(t, "test-id", result.ID)
	assert.Equal(t, model.StatusQueued, result.Status)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestJobStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, newRecord("copy", time.Now())))

	got, err := s.Get(ctx, "copy")
	require.NoError(t, err)
	got.Status = model.StatusFailed

	again, err := s.Get(ctx, "copy")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, again.Status)
}

func TestJobStore_UpdateStatus(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, newRecord("test-id", time.Now())))

	require.NoError(t, s.UpdateStatus(ctx, "test-id", model.StatusProcessing, ""))
	got, err := s.Get(ctx, "test-id")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, s.UpdateStatus(ctx, "test-id", model.StatusFailed, "bad audio"))
	got, err = s.Get(ctx, "test-id")
	require.NoError(t, err)
	assert.Equal(t, "bad audio", got.Error)
	assert.NotNil(t, got.FinishedAt)

	assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", model.StatusCompleted, ""), model.ErrJobNotFound)
}

func TestJobStore_GetAllNewestFirst(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Add(ctx, newRecord(id, base.Add(time.Duration(i)*time.Second))))
	}

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestJobStore_List(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Add(ctx, newRecord(id, base.Add(time.Duration(i)*time.Second))))
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"limited", 2, []string{"d", "c"}},
		{"limit above size", 10, []string{"d", "c", "b", "a"}},
		{"no limit", 0, []string{"d", "c", "b", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.List(ctx, tt.limit)
			require.NoError(t, err)
			ids := make([]string, 0, len(recs))
			for _, rec := range recs {
				ids = append(ids, rec.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestJobStore_Delete(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, newRecord("gone", time.Now())))

	require.NoError(t, s.Delete(ctx, "gone"))
	_, err := s.Get(ctx, "gone")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestJobStore_Prune(t *testing.T) {
	tests := []struct {
		name      string
		retention time.Duration
		status    model.JobStatus
		age       time.Duration
		wantKept  bool
	}{
		{"old completed record is pruned", time.Minute, model.StatusCompleted, time.Hour, false},
		{"old abandoned record is pruned", time.Minute, model.StatusAbandoned, time.Hour, false},
		{"recent completed record is kept", time.Hour, model.StatusCompleted, time.Minute, true},
		{"old queued record is kept", time.Minute, model.StatusQueued, time.Hour, true},
		{"zero retention keeps everything", 0, model.StatusCompleted, 24 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Now()
			s := NewMemoryStore(tt.retention)
			s.now = func() time.Time { return now }

			rec := newRecord("r", now.Add(-tt.age))
			rec.Status = tt.status
			require.NoError(t, s.Add(context.Background(), rec))

			s.Prune()

			_, err := s.Get(context.Background(), "r")
			if tt.wantKept {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, model.ErrJobNotFound)
			}
		})
	}
}

func TestConcurrentAddGetUpdate(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()
	const numJobs = 200

	var wg sync.WaitGroup
	wg.Add(numJobs)
	for i := 0; i < numJobs; i++ {
		go func(i int) {
			defer wg.Done()
			_ = s.Add(ctx, newRecord(fmt.Sprintf("job-%d", i), time.Now()))
		}(i)
	}
	wg.Wait()

	const readers = 50
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				all, _ := s.GetAll(ctx)
				for _, rec := range all {
					_ = s.UpdateStatus(ctx, rec.ID, model.StatusProcessing, "")
					if _, err := s.Get(ctx, rec.ID); err != nil {
						t.Errorf("expected job to exist: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, numJobs)
}
