package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/models"
)

// memStore is an in-memory queue store for driving the runtime in tests.
type memStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.Job
	cancelled map[uuid.UUID]bool
	retries   []retryCall
	failures  []string
	unclaims  []uuid.UUID
	calls     []string
	pruned    int
}

type retryCall struct {
	id    uuid.UUID
	at    time.Time
	cause string
}

func newMemStore() *memStore {
	return &memStore{jobs: map[uuid.UUID]*models.Job{}, cancelled: map[uuid.UUID]bool{}}
}

func (s *memStore) Enqueue(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Status = models.JobPending
	s.jobs[job.ID] = job
	return nil
}

func (s *memStore) ClaimNext() (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "claim")
	var pending []*models.Job
	for _, j := range s.jobs {
		if j.Status == models.JobPending {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Priority < pending[j].Priority })
	job := pending[0]
	job.Status = models.JobProcessing
	return job, nil
}

func (s *memStore) Unclaim(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.jobs[id]; j.Status == models.JobProcessing {
		j.Status = models.JobPending
	}
	s.unclaims = append(s.unclaims, id)
	return nil
}

func (s *memStore) Complete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = models.JobCompleted
	return nil
}

func (s *memStore) MarkWaiting(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.jobs[id]; j.Status == models.JobProcessing {
		j.Status = models.JobWaiting
	}
	return nil
}

func (s *memStore) HasActiveChildren(id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChildrenLocked(id), nil
}

func (s *memStore) activeChildrenLocked(id uuid.UUID) bool {
	for _, j := range s.jobs {
		if j.ParentJobID == nil || *j.ParentJobID != id {
			continue
		}
		switch j.Status {
		case models.JobPending, models.JobProcessing, models.JobWaiting:
			return true
		}
	}
	return false
}

func (s *memStore) SettleWaitingParents() ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, j := range s.jobs {
		if j.Status == models.JobWaiting && !s.activeChildrenLocked(id) {
			j.Status = models.JobCompleted
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) FailTerminal(id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = models.JobFailed
	s.failures = append(s.failures, errMsg)
	return nil
}

func (s *memStore) ScheduleRetry(id uuid.UUID, at time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status = models.JobPending
	j.RetryCount++
	s.retries = append(s.retries, retryCall{id: id, at: at, cause: errMsg})
	return nil
}

func (s *memStore) Cancel(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = models.JobCancelled
	return nil
}

func (s *memStore) IsCancelled(id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[id], nil
}

func (s *memStore) UpdateProgress(id uuid.UUID, current, total int, message string) error {
	return nil
}

func (s *memStore) IncrementProgress(id uuid.UUID, delta int, message string) error {
	return nil
}

func (s *memStore) RecoverProcessing() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "recover")
	var n int64
	for _, j := range s.jobs {
		if j.Status == models.JobProcessing {
			j.Status = models.JobPending
			n++
		}
	}
	return n, nil
}

func (s *memStore) FailBrokenDependents() (int64, error) { return 0, nil }
func (s *memStore) MigrateTerminal() (int64, error)      { return 0, nil }

func (s *memStore) CountPending() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobPending {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetByID(id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id], nil
}

func (s *memStore) PruneHistory(keep int) (int64, error) {
	s.pruned = keep
	return 0, nil
}

func (s *memStore) status(id uuid.UUID) models.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Status
}

// memEvents records queue broadcasts.
type memEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *memEvents) Broadcast(event string, data interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *memEvents) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev == event {
			n++
		}
	}
	return n
}

func runUntil(t *testing.T, q *Queue, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(finished)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		require.True(t, time.Now().Before(deadline), "queue did not finish in time")
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-finished
}

func TestQueueProcessesJob(t *testing.T) {
	store := newMemStore()
	events := &memEvents{}
	q := New(store, events, 2)

	var got *models.Job
	q.Register("demo", func(ctx context.Context, job *models.Job) error {
		got = job
		return nil
	})

	job := NewJob("demo", 1, map[string]string{"k": "v"})
	require.NoError(t, q.Enqueue(job))

	runUntil(t, q, func() bool { return store.status(job.ID) == models.JobCompleted })

	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 1, events.count("job:queued"))
	assert.Equal(t, 1, events.count("job:completed"))
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	store := newMemStore()
	q := New(store, &memEvents{}, 1)

	attempts := 0
	q.Register("flaky", func(ctx context.Context, job *models.Job) error {
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	})

	job := NewJob("flaky", 1, nil)
	require.NoError(t, q.Enqueue(job))

	runUntil(t, q, func() bool { return store.status(job.ID) == models.JobCompleted })

	assert.Equal(t, 2, attempts)
	require.Len(t, store.retries, 1)
	assert.Equal(t, "transient", store.retries[0].cause)
	assert.WithinDuration(t, time.Now().Add(Backoff(0)), store.retries[0].at, 2*time.Second)
}

func TestQueueFailsTerminally(t *testing.T) {
	store := newMemStore()
	events := &memEvents{}
	q := New(store, events, 1)

	var hookJob *models.Job
	q.OnTerminalFailure = func(job *models.Job, errMsg string) { hookJob = job }
	q.Register("broken", func(ctx context.Context, job *models.Job) error {
		return errors.New("permanent")
	})

	job := NewJob("broken", 1, nil)
	job.MaxRetries = 0
	require.NoError(t, q.Enqueue(job))

	runUntil(t, q, func() bool { return store.status(job.ID) == models.JobFailed })

	require.Len(t, store.failures, 1)
	assert.Equal(t, "permanent", store.failures[0])
	require.NotNil(t, hookJob)
	assert.Equal(t, job.ID, hookJob.ID)
	assert.Equal(t, 1, events.count("job:failed"))
}

func TestQueueSkipsCancelledJob(t *testing.T) {
	store := newMemStore()
	q := New(store, &memEvents{}, 1)

	ran := false
	q.Register("skippable", func(ctx context.Context, job *models.Job) error {
		ran = true
		return nil
	})

	job := NewJob("skippable", 1, nil)
	require.NoError(t, q.Enqueue(job))
	store.mu.Lock()
	store.cancelled[job.ID] = true
	store.mu.Unlock()

	runUntil(t, q, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.jobs[job.ID].Status != models.JobPending
	})

	assert.False(t, ran)
}

func TestQueueCancelledMidHandler(t *testing.T) {
	store := newMemStore()
	q := New(store, &memEvents{}, 1)

	q.Register("long", func(ctx context.Context, job *models.Job) error {
		return ErrCancelled
	})

	job := NewJob("long", 1, nil)
	require.NoError(t, q.Enqueue(job))

	runUntil(t, q, func() bool { return store.status(job.ID) == models.JobCancelled })
	assert.Empty(t, store.retries)
}

func TestQueueUnregisteredTypeFails(t *testing.T) {
	store := newMemStore()
	q := New(store, &memEvents{}, 1)

	job := NewJob("nobody:home", 1, nil)
	require.NoError(t, q.Enqueue(job))

	runUntil(t, q, func() bool { return store.status(job.ID) == models.JobFailed })
	require.Len(t, store.failures, 1)
	assert.Contains(t, store.failures[0], "no handler")
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0))
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 32*time.Second, Backoff(5))
	assert.Equal(t, 5*time.Minute, Backoff(10))
	// Shift overflow must not produce a negative delay.
	assert.Equal(t, 5*time.Minute, Backoff(63))
}

func TestQueueParentWaitsForChildren(t *testing.T) {
	store := newMemStore()
	events := &memEvents{}
	// One worker makes the ordering deterministic: the child cannot finish
	// before the parent's own completion check runs.
	q := New(store, events, 1)

	var childID uuid.UUID
	q.Register("fanout", func(ctx context.Context, job *models.Job) error {
		child := withParent(NewJob("leaf", 5, nil), job.ID)
		childID = child.ID
		return q.Enqueue(child)
	})
	q.Register("leaf", func(ctx context.Context, job *models.Job) error { return nil })

	parent := NewJob("fanout", 1, nil)
	require.NoError(t, q.Enqueue(parent))

	runUntil(t, q, func() bool { return store.status(parent.ID) == models.JobCompleted })

	assert.Equal(t, models.JobCompleted, store.status(childID))
	assert.Equal(t, 1, events.count("job:waiting"), "parent parked until its child settled")
}

func TestQueueRecoversInterruptedJobs(t *testing.T) {
	store := newMemStore()
	q := New(store, &memEvents{}, 1)

	runs := 0
	q.Register("resumable", func(ctx context.Context, job *models.Job) error {
		runs++
		return nil
	})

	// A row left processing by a crashed run.
	job := NewJob("resumable", 1, nil)
	job.Status = models.JobProcessing
	store.jobs[job.ID] = job

	require.NoError(t, q.Recover())
	assert.Equal(t, models.JobPending, store.status(job.ID))

	runUntil(t, q, func() bool { return store.status(job.ID) == models.JobCompleted })

	assert.Equal(t, 1, runs)
	assert.Zero(t, job.RetryCount, "an interruption is not a failed attempt")
	assert.Empty(t, store.retries)
	require.NotEmpty(t, store.calls)
	assert.Equal(t, "recover", store.calls[0], "recovery runs before the first claim")
}

func TestQueueShutdownReturnsUnstartedClaim(t *testing.T) {
	store := newMemStore()
	q := New(store, &memEvents{}, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	q.Register("blocker", func(ctx context.Context, job *models.Job) error {
		close(started)
		<-release
		return nil
	})
	q.Register("casualty", func(ctx context.Context, job *models.Job) error { return nil })

	blocker := NewJob("blocker", 1, nil)
	require.NoError(t, q.Enqueue(blocker))

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(finished)
	}()
	<-started

	casualty := NewJob("casualty", 2, nil)
	require.NoError(t, q.Enqueue(casualty))

	// Wait for the poller to claim the second job while the only worker is
	// still busy, then stop the queue.
	deadline := time.Now().Add(5 * time.Second)
	for store.status(casualty.ID) != models.JobProcessing {
		require.True(t, time.Now().Before(deadline), "second job never claimed")
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	for {
		store.mu.Lock()
		unclaimed := len(store.unclaims) > 0
		store.mu.Unlock()
		if unclaimed {
			break
		}
		require.True(t, time.Now().Before(deadline), "claim was not returned on shutdown")
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	<-finished

	assert.Equal(t, models.JobPending, store.status(casualty.ID))
	assert.Zero(t, casualty.RetryCount, "an unstarted claim must not burn a retry")
	assert.Empty(t, store.retries)
	assert.Equal(t, models.JobCompleted, store.status(blocker.ID))
}

func TestProgressThrottles(t *testing.T) {
	store := newMemStore()
	events := &memEvents{}
	q := New(store, events, 1)

	id := uuid.New()
	q.Progress(id, 1, 10, "working")
	q.Progress(id, 2, 10, "working")
	assert.Equal(t, 1, events.count("job:progress"))

	// Completion always broadcasts.
	q.Progress(id, 10, 10, "done")
	assert.Equal(t, 2, events.count("job:progress"))
}
