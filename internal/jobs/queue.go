// Package jobs runs the durable work queue: the database holds the rows, a
// poller feeds a worker pool, and handlers registered per job type do the
// actual work.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/metrics"
	"github.com/fetcharr/fetcharr/internal/models"
)

const (
	defaultWorkers   = 4
	pollInterval     = time.Second
	maintainEvery    = 30 * time.Second
	retryBase        = time.Second
	retryCap         = 5 * time.Minute
	breakerTrip      = 5
	breakerCooldown  = 30 * time.Second
	progressThrottle = 500 * time.Millisecond
)

// ErrCancelled is returned by handlers that observed a cooperative
// cancellation checkpoint.
var ErrCancelled = errors.New("job cancelled")

// Handler executes one claimed job. A nil return completes the job; an error
// schedules a retry until max_retries, then fails it terminally.
type Handler func(ctx context.Context, job *models.Job) error

// Store is the queue persistence slice, implemented by
// repository.QueueRepository.
type Store interface {
	Enqueue(job *models.Job) error
	ClaimNext() (*models.Job, error)
	Unclaim(id uuid.UUID) error
	Complete(id uuid.UUID) error
	MarkWaiting(id uuid.UUID) error
	HasActiveChildren(id uuid.UUID) (bool, error)
	SettleWaitingParents() ([]uuid.UUID, error)
	FailTerminal(id uuid.UUID, errMsg string) error
	ScheduleRetry(id uuid.UUID, at time.Time, errMsg string) error
	Cancel(id uuid.UUID) error
	IsCancelled(id uuid.UUID) (bool, error)
	UpdateProgress(id uuid.UUID, current, total int, message string) error
	IncrementProgress(id uuid.UUID, delta int, message string) error
	RecoverProcessing() (int64, error)
	FailBrokenDependents() (int64, error)
	MigrateTerminal() (int64, error)
	CountPending() (int, error)
	GetByID(id uuid.UUID) (*models.Job, error)
	PruneHistory(keep int) (int64, error)
}

// Events receives queue lifecycle broadcasts, implemented by api.WSHub.
type Events interface {
	Broadcast(event string, data interface{})
}

type Queue struct {
	store    Store
	events   Events
	workers  int
	breaker  *gobreaker.CircuitBreaker[struct{}]
	handlers map[string]Handler
	wake     chan struct{}
	log      zerolog.Logger

	// OnTerminalFailure fires after a job exhausts its retries, typically
	// wired to the notification dispatcher's job_failed event.
	OnTerminalFailure func(job *models.Job, errMsg string)

	mu           sync.RWMutex
	lastProgress map[uuid.UUID]time.Time
	progressMu   sync.Mutex
}

func New(store Store, events Events, workers int) *Queue {
	if workers <= 0 {
		workers = defaultWorkers
	}
	q := &Queue{
		store:        store,
		events:       events,
		workers:      workers,
		handlers:     map[string]Handler{},
		wake:         make(chan struct{}, 1),
		lastProgress: map[uuid.UUID]time.Time{},
		log:          logging.WithComponent("jobs"),
	}
	q.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name: "job-queue",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrip
		},
		Timeout: breakerCooldown,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			metrics.QueueBreakerState.Set(breakerStateValue(to))
			q.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("queue breaker state change")
		},
	})
	return q
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Register binds a handler to a job type. Jobs of unregistered types fail
// terminally when claimed.
func (q *Queue) Register(jobType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

func (q *Queue) handler(jobType string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Enqueue persists a job and nudges the poller.
func (q *Queue) Enqueue(job *models.Job) error {
	if err := q.store.Enqueue(job); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Type, err)
	}
	q.events.Broadcast("job:queued", map[string]any{"id": job.ID, "type": job.Type})
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Recover returns crashed processing rows to pending. Run once before the
// first poll.
func (q *Queue) Recover() error {
	n, err := q.store.RecoverProcessing()
	if err != nil {
		return err
	}
	if n > 0 {
		q.log.Info().Int64("jobs", n).Msg("recovered interrupted jobs")
	}
	_, err = q.store.MigrateTerminal()
	return err
}

// Run polls for runnable jobs and fans them out to the worker pool. Blocks
// until ctx ends and all in-flight handlers return.
func (q *Queue) Run(ctx context.Context) {
	work := make(chan *models.Job)
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range work {
				q.execute(ctx, job)
			}
		}()
	}

	lastMaintain := time.Time{}
	for {
		if ctx.Err() != nil {
			break
		}
		if time.Since(lastMaintain) > maintainEvery {
			q.maintain()
			lastMaintain = time.Now()
		}

		if q.breaker.State() == gobreaker.StateOpen {
			q.sleep(ctx, pollInterval)
			continue
		}

		job, err := q.store.ClaimNext()
		if err != nil {
			q.log.Error().Err(err).Msg("claim failed")
			q.sleep(ctx, pollInterval)
			continue
		}
		if job == nil {
			q.sleep(ctx, pollInterval)
			continue
		}
		select {
		case work <- job:
		case <-ctx.Done():
			// The claim never ran; return it to pending without burning a
			// retry.
			if err := q.store.Unclaim(job.ID); err != nil {
				q.log.Error().Err(err).Str("type", job.Type).Msg("unclaim failed")
			}
		}
	}
	close(work)
	wg.Wait()
}

func (q *Queue) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-q.wake:
	case <-time.After(d):
	}
}

func (q *Queue) maintain() {
	q.settleParents()
	if n, err := q.store.FailBrokenDependents(); err != nil {
		q.log.Error().Err(err).Msg("dependent sweep failed")
	} else if n > 0 {
		q.log.Warn().Int64("jobs", n).Msg("failed jobs with broken dependencies")
	}
	if _, err := q.store.MigrateTerminal(); err != nil {
		q.log.Error().Err(err).Msg("history migration failed")
	}
	if pending, err := q.store.CountPending(); err == nil {
		metrics.QueueDepth.Set(float64(pending))
	}
}

func (q *Queue) execute(ctx context.Context, job *models.Job) {
	log := q.log.With().Str("type", job.Type).Str("job", job.ID.String()).Logger()

	handler, ok := q.handler(job.Type)
	if !ok {
		log.Error().Msg("no handler registered")
		q.finishFailed(job, "no handler registered for type "+job.Type)
		return
	}

	if cancelled, err := q.store.IsCancelled(job.ID); err == nil && cancelled {
		q.events.Broadcast("job:cancelled", map[string]any{"id": job.ID, "type": job.Type})
		metrics.JobsProcessed.WithLabelValues(job.Type, "cancelled").Inc()
		return
	}

	start := time.Now()
	err := handler(ctx, job)
	metrics.JobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	// Feed the outcome to the breaker; an open breaker refuses the feed,
	// which is fine since dispatch is already paused.
	q.breaker.Execute(func() (struct{}, error) { return struct{}{}, err }) //nolint:errcheck

	switch {
	case err == nil:
		active, aErr := q.store.HasActiveChildren(job.ID)
		if aErr != nil {
			log.Error().Err(aErr).Msg("child lookup failed")
		}
		metrics.JobsProcessed.WithLabelValues(job.Type, "ok").Inc()
		if active {
			// A fan-out job stays alive until its children settle: the row
			// keeps receiving child progress bumps, and cancelling it still
			// reaches the children.
			if wErr := q.store.MarkWaiting(job.ID); wErr != nil {
				log.Error().Err(wErr).Msg("waiting transition failed")
			}
			q.events.Broadcast("job:waiting", map[string]any{"id": job.ID, "type": job.Type})
			log.Debug().Dur("took", time.Since(start)).Msg("job handler done, awaiting children")
			break
		}
		if cErr := q.store.Complete(job.ID); cErr != nil {
			log.Error().Err(cErr).Msg("complete failed")
		}
		q.events.Broadcast("job:completed", map[string]any{"id": job.ID, "type": job.Type})
		log.Debug().Dur("took", time.Since(start)).Msg("job completed")
		q.settleParents()

	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		if cErr := q.store.Cancel(job.ID); cErr != nil {
			log.Error().Err(cErr).Msg("cancel failed")
		}
		metrics.JobsProcessed.WithLabelValues(job.Type, "cancelled").Inc()
		q.events.Broadcast("job:cancelled", map[string]any{"id": job.ID, "type": job.Type})
		q.settleParents()

	case job.RetryCount < job.MaxRetries:
		delay := Backoff(job.RetryCount)
		if rErr := q.store.ScheduleRetry(job.ID, time.Now().Add(delay), err.Error()); rErr != nil {
			log.Error().Err(rErr).Msg("retry schedule failed")
		}
		metrics.JobsProcessed.WithLabelValues(job.Type, "retry").Inc()
		q.events.Broadcast("job:retry", map[string]any{"id": job.ID, "type": job.Type, "attempt": job.RetryCount + 1})
		log.Warn().Err(err).Dur("retry_in", delay).Msg("job failed, will retry")

	default:
		log.Error().Err(err).Msg("job failed terminally")
		q.finishFailed(job, err.Error())
	}
}

func (q *Queue) finishFailed(job *models.Job, errMsg string) {
	if err := q.store.FailTerminal(job.ID, errMsg); err != nil {
		q.log.Error().Err(err).Str("type", job.Type).Msg("terminal fail write failed")
	}
	metrics.JobsProcessed.WithLabelValues(job.Type, "failed").Inc()
	q.events.Broadcast("job:failed", map[string]any{"id": job.ID, "type": job.Type, "error": errMsg})
	if q.OnTerminalFailure != nil {
		q.OnTerminalFailure(job, errMsg)
	}
	q.settleParents()
}

// settleParents completes waiting jobs whose children have all finished.
// Settling one parent can unblock its own parent, so the sweep repeats until
// a pass settles nothing.
func (q *Queue) settleParents() {
	for {
		ids, err := q.store.SettleWaitingParents()
		if err != nil {
			q.log.Error().Err(err).Msg("parent settle failed")
			return
		}
		if len(ids) == 0 {
			return
		}
		for _, id := range ids {
			q.events.Broadcast("job:completed", map[string]any{"id": id})
		}
	}
}

// Backoff is the retry delay for the n-th attempt: base·2^n capped at five
// minutes.
func Backoff(retryCount int) time.Duration {
	d := retryBase << retryCount
	if d > retryCap || d <= 0 {
		return retryCap
	}
	return d
}

// Progress persists a job's progress and broadcasts it, throttled so tight
// handler loops do not flood the socket.
func (q *Queue) Progress(jobID uuid.UUID, current, total int, message string) {
	if err := q.store.UpdateProgress(jobID, current, total, message); err != nil {
		q.log.Error().Err(err).Msg("progress write failed")
		return
	}
	q.progressMu.Lock()
	last := q.lastProgress[jobID]
	throttled := time.Since(last) < progressThrottle && current < total
	if !throttled {
		q.lastProgress[jobID] = time.Now()
	}
	q.progressMu.Unlock()
	if throttled {
		return
	}
	q.events.Broadcast("job:progress", map[string]any{
		"id": jobID, "current": current, "total": total, "message": message,
	})
}

// BumpParent increments a parent job's phase counter from a child handler.
func (q *Queue) BumpParent(parentID *uuid.UUID, message string) {
	if parentID == nil {
		return
	}
	if err := q.store.IncrementProgress(*parentID, 1, message); err != nil {
		q.log.Error().Err(err).Msg("parent counter bump failed")
	}
}

// PruneHistory trims the job history table to the newest keep rows.
func (q *Queue) PruneHistory(keep int) (int64, error) {
	return q.store.PruneHistory(keep)
}

// Cancelled is the cooperative checkpoint handlers call between phases.
func (q *Queue) Cancelled(jobID uuid.UUID) bool {
	cancelled, err := q.store.IsCancelled(jobID)
	return err == nil && cancelled
}
