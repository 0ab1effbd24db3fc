// Package scheduler owns the recurring work: interval library scans, the
// nightly drift check, weekly garbage collection and queue table upkeep. It
// only enqueues jobs; the queue does the work.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/jobs"
	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/repository"
)

const (
	scanCheckInterval = time.Minute

	verifySchedule      = "0 3 * * *" // nightly, quiet hours
	gcSchedule          = "0 4 * * 0" // weekly, after Sunday's verify
	maintenanceSchedule = "30 3 * * *"
)

type Scheduler struct {
	libRepo *repository.LibraryRepository
	queue   *jobs.Queue
	cron    *cron.Cron
	stop    chan struct{}
	log     zerolog.Logger
}

func New(libRepo *repository.LibraryRepository, queue *jobs.Queue) *Scheduler {
	return &Scheduler{
		libRepo: libRepo,
		queue:   queue,
		cron:    cron.New(),
		stop:    make(chan struct{}),
		log:     logging.WithComponent("scheduler"),
	}
}

// Start registers the cron entries and the library scan ticker.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(verifySchedule, s.enqueueVerify); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(gcSchedule, s.enqueueGC); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(maintenanceSchedule, s.enqueueMaintenance); err != nil {
		return err
	}
	s.cron.Start()
	go s.scanLoop()
	s.log.Info().Msg("scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	close(s.stop)
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) scanLoop() {
	ticker := time.NewTicker(scanCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.checkDueScans()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) checkDueScans() {
	libs, err := s.libRepo.GetDueForScan()
	if err != nil {
		s.log.Error().Err(err).Msg("due-scan check failed")
		return
	}
	for _, lib := range libs {
		// Advance before enqueueing so a slow queue cannot re-trigger.
		if err := s.libRepo.AdvanceNextScan(lib.ID); err != nil {
			s.log.Error().Err(err).Str("library", lib.Name).Msg("next-scan advance failed")
			continue
		}
		job := jobs.NewJob(jobs.TaskScanLibrary, jobs.PriorityScan, jobs.LibraryPayload{LibraryID: lib.ID})
		if err := s.queue.Enqueue(job); err != nil {
			s.log.Error().Err(err).Str("library", lib.Name).Msg("scheduled scan enqueue failed")
			continue
		}
		s.log.Info().Str("library", lib.Name).Msg("scheduled scan queued")
	}
}

func (s *Scheduler) enqueueVerify() {
	if err := s.queue.Enqueue(jobs.NewJob(jobs.TaskVerifyPublished, jobs.PriorityVerify, nil)); err != nil {
		s.log.Error().Err(err).Msg("verify enqueue failed")
	}
}

func (s *Scheduler) enqueueGC() {
	if err := s.queue.Enqueue(jobs.NewJob(jobs.TaskCacheGC, jobs.PriorityGC, nil)); err != nil {
		s.log.Error().Err(err).Msg("gc enqueue failed")
	}
}

func (s *Scheduler) enqueueMaintenance() {
	if err := s.queue.Enqueue(jobs.NewJob(jobs.TaskMaintenance, jobs.PriorityGC, nil)); err != nil {
		s.log.Error().Err(err).Msg("maintenance enqueue failed")
	}
}
