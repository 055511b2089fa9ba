package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler fires Job every Interval. Runs never overlap: a tick that
// arrives while a run is in flight is skipped, not queued.
type Scheduler struct {
	Interval   time.Duration
	RunOnStart bool
	Job        func(ctx context.Context)

	c       *cron.Cron
	running atomic.Bool
	wg      sync.WaitGroup
	skipped atomic.Int64
}

func NewScheduler(interval time.Duration, job func(ctx context.Context)) *Scheduler {
	return &Scheduler{Interval: interval, RunOnStart: true, Job: job}
}

// Start schedules runs until ctx is done or Stop is called. ctx is handed to
// every run so an in-flight run sees shutdown and starts no new work.
func (s *Scheduler) Start(ctx context.Context) {
	s.c = cron.New()
	s.c.Schedule(cron.Every(s.Interval), cron.FuncJob(func() { s.trigger(ctx) }))
	s.c.Start()
	log.Ctx(ctx).Info().Dur("interval", s.Interval).Msg("scan scheduler started")

	if s.RunOnStart {
		s.launch(ctx)
	}
}

// trigger runs the job in the caller's goroutine unless a run is in flight.
func (s *Scheduler) trigger(ctx context.Context) {
	if s.acquire(ctx) {
		s.run(ctx)
	}
}

// launch is trigger on a new goroutine. The run is registered before the
// goroutine starts so Stop always waits for it.
func (s *Scheduler) launch(ctx context.Context) {
	if s.acquire(ctx) {
		go s.run(ctx)
	}
}

func (s *Scheduler) acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		log.Ctx(ctx).Warn().Msg("previous run still in progress, skipping tick")
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Scheduler) run(ctx context.Context) {
	defer func() {
		s.running.Store(false)
		s.wg.Done()
	}()
	s.Job(ctx)
}

// Running reports whether a run is in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Skipped is the number of ticks dropped because a run was in flight.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// Stop prevents new runs and waits up to grace for the in-flight one.
// It reports whether the run finished in time.
func (s *Scheduler) Stop(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		// cron's jobs finish first, so no wg.Add can follow the Wait
		if s.c != nil {
			<-s.c.Stop().Done()
		}
		s.wg.Wait()
		close(done)
	}()
	if grace <= 0 {
		<-done
		return true
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
