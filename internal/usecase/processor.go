package usecase

import (
	"context"
	"errors"
	"fmt"
	"reminderq/internal/domain"
	"reminderq/internal/occurrence"
	"reminderq/internal/ports"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Processor drives one scan run: select, then evaluate each candidate
// through guard, compose, dispatch and record.
type Processor struct {
	Selector    Selector
	Guard       Guard
	Users       ports.UserDirectory
	Composer    Composer
	Dispatcher  Dispatcher
	Recorder    Recorder
	GracePeriod time.Duration
	Workers     int
	Now         func() time.Time
}

// Run executes a single run and always records its health. The returned
// error is non-nil only for process-fatal failures.
func (p Processor) Run(ctx context.Context) (domain.RunStats, error) {
	start := time.Now()
	now := p.now()
	stats := domain.RunStats{StartedAt: now}
	logger := log.Ctx(ctx)

	tasks, err := p.Selector.Select(ctx, now)
	if err != nil {
		stats.Errors = 1
		stats.Fatal = true
		stats.Took = time.Since(start)
		logger.Error().Err(err).Str("status", string(domain.HealthError)).Msg("run aborted")
		p.recordRun(ctx, now, stats)
		return stats, err
	}
	stats.Scanned = len(tasks)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(max(p.Workers, 1))
	for i, t := range tasks {
		if ctx.Err() != nil {
			logger.Warn().Int("remaining", len(tasks)-i).Msg("run interrupted, not starting further tasks")
			mu.Lock()
			stats.Interrupted += len(tasks) - i
			mu.Unlock()
			break
		}
		g.Go(func() error {
			out := p.Process(ctx, t, now)
			mu.Lock()
			tally(&stats, out)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	stats.Took = time.Since(start)

	status := p.recordRun(ctx, now, stats)
	logger.Info().
		Int("scanned", stats.Scanned).
		Int("sent", stats.Sent).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Int("duplicate", stats.Duplicate).
		Int("interrupted", stats.Interrupted).
		Int("errors", stats.Errors).
		Str("status", string(status)).
		Msg("run finished")
	return stats, nil
}

func (p Processor) recordRun(ctx context.Context, now time.Time, stats domain.RunStats) domain.HealthStatus {
	status, err := p.Recorder.RecordRun(context.WithoutCancel(ctx), now, stats)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("record run health")
	}
	return status
}

// Process evaluates one candidate and returns its terminal outcome. No
// failure escapes as an error or panic. A candidate reached after ctx is
// done is not started.
func (p Processor) Process(ctx context.Context, task domain.Task, now time.Time) (out domain.Outcome) {
	logger := log.Ctx(ctx).With().Str("task_id", task.ID).Str("owner_id", task.OwnerID).Logger()
	ctx = logger.WithContext(ctx)

	if ctx.Err() != nil {
		logger.Debug().Msg("shutting down, task not started")
		return domain.OutcomeInterrupted
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("task processing panicked")
			out = domain.OutcomeInvalid
		}
	}()

	if task.Completed {
		logger.Debug().Msg("skip completed task")
		return domain.OutcomeSkipCompleted
	}
	if task.ReminderAt == nil {
		logger.Debug().Msg("skip task without reminder")
		return domain.OutcomeSkipNoOccurrence
	}

	rule, err := occurrence.RuleFor(task.Recurrence)
	if err != nil {
		logger.Error().Err(err).Msg("invalid task")
		return domain.OutcomeInvalid
	}
	if p.stale(task, now) {
		logger.Info().Time("due_at", *task.DueAt).Msg("skip stale reminder")
		return domain.OutcomeSkipStale
	}

	occ, ok := occurrence.Next(rule, *task.ReminderAt, now)
	if !ok {
		logger.Debug().Msg("no upcoming occurrence")
		return domain.OutcomeSkipNoOccurrence
	}
	logger = logger.With().Time("occurrence", occ).Logger()
	ctx = logger.WithContext(ctx)
	if p.stale(task, occ) {
		logger.Info().Time("due_at", *task.DueAt).Msg("skip stale reminder")
		return domain.OutcomeSkipStale
	}

	seen, err := p.Guard.Seen(ctx, task.ID, occ)
	if err != nil {
		logger.Warn().Err(err).Msg("duplicate check failed, relying on record uniqueness")
	} else if seen {
		logger.Debug().Msg("skip duplicate occurrence")
		return domain.OutcomeDuplicate
	}

	to, err := p.Users.Recipient(ctx, task.OwnerID)
	if err != nil && ctx.Err() != nil {
		logger.Info().Err(err).Msg("shutting down, recipient lookup abandoned")
		return domain.OutcomeInterrupted
	}
	if err != nil {
		logger.Error().Err(err).Msg("resolve recipient")
		return domain.OutcomeFailed
	}
	if to == nil || strings.TrimSpace(to.Address) == "" {
		logger.Info().Msg("skip task without recipient")
		return domain.OutcomeSkipNoRecipient
	}

	content := p.Composer.Compose(ctx, task, *to)
	res := p.Dispatcher.Dispatch(ctx, ports.Message{
		To:      to.Address,
		Subject: content.Subject,
		Body:    content.Body,
		HTML:    content.HTML,
	})
	if res.Interrupted {
		logger.Info().Err(res.Err).Int("attempts", res.Attempts).Msg("delivery interrupted, occurrence left for the next run")
		return domain.OutcomeInterrupted
	}

	rec := domain.DeliveryRecord{
		TaskID:       task.ID,
		OwnerID:      task.OwnerID,
		OccurrenceAt: occ,
		Recipient:    to.Address,
		Subject:      content.Subject,
		Body:         content.Body,
		Status:       res.Status(),
		Attempts:     res.Attempts,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if _, err := p.Recorder.RecordDelivery(context.WithoutCancel(ctx), rec); err != nil {
		if errors.Is(err, ports.ErrDuplicateRecord) {
			logger.Info().Msg("delivery already recorded by another writer")
			return domain.OutcomeDuplicate
		}
		logger.Error().Err(err).Msg("record delivery")
		return domain.OutcomeFailed
	}

	if res.Err != nil {
		logger.Error().Err(res.Err).Int("attempts", res.Attempts).Msg("delivery failed")
		return domain.OutcomeFailed
	}
	logger.Info().Int("attempts", res.Attempts).Bool("fallback", content.Fallback).Msg("reminder sent")
	return domain.OutcomeSent
}

// stale reports whether at lies more than the grace period past the due date.
func (p Processor) stale(task domain.Task, at time.Time) bool {
	if task.DueAt == nil || p.GracePeriod <= 0 {
		return false
	}
	return at.Sub(*task.DueAt) > p.GracePeriod
}

func (p Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return NaiveClock(0)()
}

func tally(s *domain.RunStats, out domain.Outcome) {
	switch {
	case out == domain.OutcomeSent:
		s.Sent++
	case out == domain.OutcomeDuplicate:
		s.Duplicate++
	case out == domain.OutcomeInterrupted:
		s.Interrupted++
	case out.IsSkip():
		s.Skipped++
	}
	if out.IsError() {
		s.Failed++
		s.Errors++
	}
}

// NaiveClock returns a clock producing local wall time at a fixed UTC
// offset, expressed as a UTC value so no zone database is consulted.
func NaiveClock(offset time.Duration) func() time.Time {
	return func() time.Time {
		t := time.Now().UTC().Add(offset)
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	}
}

// Describe renders stats for CLI output.
func Describe(s domain.RunStats, status domain.HealthStatus) string {
	return fmt.Sprintf("status=%s scanned=%d sent=%d failed=%d skipped=%d duplicate=%d interrupted=%d took=%s",
		status, s.Scanned, s.Sent, s.Failed, s.Skipped, s.Duplicate, s.Interrupted, s.Took.Round(time.Millisecond))
}
