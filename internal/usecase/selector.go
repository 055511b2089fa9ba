package usecase

import (
	"context"
	"fmt"
	"reminderq/internal/domain"
	"reminderq/internal/ports"
	"time"
)

// Selector narrows the store's reminder candidates to the ones a run
// should evaluate. One-shot reminders must fall in [now, now+Lookahead);
// recurring ones always pass because due-ness depends on today's date.
type Selector struct {
	Tasks     ports.TaskStore
	Lookahead time.Duration
	Limit     int
}

func (s Selector) Select(ctx context.Context, now time.Time) ([]domain.Task, error) {
	limit := s.Limit
	if limit <= 0 {
		limit = 1000
	}
	all, err := s.Tasks.ReminderCandidates(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load reminder candidates: %w", err)
	}

	end := now.Add(s.Lookahead)
	out := make([]domain.Task, 0, len(all))
	for _, t := range all {
		if t.Completed || t.ReminderAt == nil {
			continue
		}
		if t.Recurrence == domain.RecurrenceNone || t.Recurrence == "" {
			at := *t.ReminderAt
			if at.Before(now) || !at.Before(end) {
				continue
			}
		}
		out = append(out, t)
	}
	return out, nil
}
