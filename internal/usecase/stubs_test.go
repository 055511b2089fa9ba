package usecase

import (
	"context"
	"errors"
	"reminderq/internal/domain"
	"reminderq/internal/ports"
	"sync"
	"time"
)

type taskStub struct {
	tasks []domain.Task
	err   error
}

func (s taskStub) ReminderCandidates(_ context.Context, limit int) ([]domain.Task, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.tasks) > limit {
		return s.tasks[:limit], nil
	}
	return s.tasks, nil
}

type userStub map[string]*domain.Recipient

func (u userStub) Recipient(_ context.Context, ownerID string) (*domain.Recipient, error) {
	return u[ownerID], nil
}

// memDeliveries mirrors the SQL store: exact-key uniqueness plus a window query.
type memDeliveries struct {
	mu   sync.Mutex
	recs []domain.DeliveryRecord
}

func (m *memDeliveries) ExistsNear(_ context.Context, taskID string, occ time.Time, tol time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.TaskID != taskID {
			continue
		}
		d := r.OccurrenceAt.Sub(occ)
		if d >= -tol && d <= tol {
			return true, nil
		}
	}
	return false, nil
}

func (m *memDeliveries) Insert(_ context.Context, rec domain.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.TaskID == rec.TaskID && r.OccurrenceAt.Equal(rec.OccurrenceAt) {
			return ports.ErrDuplicateRecord
		}
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memDeliveries) ListByTask(_ context.Context, taskID string, _ int) ([]domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryRecord
	for _, r := range m.recs {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memDeliveries) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

type memHealth struct {
	mu      sync.Mutex
	h       domain.RunHealth
	applied int
}

func (m *memHealth) ApplyRun(_ context.Context, at time.Time, s domain.RunStats, status domain.HealthStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.h.LastRunAt = at
	m.h.TasksScanned += int64(s.Scanned)
	m.h.DeliveriesSent += int64(s.Sent)
	m.h.ErrorsCount += int64(s.Errors)
	m.h.Status = status
	m.applied++
	return nil
}

func (m *memHealth) Health(context.Context) (*domain.RunHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.h
	return &h, nil
}

type genStub struct {
	body string
	err  error
}

func (g genStub) Generate(context.Context, ports.Prompt) (string, error) {
	return g.body, g.err
}

// cancelGen cancels the run context the way a shutdown signal would
// arrive while a body is being generated.
type cancelGen struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	calls  int
}

func (g *cancelGen) Generate(context.Context, ports.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.cancel()
	return "Time to stretch.", nil
}

// chanStub fails with errs in order, then succeeds.
type chanStub struct {
	mu    sync.Mutex
	errs  []error
	calls int
	sent  []ports.Message
}

func (c *chanStub) Name() string { return "stub" }

func (c *chanStub) Send(_ context.Context, m ports.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return err
	}
	c.sent = append(c.sent, m)
	return nil
}

type pubStub struct {
	mu     sync.Mutex
	events []ports.DeliveryEvent
}

func (p *pubStub) Publish(_ context.Context, ev ports.DeliveryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *pubStub) Close() error { return nil }

func transient(msg string) error {
	return &domain.DeliveryError{Class: domain.Transient, Err: errors.New(msg)}
}

func permanent(msg string) error {
	return &domain.DeliveryError{Class: domain.Permanent, Err: errors.New(msg)}
}

func noSleep(context.Context, time.Duration) error { return nil }

func ptr(t time.Time) *time.Time { return &t }

func ts(y int, m time.Month, d, h, mi int) time.Time {
	return time.Date(y, m, d, h, mi, 0, 0, time.UTC)
}
