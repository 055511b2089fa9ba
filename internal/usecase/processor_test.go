package usecase

import (
	"context"
	"errors"
	"reminderq/internal/domain"
	"testing"
	"time"
)

type fixture struct {
	deliveries *memDeliveries
	health     *memHealth
	channel    *chanStub
	proc       Processor
}

func newFixture(now time.Time, tasks ...domain.Task) *fixture {
	f := &fixture{
		deliveries: &memDeliveries{},
		health:     &memHealth{},
		channel:    &chanStub{},
	}
	f.proc = Processor{
		Selector: Selector{Tasks: taskStub{tasks: tasks}, Lookahead: 5 * time.Minute},
		Guard:    Guard{Deliveries: f.deliveries, Tolerance: time.Minute},
		Users: userStub{
			"u1": {Address: "ada@example.com", DisplayName: "Ada"},
			"u2": {Address: ""},
		},
		Composer:    Composer{Generator: genStub{err: errors.New("down")}},
		Dispatcher:  Dispatcher{Channel: f.channel, MaxAttempts: 3, Sleep: noSleep},
		Recorder:    Recorder{Deliveries: f.deliveries, Health: f.health, ErrorThreshold: 0.5},
		GracePeriod: 7 * 24 * time.Hour,
		Workers:     1,
		Now:         func() time.Time { return now },
	}
	return f
}

func TestOneShotSent(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 4, 8, 0)
	task := domain.Task{ID: "t1", OwnerID: "u1", Title: "Call mom", Recurrence: domain.RecurrenceNone, ReminderAt: ptr(now.Add(2 * time.Minute))}
	f := newFixture(now, task)

	stats, err := f.proc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Scanned != 1 || stats.Sent != 1 || stats.Errors != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	recs, _ := f.deliveries.ListByTask(context.Background(), "t1", 10)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != domain.DeliverySent || !rec.OccurrenceAt.Equal(now.Add(2*time.Minute)) || rec.Attempts != 1 || rec.ID == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(f.channel.sent) != 1 || f.channel.sent[0].Subject != rec.Subject || f.channel.sent[0].Body != rec.Body {
		t.Fatalf("record does not match what was sent")
	}
	h, _ := f.health.Health(context.Background())
	if h.Status != domain.HealthRunning || h.TasksScanned != 1 || h.DeliveriesSent != 1 {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestSameTaskTwiceIsDuplicate(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 4, 8, 0)
	task := domain.Task{ID: "t1", OwnerID: "u1", Title: "Stretch", Recurrence: domain.RecurrenceDaily, ReminderAt: ptr(ts(2025, 1, 1, 9, 0))}
	f := newFixture(now, task)

	if out := f.proc.Process(context.Background(), task, now); out != domain.OutcomeSent {
		t.Fatalf("first outcome = %s", out)
	}
	if out := f.proc.Process(context.Background(), task, now); out != domain.OutcomeDuplicate {
		t.Fatalf("second outcome = %s", out)
	}
	if n := f.deliveries.count(); n != 1 {
		t.Fatalf("got %d records, want 1", n)
	}
}

func TestRecordCollisionIsDuplicate(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 4, 8, 0)
	task := domain.Task{ID: "t1", OwnerID: "u1", Title: "x", Recurrence: domain.RecurrenceDaily, ReminderAt: ptr(ts(2025, 1, 1, 9, 0))}
	f := newFixture(now, task)
	// A guard that never sees anything models a concurrent writer racing past it.
	f.proc.Guard = Guard{Deliveries: blindGuard{f.deliveries}}

	f.proc.Process(context.Background(), task, now)
	if out := f.proc.Process(context.Background(), task, now); out != domain.OutcomeDuplicate {
		t.Fatalf("outcome = %s, want duplicate", out)
	}
	if n := f.deliveries.count(); n != 1 {
		t.Fatalf("got %d records, want 1", n)
	}
}

type blindGuard struct{ *memDeliveries }

func (blindGuard) ExistsNear(context.Context, string, time.Time, time.Duration) (bool, error) {
	return false, nil
}

func TestStaleSkipped(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 14, 8, 0)
	tenDaysAgo := now.Add(-10 * 24 * time.Hour)
	tasks := []domain.Task{
		{ID: "once", OwnerID: "u1", Title: "old", Recurrence: domain.RecurrenceNone, ReminderAt: ptr(tenDaysAgo), DueAt: ptr(tenDaysAgo)},
		{ID: "daily", OwnerID: "u1", Title: "old daily", Recurrence: domain.RecurrenceDaily, ReminderAt: ptr(tenDaysAgo), DueAt: ptr(tenDaysAgo)},
	}
	f := newFixture(now, tasks...)
	for _, task := range tasks {
		if out := f.proc.Process(context.Background(), task, now); out != domain.OutcomeSkipStale {
			t.Fatalf("%s: outcome = %s, want stale", task.ID, out)
		}
	}

	f.proc.Selector.Lookahead = 30 * 24 * time.Hour
	stats, err := f.proc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Errors != 0 || f.deliveries.count() != 0 || len(f.channel.sent) != 0 {
		t.Fatalf("stale tasks must not be sent or counted as errors: %+v", stats)
	}
}

func TestProcessOutcomes(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 4, 8, 0)
	soon := ptr(now.Add(time.Minute))
	tests := []struct {
		name string
		task domain.Task
		want domain.Outcome
	}{
		{"completed", domain.Task{ID: "a", OwnerID: "u1", Completed: true, ReminderAt: soon}, domain.OutcomeSkipCompleted},
		{"no anchor", domain.Task{ID: "b", OwnerID: "u1"}, domain.OutcomeSkipNoOccurrence},
		{"past one-shot", domain.Task{ID: "c", OwnerID: "u1", ReminderAt: ptr(now.Add(-time.Minute))}, domain.OutcomeSkipNoOccurrence},
		{"anchor equal to now", domain.Task{ID: "d", OwnerID: "u1", ReminderAt: ptr(now)}, domain.OutcomeSkipNoOccurrence},
		{"unknown pattern", domain.Task{ID: "e", OwnerID: "u1", Recurrence: "yearly", ReminderAt: soon}, domain.OutcomeInvalid},
		{"unknown owner", domain.Task{ID: "f", OwnerID: "nobody", ReminderAt: soon}, domain.OutcomeSkipNoRecipient},
		{"empty address", domain.Task{ID: "g", OwnerID: "u2", ReminderAt: soon}, domain.OutcomeSkipNoRecipient},
		{"due within grace", domain.Task{ID: "h", OwnerID: "u1", ReminderAt: soon, DueAt: ptr(now.Add(-24 * time.Hour))}, domain.OutcomeSent},
	}
	for _, tt := range tests {
		f := newFixture(now)
		if got := f.proc.Process(context.Background(), tt.task, now); got != tt.want {
			t.Fatalf("%s: outcome = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestFailedDeliveryIsRecorded(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 4, 8, 0)
	task := domain.Task{ID: "t1", OwnerID: "u1", Title: "x", ReminderAt: ptr(now.Add(time.Minute))}
	f := newFixture(now, task)
	f.channel.errs = []error{permanent("mailbox unavailable")}

	stats, err := f.proc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 1 || stats.Errors != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	recs, _ := f.deliveries.ListByTask(context.Background(), "t1", 10)
	if len(recs) != 1 || recs[0].Status != domain.DeliveryFailed || recs[0].Attempts != 1 || recs[0].Error == "" {
		t.Fatalf("unexpected records %+v", recs)
	}
	h, _ := f.health.Health(context.Background())
	if h.Status != domain.HealthDegraded {
		t.Fatalf("status = %s, want degraded", h.Status)
	}
}

func TestFatalRunRecordsError(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 4, 8, 0)
	f := newFixture(now)
	f.proc.Selector.Tasks = taskStub{err: errors.New("connection refused")}

	stats, err := f.proc.Run(context.Background())
	if err == nil || !stats.Fatal {
		t.Fatalf("expected fatal run, got %+v, %v", stats, err)
	}
	h, _ := f.health.Health(context.Background())
	if h.Status != domain.HealthError || h.ErrorsCount != 1 || f.health.applied != 1 {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestConcurrentRunSendsEachTaskOnce(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 4, 8, 0)
	var tasks []domain.Task
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		tasks = append(tasks, domain.Task{ID: id, OwnerID: "u1", Title: id, Recurrence: domain.RecurrenceDaily, ReminderAt: ptr(ts(2025, 1, 1, 9, 0))})
	}
	f := newFixture(now, tasks...)
	f.proc.Workers = 4

	stats, err := f.proc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Sent != len(tasks) || f.deliveries.count() != len(tasks) {
		t.Fatalf("sent=%d records=%d, want %d", stats.Sent, f.deliveries.count(), len(tasks))
	}
}

func TestCancelledRunStartsNothing(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 4, 8, 0)
	task := domain.Task{ID: "t1", OwnerID: "u1", Title: "x", ReminderAt: ptr(now.Add(time.Minute))}
	f := newFixture(now, task)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := f.proc.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Sent != 0 || stats.Interrupted != 1 || stats.Errors != 0 || f.health.applied != 1 {
		t.Fatalf("stats=%+v applied=%d", stats, f.health.applied)
	}
	if f.deliveries.count() != 0 {
		t.Fatalf("records = %d, want none", f.deliveries.count())
	}
}

func TestShutdownDuringComposeStillDelivers(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 4, 8, 0)
	task := domain.Task{ID: "t1", OwnerID: "u1", Title: "Call mom", Recurrence: domain.RecurrenceNone, ReminderAt: ptr(now.Add(2 * time.Minute))}
	f := newFixture(now, task)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.proc.Composer.Generator = &cancelGen{cancel: cancel}
	f.proc.Dispatcher.Limiter = NewLimiter(100)
	f.proc.Dispatcher.Timeout = time.Second

	if out := f.proc.Process(ctx, task, now); out != domain.OutcomeSent {
		t.Fatalf("outcome = %s, want sent", out)
	}
	recs, _ := f.deliveries.ListByTask(context.Background(), "t1", 10)
	if len(f.channel.sent) != 1 || len(recs) != 1 || recs[0].Status != domain.DeliverySent {
		t.Fatalf("sent=%d records=%+v", len(f.channel.sent), recs)
	}
}

func TestShutdownBetweenRetriesLeavesOccurrenceOpen(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 4, 8, 0)
	task := domain.Task{ID: "t1", OwnerID: "u1", Title: "Call mom", Recurrence: domain.RecurrenceNone, ReminderAt: ptr(now.Add(2 * time.Minute))}
	f := newFixture(now, task)
	f.channel.errs = []error{transient("busy")}
	ctx, cancel := context.WithCancel(context.Background())
	f.proc.Dispatcher.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	stats, err := f.proc.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Interrupted != 1 || stats.Errors != 0 || f.deliveries.count() != 0 {
		t.Fatalf("stats=%+v records=%d, want interrupted and unrecorded", stats, f.deliveries.count())
	}

	f.proc.Dispatcher.Sleep = noSleep
	stats, err = f.proc.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if stats.Sent != 1 || len(f.channel.sent) != 1 || f.deliveries.count() != 1 {
		t.Fatalf("restart stats=%+v sent=%d, want the reminder delivered", stats, len(f.channel.sent))
	}
}

func TestShutdownStartsNoFurtherTasks(t *testing.T) {
	t.Parallel()
	now := ts(2025, 6, 4, 8, 0)
	var tasks []domain.Task
	for _, id := range []string{"a", "b", "c"} {
		tasks = append(tasks, domain.Task{ID: id, OwnerID: "u1", Title: id, Recurrence: domain.RecurrenceDaily, ReminderAt: ptr(ts(2025, 1, 1, 9, 0))})
	}
	f := newFixture(now, tasks...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &cancelGen{cancel: cancel}
	f.proc.Composer.Generator = gen

	stats, err := f.proc.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gen.calls != 1 || len(f.channel.sent) != 1 {
		t.Fatalf("generations=%d sent=%d, want only the in-flight task", gen.calls, len(f.channel.sent))
	}
	if stats.Sent != 1 || stats.Interrupted != 2 || stats.Errors != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		stats domain.RunStats
		want  domain.HealthStatus
	}{
		{domain.RunStats{Fatal: true, Errors: 1}, domain.HealthError},
		{domain.RunStats{}, domain.HealthRunning},
		{domain.RunStats{Scanned: 4, Errors: 2}, domain.HealthRunning},
		{domain.RunStats{Scanned: 4, Errors: 3}, domain.HealthDegraded},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.stats, 0.5); got != tt.want {
			t.Fatalf("StatusFor(%+v) = %s, want %s", tt.stats, got, tt.want)
		}
	}
}

func TestNaiveClockIsUTC(t *testing.T) {
	t.Parallel()
	got := NaiveClock(2 * time.Hour)()
	if got.Location() != time.UTC {
		t.Fatalf("location = %v", got.Location())
	}
	if d := got.Sub(time.Now().UTC()); d < time.Hour || d > 3*time.Hour {
		t.Fatalf("offset not applied: %v", d)
	}
}
