package ports

import (
	"context"
	"errors"
	"reminderq/internal/domain"
	"time"
)

// ErrDuplicateRecord is returned when a delivery record already exists for
// the exact (task, occurrence) key.
var ErrDuplicateRecord = errors.New("delivery record already exists")

// TaskStore returns non-completed tasks that carry a reminder anchor.
type TaskStore interface {
	ReminderCandidates(ctx context.Context, limit int) ([]domain.Task, error)
}

// UserDirectory resolves an owner to a recipient. A nil recipient with a nil
// error means the owner has no deliverable address.
type UserDirectory interface {
	Recipient(ctx context.Context, ownerID string) (*domain.Recipient, error)
}

type DeliveryStore interface {
	// ExistsNear reports whether a record for taskID lies within
	// [occurrence-tolerance, occurrence+tolerance].
	ExistsNear(ctx context.Context, taskID string, occurrence time.Time, tolerance time.Duration) (bool, error)
	// Insert creates the record. A collision on the exact key returns
	// ErrDuplicateRecord and never creates a second record.
	Insert(ctx context.Context, rec domain.DeliveryRecord) error
	ListByTask(ctx context.Context, taskID string, limit int) ([]domain.DeliveryRecord, error)
}

type HealthStore interface {
	// ApplyRun upserts the singleton record in one transaction.
	ApplyRun(ctx context.Context, at time.Time, stats domain.RunStats, status domain.HealthStatus) error
	Health(ctx context.Context) (*domain.RunHealth, error)
}
