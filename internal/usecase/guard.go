package usecase

import (
	"context"
	"reminderq/internal/ports"
	"time"
)

// Guard is the fast-path duplicate check. The store's uniqueness constraint
// on (task, occurrence) remains the authoritative guarantee.
type Guard struct {
	Deliveries ports.DeliveryStore
	Tolerance  time.Duration
}

// Seen reports whether a delivery for taskID already exists within the
// tolerance window around occurrence.
func (g Guard) Seen(ctx context.Context, taskID string, occurrence time.Time) (bool, error) {
	return g.Deliveries.ExistsNear(ctx, taskID, occurrence, g.Tolerance)
}
