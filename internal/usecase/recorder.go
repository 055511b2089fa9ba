package usecase

import (
	"context"
	"errors"
	"fmt"
	"reminderq/internal/domain"
	"reminderq/internal/ports"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Recorder struct {
	Deliveries ports.DeliveryStore
	Health     ports.HealthStore
	Events     ports.Publisher
	// ErrorThreshold is the error fraction above which a run is degraded.
	ErrorThreshold float64
}

// RecordDelivery persists rec and publishes its event. A collision on the
// (task, occurrence) key is returned as ports.ErrDuplicateRecord.
func (r Recorder) RecordDelivery(ctx context.Context, rec domain.DeliveryRecord) (domain.DeliveryRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := r.Deliveries.Insert(ctx, rec); err != nil {
		if errors.Is(err, ports.ErrDuplicateRecord) {
			return rec, err
		}
		return rec, fmt.Errorf("insert delivery record: %w", err)
	}

	if r.Events != nil {
		ev := ports.DeliveryEvent{
			ID:           rec.ID,
			TaskID:       rec.TaskID,
			OwnerID:      rec.OwnerID,
			OccurrenceAt: rec.OccurrenceAt,
			Status:       rec.Status,
			Attempts:     rec.Attempts,
			At:           rec.CreatedAt,
		}
		if err := r.Events.Publish(ctx, ev); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("task_id", rec.TaskID).Msg("publish delivery event")
		}
	}
	return rec, nil
}

// RecordRun folds stats into the health record and returns the status written.
func (r Recorder) RecordRun(ctx context.Context, at time.Time, stats domain.RunStats) (domain.HealthStatus, error) {
	status := StatusFor(stats, r.ErrorThreshold)
	if err := r.Health.ApplyRun(ctx, at, stats, status); err != nil {
		return status, fmt.Errorf("apply run health: %w", err)
	}
	return status, nil
}

// StatusFor derives a run's health. A fatal run is error; a run whose
// error fraction exceeds threshold is degraded.
func StatusFor(stats domain.RunStats, threshold float64) domain.HealthStatus {
	if stats.Fatal {
		return domain.HealthError
	}
	if threshold <= 0 {
		threshold = 0.5
	}
	if stats.Scanned > 0 && float64(stats.Errors)/float64(stats.Scanned) > threshold {
		return domain.HealthDegraded
	}
	return domain.HealthRunning
}
