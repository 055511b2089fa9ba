package usecase

import (
	"context"
	"errors"
	"fmt"
	"reminderq/internal/domain"
	"reminderq/internal/ports"
	"reminderq/pkg/backoff"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrNoChannel = errors.New("no delivery channel configured")

// DispatchResult is the final state of one delivery attempt sequence.
// Err is nil on success. Interrupted means shutdown ended the sequence
// before a terminal result, so there is nothing to record.
type DispatchResult struct {
	Attempts    int
	Err         error
	Interrupted bool
}

func (r DispatchResult) Status() domain.DeliveryStatus {
	if r.Err == nil {
		return domain.DeliverySent
	}
	return domain.DeliveryFailed
}

type Dispatcher struct {
	Channel     ports.Channel
	MaxAttempts int
	Backoff     backoff.Policy
	Timeout     time.Duration
	Limiter     *rate.Limiter

	// Sleep waits d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatch sends m with bounded retries. Permanent failures stop at once;
// transient ones back off between attempts. Once called, the first attempt
// runs even if ctx is cancelled; cancellation only stops further retries.
func (d Dispatcher) Dispatch(ctx context.Context, m ports.Message) DispatchResult {
	if d.Channel == nil {
		return DispatchResult{Err: ErrNoChannel}
	}
	maxAttempts := max(d.MaxAttempts, 1)
	sleep := d.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	logger := log.Ctx(ctx).With().Str("channel", d.Channel.Name()).Str("to", m.To).Logger()

	var res DispatchResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := d.wait(ctx); err != nil {
			res.Err = fmt.Errorf("rate limiter: %w", err)
			res.Interrupted = true
			return res
		}

		res.Attempts = attempt
		err := d.send(ctx, m)
		if err == nil {
			res.Err = nil
			return res
		}
		res.Err = err

		class := domain.ClassOf(err)
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("class", class.String()).
			Msg("delivery attempt failed")
		if class == domain.Permanent || attempt == maxAttempts {
			return res
		}

		if err := sleep(ctx, d.delay(attempt, err)); err != nil {
			res.Interrupted = true
			return res
		}
	}
	return res
}

func (d Dispatcher) send(ctx context.Context, m ports.Message) error {
	sctx, cancel := d.detached(ctx)
	defer cancel()
	return d.Channel.Send(sctx, m)
}

// wait takes a limiter token. Shutdown does not abort it; the wait is
// bounded by Timeout instead.
func (d Dispatcher) wait(ctx context.Context) error {
	if d.Limiter == nil {
		return nil
	}
	wctx, cancel := d.detached(ctx)
	defer cancel()
	return d.Limiter.Wait(wctx)
}

// detached drops ctx's cancellation, keeping its values, and applies Timeout.
func (d Dispatcher) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	dctx := context.WithoutCancel(ctx)
	if d.Timeout > 0 {
		return context.WithTimeout(dctx, d.Timeout)
	}
	return dctx, func() {}
}

func (d Dispatcher) delay(attempt int, err error) time.Duration {
	wait := d.Backoff.Delay(attempt)
	var de *domain.DeliveryError
	if errors.As(err, &de) && de.RetryAfter > wait {
		wait = de.RetryAfter
	}
	if d.Backoff.Max > 0 && wait > d.Backoff.Max {
		wait = d.Backoff.Max
	}
	return wait
}

// NewLimiter allows perMinute sends per minute with a burst of one.
// A non-positive rate disables limiting.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
