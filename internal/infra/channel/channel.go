// Package channel holds the delivery channel drivers. Every driver tags its
// failures as transient or permanent so the dispatcher knows whether to retry.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reminderq/internal/config"
	"reminderq/internal/domain"
	"reminderq/internal/ports"
)

// ErrOutcomeUnknown reports a send that hit its deadline while the remote
// side may still accept it. Retrying could deliver twice.
var ErrOutcomeUnknown = errors.New("send outcome unknown")

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &domain.DeliveryError{Class: domain.Transient, Err: err}
}

// TransientAfter marks err as retryable no sooner than after.
func TransientAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &domain.DeliveryError{Class: domain.Transient, RetryAfter: after, Err: err}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &domain.DeliveryError{Class: domain.Permanent, Err: err}
}

// Unknown marks a send cut off mid-flight as permanent.
func Unknown(err error) error {
	if err == nil {
		return nil
	}
	return Permanent(fmt.Errorf("%w: %w", ErrOutcomeUnknown, err))
}

// New builds the driver selected by cfg.Channel.Driver.
func New(ctx context.Context, cfg *config.Config) (ports.Channel, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Channel.Driver)) {
	case "", "log":
		return NewLog(), nil
	case "ses":
		return NewSES(ctx, cfg.SES)
	case "smtp":
		return NewSMTP(cfg.SMTP, cfg.App.SenderName)
	case "telegram":
		return NewTelegram(cfg.Telegram)
	default:
		return nil, fmt.Errorf("unknown channel driver %q", cfg.Channel.Driver)
	}
}

var _ ports.Channel = (*Log)(nil)

// Log writes messages to the logger instead of delivering them.
type Log struct{}

func NewLog() *Log { return &Log{} }

func (*Log) Name() string { return "log" }

func (*Log) Send(ctx context.Context, m ports.Message) error {
	if strings.TrimSpace(m.To) == "" {
		return Permanent(fmt.Errorf("empty recipient"))
	}
	log.Ctx(ctx).Info().
		Str("to", m.To).
		Str("subject", m.Subject).
		Int("body_len", len(m.Body)).
		Msg("reminder delivered to log")
	return nil
}
