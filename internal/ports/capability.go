package ports

import (
	"context"
	"reminderq/internal/domain"
	"time"
)

// Prompt is the bounded task summary handed to the generator.
type Prompt struct {
	RecipientName string
	Title         string
	Description   string
	Tags          []string
	Due           string
	Priority      string
	Recurrence    string
}

type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

type Message struct {
	To      string
	Subject string
	Body    string
	HTML    string
}

// Channel delivers one message. Failures should be wrapped in
// *domain.DeliveryError so the dispatcher can tell transient from permanent.
type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

type DeliveryEvent struct {
	ID           string                `json:"id"`
	TaskID       string                `json:"task_id"`
	OwnerID      string                `json:"owner_id"`
	OccurrenceAt time.Time             `json:"occurrence_at"`
	Status       domain.DeliveryStatus `json:"status"`
	Attempts     int                   `json:"attempts"`
	At           time.Time             `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev DeliveryEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, DeliveryEvent) error { return nil }
func (NopPublisher) Close() error                                 { return nil }
