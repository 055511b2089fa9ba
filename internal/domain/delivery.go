package domain

import (
	"errors"
	"fmt"
	"time"
)

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryRecord is append-only and unique on (TaskID, OccurrenceAt).
type DeliveryRecord struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"`
	OwnerID      string         `json:"owner_id"`
	OccurrenceAt time.Time      `json:"occurrence_at"`
	Recipient    string         `json:"recipient"`
	Subject      string         `json:"subject"`
	Body         string         `json:"body"`
	Status       DeliveryStatus `json:"status"`
	Attempts     int            `json:"attempts"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Content is a composed notification. Fallback is set when the body came
// from the fixed template instead of the generator.
type Content struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	HTML     string `json:"html,omitempty"`
	Fallback bool   `json:"fallback"`
}

type ErrorClass int

const (
	Transient ErrorClass = iota
	Permanent
)

func (c ErrorClass) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// DeliveryError is a channel failure tagged with its retry class.
type DeliveryError struct {
	Class      ErrorClass
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery error: %v", e.Class, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ClassOf reports the retry class of err. Unclassified errors are transient.
func ClassOf(err error) ErrorClass {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Class
	}
	return Transient
}
