package domain

import (
	"fmt"
	"strings"
	"time"
)

type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// ParseRecurrence normalizes a stored pattern. An empty value means none.
func ParseRecurrence(s string) (Recurrence, error) {
	switch r := Recurrence(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RecurrenceNone, nil
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return r, nil
	default:
		return "", fmt.Errorf("unknown recurrence pattern %q", s)
	}
}

func (r Recurrence) Recurring() bool {
	return r != RecurrenceNone && r != ""
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Task is owned by the task service; the reminder engine only reads it.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Priority    Priority   `json:"priority"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	// ReminderAt carries the calendar reference and the time-of-day of every occurrence.
	ReminderAt *time.Time `json:"reminder_at,omitempty"`
	Recurrence Recurrence `json:"recurrence"`
	Completed  bool       `json:"completed"`
}

// Recipient is the resolved delivery target for a task owner.
type Recipient struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
	Locale      string `json:"locale,omitempty"`
}
