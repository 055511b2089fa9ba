package domain

import "time"

type HealthStatus string

const (
	HealthRunning  HealthStatus = "running"
	HealthDegraded HealthStatus = "degraded"
	HealthError    HealthStatus = "error"
)

// RunHealth is the singleton run-health record. Counters are cumulative.
type RunHealth struct {
	LastRunAt      time.Time    `json:"last_run_at"`
	TasksScanned   int64        `json:"tasks_scanned"`
	DeliveriesSent int64        `json:"deliveries_sent"`
	ErrorsCount    int64        `json:"errors_count"`
	Status         HealthStatus `json:"status"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// RunStats are the per-run increments applied to RunHealth.
type RunStats struct {
	StartedAt   time.Time     `json:"started_at"`
	Took        time.Duration `json:"took"`
	Scanned     int           `json:"scanned"`
	Sent        int           `json:"sent"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Duplicate   int           `json:"duplicate"`
	Interrupted int           `json:"interrupted"`
	Errors      int           `json:"errors"`
	Fatal       bool          `json:"fatal"`
}

// Outcome is the terminal state of one candidate in a run.
type Outcome string

const (
	OutcomeSent             Outcome = "sent"
	OutcomeFailed           Outcome = "failed"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeSkipCompleted    Outcome = "skip_completed"
	OutcomeSkipStale        Outcome = "skip_stale"
	OutcomeSkipNoOccurrence Outcome = "skip_no_occurrence"
	OutcomeSkipNoRecipient  Outcome = "skip_no_recipient"
	OutcomeInvalid          Outcome = "invalid"

	// OutcomeInterrupted leaves the occurrence unrecorded so a later run
	// evaluates it again.
	OutcomeInterrupted Outcome = "interrupted"
)

// IsError reports whether the outcome counts toward the run error fraction.
func (o Outcome) IsError() bool {
	return o == OutcomeFailed || o == OutcomeInvalid
}

func (o Outcome) IsSkip() bool {
	switch o {
	case OutcomeSkipCompleted, OutcomeSkipStale, OutcomeSkipNoOccurrence, OutcomeSkipNoRecipient:
		return true
	}
	return false
}
