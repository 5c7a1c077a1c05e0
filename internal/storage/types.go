package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain bounds the rows kept by sqlite and the entries served by
	// RecentExecutions for the file driver. 0 means defaultRetain.
	Retain int
}

const defaultRetain = 10000

type Outcome string

const (
	OutcomeSucceeded           Outcome = "succeeded"
	OutcomeFailed              Outcome = "failed"
	OutcomeCancelled           Outcome = "cancelled"
	OutcomeInstantiationFailed Outcome = "instantiation_failed"
	OutcomeMisfired            Outcome = "misfired"
)

// Execution is one audit record. Misfires have no FireID and no FinishedAt.
// Keep it compact and schema-stable.
type Execution struct {
	FireID      string    `json:"fire_id,omitempty"`
	Scheduler   string    `json:"scheduler,omitempty"`
	Job         string    `json:"job"`
	JobType     string    `json:"job_type,omitempty"`
	Trigger     string    `json:"trigger"`
	Outcome     Outcome   `json:"outcome"`
	ScheduledAt time.Time `json:"scheduled_at"`
	FiredAt     time.Time `json:"fired_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	TookMS      int64     `json:"took_ms,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Error       string    `json:"error,omitempty"`
}
