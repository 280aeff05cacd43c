package models

import "time"

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

type RunOutcome string

const (
	OutcomeNotConfigured RunOutcome = "not_configured"
	OutcomeSkippedToday  RunOutcome = "skipped_today"
	OutcomeListFailed    RunOutcome = "list_failed"
	OutcomeShareEmpty    RunOutcome = "share_empty"
	OutcomeUnchanged     RunOutcome = "unchanged"
	OutcomeTransferred   RunOutcome = "transferred"
	OutcomeRejected      RunOutcome = "rejected"
	OutcomeError         RunOutcome = "error"
)

// RunRecord is one reconciliation attempt as kept in the run history.
type RunRecord struct {
	ID          int64      `json:"id"`
	AccountID   string     `json:"account_id"`
	TaskID      string     `json:"task_id"`
	Trigger     Trigger    `json:"trigger"`
	Outcome     RunOutcome `json:"outcome"`
	Status      TaskStatus `json:"status"`
	Message     string     `json:"message"`
	FileCount   int        `json:"file_count"`
	Transferred int        `json:"transferred"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
}
