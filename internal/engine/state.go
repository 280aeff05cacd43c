package engine

import (
	"time"

	"sharemirror/internal/models"
	"sharemirror/internal/scheduler"
)

const (
	MsgNotConfigured  = "cloud credential not configured, check the account configuration"
	MsgSkippedToday   = "skipped, already succeeded today"
	MsgChecking       = "checking for updates"
	MsgShareEmpty     = "share contains no files"
	MsgUnchanged      = "no content change, transfer skipped"
	MsgManualQueued   = "manual run requested"
	MsgManualOnly     = "no valid schedule, manual-only mode"
	MsgScheduled      = "schedule armed"
	MsgStopped        = "task stopped"
	MsgInterrupted    = "previous run interrupted by restart"
	msgTransferred    = "transferred %d files"
	msgTransferFailed = "transfer failed: %v"
	msgListFailed     = "listing share failed: %v"
	msgUnexpected     = "unexpected error: %v"
)

const dateLayout = "2006-01-02"

// IdleStatus is where a task rests between runs: armed when it has a valid schedule.
func IdleStatus(schedule string) models.TaskStatus {
	if scheduler.Valid(schedule) {
		return models.StatusScheduled
	}
	return models.StatusPending
}

// terminalStatus maps the outcome of one attempt to the status the task lands in.
// Scheduled firings always come back to rest so recurring tasks never stay failed.
func terminalStatus(trigger models.Trigger, outcome models.RunOutcome, schedule string) models.TaskStatus {
	if trigger == models.TriggerScheduled {
		return IdleStatus(schedule)
	}
	switch outcome {
	case models.OutcomeTransferred:
		return models.StatusSuccess
	case models.OutcomeRejected, models.OutcomeShareEmpty:
		return models.StatusFailed
	default:
		return models.StatusError
	}
}

// Today is the server-local calendar date of now.
func Today(now time.Time) string {
	return now.Local().Format(dateLayout)
}

// lockedForToday reports whether the daily-success lock suppresses a firing. Only a
// scheduled firing of a task resting in scheduled can be locked.
func lockedForToday(task *models.Task, trigger models.Trigger, now time.Time) bool {
	return trigger == models.TriggerScheduled &&
		task.Status == models.StatusScheduled &&
		task.LastSuccessDate != "" &&
		task.LastSuccessDate == Today(now)
}

// unchanged reports whether a scheduled firing can skip the transfer.
func unchanged(task *models.Task, trigger models.Trigger, fingerprint string) bool {
	return trigger == models.TriggerScheduled &&
		task.ContentFingerprint != nil &&
		*task.ContentFingerprint == fingerprint
}

// Resume normalizes a task loaded at boot. A task persisted as running was cut off by
// the restart and goes back to rest. Reports whether the task changed.
func Resume(task *models.Task, now time.Time) bool {
	if task.Status != models.StatusRunning {
		return false
	}
	task.Transition(IdleStatus(task.Schedule), MsgInterrupted, now)
	return true
}
