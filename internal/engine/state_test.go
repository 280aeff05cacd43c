package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sharemirror/internal/models"
)

func TestTerminalStatus(t *testing.T) {
	tests := []struct {
		trigger  models.Trigger
		outcome  models.RunOutcome
		schedule string
		want     models.TaskStatus
	}{
		{models.TriggerManual, models.OutcomeTransferred, "", models.StatusSuccess},
		{models.TriggerManual, models.OutcomeRejected, "@daily", models.StatusFailed},
		{models.TriggerManual, models.OutcomeShareEmpty, "", models.StatusFailed},
		{models.TriggerManual, models.OutcomeListFailed, "", models.StatusError},
		{models.TriggerManual, models.OutcomeNotConfigured, "", models.StatusError},
		{models.TriggerManual, models.OutcomeError, "", models.StatusError},
		{models.TriggerScheduled, models.OutcomeError, "0 0 * * *", models.StatusScheduled},
		{models.TriggerScheduled, models.OutcomeTransferred, "0 0 * * *", models.StatusScheduled},
		{models.TriggerScheduled, models.OutcomeUnchanged, "bogus", models.StatusPending},
	}
	for _, tt := range tests {
		got := terminalStatus(tt.trigger, tt.outcome, tt.schedule)
		assert.Equal(t, tt.want, got, "%s/%s/%q", tt.trigger, tt.outcome, tt.schedule)
	}
}

func TestLockedForToday(t *testing.T) {
	now := time.Date(2026, 10, 15, 23, 59, 0, 0, time.Local)
	task := &models.Task{Status: models.StatusScheduled, LastSuccessDate: "2026-10-15"}

	assert.True(t, lockedForToday(task, models.TriggerScheduled, now))
	assert.False(t, lockedForToday(task, models.TriggerManual, now))
	assert.False(t, lockedForToday(task, models.TriggerScheduled, now.Add(2*time.Minute)), "next day")

	task.Status = models.StatusError
	assert.False(t, lockedForToday(task, models.TriggerScheduled, now))

	never := &models.Task{Status: models.StatusScheduled}
	assert.False(t, lockedForToday(never, models.TriggerScheduled, now))
}

func TestUnchanged(t *testing.T) {
	empty := ""
	fp := "a,b"
	assert.False(t, unchanged(&models.Task{}, models.TriggerScheduled, ""), "no fingerprint yet differs from empty")
	assert.True(t, unchanged(&models.Task{ContentFingerprint: &empty}, models.TriggerScheduled, ""))
	assert.True(t, unchanged(&models.Task{ContentFingerprint: &fp}, models.TriggerScheduled, "a,b"))
	assert.False(t, unchanged(&models.Task{ContentFingerprint: &fp}, models.TriggerManual, "a,b"))
	assert.False(t, unchanged(&models.Task{ContentFingerprint: &fp}, models.TriggerScheduled, "a,b,c"))
}

func TestResume(t *testing.T) {
	now := time.Date(2026, 10, 15, 7, 0, 0, 0, time.Local)

	running := &models.Task{Status: models.StatusRunning, Schedule: "@daily"}
	assert.True(t, Resume(running, now))
	assert.Equal(t, models.StatusScheduled, running.Status)
	assert.Equal(t, "[07:00] "+MsgInterrupted, running.Log)

	manual := &models.Task{Status: models.StatusRunning}
	assert.True(t, Resume(manual, now))
	assert.Equal(t, models.StatusPending, manual.Status)

	stopped := &models.Task{Status: models.StatusStopped, Log: "kept"}
	assert.False(t, Resume(stopped, now))
	assert.Equal(t, "kept", stopped.Log)
}
