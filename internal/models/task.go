package models

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusScheduled TaskStatus = "scheduled"
	StatusRunning   TaskStatus = "running"
	StatusSuccess   TaskStatus = "success"
	StatusFailed    TaskStatus = "failed"
	StatusError     TaskStatus = "error"
	StatusStopped   TaskStatus = "stopped"
)

// ShareRef locates a remote share: the code from the link plus its optional access secret.
type ShareRef struct {
	URL    string `json:"url"`
	Code   string `json:"code"`
	Secret string `json:"secret,omitempty"`
}

type Destination struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Task is a recurring mirroring job owned by one account.
type Task struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Share       ShareRef    `json:"share"`
	Destination Destination `json:"destination"`
	Schedule    string      `json:"schedule,omitempty"`
	Status      TaskStatus  `json:"status"`
	Log         string      `json:"log"`
	// ContentFingerprint is nil until the first time a transfer was attempted.
	ContentFingerprint *string `json:"content_fingerprint"`
	// LastSuccessDate is a local calendar date (2006-01-02), empty when never succeeded.
	LastSuccessDate string    `json:"last_success_date,omitempty"`
	HistoryCount    int       `json:"history_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Transition moves the task to status and overwrites the log line.
func (t *Task) Transition(status TaskStatus, message string, now time.Time) {
	t.Status = status
	t.Log = fmt.Sprintf("[%s] %s", now.Format("15:04"), message)
	t.UpdatedAt = now
}

// Clone returns a deep copy safe to hand outside the store.
func (t *Task) Clone() Task {
	c := *t
	if t.ContentFingerprint != nil {
		fp := *t.ContentFingerprint
		c.ContentFingerprint = &fp
	}
	return c
}
