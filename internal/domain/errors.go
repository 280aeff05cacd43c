package domain

import "errors"

// ErrTaskNotFound is shared by every TaskRepository implementation.
var ErrTaskNotFound = errors.New("task not found")
