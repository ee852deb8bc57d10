package research

import "errors"

var (
	// ErrNotFound is returned by stores when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded is returned when a submission would push a user's
	// usage count past their quota.
	ErrQuotaExceeded = errors.New("usage quota exceeded")

	// ErrUserInactive is returned for submissions by a deactivated account.
	ErrUserInactive = errors.New("user is inactive")

	// ErrTerminal is returned when a status update targets a job that has
	// already completed or failed.
	ErrTerminal = errors.New("job is in a terminal state")

	// ErrQueueFull is returned by bounded queues that cannot accept work.
	ErrQueueFull = errors.New("queue is full")
)
