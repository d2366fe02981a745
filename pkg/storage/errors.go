package storage

import "errors"

// Sentinel errors returned by the Store implementations. Callers use
// errors.Is/errors.As rather than matching on message text.
var (
	// ErrNotFound is returned by any Get method when the id is unknown.
	ErrNotFound = errors.New("storage: not found")

	// ErrRevisionMismatch is returned by UpdateTaskCAS when the stored
	// revision no longer matches the caller's expectation — another
	// Server won the race.
	ErrRevisionMismatch = errors.New("storage: revision mismatch")

	// ErrDuplicateTask names the case where a (schedule_id,
	// scheduled_at) pair already has a Task row. BoltStore does not
	// return it: CreateTaskIfAbsent reports a duplicate as
	// created=false with a nil error.
	ErrDuplicateTask = errors.New("storage: duplicate task for schedule occurrence")
)
