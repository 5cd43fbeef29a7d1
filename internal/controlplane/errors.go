package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrNotFound      = errors.New("timer not found")
	ErrTitleExists   = errors.New("a timer with that title already exists")
	ErrInvalidTitle  = errors.New("title must not be empty")
	ErrReservedTitle = errors.New(`title cannot be "." or ".."`)
	ErrBadIndex      = errors.New("history index out of range")
	ErrSyncDisabled  = errors.New("sync is disabled")
)
