package domain

import "errors"

// Sentinel errors for the audit domain. Use errors.Is() to check these.
var (
	// ErrNoUnitOfWork indicates an event was queued outside any unit of work.
	ErrNoUnitOfWork = errors.New("no unit of work in context")

	// ErrUnitOfWorkFinished indicates an event was queued after the unit of
	// work was committed or rolled back.
	ErrUnitOfWorkFinished = errors.New("unit of work already finished")

	// ErrAuditWrite indicates the audit row could not be written. It aborts
	// the business operation that produced the event.
	ErrAuditWrite = errors.New("audit write failed")

	// ErrRegistryFrozen indicates a listener was registered after the first
	// unit of work began.
	ErrRegistryFrozen = errors.New("listener registry frozen")

	// ErrUnknownListener indicates a configured listener name has no
	// implementation.
	ErrUnknownListener = errors.New("unknown listener")
)
