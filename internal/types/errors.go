package types

import (
	"errors"
	"fmt"
)

var (
	// ErrLeaseUnavailable means another runner holds the world's tick lease.
	// Callers treat it as a no-op signal, not a failure.
	ErrLeaseUnavailable = errors.New("tick lease unavailable")
	// ErrLeaseLost means the lease expired or changed hands before commit.
	ErrLeaseLost = errors.New("tick lease lost")
	// ErrVersionConflict is returned by conditional writes whose expected
	// version no longer matches the stored one.
	ErrVersionConflict = errors.New("version conflict")
	// ErrStoreUnavailable wraps I/O failures against the state store.
	ErrStoreUnavailable = errors.New("state store unavailable")
	// ErrListenerUnavailable is the terminal state of a realtime
	// subscription that exhausted its reconnect budget.
	ErrListenerUnavailable = errors.New("listener unavailable")

	ErrNotFound       = errors.New("not found")
	ErrWorldNotActive = errors.New("world not active")
	ErrClaimLost      = errors.New("claim lost")
	ErrClaimRejected  = errors.New("claim rejected")
	ErrInvalidAction  = errors.New("invalid action")
	ErrInsufficient   = errors.New("insufficient resources")
)

// StageError reports an invalid state or bug inside one tick stage.
// The whole tick is aborted when one is returned.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewStageError(stage string, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Err: fmt.Errorf(format, args...)}
}
