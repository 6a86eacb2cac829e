package chain

import (
	"errors"
	"fmt"
)

// ErrNotYetConfirmed marks a transaction that is mined too shallow (or not
// mined at all). Always wrapped in a TransientError so the retry executor
// keeps polling.
var ErrNotYetConfirmed = errors.New("transaction not yet confirmed")

// TransientError is a network-shaped failure: RPC errors, timeouts,
// not-yet-confirmed polls. Transient errors are the only chain errors the
// retry executor is allowed to spend attempts on.
type TransientError struct {
	Op       string
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Endpoint, e.Err)
}

// Unwrap exposes the cause to errors.Is/As.
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RevertError means a transaction was mined and reverted. Reverts are
// permanent - never retried.
type RevertError struct {
	Chain  string // "source" or "destination"
	TxHash string
}

// Error implements the error interface.
func (e *RevertError) Error() string {
	return fmt.Sprintf("%s transaction %s reverted", e.Chain, e.TxHash)
}

// IsRevert reports whether err is (or wraps) a RevertError.
func IsRevert(err error) bool {
	var re *RevertError
	return errors.As(err, &re)
}
