package engine

import (
	"errors"
	"fmt"

	"github.com/meridianlabs/meridian/internal/chain"
	"github.com/meridianlabs/meridian/internal/config"
	"github.com/meridianlabs/meridian/internal/relayer"
	"github.com/meridianlabs/meridian/internal/retry"
	"github.com/meridianlabs/meridian/internal/store"
)

// ErrorCode categorizes settlement failures. The code decides retry
// behavior upstream and routes alerting: liquidity exhaustion pages a
// different rotation than RPC flakiness.
type ErrorCode string

const (
	// ErrCodeValidation - malformed or insufficient input. Never retried.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeConfiguration - bad or missing startup configuration.
	// Surfaces at startup or first use; never retried.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeTransientRPC - network failure, timeout or
	// not-yet-confirmed that survived the bounded retry budget.
	ErrCodeTransientRPC ErrorCode = "TRANSIENT_RPC"

	// ErrCodeInsufficientLiquidity - no relayer qualifies for the
	// settlement amount. Normal but reportable; distinct from RPC
	// failure for alerting.
	ErrCodeInsufficientLiquidity ErrorCode = "INSUFFICIENT_LIQUIDITY"

	// ErrCodeLockContention - the per-relayer mutex stayed busy through
	// the whole attempt budget.
	ErrCodeLockContention ErrorCode = "LOCK_CONTENTION"

	// ErrCodeOnChainRevert - a source or destination transaction
	// reverted. Permanent; never retried.
	ErrCodeOnChainRevert ErrorCode = "ONCHAIN_REVERT"
)

// SettlementError is the engine's structured error: every failure a
// caller sees carries a code, the affected order, and the step that
// raised it.
type SettlementError struct {
	Code    ErrorCode
	Message string
	OrderID string
	Step    string
	Err     error
}

// Error implements the error interface.
func (e *SettlementError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.OrderID != "" {
		msg += fmt.Sprintf(" (order=%s", e.OrderID)
		if e.Step != "" {
			msg += fmt.Sprintf(", step=%s", e.Step)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause to errors.Is/As.
func (e *SettlementError) Unwrap() error { return e.Err }

// CodeOf extracts the error code, or "" for non-settlement errors.
func CodeOf(err error) ErrorCode {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsInsufficientLiquidity reports whether err is a liquidity failure.
func IsInsufficientLiquidity(err error) bool {
	return CodeOf(err) == ErrCodeInsufficientLiquidity
}

// IsLockContention reports whether err is a lock contention failure.
func IsLockContention(err error) bool {
	return CodeOf(err) == ErrCodeLockContention
}

// AlreadyFailedError is returned when a workflow is re-invoked for an
// order that already reached the failed terminal state. The stored reason
// is replayed; no step re-executes.
type AlreadyFailedError struct {
	OrderID string
	Reason  string
}

// Error implements the error interface.
func (e *AlreadyFailedError) Error() string {
	return fmt.Sprintf("settlement %s already failed: %s", e.OrderID, e.Reason)
}

// classify maps a step error onto the taxonomy. Errors that already carry
// a code pass through with order/step context filled in.
func classify(err error, orderID, step string) *SettlementError {
	var se *SettlementError
	if errors.As(err, &se) {
		if se.OrderID == "" {
			se.OrderID = orderID
		}
		if se.Step == "" {
			se.Step = step
		}
		return se
	}

	code := ErrCodeTransientRPC
	message := "step failed"
	switch {
	case errors.Is(err, relayer.ErrNoneEligible):
		code, message = ErrCodeInsufficientLiquidity, "no relayer can cover the settlement amount"
	case errors.Is(err, errLockBusy):
		code, message = ErrCodeLockContention, "relayer mutex stayed busy through all attempts"
	case isRevert(err):
		code, message = ErrCodeOnChainRevert, "transaction reverted on chain"
	case isValidation(err):
		code, message = ErrCodeValidation, "invalid settlement input"
	case isConfiguration(err):
		code, message = ErrCodeConfiguration, "invalid relayer or chain configuration"
	case retry.IsTimeout(err):
		message = "operation timed out"
	case isExhausted(err):
		message = "retry budget exhausted"
	case chain.IsTransient(err):
		message = "rpc failure"
	}

	return &SettlementError{
		Code:    code,
		Message: message,
		OrderID: orderID,
		Step:    step,
		Err:     err,
	}
}

func isRevert(err error) bool {
	var re *chain.RevertError
	return errors.As(err, &re)
}

func isValidation(err error) bool {
	var ve *store.ValidationError
	return errors.As(err, &ve)
}

func isConfiguration(err error) bool {
	var ce *config.ConfigurationError
	return errors.As(err, &ce)
}

func isExhausted(err error) bool {
	var ee *retry.ExhaustedError
	return errors.As(err, &ee)
}
