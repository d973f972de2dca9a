// internal/core/errors.go
package core

import (
	"errors"

	"PredictLedger/internal/math"
)

// Rejection sentinels. Handlers wrap these with context; the gateway uses
// Classify to map them to response codes and retry behavior.
var (
	// Validation — malformed or out-of-bounds input.
	ErrInvalidInput      = errors.New("invalid input")
	ErrTextTooLong       = errors.New("text field exceeds length cap")
	ErrInvalidDeadline   = errors.New("deadline outside allowed duration bounds")
	ErrBetTooSmall       = errors.New("bet below minimum")
	ErrBetTooLarge       = errors.New("bet above maximum")
	ErrSlippageExceeded  = errors.New("implied price exceeds max acceptable price")

	// Authorization — signer does not hold the required authority.
	ErrUnauthorized = errors.New("unauthorized signer")

	// State — operation illegal in the current lifecycle state.
	ErrProgramPaused         = errors.New("program is paused")
	ErrMarketNotActive       = errors.New("market is not active")
	ErrMarketPaused          = errors.New("market is paused")
	ErrMarketAlreadyResolved = errors.New("market already resolved")
	ErrMarketNotResolved     = errors.New("market not resolved")
	ErrMarketNotCancelled    = errors.New("market not cancelled")
	ErrDeadlineNotReached    = errors.New("resolution deadline not reached")
	ErrAlreadyClaimed        = errors.New("position already claimed")
	ErrNothingToClaim        = errors.New("nothing to claim")

	// Resource — missing or conflicting accounts.
	ErrNotInitialized     = errors.New("program not initialized")
	ErrAlreadyInitialized = errors.New("account already initialized")
	ErrMarketNotFound     = errors.New("market not found")
	ErrPositionNotFound   = errors.New("position not found")
	ErrInsufficientFunds  = errors.New("insufficient account balance")
)

// ErrorClass buckets rejections for gateway responses and retry policy.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassValidation
	ClassAuthorization
	ClassState
	ClassArithmetic
	ClassResource
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassAuthorization:
		return "authorization"
	case ClassState:
		return "state"
	case ClassArithmetic:
		return "arithmetic"
	case ClassResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Retryable reports whether a retry could ever succeed without an
// intervening state change. Only resource errors qualify; validation,
// authorization, state and arithmetic rejections are permanent for the
// same input.
func (c ErrorClass) Retryable() bool {
	return c == ClassResource
}

// Classify maps a rejection to its error class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrTextTooLong),
		errors.Is(err, ErrInvalidDeadline),
		errors.Is(err, ErrBetTooSmall),
		errors.Is(err, ErrBetTooLarge),
		errors.Is(err, ErrSlippageExceeded):
		return ClassValidation
	case errors.Is(err, ErrUnauthorized):
		return ClassAuthorization
	case errors.Is(err, ErrProgramPaused),
		errors.Is(err, ErrMarketNotActive),
		errors.Is(err, ErrMarketPaused),
		errors.Is(err, ErrMarketAlreadyResolved),
		errors.Is(err, ErrMarketNotResolved),
		errors.Is(err, ErrMarketNotCancelled),
		errors.Is(err, ErrDeadlineNotReached),
		errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrNothingToClaim):
		return ClassState
	case errors.Is(err, math.ErrOverflow),
		errors.Is(err, math.ErrDivisionByZero),
		errors.Is(err, math.ErrNegativeAmount):
		return ClassArithmetic
	case errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrMarketNotFound),
		errors.Is(err, ErrPositionNotFound),
		errors.Is(err, ErrInsufficientFunds):
		return ClassResource
	default:
		return ClassUnknown
	}
}
