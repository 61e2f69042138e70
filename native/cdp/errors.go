package cdp

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind string

const (
	KindEmergencyShutdown              Kind = "EmergencyShutdownActive"
	KindBelowMinCollateral             Kind = "BelowMinCollateral"
	KindDebtOutOfRange                 Kind = "DebtOutOfRange"
	KindBelowMinCollateralizationRatio Kind = "BelowMinCollateralizationRatio"
	KindExceedsMaxDebtRatio            Kind = "ExceedsMaxDebtRatio"
	KindCDPNotFound                    Kind = "CDPNotFound"
	KindCDPAlreadyClosed               Kind = "CDPAlreadyClosed"
	KindNotLiquidatable                Kind = "NotLiquidatable"
	KindShortfall                      Kind = "ShortfallError"
	KindInvalidAmount                  Kind = "InvalidAmount"
	KindInvalidInput                   Kind = "InvalidInput"
	KindUnauthorized                   Kind = "Unauthorized"
	KindHealthFactorTooLow             Kind = "HealthFactorTooLow"
	KindCollateralizationTooLow        Kind = "CollateralizationTooLow"
	KindInvalidTransition              Kind = "InvalidTransition"
	KindTimestampRegression            Kind = "TimestampRegression"
	KindDuplicateID                    Kind = "DuplicateID"
	KindConflict                       Kind = "Conflict"
)

// Category groups kinds into the policy, validation, state and accounting
// families.
func (k Kind) Category() string {
	switch k {
	case KindEmergencyShutdown:
		return "policy"
	case KindBelowMinCollateral, KindDebtOutOfRange, KindBelowMinCollateralizationRatio,
		KindExceedsMaxDebtRatio, KindInvalidAmount, KindInvalidInput, KindHealthFactorTooLow,
		KindCollateralizationTooLow:
		return "validation"
	case KindCDPNotFound, KindCDPAlreadyClosed, KindNotLiquidatable, KindUnauthorized,
		KindInvalidTransition, KindTimestampRegression, KindDuplicateID, KindConflict:
		return "state"
	case KindShortfall:
		return "accounting"
	}
	return "unknown"
}

// Error is the typed failure returned by every engine operation.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return "cdp engine: " + string(e.Kind)
	}
	return "cdp engine: " + e.Msg
}

// Is matches any *Error of the same kind, so the exported sentinels work
// with errors.Is regardless of the detail message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrEmergencyShutdown              = &Error{Kind: KindEmergencyShutdown, Msg: "emergency shutdown active"}
	ErrBelowMinCollateral             = &Error{Kind: KindBelowMinCollateral, Msg: "collateral below minimum"}
	ErrDebtOutOfRange                 = &Error{Kind: KindDebtOutOfRange, Msg: "debt outside permitted range"}
	ErrBelowMinCollateralizationRatio = &Error{Kind: KindBelowMinCollateralizationRatio, Msg: "collateralization ratio below minimum"}
	ErrExceedsMaxDebtRatio            = &Error{Kind: KindExceedsMaxDebtRatio, Msg: "debt ratio above maximum"}
	ErrCDPNotFound                    = &Error{Kind: KindCDPNotFound, Msg: "cdp not found"}
	ErrCDPAlreadyClosed               = &Error{Kind: KindCDPAlreadyClosed, Msg: "cdp already closed"}
	ErrNotLiquidatable                = &Error{Kind: KindNotLiquidatable, Msg: "cdp not eligible for liquidation"}
	ErrShortfall                      = &Error{Kind: KindShortfall, Msg: "liquidation left bad debt"}
	ErrInvalidAmount                  = &Error{Kind: KindInvalidAmount, Msg: "invalid amount"}
	ErrInvalidInput                   = &Error{Kind: KindInvalidInput, Msg: "invalid input"}
	ErrUnauthorized                   = &Error{Kind: KindUnauthorized, Msg: "caller does not own cdp"}
	ErrHealthFactorTooLow             = &Error{Kind: KindHealthFactorTooLow, Msg: "health factor below requested minimum"}
	ErrCollateralizationTooLow        = &Error{Kind: KindCollateralizationTooLow, Msg: "collateralization below requested minimum"}
	ErrInvalidTransition              = &Error{Kind: KindInvalidTransition, Msg: "invalid status transition"}
	ErrTimestampRegression            = &Error{Kind: KindTimestampRegression, Msg: "timestamp precedes last update"}
	ErrDuplicateID                    = &Error{Kind: KindDuplicateID, Msg: "duplicate cdp id"}
	ErrConflict                       = &Error{Kind: KindConflict, Msg: "concurrent update"}
)

// BatchError reports the first failing request of a batch. Earlier successes
// are discarded.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("cdp engine: batch item %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// ShortfallError is returned when a liquidation round exhausts the collateral
// while debt remains. The outcome carries the resulting position and the bad
// debt so it can be accounted for.
type ShortfallError struct {
	Outcome LiquidationOutcome
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("cdp engine: liquidation shortfall on %s: %s debt remains uncovered", e.Outcome.CDP.ID, e.Outcome.RemainingDebt)
}

// Is matches ErrShortfall.
func (e *ShortfallError) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Kind == KindShortfall
}

// KindOf extracts the kind of an engine error. Batch errors report the kind of
// their cause. Errors from outside the engine report an empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var shortfall *ShortfallError
	if errors.As(err, &shortfall) {
		return KindShortfall
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
