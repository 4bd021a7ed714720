package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when the operation amount is not positive
	ErrInvalidAmount = errors.New("invalid amount: must be positive")

	// ErrSameAccount is returned when sender and receiver are the same account
	ErrSameAccount = errors.New("sender and receiver must be different accounts")

	// ErrAccountNotFound is returned when an account doesn't exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive is returned when an account is closed or frozen
	ErrAccountInactive = errors.New("account is not active")

	// ErrInsufficientFunds is returned when the sender doesn't have enough balance
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConcurrencyConflict is returned when row locks could not be acquired
	// within the configured timeout; the caller may retry
	ErrConcurrencyConflict = errors.New("concurrency conflict: could not lock accounts")

	// ErrStoreUnavailable is returned on infrastructure-level store failures
	ErrStoreUnavailable = errors.New("store unavailable")
)

// InsufficientFundsError carries the diagnostics of a rejected debit:
// the balance observed under lock, the amount requested and the
// shortfall between them. It unwraps to ErrInsufficientFunds so callers
// keep matching with errors.Is.
type InsufficientFundsError struct {
	Operation OperationType
	Available decimal.Decimal
	Required  decimal.Decimal
	Shortfall decimal.Decimal
}

// NewInsufficientFundsError builds the error from the balance observed
// at failure time and the attempted amount.
func NewInsufficientFundsError(op OperationType, available, required decimal.Decimal) *InsufficientFundsError {
	return &InsufficientFundsError{
		Operation: op,
		Available: available,
		Required:  required,
		Shortfall: required.Sub(available),
	}
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, required %s, shortfall %s",
		e.Available.StringFixed(2), e.Required.StringFixed(2), e.Shortfall.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}
