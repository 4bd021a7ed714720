package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidateAmount checks that an operation amount is positive and has at
// most two decimal places (currency minor units).
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount.String())
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: at most 2 decimal places, got %s", ErrInvalidAmount, amount.String())
	}
	return nil
}
