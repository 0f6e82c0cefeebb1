package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("amount must be a positive number")

// ParseAmount parses a donation amount. Amounts arrive as strings from the
// donation form and as JSON numbers from the payment processor; both paths
// funnel through here so the positive-amount check lives in one place.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return ValidateAmount(amount)
}

// ValidateAmount rejects zero and negative amounts.
func ValidateAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}
