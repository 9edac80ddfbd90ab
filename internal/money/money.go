// Package money holds the exact-cents value type used everywhere a price or
// total crosses the wire. Amounts are minor units (cents), never floats.
package money

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

// Money is an immutable amount in minor units with its currency code.
// The zero value is 0 units of no currency; use New for anything real.
type Money struct {
	Cents    int64  `json:"amount"`
	Currency string `json:"currency"`
}

// New validates and builds a Money. Currency is normalized to upper case
// and must be a 3-letter code. Negative amounts are rejected.
func New(cents int64, currency string) (Money, error) {
	if cents < 0 {
		return Money{}, apperr.New(apperr.CodeNegativeAmount, "amount must not be negative, got %d", cents)
	}
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if len(cur) != 3 {
		return Money{}, apperr.New(apperr.CodeValidation, "invalid currency code %q", currency)
	}
	return Money{Cents: cents, Currency: cur}, nil
}

// MustNew is New for statically known-good values; it panics on error.
func MustNew(cents int64, currency string) Money {
	m, err := New(cents, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns 0 in the given currency.
func Zero(currency string) Money {
	return Money{Cents: 0, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{Cents: m.Cents + o.Cents, Currency: m.Currency}, nil
}

// Sub subtracts o and fails if the result would go below zero.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	if m.Cents < o.Cents {
		return Money{}, apperr.New(apperr.CodeNegativeAmount,
			"cannot subtract %s from %s", o, m)
	}
	return Money{Cents: m.Cents - o.Cents, Currency: m.Currency}, nil
}

// MulInt scales the amount by a non-negative integer (e.g. a quantity).
func (m Money) MulInt(n int64) (Money, error) {
	if n < 0 {
		return Money{}, apperr.New(apperr.CodeNegativeAmount, "cannot multiply %s by %d", m, n)
	}
	return Money{Cents: m.Cents * n, Currency: m.Currency}, nil
}

func (m Money) IsZero() bool { return m.Cents == 0 }

// LessThan compares amounts; currencies must match.
func (m Money) LessThan(o Money) (bool, error) {
	if err := m.sameCurrency(o); err != nil {
		return false, err
	}
	return m.Cents < o.Cents, nil
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Cents/100, m.Cents%100, m.Currency)
}

func (m Money) sameCurrency(o Money) error {
	if m.Currency != o.Currency {
		return apperr.New(apperr.CodeCurrencyMismatch,
			"currency mismatch: %s vs %s", m.Currency, o.Currency)
	}
	return nil
}
