package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
)

func TestNew(t *testing.T) {
	m, err := New(4999, "usd")
	require.NoError(t, err)
	assert.Equal(t, int64(4999), m.Cents)
	assert.Equal(t, "USD", m.Currency)

	_, err = New(-1, "USD")
	assert.Equal(t, apperr.CodeNegativeAmount, apperr.CodeOf(err))

	_, err = New(100, "dollars")
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestArithmetic(t *testing.T) {
	a := MustNew(4999, "USD")
	b := MustNew(400, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(5399), sum.Cents)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, int64(4599), diff.Cents)

	line, err := b.MulInt(3)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), line.Cents)
}

func TestCurrencyMismatch(t *testing.T) {
	usd := MustNew(100, "USD")
	eur := MustNew(100, "EUR")

	_, err := usd.Add(eur)
	assert.Equal(t, apperr.CodeCurrencyMismatch, apperr.CodeOf(err))

	_, err = usd.Sub(eur)
	assert.Equal(t, apperr.CodeCurrencyMismatch, apperr.CodeOf(err))

	_, err = usd.LessThan(eur)
	assert.Equal(t, apperr.CodeCurrencyMismatch, apperr.CodeOf(err))
}

func TestSubBelowZero(t *testing.T) {
	a := MustNew(100, "USD")
	b := MustNew(200, "USD")

	_, err := a.Sub(b)
	assert.Equal(t, apperr.CodeNegativeAmount, apperr.CodeOf(err))
}

func TestString(t *testing.T) {
	assert.Equal(t, "49.99 USD", MustNew(4999, "USD").String())
	assert.Equal(t, "5.00 EUR", MustNew(500, "EUR").String())
	assert.Equal(t, "0.07 USD", MustNew(7, "USD").String())
}
