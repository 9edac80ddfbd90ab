package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a failure class. Callers branch on the code, the HTTP
// layer maps it to a status; nobody matches on message text.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeCheckoutNotFound    Code = "CHECKOUT_NOT_FOUND"
	CodeOrderNotFound       Code = "ORDER_NOT_FOUND"
	CodeMerchantNotFound    Code = "MERCHANT_NOT_FOUND"
	CodeEventNotFound       Code = "EVENT_NOT_FOUND"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeQuoteRequired       Code = "QUOTE_REQUIRED"
	CodeNotApproved         Code = "NOT_APPROVED"
	CodeAlreadyConfirmed    Code = "CHECKOUT_ALREADY_CONFIRMED"
	CodeCheckoutExpired     Code = "CHECKOUT_EXPIRED"
	CodeReapprovalRequired  Code = "REAPPROVAL_REQUIRED"
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"
	CodeInvalidSignature    Code = "INVALID_SIGNATURE"
	CodeMerchantIDMismatch  Code = "MERCHANT_ID_MISMATCH"
	CodeMerchantError       Code = "MERCHANT_ERROR"
	CodeCurrencyMismatch    Code = "CURRENCY_MISMATCH"
	CodeNegativeAmount      Code = "NEGATIVE_AMOUNT"
	CodeRefundFailed        Code = "REFUND_FAILED"
)

// Error carries a code plus the structured context a caller needs to react:
// which entity, which state it is in, which state was attempted.
type Error struct {
	Code    Code
	Message string

	Entity   string
	EntityID string
	Current  string
	Target   string
	Allowed  []string
}

func (e *Error) Error() string {
	if e.Entity != "" && e.Current != "" && e.Target != "" {
		return fmt.Sprintf("%s: %s %s cannot move %s -> %s (allowed: %s)",
			e.Code, e.Entity, e.EntityID, e.Current, e.Target, strings.Join(e.Allowed, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds the standard lookup failure for an entity.
func NotFound(code Code, entity, id string) *Error {
	return &Error{
		Code:     code,
		Message:  fmt.Sprintf("%s %s not found", entity, id),
		Entity:   entity,
		EntityID: id,
	}
}

// As unwraps err into *Error if it is one.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
