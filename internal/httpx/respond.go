package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
	"github.com/ariefcatur/go-agent-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-agent-checkout.git/internal/money"
)

// ErrorBody is the envelope every failed request returns. Clients branch on
// error_code; message is for humans.
type ErrorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ReapprovalRequiredBody is the 409 returned when confirm detects price
// drift. Both totals ride along so the agent can show the delta before
// asking for a fresh approval.
type ReapprovalRequiredBody struct {
	ErrorCode       string      `json:"error_code"`
	Message         string      `json:"message"`
	CheckoutID      string      `json:"checkout_id"`
	OriginalTotal   money.Money `json:"original_total"`
	NewTotal        money.Money `json:"new_total"`
	PriceDifference money.Money `json:"price_difference"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto the wire. Lookup failures are 404,
// price drift and key reuse are 409, bad signatures are 401; everything
// else the caller did wrong is 400. Non-domain errors stay opaque 500s.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if re, ok := checkout.AsReapprovalRequired(err); ok {
		diff := re.NewTotal.Cents - re.OriginalTotal.Cents
		if diff < 0 {
			diff = -diff
		}
		writeJSON(w, http.StatusConflict, ReapprovalRequiredBody{
			ErrorCode:       string(apperr.CodeReapprovalRequired),
			Message:         re.Error(),
			CheckoutID:      re.CheckoutID,
			OriginalTotal:   re.OriginalTotal,
			NewTotal:        re.NewTotal,
			PriceDifference: money.Money{Cents: diff, Currency: re.NewTotal.Currency},
		})
		return
	}

	ae, ok := apperr.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorBody{
			ErrorCode: "INTERNAL_ERROR",
			Message:   "internal server error",
			RequestID: middleware.GetReqID(r.Context()),
		})
		return
	}

	var code int
	switch ae.Code {
	case apperr.CodeCheckoutNotFound, apperr.CodeOrderNotFound,
		apperr.CodeMerchantNotFound, apperr.CodeEventNotFound:
		code = http.StatusNotFound
	case apperr.CodeReapprovalRequired, apperr.CodeIdempotencyConflict,
		apperr.CodeAlreadyConfirmed:
		code = http.StatusConflict
	case apperr.CodeInvalidSignature:
		code = http.StatusUnauthorized
	default:
		code = http.StatusBadRequest
	}
	msg := ae.Message
	if msg == "" {
		msg = ae.Error()
	}
	writeJSON(w, code, ErrorBody{
		ErrorCode: string(ae.Code),
		Message:   msg,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
