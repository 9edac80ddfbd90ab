package httpx

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
	"github.com/ariefcatur/go-agent-checkout.git/internal/metrics"
	"github.com/ariefcatur/go-agent-checkout.git/internal/webhooks"
)

type WebhooksHandler struct {
	Processor *webhooks.Processor
}

func (h *WebhooksHandler) Register(r *chi.Mux, m *metrics.ServerMetrics) {
	r.Post("/webhooks/merchant", func(w http.ResponseWriter, req *http.Request) {
		h.receive(w, req, m)
	})
	r.Get("/webhooks/events/{event_id}", h.getEvent)
}

// receive hands the raw delivery to the processor. The body bytes go in
// untouched because the signature covers them exactly as sent. Accepted
// events answer 200 whatever their outcome; only rejections (bad payload,
// merchant mismatch, bad signature) surface as errors.
func (h *WebhooksHandler) receive(w http.ResponseWriter, r *http.Request, m *metrics.ServerMetrics) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, apperr.New(apperr.CodeValidation, "cannot read request body: %v", err))
		return
	}

	res, herr := h.Processor.Handle(r.Context(), body,
		r.Header.Get("X-Merchant-Signature"),
		r.Header.Get("X-Merchant-Id"),
		middleware.GetReqID(r.Context()),
	)
	if herr != nil {
		writeError(w, r, herr)
		return
	}
	if m != nil {
		m.Webhooks.WithLabelValues(res.EventType, string(res.Status)).Inc()
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *WebhooksHandler) getEvent(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant_id")
	if merchantID == "" {
		writeError(w, r, apperr.New(apperr.CodeValidation, "merchant_id query parameter is required"))
		return
	}

	rec, err := h.Processor.GetEvent(r.Context(), merchantID, chi.URLParam(r, "event_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
