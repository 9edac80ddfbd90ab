package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-agent-checkout.git/internal/apperr"
	"github.com/ariefcatur/go-agent-checkout.git/internal/idempotency"
	"github.com/ariefcatur/go-agent-checkout.git/internal/metrics"
)

// Idempotency wraps mutating checkout routes. Requests without an
// Idempotency-Key header pass straight through; with one, the first request
// executes and its response is cached, retries replay it with
// X-Idempotent-Replayed set, and reusing the key with a different body is a
// 409. Responses >= 500 are never cached so a retry re-executes for real.
func Idempotency(store idempotency.Store, m *metrics.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, apperr.New(apperr.CodeValidation, "cannot read request body: %v", err))
				return
			}
			_ = r.Body.Close()

			storeKey := idempotency.Key(key, r.Method, r.URL.Path)
			reqHash := idempotency.RequestHash(body)

			for {
				st, rec, done, serr := store.CheckAndReserve(r.Context(), storeKey, reqHash)
				if serr != nil {
					writeError(w, r, serr)
					return
				}
				switch st {
				case idempotency.StatusConflict:
					m.Idempotency.WithLabelValues("conflict").Inc()
					writeError(w, r, apperr.New(apperr.CodeIdempotencyConflict,
						"idempotency key already used with a different request body"))
					return
				case idempotency.StatusCached:
					m.Idempotency.WithLabelValues("replay").Inc()
					replay(w, rec)
					return
				case idempotency.StatusInFlight:
					m.Idempotency.WithLabelValues("in_flight").Inc()
					waited, werr := store.WaitForResult(r.Context(), storeKey, done)
					if werr != nil {
						writeError(w, r, werr)
						return
					}
					if waited == nil {
						// Owner bailed without caching; claim the key ourselves.
						continue
					}
					replay(w, waited)
					return
				}

				// StatusMiss: the key is ours. Run the handler with the body
				// teed so the response can be stored for replays.
				m.Idempotency.WithLabelValues("miss").Inc()
				completed := false
				defer func() {
					if !completed {
						_ = store.Fail(context.Background(), storeKey, done)
					}
				}()

				var buf bytes.Buffer
				ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
				ww.Tee(&buf)
				r.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(ww, r)

				code := ww.Status()
				if code == 0 {
					code = http.StatusOK
				}
				now := time.Now()
				if cerr := store.Complete(r.Context(), storeKey, &idempotency.Record{
					StatusCode:  code,
					Body:        append([]byte(nil), buf.Bytes()...),
					RequestHash: reqHash,
					CreatedAt:   now,
					ExpiresAt:   now.Add(idempotency.DefaultTTL),
				}, done); cerr == nil {
					completed = true
				}
				return
			}
		})
	}
}

func replay(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotent-Replayed", "true")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Body)
}

// Metrics records request counts and latency per route pattern.
func Metrics(m *metrics.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = r.URL.Path
			}
			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			m.Requests.WithLabelValues(pattern, strconv.Itoa(code)).Inc()
			m.LatencyMS.WithLabelValues(pattern).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}
