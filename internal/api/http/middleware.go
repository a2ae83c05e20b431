// Package http provides the HTTP API of the booking store.
package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxCorrelationID
)

const (
	headerRequestID     = "X-Request-ID"
	headerCorrelationID = "X-Correlation-ID"
)

// RequestContext stores the caller's request and correlation ids in the
// request context and echoes them back. Missing ids are generated; the
// correlation id defaults to the request id.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(headerRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		corrID := r.Header.Get(headerCorrelationID)
		if corrID == "" {
			corrID = reqID
		}
		w.Header().Set(headerRequestID, reqID)
		w.Header().Set(headerCorrelationID, corrID)

		ctx := context.WithValue(r.Context(), ctxRequestID, reqID)
		ctx = context.WithValue(ctx, ctxCorrelationID, corrID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusWriter remembers the status code written through it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// AccessLog logs failed and slow requests. Successful requests faster
// than slow are not logged.
func AccessLog(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			elapsed := time.Since(start)
			if sw.status >= http.StatusInternalServerError || (slow > 0 && elapsed >= slow) {
				log.Printf("http: %s %s -> %d in %v (request %s)", r.Method, r.URL.Path, sw.status, elapsed, GetRequestID(r.Context()))
			}
		})
	}
}

// Recover turns a handler panic into a 500 response and logs the stack.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				reqID := GetRequestID(r.Context())
				log.Printf("http: panic serving %s %s (request %s): %v\n%s", r.Method, r.URL.Path, reqID, p, debug.Stack())
				writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", RequestID: reqID})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("http: failed to encode response: %v", err)
	}
}

// GetRequestID returns the request id stored by RequestContext.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

// GetCorrelationID returns the correlation id stored by RequestContext.
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxCorrelationID).(string)
	return id
}
