package http

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/arkilian/bookingstore/internal/errors"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// statusFor maps a store error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case errors.CodeInvariantViolation, errors.CodeInvalidQuery:
		return http.StatusBadRequest
	case errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeNotFound, errors.CodeNoSuchIndex:
		return http.StatusNotFound
	case errors.CodeBusy:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	if statusCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusCode, resp)
}

// writeStoreError reports err with the status its code maps to.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      errors.GetCode(err),
		Details:   errors.GetDetails(err),
		RequestID: GetRequestID(r.Context()),
	}
	status := statusFor(resp.Code)
	if resp.Code == "" && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, resp)
}

// writeBadRequest reports a malformed or invalid request body.
func writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, http.StatusBadRequest, ErrorResponse{
		Error:     describeValidation(err),
		Code:      errors.CodeInvariantViolation,
		RequestID: GetRequestID(r.Context()),
	})
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return fmt.Sprintf("invalid request body: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
		}
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}
