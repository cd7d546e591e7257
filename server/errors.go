package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	pii "github.com/SamuelRCrider/pii-go"
	"github.com/SamuelRCrider/pii-go/analyzer/presidio"
	"github.com/SamuelRCrider/pii-go/core"
)

var errRateLimited = errors.New("rate limit exceeded, retry later")

// RequestError reports a malformed API request
type RequestError struct {
	Field   string
	Message string
}

func (e *RequestError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// APIError is the JSON body of every error response
type APIError struct {
	Error     string `json:"error"`
	Category  string `json:"category"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error to its HTTP status and category
func statusFor(err error) (int, string) {
	var (
		reqErr   *RequestError
		maxBytes *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, string(core.ErrorCategoryValidation)
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, string(core.ErrorCategoryValidation)
	case errors.Is(err, pii.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, presidio.ErrUnavailable):
		return http.StatusBadGateway, "upstream"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}

	switch cat := core.Categorize(err); cat {
	case core.ErrorCategoryValidation, core.ErrorCategoryConfiguration:
		return http.StatusBadRequest, string(cat)
	default:
		return http.StatusInternalServerError, string(cat)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, category string, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, APIError{
		Error:     msg,
		Category:  category,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// fail logs err and writes the mapped error response
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, category := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", middleware.GetReqID(r.Context()), "category", category, "err", err)
	}
	writeError(w, r, status, category, err)
}
