package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/helixml/folio/infrastructure/api/jsonapi"
)

// APIError is an error carrying the HTTP status it maps to.
type APIError struct {
	code    int
	message string
	header  string
	cause   error
}

// NewAPIError creates an APIError.
func NewAPIError(code int, message string, cause error) *APIError {
	return &APIError{code: code, message: message, cause: cause}
}

// NewHeaderError creates an APIError blaming the named request header.
func NewHeaderError(code int, header, message string, cause error) *APIError {
	return &APIError{code: code, message: message, header: header, cause: cause}
}

// Code returns the HTTP status code.
func (e *APIError) Code() int { return e.code }

// Message returns the client-facing message.
func (e *APIError) Message() string { return e.message }

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("api error %d: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("api error %d: %s", e.code, e.message)
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error { return e.cause }

// WriteError writes err as a JSON:API error document. An *APIError
// supplies the status; anything else is a 500 and is logged.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	code := http.StatusInternalServerError
	title := http.StatusText(code)
	detail := ""
	header := ""

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code()
		title = apiErr.Message()
		header = apiErr.header
		if apiErr.cause != nil {
			detail = apiErr.cause.Error()
		}
	}

	requestID := chimiddleware.GetReqID(r.Context())
	if code >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("request_id", requestID),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}

	jerr := jsonapi.NewError(code, title, detail)
	jerr.ID = requestID
	if header != "" {
		jerr = jerr.WithHeader(header)
	}
	WriteJSON(w, code, jsonapi.NewErrorResponse(jerr))
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
