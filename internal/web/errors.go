package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged server-side with the request id and returned to the
// client as an ErrorResponse built from core.MapError, so clients never see
// raw driver or parser messages.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/categorizer/internal/adapter"
	"github.com/JonMunkholm/categorizer/internal/core"
	"github.com/JonMunkholm/categorizer/internal/ingest"
	"github.com/JonMunkholm/categorizer/internal/logging"
	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/store"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var (
	// errBadRequest marks request decoding failures.
	errBadRequest = errors.New("invalid request")

	errTooManyRecords = errors.New("too many records")
	errRateLimited    = errors.New("rate limit exceeded")
)

// respondError logs err and writes the mapped user message. A zero status
// is derived from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	writeErrorJSON(w, msg, status)
}

func writeErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// statusFor maps known errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrTooManyBatches):
		return http.StatusServiceUnavailable
	case errors.Is(err, ingest.ErrFileTooLarge), errors.Is(err, errTooManyRecords):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, store.ErrNotFound), errors.Is(err, vocab.ErrUnknownIndustry):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, schema.ErrInvalidInput),
		errors.Is(err, taxonomy.ErrInvalidRule),
		errors.Is(err, record.ErrMalformed),
		errors.Is(err, adapter.ErrMalformedRecord),
		errors.Is(err, ingest.ErrEmptyFile):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
