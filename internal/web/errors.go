package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details and the request id (server-side)
//   - Mapped to an HTTP status from the core error taxonomy
//   - Returned as user-friendly messages with action suggestions, as JSON for
//     API routes and an HTML alert for pages

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/Reconcile/internal/core"
	"github.com/JonMunkholm/Reconcile/internal/logging"
	"github.com/JonMunkholm/Reconcile/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// errBadRequest marks malformed client input.
var errBadRequest = errors.New("invalid request")

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	var perr *core.ParseError
	var perrs core.ParseErrors
	var maxErr *http.MaxBytesError

	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, core.ErrActiveSessionExists),
		errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrSessionNotActive),
		errors.Is(err, core.ErrStalePrompt),
		errors.Is(err, core.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrPromptExpired):
		return http.StatusGone
	case errors.Is(err, core.ErrFileTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrNoAcceptedRows):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrInvalidResponse),
		errors.Is(err, core.ErrUnknownFlavor),
		errors.Is(err, errBadRequest),
		errors.As(err, &perr),
		errors.As(err, &perrs):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error and writes a user-facing response.
// details, when set, is included in JSON responses (e.g. a rejection report).
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, details any) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	level := logger.Warn
	if status >= http.StatusInternalServerError {
		level = logger.Error
	}
	level("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	if wantsJSON(r) {
		writeJSON(w, status, ErrorResponse{
			Error:   userMsg.Message,
			Message: userMsg.Message,
			Action:  userMsg.Action,
			Code:    userMsg.Code,
			Details: details,
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	templates.ErrorAlert(userMsg.Message, userMsg.Action, userMsg.Code).Render(r.Context(), w)
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON checks if the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	if isHTMX(r) {
		return false
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	// API routes default to JSON
	return strings.HasPrefix(r.URL.Path, "/api/")
}
