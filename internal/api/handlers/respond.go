// Package handlers provides HTTP handlers for the records API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/avishifo/records/internal/backend"
	"github.com/avishifo/records/internal/domain/chathub"
	"github.com/avishifo/records/internal/domain/crm"
	"github.com/avishifo/records/internal/domain/intake"
	"github.com/avishifo/records/internal/domain/patient"
	"github.com/avishifo/records/internal/domain/requests"
	"github.com/avishifo/records/internal/domain/validation"
	"github.com/avishifo/records/internal/session"
	"github.com/avishifo/records/internal/store"
	"github.com/avishifo/records/pkg/circuitbreaker"
	"github.com/avishifo/records/pkg/idempotency"
)

// OfflineHeader marks responses built from the sample dataset
const OfflineHeader = "X-Offline-Sample-Data"

// LoginPath is where clients are sent when credentials are missing
const LoginPath = "/login"

// errorBody is the JSON error envelope
type errorBody struct {
	Error    string   `json:"error"`
	Fields   []string `json:"fields,omitempty"`
	Redirect string   `json:"redirect,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, errorBody{Error: message})
}

// decodeJSON reads the request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// badInput are caller mistakes that are not missing fields
var badInput = []error{
	intake.ErrMissingPatientReference,
	intake.ErrUnknownField,
	crm.ErrUnknownRole,
	crm.ErrUnknownFilter,
	crm.ErrInvalidStatus,
	requests.ErrInvalidStatus,
	requests.ErrInvalidPriority,
	chathub.ErrEmptyMessage,
}

var notFound = []error{
	patient.ErrPatientNotFound,
	patient.ErrItemNotFound,
	crm.ErrUserNotFound,
	requests.ErrRequestNotFound,
	chathub.ErrChatNotFound,
	session.ErrHandoffNotFound,
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// respondError maps a domain or backend error to its HTTP response
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var verr *validation.Error
	var serr *backend.ServerError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: verr.Error(), Fields: verr.Fields})
	case isAny(err, badInput):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case backend.IsAuth(err):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required", Redirect: LoginPath})
	case isAny(err, notFound), backend.IsNotFound(err):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, idempotency.ErrActionInFlight), errors.Is(err, intake.ErrInvalidTransition):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrConfirmationRequired):
		jsonError(w, err.Error(), http.StatusPreconditionFailed)
	case circuitbreaker.IsOpenError(err):
		jsonError(w, "clinic api temporarily unavailable", http.StatusServiceUnavailable)
	case errors.As(err, &serr):
		msg := serr.Detail
		if msg == "" {
			msg = http.StatusText(serr.Status)
		}
		logger.Warn("clinic api error", zap.Int("status", serr.Status), zap.String("detail", serr.Detail))
		jsonError(w, msg, http.StatusBadGateway)
	default:
		logger.Error("request failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}
