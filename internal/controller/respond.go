package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/broadcast-dispatcher/internal/errors"
)

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("⚠️ Failed to encode response")
	}
}

// WriteError maps err onto an HTTP status and a {"error": ...} body.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case appErrors.IsNotFound(err):
		status = http.StatusNotFound
	case appErrors.IsValidation(err):
		status = http.StatusBadRequest
	case appErrors.IsInvalidTransition(err), appErrors.IsNotRunning(err):
		status = http.StatusConflict
	default:
		log.WithError(err).Error("❌ Request failed")
	}
	WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// CampaignID parses the {id} route parameter.
func CampaignID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, appErrors.NewValidation("invalid campaign id")
	}
	return id, nil
}

// DecodeJSON reads the request body into v. Malformed JSON is a validation error.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return appErrors.NewValidation("invalid body: %v", err)
	}
	return nil
}

var errScheduledAtRequired = appErrors.NewValidation("scheduled_at is required")
