package server

import (
	"encoding/json"
	"net/http"

	"reelstream/pkg/models"
)

// handleGetPreferences returns the caller's transcode preferences.
func (ms *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := ms.db.GetPreferences(r.Context(), usernameFrom(r.Context()))
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving preferences", err)
		return
	}
	ms.respondJSON(w, http.StatusOK, prefs)
}

// handleUpdatePreferences replaces the caller's transcode preferences. Omitted
// fields go back to the defaults.
func (ms *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs models.UserPreferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if errs := validatePreferences(&prefs); len(errs) > 0 {
		ms.respondWithValidationError(w, r, errs...)
		return
	}

	prefs.Username = usernameFrom(r.Context())
	if err := ms.db.SavePreferences(r.Context(), &prefs); err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error saving preferences", err)
		return
	}
	ms.respondJSON(w, http.StatusOK, prefs)
}
