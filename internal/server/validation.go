package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondWithValidationError sends a structured validation error response
func (ms *Server) respondWithValidationError(w http.ResponseWriter, r *http.Request, errors ...ValidationError) {
	ms.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errors,
	}).Warn("Validation failed")

	ms.respondJSON(w, http.StatusBadRequest, ValidationResult{
		Valid:  false,
		Errors: errors,
	})
}

// respondWithError sends a structured error response
func (ms *Server) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := ms.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})
	if user := usernameFrom(r.Context()); user != "" {
		logEntry = logEntry.WithField("user", user)
	}
	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	ms.respondJSON(w, statusCode, map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

// respondJSON writes v as the JSON body with the given status.
func (ms *Server) respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ms.logger.WithError(err).Debug("Failed to write response")
	}
}

// validateID parses a positive integer path value.
func validateID(raw, field string) (int, *ValidationError) {
	if raw == "" {
		return 0, &ValidationError{
			Field:   field,
			Message: "ID cannot be empty",
			Code:    "EMPTY_ID",
		}
	}

	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{
			Field:   field,
			Message: "ID must be a valid integer",
			Code:    "INVALID_ID_FORMAT",
		}
	}

	if id <= 0 {
		return 0, &ValidationError{
			Field:   field,
			Message: "ID must be positive",
			Code:    "INVALID_ID_VALUE",
		}
	}

	return id, nil
}

// validateSearchQuery validates search query parameters
func validateSearchQuery(query string) *ValidationError {
	if strings.TrimSpace(query) == "" {
		return &ValidationError{
			Field:   "q",
			Message: "Search query is required",
			Code:    "MISSING_SEARCH_QUERY",
		}
	}

	if len(query) > 1000 {
		return &ValidationError{
			Field:   "q",
			Message: "Search query too long (max 1000 characters)",
			Code:    "SEARCH_QUERY_TOO_LONG",
		}
	}

	if strings.Contains(query, "\x00") || !utf8.ValidString(query) {
		return &ValidationError{
			Field:   "q",
			Message: "Search query contains invalid characters",
			Code:    "INVALID_SEARCH_CHARACTERS",
		}
	}

	return nil
}

// validatePosition parses a playback offset in seconds.
func validatePosition(raw string) (float64, *ValidationError) {
	if raw == "" {
		return 0, &ValidationError{
			Field:   "position",
			Message: "Position is required",
			Code:    "MISSING_POSITION",
		}
	}

	position, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(position) || math.IsInf(position, 0) {
		return 0, &ValidationError{
			Field:   "position",
			Message: "Position must be a number of seconds",
			Code:    "INVALID_POSITION_FORMAT",
		}
	}

	if position < 0 {
		return 0, &ValidationError{
			Field:   "position",
			Message: "Position cannot be negative",
			Code:    "INVALID_POSITION_VALUE",
		}
	}

	return position, nil
}

// validatePreferences checks user supplied transcode settings.
func validatePreferences(prefs *models.UserPreferences) []ValidationError {
	var errs []ValidationError
	if prefs.MaxWidth != nil && (*prefs.MaxWidth < 16 || *prefs.MaxWidth > 7680) {
		errs = append(errs, ValidationError{
			Field:   "maxWidth",
			Message: "Max width must be between 16 and 7680",
			Code:    "INVALID_MAX_WIDTH",
		})
	}
	if prefs.Quality != nil && (*prefs.Quality < 0 || *prefs.Quality > 63) {
		errs = append(errs, ValidationError{
			Field:   "quality",
			Message: "Quality must be between 0 and 63",
			Code:    "INVALID_QUALITY",
		})
	}
	return errs
}

// sanitizeInput sanitizes user input to prevent injection attacks
func sanitizeInput(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Trim whitespace
	input = strings.TrimSpace(input)

	return input
}
