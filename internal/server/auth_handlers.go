package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"reelstream/internal/auth"
)

// authMiddleware checks if the user is authenticated for protected routes and
// puts the username on the request context.
func (ms *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ms.authService.IsEnabled() {
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), auth.AnonymousUser)))
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		sessionManager := ms.authService.GetSessionManager()
		session, valid := sessionManager.GetSessionFromRequest(r)
		if !valid {
			ms.respondWithError(w, r, http.StatusUnauthorized, "Authentication required", nil)
			return
		}

		// Refresh session on each request
		sessionManager.RefreshSession(session.ID)

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), session.Username)))
	})
}

// isPublicPath checks if a path should be accessible without authentication
func isPublicPath(path string) bool {
	publicPaths := []string{
		"/api/auth/login",
		"/api/auth/logout",
		"/api/config",
		"/health",
	}

	for _, publicPath := range publicPaths {
		if strings.HasPrefix(path, publicPath) {
			return true
		}
	}

	return false
}

// handleAuthLogin handles login API requests
func (ms *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if !ms.authService.IsEnabled() {
		ms.respondWithError(w, r, http.StatusNotFound, "Authentication is disabled", nil)
		return
	}

	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	credentials.Username = sanitizeInput(credentials.Username)
	if credentials.Username == "" || credentials.Password == "" {
		ms.respondWithValidationError(w, r, ValidationError{
			Field:   "username",
			Message: "Username and password required",
			Code:    "MISSING_CREDENTIALS",
		})
		return
	}

	session, err := ms.authService.Login(credentials.Username, credentials.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		ms.logger.WithField("username", credentials.Username).Warn("Failed login attempt")
		ms.respondWithError(w, r, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Login failed", err)
		return
	}

	ms.authService.GetSessionManager().SetSessionCookie(w, session)

	ms.logger.WithField("username", credentials.Username).Info("User logged in successfully")

	ms.respondJSON(w, http.StatusOK, map[string]string{
		"status":   "success",
		"username": session.Username,
	})
}

// handleAuthLogout handles logout requests
func (ms *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if ms.authService.IsEnabled() {
		sessionManager := ms.authService.GetSessionManager()
		if session, valid := sessionManager.GetSessionFromRequest(r); valid {
			ms.authService.Logout(session.ID)
			ms.logger.WithField("username", session.Username).Info("User logged out")
		}
		sessionManager.ClearSessionCookie(w)
	}

	ms.respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
