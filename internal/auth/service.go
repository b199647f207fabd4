package auth

import (
	"errors"
	"fmt"
	"time"

	"reelstream/internal/config"
)

// ErrInvalidCredentials is returned by Login for a wrong user or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AnonymousUser is the identity of every request when auth is disabled.
const AnonymousUser = "anonymous"

// Service provides authentication functionality
type Service struct {
	userStore      *UserStore
	sessionManager *SessionManager
	enabled        bool
}

// NewService creates a new authentication service
func NewService(cfg *config.AuthConfig) (*Service, error) {
	if !cfg.Enabled {
		return &Service{enabled: false}, nil
	}

	duration, err := time.ParseDuration(cfg.SessionDuration)
	if err != nil {
		return nil, fmt.Errorf("invalid session duration: %w", err)
	}

	userStore, err := NewUserStore(cfg.UsersFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create user store: %w", err)
	}

	return &Service{
		userStore:      userStore,
		sessionManager: NewSessionManager(duration, cfg.SecureCookies),
		enabled:        true,
	}, nil
}

// IsEnabled returns whether authentication is enabled
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// Login attempts to authenticate a user and create a session
func (s *Service) Login(username, password string) (*Session, error) {
	if !s.enabled {
		return nil, fmt.Errorf("authentication is disabled")
	}
	if !s.userStore.Authenticate(username, password) {
		return nil, ErrInvalidCredentials
	}

	session, err := s.sessionManager.CreateSession(username)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// ValidateSession checks if a session ID is valid
func (s *Service) ValidateSession(sessionID string) (*Session, bool) {
	if !s.enabled {
		return &Session{Username: AnonymousUser}, true
	}
	return s.sessionManager.GetSession(sessionID)
}

// Logout invalidates a session
func (s *Service) Logout(sessionID string) {
	if !s.enabled {
		return
	}
	s.sessionManager.DeleteSession(sessionID)
}

// IsSuperuser reports whether username may see every directory. Everyone is
// when auth is disabled.
func (s *Service) IsSuperuser(username string) bool {
	if !s.enabled {
		return true
	}
	u := s.userStore.GetUser(username)
	return u != nil && u.IsSuperuser()
}

// GetSessionManager returns the session manager (for middleware)
func (s *Service) GetSessionManager() *SessionManager {
	return s.sessionManager
}

// Users returns the user store, nil when auth is disabled.
func (s *Service) Users() *UserStore {
	return s.userStore
}

// Close stops background session cleanup.
func (s *Service) Close() {
	if s.sessionManager != nil {
		s.sessionManager.Close()
	}
}
