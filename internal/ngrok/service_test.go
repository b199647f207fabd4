package ngrok

import (
	"context"
	"errors"
	"strings"
	"testing"

	"reelstream/internal/config"

	"github.com/sirupsen/logrus"
)

func TestDisabledService(t *testing.T) {
	s, err := NewService(&config.NgrokConfig{Enabled: false}, logrus.New())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s != nil {
		t.Fatal("Expected nil service when disabled")
	}

	// nil receivers are no-ops
	if err := s.StartTunnel(context.Background(), "localhost:8080"); err != nil {
		t.Errorf("StartTunnel on nil service: %v", err)
	}
	if s.GetPublicURL() != "" {
		t.Error("Expected empty public URL")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop on nil service: %v", err)
	}
	s.Wait()
}

func TestMissingToken(t *testing.T) {
	_, err := NewService(&config.NgrokConfig{Enabled: true}, logrus.New())
	if !errors.Is(err, ErrNoAuthToken) {
		t.Errorf("Expected ErrNoAuthToken, got %v", err)
	}
}

func TestEndpointOptions(t *testing.T) {
	if n := len(endpointOptions(&config.NgrokConfig{})); n != 0 {
		t.Errorf("Expected no options, got %d", n)
	}
	opts := endpointOptions(&config.NgrokConfig{Domain: "films.ngrok.app", EnableAuth: true, AuthProvider: "github"})
	if len(opts) != 2 {
		t.Errorf("Expected 2 options, got %d", len(opts))
	}
	if policy := oauthPolicy("github"); !strings.Contains(policy, "provider: github") {
		t.Errorf("Unexpected policy: %s", policy)
	}
}
