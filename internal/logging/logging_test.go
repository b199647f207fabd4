package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelstream/internal/config"

	"github.com/sirupsen/logrus"
)

func TestNewFormats(t *testing.T) {
	// a regular file is never a terminal, so auto picks JSON
	out, err := os.Create(filepath.Join(t.TempDir(), "stdout"))
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	tests := []struct {
		format string
		json   bool
	}{
		{"json", true},
		{"text", false},
		{"auto", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			logger, closer, err := newLogger(config.LoggingConfig{Level: "debug", Format: tt.format}, out)
			if err != nil {
				t.Fatalf("newLogger failed: %v", err)
			}
			defer closer.Close()

			_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
			if isJSON != tt.json {
				t.Errorf("format %s: expected json=%v", tt.format, tt.json)
			}
			if logger.GetLevel() != logrus.DebugLevel {
				t.Errorf("Expected debug level, got %v", logger.GetLevel())
			}
		})
	}
}

func TestNewWritesFile(t *testing.T) {
	dir := t.TempDir()
	out, err := os.Create(filepath.Join(dir, "stdout"))
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	logPath := filepath.Join(dir, "reelstream.log")
	logger, closer, err := newLogger(config.LoggingConfig{Level: "info", Format: "json", File: logPath}, out)
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	logger.WithField("media_file_id", 7).Info("Opened media file")
	closer.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"media_file_id":7`) {
		t.Errorf("Expected structured field in log file, got %s", data)
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	if _, _, err := New(config.LoggingConfig{Level: "loud", Format: "json"}); err == nil {
		t.Error("Expected error for invalid level")
	}
	if _, _, err := New(config.LoggingConfig{Level: "info", Format: "yaml"}); err == nil {
		t.Error("Expected error for invalid format")
	}
}
