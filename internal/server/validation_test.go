package server

import (
	"strings"
	"testing"

	"reelstream/pkg/models"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantID    int
		wantError bool
	}{
		{
			name:   "valid media file ID",
			raw:    "123",
			wantID: 123,
		},
		{
			name:      "missing ID",
			raw:       "",
			wantError: true,
		},
		{
			name:      "invalid ID format",
			raw:       "abc",
			wantError: true,
		},
		{
			name:      "negative ID",
			raw:       "-1",
			wantError: true,
		},
		{
			name:      "zero ID",
			raw:       "0",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := validateID(tt.raw, "media_file_id")

			if tt.wantError && err == nil {
				t.Errorf("validateID() expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("validateID() unexpected error: %v", err)
			}
			if id != tt.wantID {
				t.Errorf("validateID() = %v, want %v", id, tt.wantID)
			}
		})
	}
}

func TestValidateSearchQuery(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantError bool
	}{
		{
			name:  "valid search query",
			query: "la bolsa o la vida",
		},
		{
			name:      "empty search query",
			query:     "   ",
			wantError: true,
		},
		{
			name:      "long search query",
			query:     strings.Repeat("a", 1001),
			wantError: true,
		},
		{
			name:      "query with null byte",
			query:     "test\x00query",
			wantError: true,
		},
		{
			name:      "invalid utf-8",
			query:     "can\xe7ion",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSearchQuery(tt.query)

			if tt.wantError && err == nil {
				t.Errorf("validateSearchQuery() expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("validateSearchQuery() unexpected error: %v", err)
			}
		})
	}
}

func TestValidatePosition(t *testing.T) {
	tests := []struct {
		raw       string
		want      float64
		wantError bool
	}{
		{raw: "90.5", want: 90.5},
		{raw: "0", want: 0},
		{raw: "", wantError: true},
		{raw: "-3", wantError: true},
		{raw: "NaN", wantError: true},
		{raw: "00:01:00", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := validatePosition(tt.raw)
			if tt.wantError != (err != nil) {
				t.Fatalf("validatePosition(%q) error = %v, wantError %v", tt.raw, err, tt.wantError)
			}
			if got != tt.want {
				t.Errorf("validatePosition(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidatePreferences(t *testing.T) {
	width, quality := 1280, 30
	if errs := validatePreferences(&models.UserPreferences{MaxWidth: &width, Quality: &quality}); len(errs) != 0 {
		t.Errorf("Expected valid preferences, got %v", errs)
	}
	if errs := validatePreferences(&models.UserPreferences{}); len(errs) != 0 {
		t.Errorf("Expected empty preferences to be valid, got %v", errs)
	}

	badWidth, badQuality := 0, 99
	errs := validatePreferences(&models.UserPreferences{MaxWidth: &badWidth, Quality: &badQuality})
	if len(errs) != 2 {
		t.Errorf("Expected 2 validation errors, got %d", len(errs))
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal input",
			input:    "Hello World",
			expected: "Hello World",
		},
		{
			name:     "input with null bytes",
			input:    "Hello\x00World",
			expected: "HelloWorld",
		},
		{
			name:     "input with whitespace",
			input:    "  Hello World  ",
			expected: "Hello World",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizeInput(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeInput() = %q, want %q", result, tt.expected)
			}
		})
	}
}
