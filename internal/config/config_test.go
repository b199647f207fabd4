package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/language"
)

func TestLoadConfigCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected default config file to be written: %v", err)
	}
	if cfg.Transcode.WebMQuality != 24 || cfg.Transcode.MatroskaQuality != 20 {
		t.Errorf("Unexpected quality defaults: %+v", cfg.Transcode)
	}
	if !cfg.Subtitles.AutoInternal {
		t.Error("Expected auto_internal to default to true")
	}

	// The written file loads back to the same values
	again, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Reloading defaults failed: %v", err)
	}
	if again.Search.Languages["esp"] != "spanish" || again.Collector.Schedule != cfg.Collector.Schedule {
		t.Errorf("Defaults did not round trip: %+v", again.Search)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
port = "9000"

[logging]
level = "debug"
format = "json"

[[library.directories]]
path = "/srv/films"
allowed_users = ["alice", "bob"]

[[library.directories]]
path = "/srv/films/private"
ignore = true

[transcode]
webm_quality = 30
threads = 4

[search.languages]
ita = "italian"

[[search.configurations]]
name = "italian"
language = "it"
stopwords = ["il", "la"]
fold_accents = true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.GetAddress() != "0.0.0.0:9000" {
		t.Errorf("Unexpected address %s", cfg.GetAddress())
	}
	if len(cfg.Library.Directories) != 2 || !cfg.Library.Directories[1].Ignore {
		t.Fatalf("Unexpected directories %+v", cfg.Library.Directories)
	}
	if cfg.Library.Directories[0].AllowedUsers[1] != "bob" {
		t.Errorf("Unexpected allowed users %v", cfg.Library.Directories[0].AllowedUsers)
	}
	if cfg.Transcode.WebMQuality != 30 || cfg.Transcode.MatroskaQuality != 20 {
		t.Errorf("Expected file values merged over defaults, got %+v", cfg.Transcode)
	}
	if cfg.Search.Languages["ita"] != "italian" || cfg.Search.Languages["spa"] != "spanish" {
		t.Errorf("Expected language table merged over defaults, got %v", cfg.Search.Languages)
	}
	if got := cfg.Search.Configurations[0].LanguageTag(); got != language.Italian {
		t.Errorf("Expected italian tag, got %v", got)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("REELSTREAM_DATABASE_PATH", "/var/lib/reelstream/db.sqlite")
	t.Setenv("REELSTREAM_NGROK_AUTHTOKEN", "secret")
	t.Setenv("REELSTREAM_CONFIG", path)

	if got := Path("./config.toml"); got != path {
		t.Errorf("Expected config path %s, got %s", path, got)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Database.Path != "/var/lib/reelstream/db.sqlite" {
		t.Errorf("Expected database path override, got %s", cfg.Database.Path)
	}
	if cfg.Ngrok.AuthToken != "secret" {
		t.Errorf("Expected ngrok token override, got %q", cfg.Ngrok.AuthToken)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"empty port", func(c *Config) { c.Server.Port = "" }, "port"},
		{"no directories", func(c *Config) { c.Library.Directories = nil }, "library directory"},
		{"blank directory", func(c *Config) { c.Library.Directories = []DirectoryConfig{{Path: " "}} }, "empty path"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"bad quality", func(c *Config) { c.Transcode.WebMQuality = 99 }, "webm quality"},
		{"no threads", func(c *Config) { c.Transcode.Threads = 0 }, "threads"},
		{"bad ttl", func(c *Config) { c.Transcode.ProbeCacheTTL = "soon" }, "ttl"},
		{"negative padding", func(c *Config) { c.Subtitles.Padding = -1 }, "padding"},
		{"unnamed search config", func(c *Config) {
			c.Search.Configurations = []SearchConfigurationEntry{{Language: "en"}}
		}, "without a name"},
		{"bad session duration", func(c *Config) { c.Auth.SessionDuration = "a week" }, "session duration"},
		{"auth disabled skips auth checks", func(c *Config) {
			c.Auth.Enabled = false
			c.Auth.SessionDuration = ""
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
