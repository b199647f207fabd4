package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REELSTREAM_"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Logging   LoggingConfig   `toml:"logging"`
	Library   LibraryConfig   `toml:"library"`
	Tools     ToolsConfig     `toml:"tools"`
	Transcode TranscodeConfig `toml:"transcode"`
	Subtitles SubtitlesConfig `toml:"subtitles"`
	Search    SearchConfig    `toml:"search"`
	Collector CollectorConfig `toml:"collector"`
	Auth      AuthConfig      `toml:"auth"`
	Ngrok     NgrokConfig     `toml:"ngrok"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        string `toml:"port"`
	Host        string `toml:"host"`
	EnableCORS  bool   `toml:"enable_cors"`
	ReadTimeout int    `toml:"read_timeout_seconds"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text, json or auto
	File   string `toml:"file"`
}

// DirectoryConfig is one library root.
type DirectoryConfig struct {
	Path         string   `toml:"path"`
	Ignore       bool     `toml:"ignore"`
	AllowedUsers []string `toml:"allowed_users"`
}

// LibraryConfig contains media library configuration
type LibraryConfig struct {
	Directories     []DirectoryConfig `toml:"directories"`
	VideoFormats    []string          `toml:"video_formats"`
	SubtitleFormats []string          `toml:"subtitle_formats"`
	ScanOnStartup   bool              `toml:"scan_on_startup"`
	WatchForChanges bool              `toml:"watch_for_changes"`
	RemoveMissing   bool              `toml:"remove_missing"`
	ProbeOnCollect  bool              `toml:"probe_on_collect"`
}

// ToolsConfig names the external binaries.
type ToolsConfig struct {
	Mediainfo  string `toml:"mediainfo"`
	Mkvinfo    string `toml:"mkvinfo"`
	Mkvextract string `toml:"mkvextract"`
	File       string `toml:"file"`
	Ffmpeg     string `toml:"ffmpeg"`
}

// TranscodeConfig contains transcoding defaults.
type TranscodeConfig struct {
	WebMQuality     int    `toml:"webm_quality"`
	MatroskaQuality int    `toml:"matroska_quality"`
	Threads         int    `toml:"threads"`
	RenderDir       string `toml:"render_dir"`
	ProbeCacheTTL   string `toml:"probe_cache_ttl"`
}

// SubtitlesConfig contains subtitle preparation settings.
type SubtitlesConfig struct {
	AutoInternal bool    `toml:"auto_internal"`
	Padding      float64 `toml:"padding_seconds"`
	Margin       float64 `toml:"margin_seconds"`
	TempDir      string  `toml:"temp_dir"`
}

// SearchConfig maps languages to full-text configurations.
type SearchConfig struct {
	Languages      map[string]string          `toml:"languages"`
	Configurations []SearchConfigurationEntry `toml:"configurations"`
	Limit          int                        `toml:"limit"`
}

// SearchConfigurationEntry defines how one language is tokenized.
type SearchConfigurationEntry struct {
	Name        string   `toml:"name"`
	Language    string   `toml:"language"` // BCP 47 tag used for case folding
	Stopwords   []string `toml:"stopwords"`
	FoldAccents bool     `toml:"fold_accents"`
}

// CollectorConfig contains the periodic collection settings.
type CollectorConfig struct {
	Schedule string `toml:"schedule"` // cron expression, empty disables
	LockFile string `toml:"lock_file"`
	Workers  int    `toml:"workers"`
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	Enabled         bool   `toml:"enabled"`
	UsersFilePath   string `toml:"users_file"`
	SessionDuration string `toml:"session_duration"`
	SecureCookies   bool   `toml:"secure_cookies"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled      bool   `toml:"enabled"`
	AuthToken    string `toml:"auth_token"`
	Domain       string `toml:"domain"`
	EnableAuth   bool   `toml:"enable_auth"`
	AuthProvider string `toml:"auth_provider"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Host:        "0.0.0.0",
			EnableCORS:  false,
			ReadTimeout: 30,
		},
		Database: DatabaseConfig{
			Path: "./reelstream.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Library: LibraryConfig{
			Directories:     []DirectoryConfig{{Path: "./media"}},
			VideoFormats:    []string{".mkv", ".mp4", ".m4v", ".avi", ".webm", ".mov"},
			SubtitleFormats: []string{".srt"},
			ScanOnStartup:   true,
			WatchForChanges: true,
			RemoveMissing:   false,
			ProbeOnCollect:  true,
		},
		Tools: ToolsConfig{
			Mediainfo:  "mediainfo",
			Mkvinfo:    "mkvinfo",
			Mkvextract: "mkvextract",
			File:       "file",
			Ffmpeg:     "ffmpeg",
		},
		Transcode: TranscodeConfig{
			WebMQuality:     24,
			MatroskaQuality: 20,
			Threads:         8,
			RenderDir:       "./renders",
			ProbeCacheTTL:   "10m",
		},
		Subtitles: SubtitlesConfig{
			AutoInternal: true,
			Padding:      5,
			Margin:       0.1,
		},
		Search: SearchConfig{
			Languages: map[string]string{
				"spa": "spanish",
				"esp": "spanish",
				"eng": "english",
				"ger": "german",
				"deu": "german",
				"fre": "french",
				"fra": "french",
				"por": "portuguese",
			},
			Limit: 100,
		},
		Collector: CollectorConfig{
			Schedule: "@every 6h",
			LockFile: "./reelstream.lock",
		},
		Auth: AuthConfig{
			Enabled:         true,
			UsersFilePath:   "./users.toml",
			SessionDuration: "168h",
			SecureCookies:   false,
		},
		Ngrok: NgrokConfig{
			Enabled:      false,
			AuthProvider: "google",
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies the .env file
// and REELSTREAM_* environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	loadDotEnv()

	// Start with defaults
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Path returns the config file location, REELSTREAM_CONFIG overriding fallback.
func Path(fallback string) string {
	loadDotEnv()
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return fallback
}

// loadDotEnv loads .env if it exists. Variables already set win.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
		}
	}
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key    string
		target *string
	}{
		{"DATABASE_PATH", &c.Database.Path},
		{"LOG_LEVEL", &c.Logging.Level},
		{"LOG_FORMAT", &c.Logging.Format},
		{"PORT", &c.Server.Port},
		{"USERS_FILE", &c.Auth.UsersFilePath},
		{"NGROK_AUTHTOKEN", &c.Ngrok.AuthToken},
		{"FFMPEG", &c.Tools.Ffmpeg},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(EnvPrefix + o.key); ok && v != "" {
			*o.target = v
		}
	}

	// ngrok's own variable name, as documented by ngrok
	if c.Ngrok.AuthToken == "" {
		c.Ngrok.AuthToken = os.Getenv("NGROK_AUTHTOKEN")
	}
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create or open file
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Write header comment
	header := `# reelstream configuration
# Library directories, external tools, transcoding defaults and the subtitle
# search languages. Secrets can be kept in .env as REELSTREAM_* variables.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	// Encode configuration to TOML
	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	// Validate database config
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	// Validate library config
	if len(c.Library.Directories) == 0 {
		return fmt.Errorf("at least one library directory must be configured")
	}
	for i, d := range c.Library.Directories {
		if strings.TrimSpace(d.Path) == "" {
			return fmt.Errorf("library directory %d has an empty path", i)
		}
	}
	if len(c.Library.VideoFormats) == 0 {
		return fmt.Errorf("at least one video format must be specified")
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true, "auto": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text, json, or auto)", c.Logging.Format)
	}

	// Validate transcode config
	if c.Transcode.WebMQuality < 0 || c.Transcode.WebMQuality > 63 {
		return fmt.Errorf("webm quality must be between 0 and 63")
	}
	if c.Transcode.MatroskaQuality < 0 || c.Transcode.MatroskaQuality > 51 {
		return fmt.Errorf("matroska quality must be between 0 and 51")
	}
	if c.Transcode.Threads < 1 {
		return fmt.Errorf("transcode threads must be at least 1")
	}
	if _, err := c.ProbeCacheTTL(); err != nil {
		return fmt.Errorf("invalid probe cache ttl: %w", err)
	}

	// Validate subtitles config
	if c.Subtitles.Padding < 0 || c.Subtitles.Margin < 0 {
		return fmt.Errorf("subtitle padding and margin cannot be negative")
	}

	// Validate search config
	for _, sc := range c.Search.Configurations {
		if sc.Name == "" {
			return fmt.Errorf("search configuration without a name")
		}
		if sc.Language != "" {
			if _, err := language.Parse(sc.Language); err != nil {
				return fmt.Errorf("search configuration %s: %w", sc.Name, err)
			}
		}
	}

	// Validate auth config
	if c.Auth.Enabled {
		if c.Auth.UsersFilePath == "" {
			return fmt.Errorf("users file cannot be empty when auth is enabled")
		}
		if _, err := time.ParseDuration(c.Auth.SessionDuration); err != nil {
			return fmt.Errorf("invalid session duration: %w", err)
		}
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// ProbeCacheTTL parses the subtitle track cache lifetime.
func (c *Config) ProbeCacheTTL() (time.Duration, error) {
	if c.Transcode.ProbeCacheTTL == "" {
		return 10 * time.Minute, nil
	}
	return time.ParseDuration(c.Transcode.ProbeCacheTTL)
}

// LanguageTag returns the casing language of a search configuration entry.
func (e SearchConfigurationEntry) LanguageTag() language.Tag {
	tag, err := language.Parse(e.Language)
	if err != nil {
		return language.Und
	}
	return tag
}
