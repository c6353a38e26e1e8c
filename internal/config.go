package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent mimics a desktop browser; some sources refuse bare clients
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"

// Config holds application configuration
type Config struct {
	// Storage
	StorageDir     string        `yaml:"storage_dir"`
	CredentialsDir string        `yaml:"credentials_dir,omitempty"`
	PersistLocks   bool          `yaml:"persist_locks,omitempty"`
	CleanupEvery   time.Duration `yaml:"cleanup_interval,omitempty"`
	TicketTTL      time.Duration `yaml:"ticket_ttl,omitempty"`

	// Server
	ListenAddr     string `yaml:"listen_addr"`
	PublicBaseURL  string `yaml:"public_base_url,omitempty"`
	MaxConcurrent  int    `yaml:"max_concurrent,omitempty"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes,omitempty"`
	RequireCookies bool   `yaml:"require_cookies,omitempty"`
	RateLimit      string `yaml:"rate_limit,omitempty"`

	// Extraction
	YtDlpPath      string        `yaml:"ytdlp_path,omitempty"`
	UserAgent      string        `yaml:"user_agent,omitempty"`
	ProxyURL       string        `yaml:"proxy,omitempty"`
	AllowedDomains []string      `yaml:"allowed_domains,omitempty"`
	ExtractTimeout time.Duration `yaml:"extract_timeout,omitempty"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout,omitempty"`

	// Logging configuration
	LogLevel    string `yaml:"log_level,omitempty"`
	EnableDebug bool   `yaml:"debug,omitempty"`
	QuietMode   bool   `yaml:"quiet,omitempty"`
	LogFile     string `yaml:"log_file,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		StorageDir:   "downloads",
		CleanupEvery: 5 * time.Minute,
		TicketTTL:    time.Hour,

		ListenAddr:     ":8080",
		MaxConcurrent:  4,
		MaxUploadBytes: 1 << 20,

		YtDlpPath:      "yt-dlp",
		UserAgent:      DefaultUserAgent,
		ExtractTimeout: 2 * time.Minute,
		FetchTimeout:   30 * time.Minute,

		// Logging defaults
		LogLevel:    "info",
		EnableDebug: false,
		QuietMode:   false,
		LogFile:     "", // Empty means stderr
	}
}

// LoadFile merges a YAML config file over the current values. Keys absent
// from the file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewConfigurationError("cannot read config file", err).WithContext("path", path)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return NewConfigurationError("invalid config file", err).WithContext("path", path)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if dir := os.Getenv("MEDIADROP_STORAGE_DIR"); dir != "" {
		c.StorageDir = dir
	}

	if dir := os.Getenv("MEDIADROP_CREDENTIALS_DIR"); dir != "" {
		c.CredentialsDir = dir
	}

	if persist := os.Getenv("MEDIADROP_PERSIST_LOCKS"); persist != "" {
		c.PersistLocks = parseBool(persist)
	}

	if every := os.Getenv("MEDIADROP_CLEANUP_INTERVAL"); every != "" {
		if d, err := time.ParseDuration(every); err == nil && d > 0 {
			c.CleanupEvery = d
		}
	}

	if ttl := os.Getenv("MEDIADROP_TICKET_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil && d > 0 {
			c.TicketTTL = d
		}
	}

	if addr := os.Getenv("MEDIADROP_LISTEN"); addr != "" {
		c.ListenAddr = addr
	}

	if base := os.Getenv("MEDIADROP_PUBLIC_URL"); base != "" {
		c.PublicBaseURL = base
	}

	if max := os.Getenv("MEDIADROP_MAX_CONCURRENT"); max != "" {
		if n, err := strconv.Atoi(max); err == nil && n > 0 && n <= 64 {
			c.MaxConcurrent = n
		}
	}

	if require := os.Getenv("MEDIADROP_REQUIRE_COOKIES"); require != "" {
		c.RequireCookies = parseBool(require)
	}

	if rate := os.Getenv("MEDIADROP_RATE_LIMIT"); rate != "" {
		c.RateLimit = rate
	}

	if path := os.Getenv("MEDIADROP_YTDLP"); path != "" {
		c.YtDlpPath = path
	}

	if ua := os.Getenv("MEDIADROP_USER_AGENT"); ua != "" {
		c.UserAgent = ua
	}

	if proxy := os.Getenv("MEDIADROP_PROXY"); proxy != "" {
		c.ProxyURL = proxy
	}

	if domains := os.Getenv("MEDIADROP_ALLOWED_DOMAINS"); domains != "" {
		c.AllowedDomains = splitList(domains)
	}

	// Load logging configuration from environment
	if logLevel := os.Getenv("MEDIADROP_LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}

	if debug := os.Getenv("MEDIADROP_DEBUG"); debug != "" {
		c.EnableDebug = parseBool(debug)
	}

	if quiet := os.Getenv("MEDIADROP_QUIET"); quiet != "" {
		c.QuietMode = parseBool(quiet)
	}

	if logFile := os.Getenv("MEDIADROP_LOG_FILE"); logFile != "" {
		c.LogFile = logFile
	}
}

// GetEnvWithDefault returns environment variable value or default
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if strings.TrimSpace(c.StorageDir) == "" {
		return fmt.Errorf("storage directory cannot be empty")
	}

	if c.CleanupEvery < time.Second {
		return fmt.Errorf("invalid cleanup interval: %s (must be >= 1s)", c.CleanupEvery)
	}

	if c.TicketTTL < c.CleanupEvery {
		return fmt.Errorf("invalid ticket ttl: %s (must be >= cleanup interval %s)", c.TicketTTL, c.CleanupEvery)
	}

	if c.MaxConcurrent < 1 || c.MaxConcurrent > 64 {
		return fmt.Errorf("invalid max concurrent downloads: %d (must be 1-64)", c.MaxConcurrent)
	}

	if c.MaxUploadBytes < 1024 {
		return fmt.Errorf("invalid max upload size: %d (must be >= 1024)", c.MaxUploadBytes)
	}

	if c.YtDlpPath == "" {
		return fmt.Errorf("yt-dlp path cannot be empty")
	}

	if c.ExtractTimeout <= 0 || c.FetchTimeout <= 0 {
		return fmt.Errorf("extract and fetch timeouts must be > 0")
	}

	// staging reservations are subject to ticket expiry while yt-dlp runs
	if c.TicketTTL <= c.FetchTimeout {
		return fmt.Errorf("invalid ticket ttl: %s (must exceed fetch timeout %s)", c.TicketTTL, c.FetchTimeout)
	}

	return nil
}

// splitList splits a comma-separated value, dropping empty items
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseBool(value string) bool {
	return strings.EqualFold(value, "true") || value == "1"
}
