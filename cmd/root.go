package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mediadrop/internal"
)

var (
	configPath string
	debug      bool
	quiet      bool
	logLevel   string
	logFile    string
	config     *internal.Config
)

var rootCmd = &cobra.Command{
	Use:     "mediadrop",
	Short:   "Fetch media with yt-dlp and hand it out through one-time download links",
	Version: internal.Version,
	Long: `mediadrop downloads a single rendition of a media URL with yt-dlp, stores
it in a shared directory and serves it exactly once through a tokenized link.
A background janitor removes files nobody is holding.

Examples:
  mediadrop serve --listen :8080 --storage-dir /var/lib/mediadrop
  mediadrop serve --config /etc/mediadrop.yaml --rate-limit 20M
  mediadrop get -f 720p -o clip.mp4 https://www.youtube.com/watch?v=dQw4w9WgXcQ
  mediadrop sweep --storage-dir /var/lib/mediadrop --older-than 1h

Environment Variables:
  MEDIADROP_CONFIG           Path to a YAML config file
  MEDIADROP_STORAGE_DIR      Directory for downloaded files
  MEDIADROP_CREDENTIALS_DIR  Directory for uploaded cookie files
  MEDIADROP_LISTEN           Listen address (e.g., :8080)
  MEDIADROP_PUBLIC_URL       Base URL used in download links
  MEDIADROP_MAX_CONCURRENT   Concurrent yt-dlp fetches (1-64)
  MEDIADROP_RATE_LIMIT       Delivery bandwidth limit (e.g., 5M)
  MEDIADROP_PERSIST_LOCKS    Write .lock markers next to reserved files
  MEDIADROP_YTDLP            Path to the yt-dlp binary
  MEDIADROP_PROXY            Proxy URL for yt-dlp and the get client
  MEDIADROP_ALLOWED_DOMAINS  Comma-separated hosts accepted for media URLs
  MEDIADROP_LOG_LEVEL        Log level (debug, info, warn, error)

DISCLAIMER: Respect the terms of service of the sites you download from.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfiguration(cmd.Flags()); err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}

		if err := internal.InitLogger(config); err != nil {
			return fmt.Errorf("failed to initialize logger: %v", err)
		}

		internal.LogDebug("Configuration loaded: storage=%s, listen=%s, max_concurrent=%d, ttl=%s, cleanup=%s",
			config.StorageDir, config.ListenAddr, config.MaxConcurrent, config.TicketTTL, config.CleanupEvery)
		return nil
	},
}

// loadConfiguration builds the config with precedence flags > env > file > defaults
func loadConfiguration(flags *pflag.FlagSet) error {
	cfg := internal.DefaultConfig()

	path := configPath
	if path == "" {
		path = os.Getenv("MEDIADROP_CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return err
		}
	}

	cfg.LoadFromEnv()
	applyFlags(cfg, flags)

	if err := cfg.ValidateConfig(); err != nil {
		return err
	}

	config = cfg
	return nil
}

// applyFlags copies every explicitly set flag over the loaded values. Flags
// left at their defaults never override the file or environment.
func applyFlags(cfg *internal.Config, flags *pflag.FlagSet) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "debug":
			cfg.EnableDebug = debug
		case "quiet":
			cfg.QuietMode = quiet
		case "log-level":
			cfg.LogLevel = logLevel
		case "log-file":
			cfg.LogFile = logFile
		case "storage-dir":
			cfg.StorageDir = storageDir
		case "listen":
			cfg.ListenAddr = listenAddr
		case "public-url":
			cfg.PublicBaseURL = publicURL
		case "rate-limit":
			cfg.RateLimit = rateLimit
		case "persist-locks":
			cfg.PersistLocks = persistLocks
		case "require-cookies":
			cfg.RequireCookies = requireCookies
		case "max-concurrent":
			cfg.MaxConcurrent = maxConcurrent
		case "ytdlp":
			cfg.YtDlpPath = ytdlpPath
		case "proxy":
			cfg.ProxyURL = proxyURL
		case "allowed-domains":
			cfg.AllowedDomains = allowedDomains
		}
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (env: MEDIADROP_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging with file and line information (env: MEDIADROP_DEBUG)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress and informational output (env: MEDIADROP_QUIET)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error) (env: MEDIADROP_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (env: MEDIADROP_LOG_FILE)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
