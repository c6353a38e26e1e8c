package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mediadrop/downloader"
	"mediadrop/internal"
	"mediadrop/server"
	"mediadrop/storage"
	"mediadrop/utils"
)

// shutdownTimeout bounds how long in-flight deliveries may keep the server up
const shutdownTimeout = 30 * time.Second

var (
	storageDir     string
	listenAddr     string
	publicURL      string
	rateLimit      string
	persistLocks   bool
	requireCookies bool
	maxConcurrent  int
	ytdlpPath      string
	proxyURL       string
	allowedDomains []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download server and the storage janitor",
	Long: `Run the HTTP server and the storage janitor until SIGINT or SIGTERM.

Endpoints:
  POST /download                       Fetch a URL, returns a one-time link
  GET  /downloads/<name>?token=<t>     Stream the file once, then delete it
  GET  /api/health                     Status, reserved names, last sweep`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, config)
	},
}

// runServer wires the registry, janitor, pipeline and HTTP server and runs
// them until ctx is cancelled or one of them fails
func runServer(ctx context.Context, cfg *internal.Config) error {
	if !cfg.EnableDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = internal.GetLogger().Writer(internal.LogLevelDebug)
	gin.DefaultErrorWriter = internal.GetLogger().Writer(internal.LogLevelError)

	fileOps := utils.NewFileOperations()
	if err := fileOps.EnsureDir(cfg.StorageDir); err != nil {
		return internal.NewConfigurationError("storage directory is not usable", err).
			WithContext("path", cfg.StorageDir)
	}

	credsDir := cfg.CredentialsDir
	if credsDir == "" {
		credsDir = filepath.Join(os.TempDir(), "mediadrop-cookies")
	}
	if err := fileOps.EnsureDir(credsDir); err != nil {
		return internal.NewConfigurationError("credentials directory is not usable", err).
			WithContext("path", credsDir)
	}

	var markers *storage.MarkerStore
	if cfg.PersistLocks {
		markers = storage.NewMarkerStore(cfg.StorageDir)
	}
	registry := storage.NewRegistry(markers)
	if restored, err := registry.Restore(); err != nil {
		internal.LogWarn("Could not restore lock markers: %v", err)
	} else if restored > 0 {
		internal.LogInfo("Restored %d reservations from lock markers", restored)
	}

	opts, err := server.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}

	extractor := downloader.NewYtDlpExtractor(downloader.ExtractorOptionsFromConfig(cfg))
	pipeline := downloader.NewPipeline(extractor, registry, downloader.PipelineOptionsFromConfig(cfg))
	cookies := downloader.NewCookieStore(credsDir, cfg.MaxUploadBytes)
	janitor := storage.NewJanitor(cfg.StorageDir, registry, cfg.CleanupEvery).
		WithExpiry(registry, cfg.TicketTTL)

	srv := server.New(pipeline, cookies, registry, janitor, opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		return janitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		internal.LogInfo("Shutting down, waiting up to %s for deliveries to finish", shutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if held := registry.Names(); len(held) > 0 {
		internal.LogDebug("Reservations held at shutdown: %v", held)
	}
	internal.LogInfo("Server stopped")
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&storageDir, "storage-dir", "", "Directory for downloaded files (env: MEDIADROP_STORAGE_DIR)")
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Listen address, e.g. :8080 (env: MEDIADROP_LISTEN)")
	serveCmd.Flags().StringVar(&publicURL, "public-url", "", "Base URL for download links (env: MEDIADROP_PUBLIC_URL)")
	serveCmd.Flags().StringVarP(&rateLimit, "rate-limit", "r", "", "Delivery bandwidth limit (e.g., 5M for 5MB/s) (env: MEDIADROP_RATE_LIMIT)")
	serveCmd.Flags().BoolVar(&persistLocks, "persist-locks", false, "Write .lock markers for reserved files (env: MEDIADROP_PERSIST_LOCKS)")
	serveCmd.Flags().BoolVar(&requireCookies, "require-cookies", false, "Reject requests without a cookies file (env: MEDIADROP_REQUIRE_COOKIES)")
	serveCmd.Flags().IntVarP(&maxConcurrent, "max-concurrent", "j", 4, "Concurrent yt-dlp fetches (1-64) (env: MEDIADROP_MAX_CONCURRENT)")
	serveCmd.Flags().StringVar(&ytdlpPath, "ytdlp", "", "Path to the yt-dlp binary (env: MEDIADROP_YTDLP)")
	serveCmd.Flags().StringVar(&proxyURL, "proxy", "", "HTTP/SOCKS proxy URL for yt-dlp (env: MEDIADROP_PROXY)")
	serveCmd.Flags().StringSliceVar(&allowedDomains, "allowed-domains", nil, "Only accept media URLs on these hosts and their subdomains (env: MEDIADROP_ALLOWED_DOMAINS)")
}
