package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mediadrop/downloader"
	"mediadrop/internal"
	"mediadrop/storage"
	"mediadrop/utils"
)

// formOverhead is the room left for url, quality and multipart framing on
// top of the cookies upload limit
const formOverhead = 64 << 10

// Response is the standard API response structure
type Response struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}

// LockCounter reports how many names are reserved
type LockCounter interface {
	Len() int
}

// SweepReporter exposes the janitor's state and its latest pass
type SweepReporter interface {
	State() storage.State
	LastReport() (internal.SweepReport, bool)
}

// Options configures the HTTP surface
type Options struct {
	ListenAddr     string
	MaxUploadBytes int64
	RequireCookies bool
	RateLimit      int64 // bytes per second across all deliveries, 0 = unlimited
}

// OptionsFromConfig derives server options from the application config
func OptionsFromConfig(cfg *internal.Config) (Options, error) {
	rate, err := utils.ParseRateLimit(cfg.RateLimit)
	if err != nil {
		return Options{}, internal.NewConfigurationError("invalid rate_limit", err)
	}
	return Options{
		ListenAddr:     cfg.ListenAddr,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequireCookies: cfg.RequireCookies,
		RateLimit:      rate,
	}, nil
}

// Server is the HTTP front of the delivery pipeline
type Server struct {
	pipeline *downloader.Pipeline
	cookies  *downloader.CookieStore
	locks    LockCounter
	janitor  SweepReporter
	limiter  *utils.TokenBucketLimiter
	opts     Options

	engine *gin.Engine
	server *http.Server
}

// New creates a server. janitor may be nil when no sweeps run in-process.
func New(pipeline *downloader.Pipeline, cookies *downloader.CookieStore, locks LockCounter, janitor SweepReporter, opts Options) *Server {
	s := &Server{
		pipeline: pipeline,
		cookies:  cookies,
		locks:    locks,
		janitor:  janitor,
		opts:     opts,
	}
	if opts.RateLimit > 0 {
		s.limiter = utils.NewTokenBucketLimiter(opts.RateLimit)
	}

	s.engine = s.routes()
	s.server = &http.Server{
		Addr:         opts.ListenAddr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No timeout for downloads
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	engine := gin.New()
	if s.opts.MaxUploadBytes > 0 {
		engine.MaxMultipartMemory = s.opts.MaxUploadBytes
	}

	engine.Use(requestIDMiddleware())
	engine.Use(loggingMiddleware())
	engine.Use(recoveryMiddleware())

	limitBody := func(c *gin.Context) { c.Next() }
	if s.opts.MaxUploadBytes > 0 {
		limitBody = bodyLimitMiddleware(s.opts.MaxUploadBytes + formOverhead)
	}

	engine.POST("/download", limitBody, s.handleDownload)
	engine.GET("/downloads/:filename", s.handleDelivery)

	api := engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/download", limitBody, s.handleDownload)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, Response{
			Code:    404,
			Data:    nil,
			Message: "not found",
		})
	})

	return engine
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Stop is called. A graceful stop returns nil.
func (s *Server) Start() error {
	internal.LogInfo("Starting mediadrop server on %s", s.opts.ListenAddr)
	if s.limiter != nil {
		internal.LogInfo("Delivery bandwidth limited to %s/s", utils.FormatBytes(s.opts.RateLimit))
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
