// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Adam-Maverick/perks-app-sub000/internal/config"
	"github.com/Adam-Maverick/perks-app-sub000/internal/dispute"
	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/health"
	"github.com/Adam-Maverick/perks-app-sub000/internal/jobs"
	"github.com/Adam-Maverick/perks-app-sub000/internal/logging"
	"github.com/Adam-Maverick/perks-app-sub000/internal/metrics"
	"github.com/Adam-Maverick/perks-app-sub000/internal/notify"
	"github.com/Adam-Maverick/perks-app-sub000/internal/payments"
	"github.com/Adam-Maverick/perks-app-sub000/internal/ratelimit"
	"github.com/Adam-Maverick/perks-app-sub000/internal/realtime"
	"github.com/Adam-Maverick/perks-app-sub000/internal/release"
	"github.com/Adam-Maverick/perks-app-sub000/internal/security"
	"github.com/Adam-Maverick/perks-app-sub000/internal/settlement"
	"github.com/Adam-Maverick/perks-app-sub000/internal/traces"
	"github.com/Adam-Maverick/perks-app-sub000/internal/validation"
	"github.com/Adam-Maverick/perks-app-sub000/internal/webhook"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	escrowStore escrow.Store
	machine     *escrow.Machine
	txns        payments.Store
	merchants   payments.MerchantStore
	gateway     settlement.Gateway
	dispatcher  *notify.Dispatcher
	notifyStore notify.Store
	emitter     *notify.Emitter
	mailer      notify.Mailer
	ingestor    *webhook.Ingestor
	releaser    *release.Releaser
	disputes    *dispute.Service
	scheduler   *jobs.Scheduler
	reconcile   *jobs.Reconciliation
	hub         *realtime.Hub
	rateLimiter *ratelimit.Limiter
	checks      *health.Registry

	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	shutdownTraces func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom settlement gateway (for testing)
func WithGateway(g settlement.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	s.checks = health.NewRegistry()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.escrowStore = escrow.NewPostgresStore(db)
		s.txns = payments.NewPostgresStore(db)
		s.merchants = payments.NewPostgresMerchantStore(db)
		s.notifyStore = notify.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.escrowStore = escrow.NewMemoryStore()
		s.txns = payments.NewMemoryStore(s.escrowStore)
		s.merchants = payments.NewMemoryMerchantStore()
		s.notifyStore = notify.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Settlement gateway if not injected
	if s.gateway == nil {
		switch cfg.SettlementProvider {
		case "paystack":
			s.gateway = settlement.NewPaystackClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, s.logger)
			s.logger.Info("settlement gateway configured", "provider", "paystack")
		case "stripe":
			s.gateway = settlement.NewStripeGateway(cfg.StripeAPIKey, s.logger)
			s.logger.Info("settlement gateway configured", "provider", "stripe")
		default:
			return nil, fmt.Errorf("unknown settlement provider %q", cfg.SettlementProvider)
		}
	}

	// Outbound notifications
	s.dispatcher = notify.NewDispatcher(s.notifyStore)
	s.emitter = notify.NewEmitter(s.dispatcher, s.logger)
	if cfg.MailEndpoint != "" {
		s.mailer = notify.NewHTTPMailer(cfg.MailEndpoint, cfg.MailAPIKey, cfg.MailFrom)
		s.logger.Info("mail delivery enabled", "from", cfg.MailFrom)
	} else {
		s.mailer = notify.NewLogMailer(s.logger)
		s.logger.Info("mail delivery disabled, logging instead")
	}

	// Realtime feed for operator dashboards
	s.hub = realtime.NewHub(s.logger)

	// Escrow state machine publishes committed audit entries to the feed
	s.machine = escrow.NewMachine(s.escrowStore, s.logger).WithPublisher(s.hub)

	// Inbound gateway webhook ingestion
	s.ingestor = webhook.NewIngestor(s.txns, cfg.WebhookSecret, s.logger, s.emitter)

	// Release path shared by the confirm endpoint and the auto-release job
	s.releaser = release.NewReleaser(s.machine, s.txns, s.merchants, s.gateway, s.logger, s.emitter, s.mailer)

	// Disputes
	var disputeStore dispute.Store
	if s.db != nil {
		disputeStore = dispute.NewPostgresStore(s.db, escrow.NewPostgresStore(s.db))
	} else {
		disputeStore = dispute.NewMemoryStore()
	}
	s.disputes = dispute.NewService(disputeStore, s.machine, s.txns, s.merchants, s.gateway, s.logger, s.emitter)

	// Scheduled jobs
	s.scheduler = jobs.NewScheduler(s.logger)
	autoRelease := jobs.NewAutoRelease(s.escrowStore, s.releaser, cfg.GraceDays, s.logger, s.emitter)
	if err := s.scheduler.Add(autoRelease, cfg.AutoReleaseAt); err != nil {
		return nil, fmt.Errorf("scheduling auto-release: %w", err)
	}
	reminders := jobs.NewReminders(s.escrowStore, s.txns, cfg.ReminderDays, cfg.GraceDays, s.logger, s.emitter, s.mailer)
	if err := s.scheduler.Add(reminders, cfg.RemindersAt); err != nil {
		return nil, fmt.Errorf("scheduling reminders: %w", err)
	}
	s.reconcile = jobs.NewReconciliation(s.escrowStore, s.gateway, s.logger, s.emitter)
	if err := s.scheduler.Add(s.reconcile, cfg.ReconciliationAt); err != nil {
		return nil, fmt.Errorf("scheduling reconciliation: %w", err)
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		rlCfg.BurstSize = s.cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// adminAuth guards operator endpoints with the shared admin secret.
// With no secret configured (local development) access is open.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			c.Next()
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or missing admin secret",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// WebSocket feed for operator dashboards
	v1.GET("/ops/feed", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	v1.GET("/ops/feed/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})

	// Inbound gateway events (authenticated by HMAC signature, not admin secret)
	webhookHandler := webhook.NewHandler(s.ingestor)
	webhookHandler.RegisterRoutes(v1)

	// Payments and merchants
	paymentsHandler := payments.NewHandler(s.txns, s.merchants, s.gateway)
	paymentsHandler.RegisterRoutes(v1)

	// Escrow hold read surface
	escrowHandler := escrow.NewHandler(s.machine)
	escrowHandler.RegisterRoutes(v1)

	// Delivery confirmation (employee action)
	releaseHandler := release.NewHandler(s.releaser)
	releaseHandler.RegisterRoutes(v1)

	// Disputes
	disputeHandler := dispute.NewHandler(s.disputes)
	disputeHandler.RegisterRoutes(v1)

	// Notification subscriptions
	notifyHandler := notify.NewHandler(s.notifyStore, s.dispatcher)
	notifyHandler.RegisterRoutes(v1)

	// Admin: manual job triggers and reconciliation reports
	admin := v1.Group("/admin")
	admin.Use(s.adminAuth())
	jobsHandler := jobs.NewHandler(s.scheduler, s.reconcile)
	jobsHandler.RegisterRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Perks",
		"description": "Escrow-backed payments for the employee perks marketplace",
		"version":     "0.1.0",
		"provider":    s.cfg.SettlementProvider,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"provider", s.cfg.SettlementProvider,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start scheduled jobs
	go s.scheduler.Start(runCtx)

	// Sample DB pool stats into Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, scheduler)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop scheduled jobs
	s.scheduler.Stop()
	s.logger.Info("job scheduler stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
