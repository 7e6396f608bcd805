// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/jmallory/storeguard/internal/admin"
	"github.com/jmallory/storeguard/internal/audit"
	"github.com/jmallory/storeguard/internal/circuitbreaker"
	"github.com/jmallory/storeguard/internal/config"
	"github.com/jmallory/storeguard/internal/fraud"
	"github.com/jmallory/storeguard/internal/health"
	"github.com/jmallory/storeguard/internal/lockout"
	"github.com/jmallory/storeguard/internal/logging"
	"github.com/jmallory/storeguard/internal/metrics"
	"github.com/jmallory/storeguard/internal/notify"
	"github.com/jmallory/storeguard/internal/orders"
	"github.com/jmallory/storeguard/internal/ratelimit"
	"github.com/jmallory/storeguard/internal/realtime"
	"github.com/jmallory/storeguard/internal/security"
	"github.com/jmallory/storeguard/internal/transfer"
	"github.com/jmallory/storeguard/internal/validation"
	"github.com/jmallory/storeguard/internal/vault"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	vault         *vault.Vault
	auditLog      *audit.Log
	tracker       *lockout.Tracker
	gate          *admin.Gate
	engine        *fraud.Engine
	signals       *fraud.Source
	orders        orders.Store
	authorizer    *transfer.Authorizer
	earnings      *transfer.EarningsCalculator
	transferStore transfer.Store
	rail          transfer.Rail
	realtimeHub   *realtime.Hub
	healthReg     *health.Registry
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

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

// WithRail sets a custom payment rail (for testing)
func WithRail(rail transfer.Rail) Option {
	return func(s *Server) {
		s.rail = rail
	}
}

// WithOrders sets the order storage the signal source and earnings
// calculation read from. Defaults to an empty in-memory store.
func WithOrders(store orders.Store) Option {
	return func(s *Server) {
		s.orders = store
	}
}

func (s *Server) railOrDefault() transfer.Rail {
	if s.rail != nil {
		return s.rail
	}

	var rail transfer.Rail
	if s.cfg.StripeSecretKey != "" {
		s.logger.Info("transfer rail: stripe payouts")
		rail = transfer.NewStripeRail(s.cfg.StripeSecretKey)
	} else {
		s.logger.Info("transfer rail: simulated")
		rail = transfer.NewSimulatedRail(200*time.Millisecond, 0)
	}

	// Repeated rail failures trip the circuit so executions fail fast until
	// the network recovers.
	return transfer.NewBreakerRail(rail, circuitbreaker.New(5, 30*time.Second))
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set rail/orders/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Crypto vault backs credential hashing and payload sealing.
	v, err := vault.New(cfg.EncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}
	s.vault = v

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var auditStore audit.Store
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
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pgAudit := audit.NewPostgresStore(db)
		if err := pgAudit.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate security event store", "error", err)
		}
		auditStore = pgAudit

		pgTransfers := transfer.NewPostgresStore(db)
		if err := pgTransfers.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate transfer store", "error", err)
		}
		s.transferStore = pgTransfers
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		auditStore = audit.NewMemoryStore()
		s.transferStore = transfer.NewMemoryStore()
	}

	// Security event log with write-through persistence
	s.auditLog = audit.NewLog(s.logger, audit.WithStore(auditStore))

	// Failed login tracking with periodic counter sweep
	s.tracker = lockout.New(cfg.MaxLoginAttempts, cfg.LockoutDuration,
		lockout.WithSweepInterval(cfg.SweepInterval),
		lockout.WithLogger(s.logger),
	)

	// Admin access gate
	s.gate = admin.NewGate(cfg.AdminIPs, s.tracker, s.auditLog, s.logger)
	if len(cfg.AdminIPs) > 0 {
		s.logger.Info("admin IP allowlist enabled", "entries", len(cfg.AdminIPs))
	} else {
		s.logger.Warn("admin IP allowlist empty, lockout checks only")
	}

	// Order storage feeds fraud signals and the earnings calculation. The
	// storefront owns order persistence; without a shared database this
	// starts empty.
	if s.orders == nil {
		s.orders = orders.NewMemoryStore()
	}

	// Risk engine and its signal source
	engineOpts := []fraud.Option{}
	if !cfg.FraudDetectionEnabled {
		engineOpts = append(engineOpts, fraud.Disabled())
		s.logger.Warn("fraud detection disabled, all actions approved")
	}
	s.engine = fraud.NewEngine(s.auditLog, s.logger, engineOpts...)
	s.signals = fraud.NewSource(s.orders)

	// Transfer authorization and execution
	policy := transfer.Policy{
		MinimumAmount: cfg.MinimumTransferAmount,
		DailyCap:      cfg.DailyTransferCap,
	}
	s.authorizer = transfer.NewAuthorizer(policy, s.transferStore, s.railOrDefault(), s.logger,
		transfer.WithTimeout(cfg.TransferTimeout))
	s.earnings = transfer.NewEarningsCalculator(s.orders, cfg.NetMarginRate)

	// Realtime event feed
	s.realtimeHub = realtime.NewHub(s.logger)
	s.auditLog.Subscribe(s.realtimeHub)
	s.logger.Info("realtime event feed enabled")

	// Admin webhook notifications for high-severity events
	if cfg.AdminWebhookURL != "" {
		notifier, err := notify.NewNotifier(cfg.AdminWebhookURL, cfg.AdminWebhookSecret, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create admin notifier: %w", err)
		}
		s.auditLog.Subscribe(notifier)
		s.logger.Info("admin notifications enabled")
	}

	// Health checks
	s.healthReg = health.NewRegistry()
	s.healthReg.Register("event_log", s.eventLogChecker(auditStore))
	if s.db != nil {
		s.healthReg.Register("database", s.databaseChecker())
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

	// CORS restricted to the storefront origins in production; permissive in dev
	if s.cfg.IsProduction() {
		s.router.Use(security.CORSMiddleware(nil))
	} else {
		s.router.Use(security.CORSMiddleware([]string{"*"}))
	}

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
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
			requestID = generateRequestID()
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	v1.Use(validation.IDParamMiddleware())

	// Storefront-facing routes. The storefront backend is the caller here,
	// not the shopper's browser.
	v1.POST("/risk/assessments", s.assessRisk)
	v1.POST("/activity", s.recordActivity)
	v1.POST("/auth/attempts", s.recordLoginAttempt)
	v1.POST("/credentials", s.hashCredential)
	v1.POST("/credentials/verify", s.verifyCredential)

	// Operator routes behind the admin gate. The gate records every denial
	// as a security event; denied callers see a generic 403.
	adminGroup := v1.Group("/admin")
	adminGroup.Use(s.gate.Middleware())
	{
		adminGroup.GET("/security-events", s.listSecurityEvents)
		adminGroup.POST("/security-events/:id/resolve", s.resolveSecurityEvent)

		adminGroup.GET("/lockouts/:address", s.lockoutStatus)
		adminGroup.POST("/lockouts/reset", s.resetLockoutCounters)

		adminGroup.GET("/earnings", s.eligibleEarnings)
		adminGroup.POST("/transfers", s.createTransfer)
		adminGroup.GET("/transfers", s.listTransfers)

		adminGroup.POST("/vault/seal", s.sealPayload)
		adminGroup.POST("/vault/open", s.openPayload)

		adminGroup.GET("/stats", s.statsHandler)

		// WebSocket for the live security event feed
		adminGroup.GET("/events/ws", func(c *gin.Context) {
			s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
		})
	}
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

func (s *Server) eventLogChecker(store audit.Store) health.Checker {
	return func(ctx context.Context) health.Status {
		if _, err := store.Recent(ctx, 1); err != nil {
			return health.Unhealthy("event_log", err.Error())
		}
		return health.Healthy("event_log")
	}
}

func (s *Server) databaseChecker() health.Checker {
	return func(ctx context.Context) health.Status {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			return health.Unhealthy("database", err.Error())
		}
		return health.Healthy("database")
	}
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
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
		"name":        "StoreGuard",
		"description": "Transaction risk scoring and security event pipeline",
		"version":     "0.1.0",
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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start the lockout sweep loop
	go s.tracker.Start(runCtx)

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Sample connection pool stats
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

	// Cancel the context for all background goroutines (hub, sweep loop)
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

	// Stop the lockout tracker's sweep loop
	s.tracker.Stop()
	s.logger.Info("lockout tracker stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
