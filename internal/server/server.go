// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq"

	"github.com/mbd888/ratecard/internal/admin"
	"github.com/mbd888/ratecard/internal/catalog"
	"github.com/mbd888/ratecard/internal/circuitbreaker"
	"github.com/mbd888/ratecard/internal/config"
	"github.com/mbd888/ratecard/internal/dashboard"
	"github.com/mbd888/ratecard/internal/health"
	"github.com/mbd888/ratecard/internal/logging"
	"github.com/mbd888/ratecard/internal/metrics"
	"github.com/mbd888/ratecard/internal/plan"
	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/policy"
	"github.com/mbd888/ratecard/internal/ratelimit"
	"github.com/mbd888/ratecard/internal/realtime"
	"github.com/mbd888/ratecard/internal/rollover"
	"github.com/mbd888/ratecard/internal/security"
	"github.com/mbd888/ratecard/internal/stripesync"
	"github.com/mbd888/ratecard/internal/traces"
	"github.com/mbd888/ratecard/internal/usage"
	"github.com/mbd888/ratecard/internal/validation"
	"github.com/mbd888/ratecard/internal/watcher"
	"github.com/mbd888/ratecard/internal/webhooks"
)

// Server holds the wired services and the HTTP machinery around them.
type Server struct {
	cfg *config.Config

	plans     *plan.Service
	services  *catalog.Manager
	configs   *planconfig.Service
	usage     *usage.Service
	evaluator *policy.Evaluator
	stats     *dashboard.Stats
	syncer    *stripesync.Syncer

	// store-level handles kept for consumers that read past the
	// service layer (dashboard counts, background workers)
	planStore   plan.Store
	configStore planconfig.Store
	usageStore  usage.Store
	policyStore policy.Store
	violations  policy.ViolationLog
	hookStore   webhooks.Store

	dispatcher *webhooks.Dispatcher
	hub        *realtime.Hub
	rollover   *rollover.Worker
	watcher    *watcher.Watcher

	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry
	stopTracing func(context.Context) error

	db           *sql.DB
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// eventFanout forwards domain events to every configured sink. The
// webhook emitter and the realtime hub both want the full event
// stream of the producing services, which each accept a single sink.
type eventSink interface {
	PlanChanged(ctx context.Context, action string, p *plan.Plan)
	ConfigurationChanged(ctx context.Context, action string, cfg *planconfig.Configuration)
	UsageRecorded(ctx context.Context, e *usage.Event)
	BucketThreshold(ctx context.Context, a *watcher.Alert)
}

type eventFanout struct {
	sinks []eventSink
}

func (f *eventFanout) PlanChanged(ctx context.Context, action string, p *plan.Plan) {
	for _, s := range f.sinks {
		s.PlanChanged(ctx, action, p)
	}
}

func (f *eventFanout) ConfigurationChanged(ctx context.Context, action string, cfg *planconfig.Configuration) {
	for _, s := range f.sinks {
		s.ConfigurationChanged(ctx, action, cfg)
	}
}

func (f *eventFanout) UsageRecorded(ctx context.Context, e *usage.Event) {
	for _, s := range f.sinks {
		s.UsageRecorded(ctx, e)
	}
}

func (f *eventFanout) BucketThreshold(ctx context.Context, a *watcher.Alert) {
	for _, s := range f.sinks {
		s.BucketThreshold(ctx, a)
	}
}

var (
	_ plan.EventEmitter       = (*eventFanout)(nil)
	_ planconfig.EventEmitter = (*eventFanout)(nil)
	_ usage.EventEmitter      = (*eventFanout)(nil)
	_ watcher.AlertSink       = (*eventFanout)(nil)
)

// New creates a server with all services wired up. Postgres-backed
// stores are used when DATABASE_URL is set, in-memory stores otherwise.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    slog.Default(),
		healthReg: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}
		s.db = db
		s.logger.Info("connected to postgres", "dsn", maskDSN(cfg.DatabaseURL))

		s.healthReg.Register("postgres", func(ctx context.Context) health.Status {
			st := health.Status{Name: "postgres", Healthy: true}
			if err := db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	}

	s.buildStores()
	s.buildServices()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// buildStores picks Postgres or memory stores and runs dev migrations.
func (s *Server) buildStores() {
	ctx := context.Background()

	if s.db != nil {
		planStore := plan.NewPostgresStore(s.db)
		catalogStore := catalog.NewPostgresStore(s.db)
		configStore := planconfig.NewPostgresStore(s.db)
		usageStore := usage.NewPostgresStore(s.db)
		policyStore := policy.NewPostgresStore(s.db)
		violationLog := policy.NewPostgresViolationLog(s.db)
		hookStore := webhooks.NewPostgresStore(s.db)
		rolloverStore := rollover.NewPostgresStore(s.db)

		type migrator interface {
			Migrate(ctx context.Context) error
		}
		for name, m := range map[string]migrator{
			"plans":          planStore,
			"catalog":        catalogStore,
			"configurations": configStore,
			"usage":          usageStore,
			"policies":       policyStore,
			"webhooks":       hookStore,
			"rollover":       rolloverStore,
		} {
			if err := m.Migrate(ctx); err != nil {
				s.logger.Warn("store migration failed", "store", name, "error", err)
			}
		}

		s.planStore = planStore
		s.configStore = configStore
		s.usageStore = usageStore
		s.policyStore = policyStore
		s.violations = violationLog
		s.hookStore = hookStore
		s.services = catalog.NewManager(catalogStore)
		s.rollover = rollover.NewWorker(rolloverStore, configStore, usageStore, s.logger, s.cfg.RolloverInterval)
		return
	}

	s.logger.Info("no DATABASE_URL set, using in-memory stores")
	s.planStore = plan.NewMemoryStore()
	s.configStore = planconfig.NewMemoryStore()
	s.usageStore = usage.NewMemoryStore()
	s.policyStore = policy.NewMemoryStore()
	s.violations = policy.NewMemoryViolationLog()
	s.hookStore = webhooks.NewMemoryStore()
	s.services = catalog.NewManager(catalog.NewMemoryStore())
	s.rollover = rollover.NewWorker(rollover.NewMemoryStore(), s.configStore, s.usageStore, s.logger, s.cfg.RolloverInterval)
}

// buildServices wires the domain services on top of the stores.
func (s *Server) buildServices() {
	s.hub = realtime.NewHub(s.logger)

	s.dispatcher = webhooks.NewDispatcherWithRetry(s.hookStore, webhooks.DefaultRetryConfig)
	events := &eventFanout{sinks: []eventSink{
		webhooks.NewEmitter(s.dispatcher, s.logger),
		realtime.NewEmitter(s.hub),
	}}

	s.evaluator = policy.NewEvaluator(s.policyStore).WithViolationLog(s.violations)
	s.stats = dashboard.NewStats(promValidationRecorder{})

	s.plans = plan.NewService(s.planStore).WithEvents(events)

	s.configs = planconfig.NewService(s.configStore, s.services, s.plans).
		WithGuardrails(s.evaluator).
		WithEvents(events).
		WithMetrics(s.stats)

	s.usage = usage.NewService(s.usageStore, s.configs).
		WithRollover(s.rollover).
		WithEvents(events)

	s.watcher = watcher.New(watcherConfig(s.cfg), s.configStore, s.usageStore, events, s.logger).
		WithRollover(s.rollover)

	if s.cfg.StripeAPIKey != "" {
		api, err := stripesync.NewClient(s.cfg.StripeAPIKey)
		if err != nil {
			s.logger.Warn("stripe client init failed, catalog sync disabled", "error", err)
			return
		}
		s.syncer = stripesync.NewSyncer(api, s.plans, s.configs, s.logger).
			WithBreaker(circuitbreaker.New(5, 30*time.Second)).
			WithRetry(3, 500*time.Millisecond)
	}
}

// promValidationRecorder feeds validation outcomes into Prometheus.
// The dashboard Stats decorator sits in front of it so the overview
// endpoint and the metrics endpoint see the same stream.
type promValidationRecorder struct{}

func (promValidationRecorder) ValidationOutcome(configType string, valid bool) {
	if valid {
		metrics.ConfigurationWritesTotal.WithLabelValues(configType).Inc()
	}
}

func watcherConfig(cfg *config.Config) watcher.Config {
	wc := watcher.DefaultConfig()
	if cfg.UsageAlertInterval > 0 {
		wc.PollInterval = cfg.UsageAlertInterval
	}
	return wc
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"panic", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An internal error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 && s.cfg.IsDevelopment() {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPS * 60,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware propagates an inbound X-Request-ID or generates one.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Header("X-Request-ID", requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		switch {
		case status >= 500:
			logger.Error("request completed", attrs...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// tenantMiddleware extracts the tenant from the X-Tenant-ID header the
// platform gateway injects and scopes the request to it. Identity is
// the gateway's problem; a request without a tenant has no business
// reaching the tenant-scoped API.
func tenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader("X-Tenant-ID")
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_tenant",
				"message": "X-Tenant-ID header is required",
			})
			return
		}
		c.Set("tenantID", tenantID)
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/live", s.handleLiveness)
	s.router.GET("/health/ready", s.handleReadiness)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", func(c *gin.Context) {
		tenantID := c.GetHeader("X-Tenant-ID")
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_tenant",
				"message": "X-Tenant-ID header is required",
			})
			return
		}
		s.hub.HandleWebSocket(c.Writer, c.Request, tenantID)
	})

	v1 := s.router.Group("/v1")
	v1.Use(tenantMiddleware())

	plan.NewHandler(s.plans).RegisterRoutes(v1)
	catalog.NewHandler(s.services).RegisterRoutes(v1)
	planconfig.NewHandler(s.configs).RegisterRoutes(v1)
	usage.NewHandler(s.usage).RegisterRoutes(v1)

	policy.NewHandler(s.policyStore).
		WithViolationLog(s.violations).
		WithEvaluator(s.evaluator).
		RegisterRoutes(v1)

	webhooks.NewHandler(s.hookStore).RegisterRoutes(v1)

	dashboard.NewHandler(s.planStore, s.configStore, s.usage).
		WithViolations(s.violations).
		WithStats(s.stats).
		RegisterRoutes(v1)

	adm := admin.NewHandler().
		WithPeriodCloser(s.rollover).
		WithViolationExporter(s.violations)
	if s.syncer != nil {
		adm = adm.WithStripeSyncer(s.syncer)
	}
	adm.RegisterRoutes(v1)
}

func (s *Server) handleHealth(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "ratecard",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLiveness(c *gin.Context) {
	if s.healthy.Load() {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "dead"})
}

func (s *Server) handleReadiness(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": statuses})
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRunCtx = cancel

	if shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger); err != nil {
		s.logger.Warn("tracing init failed", "error", err)
	} else {
		s.stopTracing = shutdown
	}

	go s.hub.Run(runCtx)
	go s.rollover.Start(runCtx)
	s.watcher.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.httpSrv.Addr, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// mark ready once the listener has had a moment to bind
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		s.healthy.Store(false)
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
		return s.Shutdown()
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains connections and stops background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// let load balancers observe the readiness flip before draining
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err)
	}

	s.rollover.Stop()
	s.watcher.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("closing database", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub exposes the realtime hub for tests.
func (s *Server) Hub() *realtime.Hub {
	return s.hub
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// maskDSN hides credentials when logging a connection string.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "(invalid DSN)"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
