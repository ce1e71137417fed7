// Package app wires the service graph together: configuration in,
// a ready-to-serve dependency set out.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/auth"
	"github.com/opswatch/llm-orchestrator/config"
	"github.com/opswatch/llm-orchestrator/handlers"
	"github.com/opswatch/llm-orchestrator/middleware"
	"github.com/opswatch/llm-orchestrator/models"
	"github.com/opswatch/llm-orchestrator/repositories/postgres"
	"github.com/opswatch/llm-orchestrator/services/diagnostics"
	"github.com/opswatch/llm-orchestrator/services/fallback"
	"github.com/opswatch/llm-orchestrator/services/health"
	"github.com/opswatch/llm-orchestrator/services/ledger"
	"github.com/opswatch/llm-orchestrator/services/providers"
	"github.com/opswatch/llm-orchestrator/services/providers/anthropic"
	"github.com/opswatch/llm-orchestrator/services/providers/openai"
	"github.com/opswatch/llm-orchestrator/services/providers/stub"
	"github.com/opswatch/llm-orchestrator/services/ratelimit"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil when persistence is disabled
	Logger *zap.Logger

	// Services
	Registry     *providers.Registry
	RateLimiter  *ratelimit.Service
	Monitor      *health.Monitor
	Ledger       *ledger.Service // nil when persistence is disabled
	Orchestrator *fallback.Service
	Diagnostics  *diagnostics.Service

	// HTTP surface
	GenerateHandler    *handlers.GenerateHandler
	DiagnosticsHandler *handlers.DiagnosticsHandler
	HealthHandler      *handlers.HealthHandler
	AuthMiddleware     *middleware.AuthMiddleware // nil when admin auth is disabled

	cancelCleanup context.CancelFunc
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	specs, err := config.LoadProviders(cfg.Providers.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider specs: %w", err)
	}

	if err := deps.initServices(specs); err != nil {
		return nil, err
	}

	if err := deps.initLedger(ctx); err != nil {
		return nil, err
	}

	deps.initOrchestration()
	deps.initHTTP()

	logger.Info("all dependencies initialized",
		zap.Int("providers", deps.Registry.Len()),
		zap.Bool("persistence", deps.Ledger != nil),
		zap.Bool("admin_auth", deps.AuthMiddleware != nil))
	return deps, nil
}

// initServices builds the registry, rate limiter and health monitor
func (d *Dependencies) initServices(specs []models.ProviderSpec) error {
	d.Registry = providers.NewRegistry()
	entries, err := buildProviders(specs)
	if err != nil {
		return err
	}
	if err := d.Registry.Load(entries); err != nil {
		return fmt.Errorf("failed to load provider registry: %w", err)
	}

	d.RateLimiter = ratelimit.NewService(d.Logger)
	d.RateLimiter.Configure(specs)

	healthCfg := health.DefaultConfig()
	if hc := d.Config.Health; hc.MaxSamples > 0 {
		healthCfg.MaxSamples = hc.MaxSamples
		healthCfg.SoftLatencyCeilingMs = hc.SoftLatencyCeilingMs
		healthCfg.HardLatencyCeilingMs = hc.HardLatencyCeilingMs
		healthCfg.DegradedErrorRate = hc.DegradedErrorRate
		healthCfg.UnhealthyErrorRate = hc.UnhealthyErrorRate
	}
	d.Monitor = health.NewMonitor(healthCfg, d.Logger)

	// Window counters grow until pruned; a background sweep keeps them flat
	cleanupCtx, cancel := context.WithCancel(context.Background())
	d.cancelCleanup = cancel
	go d.RateLimiter.StartCleanupWorker(cleanupCtx, 5*time.Minute)

	return nil
}

// initLedger connects the usage ledger when DATABASE_URL is set
func (d *Dependencies) initLedger(ctx context.Context) error {
	if !d.Config.Database.Enabled() {
		d.Logger.Info("persistence disabled, usage ledger will not be recorded")
		return nil
	}

	db, err := postgres.NewDB(d.Config.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	d.DB = db

	txManager := postgres.NewTransactionManager(db, d.Logger)
	repo := postgres.NewLedgerRepository(db, txManager, d.Logger)
	if err := repo.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	ledgerCfg := ledger.DefaultConfig()
	if lc := d.Config.Ledger; lc.WorkerCount > 0 {
		ledgerCfg.BufferSize = lc.BufferSize
		ledgerCfg.WorkerCount = lc.WorkerCount
		ledgerCfg.Retention = lc.Retention
		ledgerCfg.CleanupInterval = lc.CleanupInterval
	}
	d.Ledger = ledger.NewService(repo, ledgerCfg, d.Logger)
	if err := d.Ledger.Start(); err != nil {
		return fmt.Errorf("failed to start ledger: %w", err)
	}

	d.Logger.Info("usage ledger started",
		zap.String("connection", d.Config.Database.LogString()))
	return nil
}

// initOrchestration builds the fallback orchestrator and diagnostics
func (d *Dependencies) initOrchestration() {
	var sink fallback.Sink
	if d.Ledger != nil {
		sink = d.Ledger
	}

	d.Orchestrator = fallback.NewService(
		d.Registry,
		d.RateLimiter,
		d.Monitor,
		sink,
		fallback.Config{
			Budget:       d.Config.Fallback.Budget,
			EventLogSize: d.Config.Fallback.EventLogSize,
		},
		d.Logger,
	)

	d.Diagnostics = diagnostics.NewService(
		d.Registry,
		d.RateLimiter,
		d.Monitor,
		d.Orchestrator,
		d.Ledger,
	)
}

// initHTTP builds handlers and the admin auth middleware
func (d *Dependencies) initHTTP() {
	d.GenerateHandler = handlers.NewGenerateHandler(d.Orchestrator, d.Logger)
	d.DiagnosticsHandler = handlers.NewDiagnosticsHandler(d.Diagnostics, d.Registry, d.Ledger, d.Logger)

	var pinger handlers.Pinger
	if d.DB != nil {
		pinger = d.DB
	}
	d.HealthHandler = handlers.NewHealthHandler(d.Registry, pinger, d.Logger)

	if d.Config.Auth.Enabled() {
		validator := auth.NewValidator(d.Config.Auth.TokenSecret)
		d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	} else {
		d.Logger.Warn("ADMIN_TOKEN_SECRET not set, admin endpoints are open")
	}
}

// Reload applies freshly loaded provider specs to the registry and rate
// limiter. Called by the config watcher; a failure leaves the previous
// specs in effect.
func (d *Dependencies) Reload(specs []models.ProviderSpec) error {
	entries, err := buildProviders(specs)
	if err != nil {
		return err
	}
	if err := d.Registry.Load(entries); err != nil {
		return err
	}
	d.RateLimiter.Configure(specs)
	d.Logger.Info("provider specs reloaded", zap.Int("providers", len(specs)))
	return nil
}

// buildProviders constructs one adapter per spec
func buildProviders(specs []models.ProviderSpec) ([]providers.Registered, error) {
	entries := make([]providers.Registered, 0, len(specs))
	for _, spec := range specs {
		var (
			provider providers.Provider
			err      error
		)
		switch spec.Kind {
		case models.ProviderKindOpenAI:
			provider, err = openai.New(spec)
		case models.ProviderKindAnthropic:
			provider, err = anthropic.New(spec)
		case models.ProviderKindStub:
			provider = stub.New(spec)
		default:
			err = fmt.Errorf("unknown provider kind %q", spec.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", spec.Name, err)
		}
		entries = append(entries, providers.Registered{Spec: spec, Provider: provider})
	}
	return entries, nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.cancelCleanup != nil {
		d.cancelCleanup()
	}

	if d.Ledger != nil {
		if err := d.Ledger.Stop(10 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop ledger: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
