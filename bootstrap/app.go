// Package bootstrap wires the detection pipeline, the response
// orchestrator, and their supporting services together from configuration,
// and owns the process lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"icarus/api"
	"icarus/config"
	"icarus/core"
	"icarus/detect"
	"icarus/honeynet"
	"icarus/ml"
	"icarus/notify"
	"icarus/response"
	"icarus/seal"
	"icarus/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds every wired component of the service
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Thresholds   *ml.ThresholdManager
	Learning     *ml.LearningLoop
	Firewall     *detect.Firewall
	Normalizer   *detect.Normalizer
	Hub          *notify.Hub
	Honeypots    *honeynet.Manager
	Sealer       *seal.Sealer
	Archive      *storage.Archive
	Orchestrator *response.Orchestrator
	APIServer    *api.Server

	redisClient *redis.Client
	ctx         context.Context
	cancel      context.CancelFunc
	shutdownCh  chan struct{}
	shutdownOne sync.Once
	serviceWg   sync.WaitGroup
}

// NewApp loads configuration and builds every component. Nothing starts
// serving until Start.
func NewApp(ctx context.Context, configFile string) (*App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	logger, sugar, err := InitLogger(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:     cfg,
		Logger:     logger,
		Sugar:      sugar,
		shutdownCh: make(chan struct{}),
	}
	app.ctx, app.cancel = context.WithCancel(ctx)

	sugar.Infow("Starting up",
		"mode", cfg.Firewall.Mode,
		"adaptive_thresholds", cfg.Thresholds.Adaptive)

	if err := app.buildPipeline(); err != nil {
		return nil, err
	}
	if err := app.buildResponse(); err != nil {
		return nil, err
	}
	app.buildAPI()

	return app, nil
}

// buildPipeline assembles the packet path: thresholds, oracle, firewall,
// deduplication, and the threat normalizer
func (a *App) buildPipeline() error {
	cfg := a.Config

	thresholds, err := ml.NewThresholdManager(ml.ThresholdConfig{
		Base:    cfg.Thresholds.Base,
		MaxStep: cfg.Thresholds.MaxStep,
	}, a.Sugar)
	if err != nil {
		return fmt.Errorf("building threshold manager: %w", err)
	}
	a.Thresholds = thresholds

	oracle := ml.NewBudgetedOracle(
		ml.NewLogisticOracle(ml.FeatureDimension),
		cfg.Firewall.ScoringBudget)

	a.Hub = notify.NewHub(a.ctx, a.Sugar)

	firewall, err := detect.NewFirewall(a.ctx, detect.FirewallConfig{
		Engine: detect.EngineConfig{
			Mode:     detect.Mode(cfg.Firewall.Mode),
			Adaptive: cfg.Thresholds.Adaptive,
		},
		Extractor:  ml.DefaultExtractorConfig(),
		BufferSize: cfg.Firewall.BufferSize,
		Workers:    cfg.Firewall.Workers,
		QueueSize:  cfg.Firewall.QueueSize,
	}, oracle, thresholds, a.Hub, a.Sugar)
	if err != nil {
		return fmt.Errorf("building firewall: %w", err)
	}
	a.Firewall = firewall

	if cfg.Thresholds.Adaptive {
		a.Learning = ml.NewLearningLoop(thresholds, firewall.State(),
			firewall.StatsAggregator(), cfg.Thresholds.LearningInterval, a.Sugar)
	}

	var dedup *detect.Deduplicator
	if cfg.Redis.Enabled {
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redisClient.Ping(a.ctx).Err(); err != nil {
			// Dedup degrades open on redis failures, so a dead redis at
			// startup is a warning, not a fatal error
			a.Sugar.Warnw("Redis unreachable, deduplication will pass detections through",
				"addr", cfg.Redis.Addr,
				"error", err)
		}
		dedup = detect.NewDeduplicator(a.redisClient, cfg.Redis.DedupTTL, a.Sugar)
	}
	a.Normalizer = detect.NewNormalizer(dedup, a.Sugar)
	return nil
}

// buildResponse assembles the response side: honeynet, archive with its
// sealing key, policy, action registry, and the orchestrator
func (a *App) buildResponse() error {
	cfg := a.Config

	if cfg.Honeynet.Enabled {
		a.Honeypots = honeynet.NewManager(honeynet.Config{
			MaxEnvironments: cfg.Honeynet.MaxEnvironments,
			SessionTTL:      cfg.Honeynet.SessionTTL,
		}, a.Sugar)
	}

	var archiver response.Archiver
	if cfg.Archive.Enabled {
		sealer, err := seal.LoadSealer(cfg.Archive.KeyPath)
		if err != nil {
			return fmt.Errorf("loading sealing key: %w", err)
		}
		a.Sealer = sealer

		archive, err := storage.NewArchive(cfg.Archive.Path, sealer, a.Sugar)
		if err != nil {
			return fmt.Errorf("opening plan archive: %w", err)
		}
		a.Archive = archive
		archiver = archive
	}

	policy := response.DefaultPolicy()
	if cfg.Response.PolicyOverlay != "" {
		if err := policy.LoadOverlay(cfg.Response.PolicyOverlay); err != nil {
			return fmt.Errorf("loading policy overlay: %w", err)
		}
		a.Sugar.Infow("Loaded policy overlay", "path", cfg.Response.PolicyOverlay)
	}

	// The registry's redirect action binds environments back to the
	// orchestrator built right below; the closure defers the dereference
	// until execution time.
	bind := func(envID string, plan *core.ResponsePlan) {
		a.Orchestrator.BindEnvironment(envID, plan)
	}
	registry := response.DefaultRegistry(a.Hub, a.Honeypots, bind, a.requestShutdown, a.Sugar)

	a.Orchestrator = response.NewOrchestrator(response.OrchestratorConfig{
		MaxLivePlans: cfg.Response.MaxLivePlans,
		GracePeriod:  cfg.Response.GracePeriod,
	}, policy, registry, a.Hub, archiver, a.Sugar)
	return nil
}

func (a *App) buildAPI() {
	cfg := a.Config

	var auditor api.PlanAuditor
	if a.Archive != nil {
		auditor = a.Archive
	}

	a.APIServer = api.NewServer(api.ServerConfig{
		Host:      cfg.API.Host,
		Port:      cfg.API.Port,
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
	}, a.Firewall, a.Normalizer, a.Orchestrator, a.Honeypots, auditor, a.Hub, a.Sugar)

	if cfg.Thresholds.Adaptive {
		a.APIServer.EnableLearningFeedback(a.Thresholds, a.Learning)
	}
}

// Start brings every component to Operational and begins serving
func (a *App) Start() error {
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		a.Hub.Start()
	}()

	a.Firewall.Start()
	a.Orchestrator.Start()

	if a.Honeypots != nil {
		a.Honeypots.Start()

		a.serviceWg.Add(1)
		go func() {
			defer a.serviceWg.Done()
			a.Orchestrator.ConsumeTelemetry(a.ctx, a.Honeypots.Telemetry())
		}()

		a.serviceWg.Add(1)
		go a.runTicker(a.Config.Honeynet.SessionTTL/4, func() {
			if reaped := a.Honeypots.ReapIdle(); reaped > 0 {
				a.Sugar.Infow("Reaped idle honeypot environments", "count", reaped)
			}
		})
	}

	a.serviceWg.Add(1)
	go a.runTicker(time.Minute, func() {
		if purged := a.Orchestrator.PurgeExpired(); purged > 0 {
			a.Sugar.Debugw("Purged expired plans", "count", purged)
		}
	})

	if a.Learning != nil {
		a.serviceWg.Add(1)
		go func() {
			defer a.serviceWg.Done()
			a.Learning.Run(a.ctx)
		}()
	}

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		if err := a.APIServer.Start(); err != nil {
			a.Sugar.Errorw("API server failed", "error", err)
			a.requestShutdown()
		}
	}()

	a.Sugar.Info("All services started")
	return nil
}

// runTicker invokes fn on the interval until the app context is cancelled
func (a *App) runTicker(interval time.Duration, fn func()) {
	defer a.serviceWg.Done()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// requestShutdown asks the process to exit; the emergency_shutdown action
// and fatal service errors both land here
func (a *App) requestShutdown() {
	a.shutdownOne.Do(func() { close(a.shutdownCh) })
}

// WaitForShutdown blocks until an OS signal or an internal shutdown request
func (a *App) WaitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		a.Sugar.Infow("Received shutdown signal", "signal", s.String())
	case <-a.shutdownCh:
		a.Sugar.Warn("Internal shutdown requested")
	}
}

// Shutdown stops every component in reverse dependency order
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down")

	// New requests first
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.APIServer.Shutdown(ctx); err != nil {
		a.Sugar.Errorw("API server shutdown failed", "error", err)
	}

	// Then the pipeline and the response side
	a.Firewall.Stop()
	a.Orchestrator.Stop()
	if a.Honeypots != nil {
		a.Honeypots.Stop()
	}

	// Background loops watch the app context
	a.cancel()
	a.Hub.Stop()

	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		a.Sugar.Warn("Timed out waiting for service goroutines")
	}

	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			a.Sugar.Errorw("Archive close failed", "error", err)
		}
	}
	if a.redisClient != nil {
		a.redisClient.Close()
	}

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}
