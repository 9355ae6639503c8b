package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-incident/internal/api"
	"github.com/miradorstack/mirador-incident/internal/approval"
	"github.com/miradorstack/mirador-incident/internal/breaker"
	"github.com/miradorstack/mirador-incident/internal/cache"
	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/db"
	"github.com/miradorstack/mirador-incident/internal/investigation"
	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/notify"
	"github.com/miradorstack/mirador-incident/internal/orchestrator"
	"github.com/miradorstack/mirador-incident/internal/reasoner"
	"github.com/miradorstack/mirador-incident/internal/remediation"
	"github.com/miradorstack/mirador-incident/internal/services"
	"github.com/miradorstack/mirador-incident/internal/store"
	"github.com/miradorstack/mirador-incident/internal/tools"
	"github.com/miradorstack/mirador-incident/internal/triage"
	"github.com/miradorstack/mirador-incident/internal/utils"
	"github.com/miradorstack/mirador-incident/internal/verification"
	"github.com/miradorstack/mirador-incident/internal/workflow"
)

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC server, workflow workers and sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	return cmd
}

// resources holds everything serve opened and must release, closed in reverse order.
type resources struct {
	closers []func()
}

func (r *resources) onClose(fn func()) { r.closers = append(r.closers, fn) }

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := utils.NewLoggerWithSink(cfg.Logging.Level, cfg.Logging.JSON, utils.FileSink{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	slog.SetDefault(logger)
	logger.Info("starting incident engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := &resources{}
	defer rt.close()

	incidents, approvals, err := openStores(ctx, cfg, rt)
	if err != nil {
		return err
	}

	redisClient := openRedis(ctx, cfg, logger, rt)
	var cacheProvider cache.Provider = cache.NoopProvider{}
	if redisClient != nil && cfg.Cache.Enabled {
		cacheProvider = cache.NewRedisProvider(redisClient, false)
	}
	var breakerStore breaker.Store = breaker.NewMemoryStore()
	if cfg.Breaker.Backend == "redis" {
		if redisClient == nil {
			return fmt.Errorf("breaker backend redis: cache.addr unreachable")
		}
		breakerStore = breaker.NewRedisStore(redisClient, cfg.Breaker.KeyPrefix, 24*time.Hour)
	}
	overrides := make(map[string]breaker.Settings, len(cfg.Breaker.Dependencies))
	for name, s := range cfg.Breaker.Dependencies {
		overrides[name] = breaker.Settings{Threshold: s.Threshold, OpenDuration: s.OpenDuration}
	}
	cb := breaker.New(breakerStore, breaker.Settings{
		Threshold:    cfg.Breaker.Defaults.Threshold,
		OpenDuration: cfg.Breaker.Defaults.OpenDuration,
	}, logger, breaker.WithOverrides(overrides))

	provider := tools.NewHTTPProvider(cfg.Tools.BaseURL, cfg.Tools.MetricsPath, cfg.Tools.LogsPath,
		cfg.Tools.Timeout, cfg.Tools.DefaultWindow, cacheProvider, cfg.Cache.ToolResultTTL, logger)
	gateway := tools.NewGateway(provider, cb, nil, cfg.Tools.DefaultWindow, logger)
	verifyGateway := tools.NewGateway(provider, cb, nil, cfg.Verification.Window, logger)

	var rsn reasoner.Reasoner
	if cfg.Reasoner.Endpoint != "" {
		rsn = reasoner.NewClient(reasoner.Config{
			Endpoint:    cfg.Reasoner.Endpoint,
			APIKey:      cfg.Reasoner.APIKey,
			Model:       cfg.Reasoner.Model,
			Timeout:     cfg.Reasoner.Timeout,
			MaxTokens:   cfg.Reasoner.MaxTokens,
			Temperature: cfg.Reasoner.Temperature,
		}, logger)
	} else {
		logger.Warn("no reasoner endpoint configured; triage, investigation and planning use fallbacks")
	}

	runbooks, err := remediation.NewRuleEngine(cfg.Remediation.RunbookPath, logger)
	if err != nil {
		return fmt.Errorf("load runbooks: %w", err)
	}

	gate := approval.NewGate(approvals, cfg.Approval.TTL, cfg.Approval.RequestedBy, nil, logger)
	registry, err := buildRegistry(cfg, verifyGateway, logger, rt)
	if err != nil {
		return err
	}

	dispatcher, err := buildDispatcher(cfg, logger, rt)
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:        incidents,
		Triage:       triage.NewAgent(rsn, cfg.Triage.EscalateCritical, logger),
		Investigator: investigation.NewEngine(rsn, gateway, cfg.Investigation.MaxIterations, cfg.Investigation.MaxDuration, logger),
		Planner:      remediation.NewPlanner(rsn, runbooks, logger),
		Gate:         gate,
		Executor:     remediation.NewExecutor(registry, gate, nil, logger),
		Verifier:     verification.NewVerifier(verifyGateway, cfg.Verification.ErrorReductionPercent, nil, logger),
		Escalator:    notify.NewEscalator(dispatcher, nil, logger),
		Notifier:     dispatcher,
	}, orchestrator.Options{MonitorWindow: cfg.Orchestrator.MonitorWindow, Logger: logger})

	local := workflow.NewLocalTrigger(orch.HandleJob, cfg.Workflow.Workers, cfg.Workflow.QueueSize, logger)
	orch.SetTrigger(local)
	if cfg.Workflow.Backend == "nats" {
		nt, err := workflow.NewNATSTrigger(cfg.Workflow.NATSURL, cfg.Workflow.Subject, cfg.Workflow.Queue, logger)
		if err != nil {
			return err
		}
		rt.onClose(nt.Close)
		if _, err := nt.Consume(ctx, local); err != nil {
			return err
		}
		orch.SetTrigger(nt)
	}

	server, err := api.NewServer(cfg.Server, services.NewIncidentService(logger, orch))
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return local.Run(gctx) })
	g.Go(func() error { return orch.RunSweeper(gctx, cfg.Orchestrator.SweepInterval) })
	if cfg.Remediation.WatchRunbooks {
		watcher, err := remediation.NewRunbookWatcher(runbooks, logger)
		if err != nil {
			logger.Warn("runbook watcher unavailable", slog.Any("error", err))
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}
	if cfg.Server.MetricsAddress != "" {
		metricsServer := newMetricsServer(cfg.Server.MetricsAddress)
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		if err := server.Start(); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
		defer cancel()
		server.Shutdown(shutdownCtx)
		return nil
	})

	err = g.Wait()
	logger.Info("incident engine stopped")
	return err
}

func openStores(ctx context.Context, cfg *config.Config, rt *resources) (store.Store, approval.Store, error) {
	if cfg.Storage.Driver == "memory" {
		return store.NewMemoryStore(), approval.NewMemoryStore(), nil
	}
	conn, err := db.Open(ctx, cfg.Storage.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	rt.onClose(func() { closeDB(conn) })
	return store.NewSQLiteStore(conn), approval.NewSQLiteStore(conn), nil
}

func closeDB(conn *sqlx.DB) {
	if err := conn.Close(); err != nil {
		slog.Warn("close storage", slog.Any("error", err))
	}
}

// openRedis returns nil when Redis is not configured or unreachable; callers degrade to in-memory state.
func openRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger, rt *resources) *redis.Client {
	if cfg.Cache.Addr == "" || (!cfg.Cache.Enabled && cfg.Breaker.Backend != "redis") {
		return nil
	}
	client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		Addr:         cfg.Cache.Addr,
		Username:     cfg.Cache.Username,
		Password:     cfg.Cache.Password,
		DB:           cfg.Cache.DB,
		DialTimeout:  cfg.Cache.DialTimeout,
		ReadTimeout:  cfg.Cache.ReadTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
		MaxRetries:   cfg.Cache.MaxRetries,
		TLS:          cfg.Cache.TLS,
	})
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
		return nil
	}
	rt.onClose(func() { _ = client.Close() })
	return client
}

func buildRegistry(cfg *config.Config, probe remediation.HealthProbe, logger *slog.Logger, rt *resources) (*remediation.Registry, error) {
	runners := []remediation.Runner{remediation.NewDiagnosticsRunner(probe, logger)}
	if cfg.Remediation.Docker.Enabled {
		docker, dockerClient, err := remediation.NewDockerRunner(cfg.Remediation.Docker.Host, cfg.Remediation.Docker.StopTimeout)
		if err != nil {
			return nil, fmt.Errorf("docker runner: %w", err)
		}
		rt.onClose(func() { _ = dockerClient.Close() })
		runners = append(runners, docker)
	}
	if cfg.Remediation.Webhook.URL != "" {
		runners = append(runners, remediation.NewWebhookRunner(cfg.Remediation.Webhook.URL, cfg.Remediation.Webhook.Token, cfg.Remediation.Webhook.Timeout))
	}
	if cfg.Remediation.DryRun {
		logger.Info("remediation running in dry-run mode")
	}
	return remediation.NewRegistry(cfg.Remediation.DryRun, runners...), nil
}

func buildDispatcher(cfg *config.Config, logger *slog.Logger, rt *resources) (*notify.Dispatcher, error) {
	fallback := notify.LogNotifier{Logger: logger}
	if cfg.Notify.Backend != "nats" {
		return notify.NewDispatcher(fallback, nil, 0, logger), nil
	}
	nn, err := notify.NewNATSNotifier(cfg.Notify.NATSURL, cfg.Notify.SubjectPrefix)
	if err != nil {
		return nil, fmt.Errorf("nats notifier: %w", err)
	}
	rt.onClose(nn.Close)
	routes := map[string]notify.Notifier{}
	for _, channel := range []string{notify.ChannelBroadcast, notify.ChannelEmail, notify.ChannelChat, notify.ChannelPager, notify.ChannelApprovals} {
		routes[channel] = nn
	}
	return notify.NewDispatcher(fallback, routes, 0, logger), nil
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}
