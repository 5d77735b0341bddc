package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/clusterlens/clusterlens/internal/adapters/outbound/k8s"
	"github.com/clusterlens/clusterlens/internal/auth"
	"github.com/clusterlens/clusterlens/internal/config"
	"github.com/clusterlens/clusterlens/internal/httpserver"
	"github.com/clusterlens/clusterlens/internal/infra/cronparser"
	"github.com/clusterlens/clusterlens/internal/infra/pinger"
	"github.com/clusterlens/clusterlens/internal/infra/shutdown"
	"github.com/clusterlens/clusterlens/internal/logic/broadcast"
	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

// App owns the wiring of the mirror pipeline: control-plane adapter ->
// coordinator -> processor -> store -> broadcast, plus the HTTP and
// metrics servers around it.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	signals <-chan os.Signal

	adapter     *k8s.Adapter
	store       *mirror.Store
	coordinator *mirror.Coordinator
	validator   auth.Validator
	pingers     *pinger.Service
}

// New creates an application instance with all control-plane clients
// wired. No network round-trips happen here.
func New(logger *slog.Logger, cfg *config.Config, signals <-chan os.Signal) (*App, error) {
	kubeConfig, err := buildKubeConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build k8s config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(kubeConfig)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}

	metricsClientset, err := metricsv.NewForConfig(kubeConfig)
	if err != nil {
		return nil, fmt.Errorf("create metrics clientset: %w", err)
	}

	adapter := k8s.New(logger, clientset, metricsClientset, cfg.ClusterName)
	store := mirror.NewStore()

	backoff := mirror.DefaultBackoff()
	backoff.InitialDelay = cfg.BackoffInitial
	backoff.MaxDelay = cfg.BackoffMax

	coordinator := mirror.NewCoordinator(
		logger,
		adapter,
		backoff,
		cronparser.New(),
		cfg.ResyncSchedule,
		cfg.ResyncTZ,
	)

	var validator auth.Validator = auth.AllowAll{}
	if cfg.AuthToken != "" {
		validator = auth.StaticToken{Token: cfg.AuthToken}
	}

	return &App{
		cfg:         cfg,
		logger:      logger,
		signals:     signals,
		adapter:     adapter,
		store:       store,
		coordinator: coordinator,
		validator:   validator,
		pingers:     pinger.New(logger, cfg.PingerInterval),
	}, nil
}

// Run starts every component, blocks until a termination signal, and
// then shuts the components down in reverse order. A bootstrap failure
// (control plane unreachable) aborts startup and is returned to the
// caller.
func (a *App) Run(originCtx context.Context) error {
	ctx, cancel := context.WithCancel(originCtx)
	defer cancel()

	handler := shutdown.New(a.logger, shutdown.Signals{C: a.signals})
	go handler.HandleSignals(ctx, cancel)

	cluster := a.adapter.ClusterInfoQuery(ctx)
	a.logger.InfoContext(ctx, "mirroring cluster", "name", cluster.Name, "version", cluster.Version)

	broadcaster := broadcast.NewManager(
		a.logger,
		a.validator,
		a.store,
		cluster,
		broadcast.Config{
			PingInterval:    a.cfg.PingInterval,
			PongTimeout:     a.cfg.PongTimeout,
			MetricsInterval: a.cfg.MetricsInterval,
		},
	)

	processor := mirror.NewProcessor(a.logger, a.adapter, a.store, a.coordinator, broadcaster)

	httpServer := httpserver.New(
		a.logger,
		a.cfg.HTTPPort,
		a.store,
		processor,
		a.pingers,
		broadcaster,
		a.adapter,
		a.coordinator,
	)

	metricsServer := httpserver.NewMetricsServer(a.logger, a.cfg.MetricsPort)

	// Reverse of this order on shutdown: http server first so no new
	// subscribers arrive, then broadcast, then the processor with its
	// coordinator.
	shutdowners := []shutdown.Shutdowner{
		metricsServer,
		a.pingers,
		processor,
		broadcaster,
		httpServer,
	}

	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	if err := broadcaster.Start(ctx); err != nil {
		return fmt.Errorf("start broadcast manager: %w", err)
	}

	if err := processor.Start(ctx); err != nil {
		shutdownErr := shutdown.GracefulShutdown(ctx, a.logger, shutdowners)
		if shutdownErr != nil {
			a.logger.ErrorContext(ctx, "shutdown after failed start", "reason", shutdownErr)
		}

		return fmt.Errorf("start event processor: %w", err)
	}

	if err := httpServer.Start(ctx); err != nil {
		shutdownErr := shutdown.GracefulShutdown(ctx, a.logger, shutdowners)
		if shutdownErr != nil {
			a.logger.ErrorContext(ctx, "shutdown after failed start", "reason", shutdownErr)
		}

		return fmt.Errorf("start http server: %w", err)
	}

	for _, p := range []pinger.Pinger{processor, broadcaster, httpServer, metricsServer} {
		if err := a.pingers.Register(p); err != nil {
			return fmt.Errorf("register pinger: %w", err)
		}
	}

	if err := a.pingers.Start(ctx); err != nil {
		return fmt.Errorf("start pinger service: %w", err)
	}

	a.logger.InfoContext(ctx, "clusterlens running",
		"httpPort", a.cfg.HTTPPort,
		"metricsPort", a.cfg.MetricsPort,
	)

	<-ctx.Done()

	return shutdown.GracefulShutdown(ctx, a.logger, shutdowners)
}

// buildKubeConfig resolves the rest config: an explicit kube context
// (from the cluster config file) wins, then master/kubeconfig flags
// with in-cluster fallback.
func buildKubeConfig(cfg *config.Config) (*rest.Config, error) {
	if cfg.KubeContext != "" {
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: cfg.KubeConfig},
			&clientcmd.ConfigOverrides{CurrentContext: cfg.KubeContext},
		).ClientConfig()
	}

	return clientcmd.BuildConfigFromFlags(cfg.KubeMaster, cfg.KubeConfig)
}
