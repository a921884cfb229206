package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/bus"
	"github.com/tsarna/playground/pkg/playground/config"
	"github.com/tsarna/playground/pkg/playground/fixturestate"
	"github.com/tsarna/playground/pkg/playground/fixturetree"
	"github.com/tsarna/playground/pkg/playground/o11y"
	"github.com/tsarna/playground/pkg/playground/otel"
	"github.com/tsarna/playground/pkg/playground/router"
	"github.com/tsarna/playground/pkg/playground/socket"
	"go.uber.org/zap"
)

// session is one dev server connection with the router and the state
// consumers wired to it.
type session struct {
	cfg     *config.Config
	logger  *zap.Logger
	client  *socket.Client
	bus     bus.Bus
	router  *router.Router
	nav     *fixturetree.Nav
	tracker *fixturestate.Tracker

	readyOnce sync.Once
	readyC    chan struct{}
}

// runSession loads the config, connects to the dev server and calls fn
// until it returns or the process is interrupted.
func runSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	logger, level, err := setupLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, diags := config.NewConfig().
		WithLogger(logger).
		WithEnvFiles(defaultIfExists(envFiles, defaultEnvFile)...).
		WithSources(stringSliceToAnySlice(defaultIfExists(configPaths, defaultConfigFile))...).
		Build()
	if diags.HasErrors() {
		logger.Error("Failed to build config", zap.Any("diags", diags))
		return diags
	}
	if logLevel == "" && !debug && !verbose {
		level.SetLevel(parseLevel(cfg.LogLevel))
	}
	if serverURL != "" {
		cfg.DevServer.URL = serverURL
	}

	s, err := newSession(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.start(ctx); err != nil {
		return err
	}
	defer s.close()

	return fn(ctx, s)
}

func newSession(cfg *config.Config, logger *zap.Logger) (*session, error) {
	s := &session{
		cfg:     cfg,
		logger:  logger,
		nav:     fixturetree.NewNav(cfg.FixturesDir, cfg.FixtureFileSuffix, logger.Named("nav")),
		tracker: fixturestate.NewTracker(logger.Named("state")),
		readyC:  make(chan struct{}),
	}

	var obs *o11y.Config
	if withOtel {
		obs = otel.NewProvider(serviceName, serviceVersion).Config(serviceName, serviceVersion)
	}

	clientBuilder := cfg.NewClient().
		WithLogger(logger.Named("socket")).
		WithMonitor(s)
	if obs != nil {
		clientBuilder.WithMetrics(obs.MetricsProvider)
	}

	client, err := clientBuilder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create dev server client: %w", err)
	}
	s.client = client
	s.bus = bus.NewBus().
		WithLogger(logger.Named("bus")).
		WithName("plugins").
		WithObservability(obs).
		Build()

	s.router, err = router.NewRouter().
		WithTransport(client).
		WithCore(cfg.Core()).
		WithBus(s.bus).
		WithLogger(logger.Named("router")).
		OnRendererResponse(s.nav.HandleRendererResponse).
		OnRendererResponse(s.tracker.HandleRendererResponse).
		OnRendererResponse(router.PublishRendererResponse).
		OnServerMessage(router.PublishServerMessage).
		WithObservability(obs).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	return s, nil
}

// start runs the bus and connects. The bus only takes subscriptions once
// it is running, and must be ready before the first renderer can answer.
func (s *session) start(ctx context.Context) error {
	if err := s.bus.Start(); err != nil {
		return err
	}
	err := s.bus.Subscribe(ctx, bus.SubscriberFunc(s.onRendererReady),
		bus.RendererTopic(playground.ResponseRendererReady))
	if err != nil {
		s.bus.Stop()
		return err
	}
	if !s.cfg.DevServer.Enabled {
		s.logger.Warn("Dev server is disabled in the config, nothing will be sent")
	}
	return s.client.Connect(ctx)
}

func (s *session) close() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("Error closing dev server connection", zap.Error(err))
	}
	if err := s.bus.Stop(); err != nil {
		s.logger.Warn("Error stopping bus", zap.Error(err))
	}
}

// OnConnect asks renderers to announce themselves on every new connection.
func (s *session) OnConnect(ctx context.Context, epoch string) {
	s.router.PostRendererRequest(ctx, playground.PingRenderersRequest())
}

func (s *session) OnDisconnect(ctx context.Context, epoch string, err error) {
	for _, id := range s.nav.RendererIDs() {
		s.tracker.Forget(id)
	}
	s.nav.Reset()
}

func (s *session) onRendererReady(ctx context.Context, topic string, message any, fields map[string]string) error {
	s.readyOnce.Do(func() { close(s.readyC) })
	return nil
}

// waitForRenderer blocks until at least one renderer has announced itself.
func (s *session) waitForRenderer(ctx context.Context) error {
	select {
	case <-s.readyC:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no renderer connected: %w", ctx.Err())
	}
}

// flush waits until requests posted so far have been written.
func (s *session) flush(ctx context.Context) error {
	if err := s.client.Flush(ctx); err != nil {
		return fmt.Errorf("requests may not have been delivered: %w", err)
	}
	return nil
}
