package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/chainguard/internal/core/config"
	"github.com/vietddude/chainguard/internal/core/domain"
	"github.com/vietddude/chainguard/internal/core/worker"
	"github.com/vietddude/chainguard/internal/errorlog"
	"github.com/vietddude/chainguard/internal/health"
	"github.com/vietddude/chainguard/internal/infra/rpc/provider"
	"github.com/vietddude/chainguard/internal/infra/ws"
	"github.com/vietddude/chainguard/internal/monitor"
	"github.com/vietddude/chainguard/internal/realtime"
)

const healthCacheWindow = 5 * time.Second

// Guard is the main application struct that manages the component lifecycle.
type Guard struct {
	cfg          *config.AppConfig
	errors       *errorlog.Logger
	closeStore   func() error
	channel      *realtime.Manager
	rpcMonitor   *monitor.Monitor
	providers    []provider.Provider
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	policies     config.RetryPolicies
	log          *slog.Logger
}

// NewGuard creates a new Guard instance with all dependencies initialized.
func NewGuard(ctx context.Context, cfg *config.AppConfig) (*Guard, error) {
	log := slog.Default()

	// 1. Error log
	errLogger, closeStore, err := OpenErrorLogger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	g := &Guard{
		cfg:        cfg,
		errors:     errLogger,
		closeStore: closeStore,
		policies:   cfg.Retry.Policies(),
		log:        log,
	}

	if cfg.ErrorLog.Retention > 0 {
		g.pruner = worker.NewPruner(cfg.ErrorLog.Retention, errLogger, log)
	}

	// 2. RPC providers and monitor
	for _, pc := range cfg.RPC.Providers {
		p, err := newProvider(pc)
		if err != nil {
			g.closeProviders()
			_ = closeStore()
			return nil, err
		}
		g.providers = append(g.providers, p)
	}

	var providerSource health.ProviderSource
	if len(g.providers) > 0 {
		g.rpcMonitor = monitor.New(g.providers,
			monitor.WithInterval(cfg.RPC.Interval),
			monitor.WithBreaker(cfg.Breaker.Threshold, cfg.Breaker.Timeout),
			monitor.WithRetry(cfg.Retry.Blockchain.Options()...),
			monitor.WithReporter(errLogger),
			monitor.WithLogger(log),
		)
		providerSource = g.rpcMonitor
	}

	// 3. Realtime channel
	var channelSource health.ChannelSource
	if cfg.Channel.URL != "" {
		g.channel = newChannel(cfg.Channel, errLogger, log)
		if err := g.subscribe(cfg.Channel.Subscriptions); err != nil {
			g.closeProviders()
			_ = closeStore()
			return nil, err
		}
		channelSource = g.channel
	}

	// 4. Health
	g.healthMon = health.NewMonitor(channelSource, providerSource, errLogger, healthCacheWindow)
	g.healthServer = health.NewServer(g.healthMon, errLogger, cfg.Server.Port)

	return g, nil
}

// ErrorLogger returns the application error logger.
func (g *Guard) ErrorLogger() *errorlog.Logger {
	return g.errors
}

// RetryPolicies returns the configured network, wallet and blockchain
// policies for callers issuing their own requests, such as wallet calls made
// on behalf of the dashboard.
func (g *Guard) RetryPolicies() config.RetryPolicies {
	return g.policies
}

// Channel returns the realtime channel manager, nil when no feed is configured.
func (g *Guard) Channel() *realtime.Manager {
	return g.channel
}

// Handler returns the health server handler.
func (g *Guard) Handler() http.Handler {
	return g.healthServer.Handler()
}

// Start starts every component. It does not block.
func (g *Guard) Start(ctx context.Context) error {
	// Start Health Server
	go func() {
		if err := g.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error("Health server failed", "error", err)
		}
	}()
	g.log.Info("Health server listening", "port", g.cfg.Server.Port)

	if g.rpcMonitor != nil {
		g.log.Info("Starting RPC monitor", "providers", len(g.providers), "interval", g.cfg.RPC.Interval)
		go g.rpcMonitor.Run(ctx)
	}

	if g.pruner != nil {
		g.log.Info("Starting error pruner", "retention", g.cfg.ErrorLog.Retention)
		go g.pruner.Start(ctx)
	}

	if g.channel != nil {
		// A failed first connect is retried in the background.
		if err := g.channel.Connect(ctx); err != nil {
			g.log.Warn("Realtime channel not connected yet", "error", err)
		}
	}

	return nil
}

// Stop stops every component.
func (g *Guard) Stop(ctx context.Context) error {
	g.log.Info("Stopping chainguard...")

	var errs []error
	if g.channel != nil {
		if err := g.channel.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}

	g.closeProviders()

	if err := g.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop health server: %w", err))
	}
	if err := g.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close error store: %w", err))
	}
	return errors.Join(errs...)
}

func (g *Guard) subscribe(subs []config.SubscriptionConfig) error {
	for _, sc := range subs {
		_, err := g.channel.Subscribe(realtime.Subscription{
			Type:    sc.Type,
			Params:  sc.Params,
			Handler: feedHandler(sc.Type, g.channel),
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", sc.Type, err)
		}
	}
	return nil
}

func (g *Guard) closeProviders() {
	for _, p := range g.providers {
		if err := p.Close(); err != nil {
			g.log.Warn("Failed to close provider", "provider", p.Name(), "error", err)
		}
	}
}

func newProvider(pc config.ProviderConfig) (provider.Provider, error) {
	if pc.Type == "grpc" {
		p, err := provider.NewGRPCProvider(pc.Name, pc.URL, pc.Service)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		return p, nil
	}
	return provider.NewHTTPProvider(pc.Name, pc.URL, pc.Timeout), nil
}

func newChannel(cfg config.ChannelConfig, reporter *errorlog.Logger, log *slog.Logger) *realtime.Manager {
	header := make(http.Header)
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	dialer := ws.NewDialer(ws.Config{
		URL:              cfg.URL,
		Header:           header,
		HandshakeTimeout: cfg.ConnectTimeout,
	})

	m := realtime.New(dialer,
		realtime.WithBaseDelay(cfg.BaseDelay),
		realtime.WithMaxReconnectAttempts(cfg.MaxReconnectAttempts),
		realtime.WithConnectTimeout(cfg.ConnectTimeout),
		realtime.WithReporter(reporter),
		realtime.WithLogger(log),
	)

	m.OnStateChange(func(s domain.ConnectionState) {
		log.Debug("Realtime channel state", "state", s)
	})
	m.OnGiveUp(func(attempts int) {
		err := fmt.Errorf("realtime channel gave up after %d reconnect attempts", attempts)
		reporter.LogError(context.Background(), errorlog.WithCategory(err, domain.CategoryNetwork), map[string]any{
			"url":      cfg.URL,
			"attempts": attempts,
		})
	})
	return m
}
