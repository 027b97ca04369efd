// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initTokenManager — API key set + OAuth token cache
//  2. initRegistry     — Upstream Clients per provider, synchronous first refresh
//  3. initServices     — load balancer, metrics, request logger
//  4. initGateway      — proxy engine + HTTP router
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/aicore-gateway/internal/config"
	"github.com/nulpointcorp/aicore-gateway/internal/loadbalancer"
	"github.com/nulpointcorp/aicore-gateway/internal/logger"
	"github.com/nulpointcorp/aicore-gateway/internal/metrics"
	"github.com/nulpointcorp/aicore-gateway/internal/proxy"
	"github.com/nulpointcorp/aicore-gateway/internal/registry"
	"github.com/nulpointcorp/aicore-gateway/internal/tokenmanager"
	"github.com/nulpointcorp/aicore-gateway/internal/upstream"
	"github.com/valyala/fasthttp"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	reqLogger *logger.Logger
	prom      *metrics.Registry
	tokens    *tokenmanager.Manager
	reg       *registry.Registry
	balancer  *loadbalancer.Balancer
	gw        *proxy.Gateway
	srv       *proxy.Server

	httpSrv *fasthttp.Server
}

// New initialises all subsystems and returns a ready-to-run App. All
// resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"token_manager", a.initTokenManager},
		{"registry", a.initRegistry},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

func (a *App) initTokenManager(ctx context.Context) error {
	a.tokens = tokenmanager.New(a.cfg.APIKeys, a.log)
	return nil
}

func (a *App) initRegistry(ctx context.Context) error {
	a.reg = registry.New(a.cfg, func(p config.Provider) registry.UpstreamClient {
		return upstream.New(p, a.tokens)
	}, a.log)
	return a.reg.Start(ctx)
}

func (a *App) initServices(ctx context.Context) error {
	strategy := loadbalancer.Fallback
	if a.cfg.LoadBalancingStrategy == "round_robin" {
		strategy = loadbalancer.RoundRobin
	}
	a.balancer = loadbalancer.New(a.cfg.Providers, strategy)
	a.prom = metrics.New()

	reqLogger, err := logger.New(ctx, a.log)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger
	return nil
}

func (a *App) initGateway(ctx context.Context) error {
	a.gw = proxy.NewGateway(proxy.Options{
		Registry:  a.reg,
		Balancer:  a.balancer,
		Tokens:    a.tokens,
		Providers: a.cfg.Providers,
		Metrics:   a.prom,
		ReqLog:    a.reqLogger,
		Log:       a.log,
	})
	a.srv = proxy.NewServer(proxy.ServerOptions{
		Gateway: a.gw,
		Registry: a.reg,
		Metrics: a.prom,
		Log:     a.log,
	})
	return nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.Int("providers", len(a.cfg.Providers)),
		slog.String("strategy", a.cfg.LoadBalancingStrategy),
	)

	a.httpSrv = &fasthttp.Server{Handler: a.srv.Handler()}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.httpSrv.ListenAndServe(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times in sequence; concurrent calls are not synchronised with each other.
func (a *App) Close() {
	if a.httpSrv != nil {
		_ = a.httpSrv.Shutdown()
		a.httpSrv = nil
	}
	if a.reqLogger != nil {
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("request logger close error", slog.String("error", err.Error()))
		}
		a.reqLogger = nil
	}
}
