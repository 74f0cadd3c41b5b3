// Package runtime assembles the process: configuration, stores, optional
// Redis, the marketplace application and its HTTP servers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	app "github.com/servimap/servimap/internal/app"
	"github.com/servimap/servimap/internal/app/httpapi"
	"github.com/servimap/servimap/internal/app/ops"
	"github.com/servimap/servimap/internal/app/services/emergency"
	"github.com/servimap/servimap/internal/app/services/notifications"
	"github.com/servimap/servimap/internal/app/services/payments"
	"github.com/servimap/servimap/internal/app/storage/postgres"
	"github.com/servimap/servimap/internal/catalog"
	"github.com/servimap/servimap/internal/config"
	"github.com/servimap/servimap/internal/httputil"
	"github.com/servimap/servimap/internal/middleware"
	"github.com/servimap/servimap/internal/platform/migrations"
	"github.com/servimap/servimap/pkg/logger"
)

// Version is reported by the ops status endpoint.
var Version = "dev"

const limiterCleanupInterval = 5 * time.Minute

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	limiter *middleware.RateLimiter
	api     *http.Server
	ops     *http.Server
	db      *sqlx.DB
	redis   *redis.Client
}

// NewApplication constructs the process from environment configuration.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return Build(ctx, cfg, logger.New(cfg.LoggerConfig()))
}

// Build wires an application from an already loaded configuration.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("servimap")
	}
	signingKey, err := middleware.DeriveSigningKey([]byte(cfg.Auth.MasterKey))
	if err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	cat, err := catalog.LoadOrDefault(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	rt := &Application{cfg: cfg, log: log}
	stores, err := rt.openStores(ctx)
	if err != nil {
		rt.closeClients()
		return nil, err
	}

	opts := app.Options{
		Catalog:            cat,
		Emergency:          cfg.EmergencySettings(),
		Requests:           cfg.RequestSettings(),
		Payments:           cfg.PaymentOptions(),
		SettlementSchedule: cfg.Requests.SettlementSchedule,
		Gateway:            buildGateway(cfg.Payments),
	}
	if rt.redis != nil {
		opts.Locator = emergency.NewRedisGeoIndex(rt.redis)
		opts.Broker = notifications.NewRedisBroker(rt.redis, log.Named("broker"))
	}
	rt.app, err = app.New(stores, opts, log)
	if err != nil {
		rt.closeClients()
		return nil, fmt.Errorf("build application: %w", err)
	}

	rt.limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst, log.Named("ratelimit"))
	handler, err := httpapi.NewHandler(rt.app, httpapi.Options{
		SigningKey: signingKey,
		CORS: middleware.CORSOptions{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			AllowedMethods: cfg.HTTP.CORSMethods,
			AllowedHeaders: cfg.HTTP.CORSHeaders,
			MaxAge:         cfg.HTTP.CORSMaxAge,
		},
		Limiter:   rt.limiter,
		AuditFile: cfg.HTTP.AuditFile,
	}, log.Named("httpapi"))
	if err != nil {
		rt.closeClients()
		return nil, fmt.Errorf("build api: %w", err)
	}

	rt.api = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		// No WriteTimeout: notification streams are long lived and the
		// websocket handler sets its own deadlines.
	}
	rt.ops = &http.Server{
		Addr:              cfg.HTTP.OpsAddr,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		Handler: ops.NewRouter(ops.Options{
			Checks:     rt.checks(),
			Components: rt.app.Services,
			Version:    Version,
		}, log.Named("ops")),
	}
	return rt, nil
}

func (a *Application) openStores(ctx context.Context) (app.Stores, error) {
	if addr := a.cfg.Redis.Addr; addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return app.Stores{}, fmt.Errorf("connect redis: %w", err)
		}
	}

	if a.cfg.Database.DSN == "" {
		a.log.Warn("SERVIMAP_DATABASE_DSN not set; using in-memory storage")
		return app.Stores{}, nil
	}
	db, err := postgres.Open(ctx, a.cfg.Database.DSN, postgres.Pool{
		MaxOpenConns:    a.cfg.Database.MaxOpenConns,
		MaxIdleConns:    a.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return app.Stores{}, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	if a.cfg.Database.AutoMigrate {
		if err := migrations.Up(db.DB); err != nil {
			return app.Stores{}, fmt.Errorf("migrate database: %w", err)
		}
		a.log.Info("database migrations applied")
	}
	return app.Stores{Store: postgres.New(db.DB)}, nil
}

func (a *Application) checks() map[string]ops.Check {
	checks := map[string]ops.Check{}
	if a.db != nil {
		checks["postgres"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

func buildGateway(cfg config.PaymentsConfig) payments.Gateway {
	if cfg.GatewayURL == "" {
		return nil
	}
	return payments.NewHTTPGateway(httputil.NewClient(httputil.ClientConfig{
		BaseURL: cfg.GatewayURL,
		APIKey:  cfg.GatewayAPIKey,
		Timeout: cfg.GatewayTimeout,
	}))
}

// App exposes the assembled marketplace.
func (a *Application) App() *app.Application {
	return a.app
}

// Run starts background services and both HTTP servers, then blocks until
// ctx is cancelled or a server fails. It always shuts down before returning.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	a.limiter.StartCleanup(gctx, limiterCleanupInterval)
	for _, srv := range []*http.Server{a.api, a.ops} {
		srv := srv
		g.Go(func() error {
			a.log.WithField("addr", srv.Addr).Info("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown drains both servers, stops background services and closes
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range []*http.Server{a.api, a.ops} {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	if err := a.app.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	a.closeClients()
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *Application) closeClients() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
		a.redis = nil
	}
}
