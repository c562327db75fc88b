package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/catalog"
	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/handler"
	"github.com/xenking/kart-orders/internal/storage/memory"
	"github.com/xenking/kart-orders/internal/storage/postgres"
	"github.com/xenking/kart-orders/pkg/health"
	"github.com/xenking/kart-orders/pkg/httpmiddleware"
	"github.com/xenking/kart-orders/pkg/idempotency"
	"github.com/xenking/kart-orders/pkg/outbox"
)

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	var (
		store   order.Store
		apikeys auth.Repository
		relay   *outbox.Relay
	)
	switch cfg.Storage {
	case StorageMemory:
		mem, err := newMemoryStore(lg, cfg)
		if err != nil {
			return errors.Wrap(err, "init memory store")
		}
		healthSvc.AddReadinessCheck("memory", time.Second, health.PingCheck(mem))
		store, apikeys = mem, mem
	default:
		// PostgreSQL pool + migrations.
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}

		pg := postgres.NewStore(pool)
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pg))
		store, apikeys = pg, postgres.NewAPIKeyRepository(pool)

		if len(cfg.Kafka.Brokers) > 0 {
			w := outbox.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
			defer func() {
				if err := w.Close(); err != nil {
					lg.Warn("Close kafka writer", zap.Error(err))
				}
			}()
			relay = outbox.NewRelay(lg, postgres.NewOutboxStore(pool), outbox.NewPublisher(w), outbox.Config{
				BatchSize:   cfg.Outbox.BatchSize,
				Interval:    cfg.Outbox.Interval,
				Lease:       cfg.Outbox.Lease,
				MaxAttempts: cfg.Outbox.MaxAttempts,
			})
		}
	}

	var handlerOpts []handler.Option
	if cfg.Redis.Enabled() {
		rdb, err := newRedisClient(cfg.Redis)
		if err != nil {
			return errors.Wrap(err, "create redis client")
		}
		defer func() { _ = rdb.Close() }()

		idem := idempotency.NewStore(rdb, cfg.Redis.TTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(idem))
		handlerOpts = append(handlerOpts, handler.WithIdempotency(idem))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	orderService, err := order.NewService(store,
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// HTTP handlers.
	h := handler.New(orderService,
		handler.NewAuthenticator(apikeys, []byte(cfg.APIKeyPepper)),
		handlerOpts...,
	)

	router := chi.NewRouter()
	router.Use(httpmiddleware.LogRequests(), httpmiddleware.Route())
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("kart-api", m),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}
	return g.Wait()
}

func newMemoryStore(lg *zap.Logger, cfg *Config) (*memory.Store, error) {
	lg.Warn("Using in-memory storage, data is lost on restart")
	store := memory.New()

	if cfg.Memory.Catalog != "" {
		products, err := catalog.Load(cfg.Memory.Catalog)
		if err != nil {
			return nil, err
		}
		for _, p := range products {
			store.PutProduct(p)
		}
		lg.Info("Loaded catalog", zap.Int("products", len(products)))
	}
	if cfg.Memory.APIKey != "" {
		store.PutAPIKey(auth.APIKeyInfo{
			ID:      "memory",
			KeyHash: auth.HashKey([]byte(cfg.APIKeyPepper), cfg.Memory.APIKey),
			Name:    "Startup key",
			UserID:  cfg.Memory.UserID,
		})
	}
	return store, nil
}

func newRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}
