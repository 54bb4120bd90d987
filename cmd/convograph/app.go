package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/randalmurphal/convograph/pkg/convo/auth"
	"github.com/randalmurphal/convograph/pkg/convo/commerce"
	"github.com/randalmurphal/convograph/pkg/convo/model"
	"github.com/randalmurphal/convograph/pkg/convo/monitor"
	"github.com/randalmurphal/convograph/pkg/convo/recovery"
	"github.com/randalmurphal/convograph/pkg/convo/server"
	"github.com/randalmurphal/convograph/pkg/convo/service"
	"github.com/randalmurphal/convograph/pkg/convo/settings"
	"github.com/randalmurphal/convograph/pkg/convo/workflows"
	"github.com/randalmurphal/convograph/pkg/flowgraph"
	"github.com/randalmurphal/convograph/pkg/flowgraph/checkpoint"
	flowerrors "github.com/randalmurphal/convograph/pkg/flowgraph/errors"
	"github.com/randalmurphal/convograph/pkg/flowgraph/llm"
	"github.com/randalmurphal/convograph/pkg/flowgraph/observability"
)

// GraphName labels every run in logs, metrics and spans.
const GraphName = "convograph"

// LockPrefix starts the Redis keys of distributed thread locks.
const LockPrefix = "convograph:"

// app is a fully wired process. Close releases everything it opened,
// in reverse order.
type app struct {
	cfg     *settings.Config
	logger  *slog.Logger
	shop    *commerce.SQLiteStore
	store   checkpoint.Store
	monitor *monitor.Monitor
	service *service.Service

	closers []func(context.Context) error
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close runs the registered closers and joins their errors.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Handler returns the HTTP surface.
func (a *app) Handler() http.Handler {
	return server.NewHandler(a.service, a.monitor,
		server.WithLogger(a.logger),
		server.WithTurnTimeout(a.cfg.Server.TurnTimeout),
	)
}

// newApp opens the stores and builds the turn service. On error whatever
// was already opened is closed.
func newApp(ctx context.Context, cfg *settings.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, monitor: monitor.New()}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.shop, err = commerce.NewSQLiteStore(cfg.Commerce.Path)
	if err != nil {
		return nil, fmt.Errorf("open commerce store: %w", err)
	}
	a.onClose(func(context.Context) error { return a.shop.Close() })

	a.store, err = openCheckpoints(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return a.store.Close() })

	locker := newLocker(cfg.Checkpoint, logger, a.onClose)

	m := newModel(cfg.LLM, logger)
	if m == nil {
		logger.Warn("no language model configured, replies use fixed text")
	}

	jwt, err := auth.NewJWT(cfg.Auth.JWTSecret, auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return nil, err
	}
	gate, err := auth.NewGate(jwt, m)
	if err != nil {
		return nil, err
	}
	graph, err := workflows.Build(workflows.Deps{
		Model:    m,
		Store:    a.shop,
		Gate:     gate,
		Issuer:   jwt,
		Hasher:   auth.BcryptHasher{Cost: cfg.Auth.BcryptCost},
		Recovery: recovery.New(m),
	})
	if err != nil {
		return nil, err
	}

	a.service, err = service.New(graph, a.store,
		service.WithLogger(logger),
		service.WithMonitor(a.monitor),
		service.WithLocker(locker),
		service.WithRunOptions(a.runOptions()...),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openCheckpoints opens the configured backend, wrapped in encryption when
// a key is set.
func openCheckpoints(ctx context.Context, cfg settings.Checkpoint) (checkpoint.Store, error) {
	var store checkpoint.Store
	switch cfg.Backend {
	case settings.BackendMemory:
		store = checkpoint.NewMemoryStore()
	case settings.BackendSQLite:
		s, err := checkpoint.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite checkpoints: %w", err)
		}
		store = s
	case settings.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis checkpoints: %w", err)
		}
		store = checkpoint.NewRedisStoreFromClient(client, checkpoint.WithRedisTTL(cfg.RedisTTL))
	case settings.BackendPostgres:
		s, err := checkpoint.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres checkpoints: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate postgres checkpoints: %w", err)
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}

	key, err := cfg.Key()
	if err != nil || key == nil {
		if err != nil {
			_ = store.Close()
		}
		return store, err
	}
	enc, err := checkpoint.NewEncryptedStore(store, checkpoint.EncryptionConfig{ActiveKey: key})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return enc, nil
}

// newLocker returns the per-thread locker, backed by Redis when
// distributed locking is on. The lock client is separate from any store
// client so that closing one leaves the other usable.
func newLocker(cfg settings.Checkpoint, logger *slog.Logger, onClose func(func(context.Context) error)) *checkpoint.Locker {
	opts := []checkpoint.LockerOption{checkpoint.WithLockerLogger(logger)}
	if cfg.DistributedLock {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		onClose(func(context.Context) error { return client.Close() })
		opts = append(opts, checkpoint.WithDistributedLocker(checkpoint.NewRedisLocker(client, LockPrefix), cfg.LockTTL))
	}
	return checkpoint.NewLocker(opts...)
}

// newModel returns the configured model, or nil for the "none" provider.
func newModel(cfg settings.LLM, logger *slog.Logger) *model.Model {
	if cfg.Provider != settings.ProviderOpenAI {
		return nil
	}
	opts := []llm.OpenAIOption{
		llm.WithModel(cfg.Model),
		llm.WithTemperature(cfg.Temperature),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(cfg.MaxTokens))
	}

	retry := flowerrors.DefaultRetry
	retry.MaxAttempts = cfg.RetryAttempts
	retry.InitialBackoff = cfg.RetryBaseDelay

	return model.New(llm.NewOpenAIClient(cfg.APIKey, opts...),
		model.WithName(settings.ProviderOpenAI),
		model.WithRetry(retry),
		model.WithBreaker(cfg.BreakerThreshold, cfg.BreakerRecovery),
		model.WithTimeout(cfg.Timeout),
		model.WithLogger(logger),
		model.WithOnExhausted(func(err error) {
			logger.Error("language model call failed", "err", err)
		}),
	)
}

// runOptions installs the OpenTelemetry SDK providers the telemetry
// settings ask for and returns the matching run options.
func (a *app) runOptions() []flowgraph.RunOption {
	opts := []flowgraph.RunOption{flowgraph.WithGraphName(GraphName)}
	if a.cfg.Telemetry.Metrics {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		a.onClose(mp.Shutdown)
		opts = append(opts, flowgraph.WithMetrics(observability.NewMetricsRecorder()))
	}
	if a.cfg.Telemetry.Tracing {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		a.onClose(tp.Shutdown)
		opts = append(opts, flowgraph.WithTracing(observability.NewSpanManager()))
	}
	return opts
}
