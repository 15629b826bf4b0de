package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/centraunit/modkit"
	"github.com/centraunit/modkit/internal/config"
	"github.com/centraunit/modkit/internal/demo"
	"github.com/centraunit/modkit/internal/logging"
	"github.com/centraunit/modkit/metrics"
	"github.com/centraunit/modkit/natsbridge"
	"github.com/centraunit/modkit/repository"
)

// app is a running counter module with everything the configuration asks for.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	rt       *modkit.Runtime
	gatherer prometheus.Gatherer
	bridge   *natsbridge.Bridge

	closers []func() error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	zl := logger.Underlying()
	reg := modkit.NewRegistry(modkit.WithRegistryLogger(zl.Named("registry")))
	if err := reg.RegisterModules(demo.Module{Store: store}); err != nil {
		return nil, err
	}
	if err := reg.Build(); err != nil {
		return nil, err
	}

	opts := []modkit.Option{
		modkit.WithLogger(zl),
		modkit.WithSettings(cfg.Settings()),
		modkit.WithContext(ctx),
	}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		m, err = metrics.New(promReg, cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		a.gatherer = promReg
		opts = append(opts, modkit.WithMetrics(m))
	}
	opts = append(opts, modkit.WithBus(modkit.NewBus(
		modkit.WithBusLogger(zl.Named("bus")),
		modkit.WithBusMetrics(m),
		modkit.WithMaxPublishDepth(cfg.Bus.MaxPublishDepth),
	)))

	a.rt, err = modkit.NewRuntime(reg, opts...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.rt.Shutdown)
	if err := a.rt.Start(ctx); err != nil {
		return nil, err
	}

	if cfg.NATS.URL != "" {
		if err := a.connectNATS(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (modkit.Store[string, []int], error) {
	rc := a.cfg.Repository
	switch rc.Driver {
	case "postgres":
		db, err := sqlx.Open("postgres", rc.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		store, err := repository.NewSQLStore[[]int](db, rc.Table)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: rc.RedisAddr})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis %s: %w", rc.RedisAddr, err)
		}
		return repository.NewRedisStore[[]int](client, repository.WithKeyPrefix(rc.KeyPrefix)), nil
	default:
		return repository.NewMemoryStore[string, []int](), nil
	}
}

func (a *app) connectNATS(ctx context.Context) error {
	nc, err := nats.Connect(a.cfg.NATS.URL,
		nats.Name("modkit"),
		nats.Timeout(a.cfg.NATS.Timeout),
	)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", a.cfg.NATS.URL, err)
	}
	a.closers = append(a.closers, func() error {
		nc.Close()
		return nil
	})

	a.bridge, err = natsbridge.New(nc, a.rt.Bus(),
		natsbridge.WithLogger(a.logger.Underlying()),
		natsbridge.WithSubjectPrefix(a.cfg.NATS.SubjectPrefix),
		natsbridge.WithTimeout(a.cfg.NATS.Timeout),
	)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.bridge.Close)
	if err := demo.ServeRemote(ctx, a.rt, a.bridge, a.rt.Root()); err != nil {
		return err
	}
	a.logger.Info(ctx, "nats bridge ready",
		zap.String("url", a.cfg.NATS.URL),
		zap.String("add", a.bridge.Subject(demo.SubjectAdd)),
		zap.String("changed", a.bridge.Subject(demo.SubjectChanged)))
	return nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

const shutdownTimeout = 10 * time.Second
