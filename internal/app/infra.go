package app

import (
	"fmt"
	"log/slog"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/dwsm/internal/adapters/file"
	"github.com/aretw0/dwsm/internal/config"
	"github.com/aretw0/dwsm/pkg/adapters/memory"
	"github.com/aretw0/dwsm/pkg/adapters/redis"
	"github.com/aretw0/dwsm/pkg/persistence/middleware"
	"github.com/aretw0/dwsm/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// OpenStore builds the configured remote store. The returned cleanup releases
// resources the store does not own itself, such as an embedded miniredis.
func OpenStore(cfg config.Config, logger *slog.Logger) (ports.RemoteStore, func(), error) {
	nop := func() {}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-process memory store, sessions are not shared between nodes")
		return memory.NewStore(), nop, nil

	case config.DriverFile:
		logger.Info("Using file store", "dir", cfg.Store.File.Dir)
		return file.New(cfg.Store.File.Dir), nop, nil

	case config.DriverRedis:
		logger.Info("Using redis store", "addr", cfg.Store.Redis.Addr, "db", cfg.Store.Redis.DB)
		return redis.New(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB, redisOptions(cfg)...), nop, nil

	case config.DriverMiniredis:
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nop, fmt.Errorf("failed to start embedded redis: %w", err)
		}
		logger.Warn("Using embedded miniredis, for development only", "addr", mr.Addr())
		return redis.New(mr.Addr(), "", 0, redisOptions(cfg)...), mr.Close, nil
	}

	return nil, nop, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.Store.Driver)
}

func redisOptions(cfg config.Config) []redis.Option {
	opts := []redis.Option{redis.WithTTLGrace(cfg.Store.Redis.TTLGrace)}
	if cfg.Store.Redis.Prefix != "" {
		opts = append(opts, redis.WithPrefix(cfg.Store.Redis.Prefix))
	}
	return opts
}

// WrapStore applies the configured store middlewares. Metrics are outermost so
// they observe timeouts; encryption is innermost so it sees the real store.
// A nil registry skips metrics.
func WrapStore(store ports.RemoteStore, cfg config.Config, reg prometheus.Registerer) (ports.RemoteStore, error) {
	var mws []middleware.Middleware

	if reg != nil {
		mw, err := middleware.WithMetrics(reg)
		if err != nil {
			return nil, fmt.Errorf("failed to register store metrics: %w", err)
		}
		mws = append(mws, mw)
	}

	mws = append(mws, middleware.WithTimeout(cfg.Session.StoreTimeout))

	key, err := cfg.Store.Key()
	if err != nil {
		return nil, err
	}
	if key != nil {
		mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}

	return middleware.Chain(store, mws...), nil
}
