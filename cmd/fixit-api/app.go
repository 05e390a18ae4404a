// README: Service wiring shared by the serve and sweep commands.
package main

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fixit/internal/config"
	"fixit/internal/infra"
	"fixit/internal/maps"
	"fixit/internal/modules/catalog"
	"fixit/internal/modules/location"
	"fixit/internal/modules/matching"
	"fixit/internal/modules/notify"
)

type appOptions struct {
	memory       bool
	insecureAuth bool
	seedDemo     bool
}

type app struct {
	cfg      config.Config
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	firebase *firebase.App
	verifier infra.TokenVerifier
	feed     location.Feed
	matching *matching.Service
	location *location.Service
	closers  []func()
}

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := infra.NewLogger(cfg.Log)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	if err := a.connect(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// connect opens Postgres, Redis and Firebase. Redis and Firebase are optional.
func (a *app) connect(ctx context.Context, opts appOptions) error {
	if !opts.memory {
		pool, err := infra.NewDB(ctx, a.cfg.DB.DSN)
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		if err := infra.RunMigrations(pool, a.logger); err != nil {
			return err
		}
	}

	if a.cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			a.logger.Warn("redis unavailable; using in-process locks and no geo prefilter", zap.Error(err))
		} else {
			a.redis = rdb
			a.closers = append(a.closers, func() { _ = rdb.Close() })
		}
	}

	if a.cfg.Firebase.ProjectID != "" {
		fb, err := infra.NewFirebaseApp(ctx, a.cfg.Firebase.ProjectID, a.cfg.Firebase.CredentialsFile, a.cfg.Firebase.DatabaseURL)
		if err != nil {
			return err
		}
		a.firebase = fb
	}

	switch {
	case opts.insecureAuth:
		a.logger.Warn("dev auth enabled; bearer tokens are trusted as uid|role")
		a.verifier = infra.NewDevVerifier()
	case a.firebase != nil:
		v, err := infra.NewFirebaseVerifier(ctx, a.firebase)
		if err != nil {
			return err
		}
		a.verifier = v
	}
	return nil
}

func (a *app) wire(ctx context.Context, opts appOptions) error {
	var (
		store     matching.Store
		positions location.PositionStore
		entries   catalog.EntryStore
	)
	if opts.memory {
		mem := matching.NewMemoryStore()
		if opts.seedDemo {
			seedDemo(mem)
		}
		store, positions = mem, mem
		entries = demoCatalog
	} else {
		store = matching.NewPGStore(a.pool)
		geo := location.NewStore(a.pool, a.redis)
		positions = geo
		entries = catalog.NewStore(a.pool)
		if a.redis != nil {
			n, err := geo.RebuildIndex(ctx)
			if err != nil {
				return fmt.Errorf("rebuild geo index: %w", err)
			}
			a.logger.Info("geo index rebuilt", zap.Int("technicians", n))
		}
	}

	a.location = location.NewService(positions, a.logger)
	cat := catalog.NewService(entries, a.redis, a.logger)

	opt := []matching.Option{}
	if a.redis != nil {
		opt = append(opt,
			matching.WithLocker(matching.NewRedisLocker(a.redis, a.cfg.Matching.LockTTL())),
			matching.WithNearbyIndex(a.location),
		)
	}

	if a.firebase != nil {
		fcm, err := notify.NewFCMNotifier(ctx, a.firebase, a.logger)
		if err != nil {
			return err
		}
		dispatcher := notify.NewDispatcher(fcm, a.logger)
		a.closers = append(a.closers, dispatcher.Close)
		opt = append(opt, matching.WithNotifier(dispatcher))

		if a.cfg.Firebase.DatabaseURL != "" {
			feed, err := location.NewFirebaseFeed(ctx, a.firebase)
			if err != nil {
				return err
			}
			a.feed = feed
		}
	}

	if a.cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(a.cfg.Maps.APIKey)
		if err != nil {
			return fmt.Errorf("maps client: %w", err)
		}
		opt = append(opt, matching.WithArrivalEstimator(routes))
	}

	svc, err := matching.NewService(store, cat, a.cfg.Matching, a.logger, opt...)
	if err != nil {
		return fmt.Errorf("matching service: %w", err)
	}
	a.matching = svc
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
