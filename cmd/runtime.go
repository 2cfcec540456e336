package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/mediaref/config"
	"github.com/otherjamesbrown/mediaref/credentials"
	"github.com/otherjamesbrown/mediaref/pkg/audit"
	"github.com/otherjamesbrown/mediaref/pkg/db"
	"github.com/otherjamesbrown/mediaref/pkg/events"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/observability"
	"github.com/otherjamesbrown/mediaref/pkg/resolver"
	"github.com/otherjamesbrown/mediaref/pkg/store"
	"github.com/otherjamesbrown/mediaref/pkg/turn"
)

// turnRuntime holds the long-lived pieces built from configuration.
type turnRuntime struct {
	Store    store.Store
	Resolver *resolver.Resolver
	Handler  *turn.Handler

	closers []func() error
}

// Close releases everything the runtime opened, last opened first.
func (r *turnRuntime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runtimeOptions are the optional observability hooks for newRuntime.
type runtimeOptions struct {
	Registerer prometheus.Registerer
	Metrics    *observability.ResolverMetrics
	Tracer     *observability.Tracer
}

// newRuntime opens the configured store and sinks and wires them into a turn handler.
func newRuntime(ctx context.Context, cfg *config.Config, logger logging.Logger, opts runtimeOptions) (*turnRuntime, error) {
	rt := &turnRuntime{}

	st, err := openStore(ctx, cfg, logger, opts.Registerer)
	if err != nil {
		return nil, err
	}
	rt.Store = st
	rt.closers = append(rt.closers, st.Close)

	var observer resolver.Observer
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	rt.Resolver = resolver.NewResolver(cfg.Resolver, nil, logger, observer)

	handlerOpts := turn.Options{
		Backend:    cfg.Store.Backend,
		Metrics:    opts.Metrics,
		Tracer:     opts.Tracer,
		Logger:     logger,
		MaxRetries: cfg.Store.ApplyRetries,
	}

	if cfg.Events.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.EventsRedisAddr(),
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = rt.Close()
			return nil, fmt.Errorf("connecting to events redis at %s: %w", cfg.EventsRedisAddr(), err)
		}
		pub := events.NewPublisher(rdb, cfg.Events.ChannelPrefix, logger)
		handlerOpts.Publisher = pub
		rt.closers = append(rt.closers, pub.Close)
	}

	if cfg.Audit.Enabled {
		rec, err := audit.Open(cfg.Audit.DSN, logger)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		if err := rec.EnsureSchema(ctx); err != nil {
			_ = rec.Close()
			_ = rt.Close()
			return nil, fmt.Errorf("preparing audit schema: %w", err)
		}
		handlerOpts.Recorder = rec
		rt.closers = append(rt.closers, rec.Close)
	}

	rt.Handler = turn.NewHandler(st, rt.Resolver, handlerOpts)
	return rt, nil
}

// openStore opens the registry store selected by cfg.Store.Backend.
// When reg is non-nil the Postgres pool statistics are registered on it.
func openStore(ctx context.Context, cfg *config.Config, logger logging.Logger, reg prometheus.Registerer) (store.Store, error) {
	switch cfg.Store.Backend {
	case store.BackendMemory, "":
		return store.NewMemoryStore(), nil

	case store.BackendRedis:
		rc := cfg.Store.Redis
		rdb := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", rc.Addr, err)
		}
		return store.NewRedisStore(rdb, store.RedisConfig{
			KeyPrefix:  rc.KeyPrefix,
			TTL:        rc.TTL,
			MaxRetries: rc.MaxRetries,
		}, logger), nil

	case store.BackendPostgres:
		pool, err := db.Connect(ctx, &cfg.Store.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if reg != nil {
			if _, err := db.RegisterPoolStats(reg, pool, "mediaref", "registry"); err != nil {
				logger.Warn("Failed to register pool metrics", logging.Err(err))
			}
		}
		ps := store.NewPostgresStore(pool, logger)
		if err := ps.EnsureSchema(ctx); err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("preparing registry schema: %w", err)
		}
		return ps, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// needsSecrets reports whether cfg talks to a backend that may need a stored password.
func needsSecrets(cfg *config.Config) bool {
	return cfg.Store.Backend == store.BackendRedis ||
		cfg.Store.Backend == store.BackendPostgres ||
		cfg.Events.Enabled ||
		cfg.Audit.Enabled
}

// applyStoredSecrets fills passwords missing from cfg with those in the
// credentials store. Passwords already set from the environment win.
// An unavailable credentials store is not an error: the backends may not
// need a password at all.
func applyStoredSecrets(cfg *config.Config, newStore func() (*credentials.Store, error), logger logging.Logger) {
	if !needsSecrets(cfg) {
		return
	}
	cs, err := newStore()
	if err != nil {
		logger.Debug("Credential store unavailable", logging.Err(err))
		return
	}
	creds, err := cs.Load()
	if err != nil {
		if !errors.Is(err, credentials.ErrNoCredentials) {
			logger.Warn("Failed to load stored credentials", logging.Err(err))
		}
		return
	}

	if cfg.Store.Redis.Password == "" {
		cfg.Store.Redis.Password = creds.Passwords[credentials.BackendRedis]
	}
	if cfg.Store.Postgres.Password == "" {
		cfg.Store.Postgres.Password = creds.Passwords[credentials.BackendPostgres]
	}
	if pw := creds.Passwords[credentials.BackendAudit]; pw != "" && cfg.Audit.DSN != "" {
		cfg.Audit.DSN = dsnWithPassword(cfg.Audit.DSN, pw)
	}
}

// dsnWithPassword adds password to a Postgres DSN that does not carry one.
// Both URL and key=value forms are accepted.
func dsnWithPassword(dsn, password string) string {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil || u.User == nil {
			return dsn
		}
		if _, set := u.User.Password(); set {
			return dsn
		}
		u.User = url.UserPassword(u.User.Username(), password)
		return u.String()
	}
	if strings.Contains(dsn, "password=") {
		return dsn
	}
	return dsn + " password='" + strings.ReplaceAll(password, "'", `\'`) + "'"
}
