package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vet-analytics/internal/config"
	"github.com/sells-group/vet-analytics/internal/store"
)

// openStore connects one configured endpoint and applies its migrations.
func openStore(ctx context.Context, e config.EndpointConfig) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch e.Driver {
	case config.DriverMemory:
		s = store.NewMemory(e.Database)
	case config.DriverSQLite:
		s, err = store.NewSQLite(e.URI, e.Database)
	case config.DriverPostgres:
		s, err = store.Dial(ctx, dialRetry(e.Driver), func(ctx context.Context) (store.Store, error) {
			return store.NewPostgres(ctx, e.URI, e.Database, nil)
		})
	case config.DriverMongo:
		s, err = store.Dial(ctx, dialRetry(e.Driver), func(ctx context.Context) (store.Store, error) {
			return store.NewMongo(ctx, e.URI, e.Database)
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", e.Driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "open %s store", e.Driver)
	}
	if m, ok := s.(store.Migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, eris.Wrapf(err, "migrate %s store", e.Driver)
		}
	}
	zap.L().Debug("store opened", zap.String("driver", e.Driver), zap.String("database", e.Database))
	return s, nil
}

func dialRetry(driver string) store.RetryConfig {
	rc := store.DefaultRetryConfig()
	if cfg != nil && cfg.Store.ConnectAttempts > 0 {
		rc.MaxAttempts = cfg.Store.ConnectAttempts
	}
	rc.OnRetry = store.RetryLogger(driver)
	return rc
}

// openStores opens the source store and the guarded destination store.
// When both endpoints are the same memory database they share one store.
func openStores(ctx context.Context, dryRun bool) (store.Store, *store.Guard, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	read, err := openStore(ctx, cfg.Store.Read)
	if err != nil {
		return nil, nil, nil, err
	}
	write := read
	if cfg.Store.Write != cfg.Store.Read {
		write, err = openStore(ctx, cfg.Store.Write)
		if err != nil {
			_ = read.Close()
			return nil, nil, nil, err
		}
	}
	guard := store.NewGuard(write, cfg.Store.RequiredWriteDB,
		store.WithDryRun(dryRun),
		store.WithWriteRate(cfg.Store.WriteRPS),
	)
	closeAll := func() {
		_ = read.Close()
		if write != read {
			_ = write.Close()
		}
	}
	return read, guard, closeAll, nil
}

// openWriteStore opens only the destination store, for read-only commands
// over finished runs.
func openWriteStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return openStore(ctx, cfg.Store.Write)
}
