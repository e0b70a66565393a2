package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxcomp-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch driver := cfg.Store.Driver; driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "taxcomp.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver %q", driver)
	}
}
