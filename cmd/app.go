package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xkilldash9x/checkout-cli/internal/observability"
	"github.com/xkilldash9x/checkout-cli/internal/store"
)

// openStore connects the postgres pool, verifies it and runs the schema
// migration when configured. The returned cleanup closes the pool.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing database dsn: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	st, err := store.New(connectCtx, pool, observability.GetLogger())
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	if cfg.Database.MigrateOnStart {
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return st, pool.Close, nil
}
