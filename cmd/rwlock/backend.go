package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sillsdev/serval-sub001/lock"
	"github.com/sillsdev/serval-sub001/lock/inmem"
	lockpgx "github.com/sillsdev/serval-sub001/lock/pgx"
	lockredis "github.com/sillsdev/serval-sub001/lock/redis"
	"github.com/sillsdev/serval-sub001/lock/sqlite"
	notifypgx "github.com/sillsdev/serval-sub001/notify/pgx"
	notifyredis "github.com/sillsdev/serval-sub001/notify/redis"
)

type closeFunc func(ctx context.Context) error

// openStore connects to the backend named kind. dsn is a file path for
// sqlite, a postgres connection string or a redis URL.
func openStore(ctx context.Context, kind, dsn string) (lock.Store, closeFunc, error) {
	switch kind {
	case "memory":
		s := inmem.New()
		return s, s.Close, nil

	case "sqlite":
		s, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		n, err := notifypgx.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		s := lockpgx.New(pool, n)
		closer := func(ctx context.Context) error {
			err := n.Close(ctx)
			pool.Close()
			return err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = closer(ctx)
			return nil, nil, err
		}
		return s, closer, nil

	case "redis":
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		n := notifyredis.New(client)
		closer := func(ctx context.Context) error {
			err := n.Close(ctx)
			if cerr := client.Close(); err == nil {
				err = cerr
			}
			return err
		}
		return lockredis.New(client, n), closer, nil
	}

	return nil, nil, fmt.Errorf("unknown store '%s', expected memory, sqlite, postgres or redis", kind)
}
