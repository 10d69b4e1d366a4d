package reportstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"collabtext/internal/config"
)

// Open builds the store selected by cfg.Store.Type.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Type {
	case "memory":
		return NewMemory(), nil
	case "bolt":
		return OpenBolt(cfg.Store.Path)
	case "sqlite":
		return OpenSQLite(cfg.Store.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
	case "redis":
		return OpenRedis(ctx, RedisOptions(cfg), cfg.Redis.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}

// RedisOptions converts the redis section into client options.
func RedisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}
