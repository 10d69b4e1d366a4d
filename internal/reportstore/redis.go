package reportstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keeps each report field as a string key.
type Redis struct {
	rdb    *redis.Client
	prefix string
	owned  bool
}

// NewRedis wraps an existing client. The caller keeps ownership of rdb.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, opts *redis.Options, prefix string) (*Redis, error) {
	rdb := redis.NewClient(opts)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return &Redis{rdb: rdb, prefix: prefix, owned: true}, nil
}

func (r *Redis) key(documentID string) string {
	return r.prefix + documentID
}

func (r *Redis) Fetch(ctx context.Context, documentID string) (string, error) {
	if err := checkID(documentID); err != nil {
		return "", err
	}
	content, err := r.rdb.Get(ctx, r.key(documentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", documentID, err)
	}
	return content, nil
}

func (r *Redis) Persist(ctx context.Context, documentID, content string) error {
	if err := checkID(documentID); err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key(documentID), content, 0).Err(); err != nil {
		return fmt.Errorf("persist %s: %w", documentID, err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r.owned {
		return r.rdb.Close()
	}
	return nil
}

var _ Store = (*Redis)(nil)
