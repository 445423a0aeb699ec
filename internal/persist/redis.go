package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces keys when no prefix is configured.
const DefaultKeyPrefix = "storefront-cart:"

// Redis stores each name under <prefix><name>.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// OpenRedis connects to url (redis://...) and verifies the connection.
func OpenRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedis(client, prefix), nil
}

func (r *Redis) Load(ctx context.Context, name string, v any) (bool, error) {
	data, err := r.client.Get(ctx, r.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading %s: %w", name, err)
	}
	return decode(data, v)
}

func (r *Redis) Save(ctx context.Context, name string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+name, data, 0).Err(); err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, r.prefix+name).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
