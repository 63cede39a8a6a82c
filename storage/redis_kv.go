package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"listingwatch/models"
)

const (
	redisConnectTimeout = 5 * time.Second
	redisScanCount      = 200
)

// RedisKV stores keys under an optional namespace prefix in Redis.
type RedisKV struct {
	client    *redis.Client
	namespace string
}

// NewRedisKV connects to Redis and verifies the connection with PING.
func NewRedisKV(addr, password string, db int, namespace string) (*RedisKV, error) {
	if addr == "" {
		return nil, errors.New("redis: address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	return NewRedisKVFromClient(client, namespace), nil
}

// NewRedisKVFromClient wraps an existing client.
func NewRedisKVFromClient(client *redis.Client, namespace string) *RedisKV {
	return &RedisKV{client: client, namespace: namespace}
}

func (r *RedisKV) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %q: %w", key, err)
	}
	return data, nil
}

func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %q: %w", key, err)
	}
	return nil
}

func (r *RedisKV) PutNew(ctx context.Context, key string, value []byte) error {
	ok, err := r.client.SetNX(ctx, r.key(key), value, 0).Result()
	if err != nil {
		return fmt.Errorf("redis: setnx %q: %w", key, err)
	}
	if !ok {
		return models.ErrKeyExists
	}
	return nil
}

// List scans for keys starting with prefix. Glob metacharacters in the
// prefix are escaped so listing ids cannot widen the match.
func (r *RedisKV) List(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(r.key(prefix)) + "*"
	strip := 0
	if r.namespace != "" {
		strip = len(r.namespace) + 1
	}

	var keys []string
	iter := r.client.Scan(ctx, 0, match, redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[strip:])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
