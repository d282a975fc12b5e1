package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "doc:"

// RedisOptions configures OpenRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps documents as JSON values under doc:<id>. Expiry uses the
// native key TTL.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects to Redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) SaveDocument(ctx context.Context, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}

	var ttl time.Duration
	if !doc.ExpiresAt.IsZero() {
		ttl = time.Until(doc.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}

	ok, err := r.client.SetNX(ctx, redisKeyPrefix+doc.ID, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.ID, err)
	}
	if !ok {
		return fmt.Errorf("saving document %s: id already exists", doc.ID)
	}
	return nil
}

func (r *RedisStore) GetDocument(ctx context.Context, id string) (Document, error) {
	key := redisKeyPrefix + id
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("loading document %s: %w", id, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("corrupted document %s: %w", id, err)
	}
	doc.ID = id

	if ttl, err := r.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		doc.ExpiresAt = time.Now().Add(ttl)
	}
	return doc, nil
}
