package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// RedisStore implements Store with one JSON value per identity.
// Keys carry no TTL; durability comes from the Redis server's persistence settings.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
	}
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + identity
}

func (s *RedisStore) Get(ctx context.Context, identity string) (Session, error) {
	raw, err := s.client.Get(ctx, s.key(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return New(), nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	return decode(raw)
}

// Put overwrites the stored value with a single SET, so readers never see a partial session.
func (s *RedisStore) Put(ctx context.Context, identity string, value Session) error {
	value.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(identity), payload, 0).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// All scans every session key. Only used at startup.
func (s *RedisStore) All(ctx context.Context) ([]Entry, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := start + scanBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]
		values, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, fmt.Errorf("load sessions: %w", err)
		}
		for i, value := range values {
			raw, ok := value.(string)
			if !ok {
				// deleted between SCAN and MGET
				continue
			}
			decoded, err := decode(raw)
			if err != nil {
				log.Printf("session: skipping %s: %v", batch[i], err)
				continue
			}
			entries = append(entries, Entry{
				Identity: strings.TrimPrefix(batch[i], s.prefix),
				Session:  decoded,
			})
		}
	}
	return entries, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decode(raw string) (Session, error) {
	var value Session
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if value.State == "" {
		value.State = StateStart
	}
	return value, nil
}
