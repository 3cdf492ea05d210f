package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/phishguard/internal/model"
)

// DefaultKeyPrefix namespaces cache keys in a shared Redis database.
const DefaultKeyPrefix = "phishguard:result:"

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

const (
	connectionTimeout = 5 * time.Second
	scanBatch         = 100
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // the ping error is what matters
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// envelope is the stored form of an entry. The insertion time travels
// with the value so freshness is decided the same way as in Memory.
type envelope struct {
	InsertedAt time.Time           `json:"inserted_at"`
	Result     *model.FullAnalysis `json:"result"`
}

// Redis is a Cache shared between processes through Redis.
type Redis struct {
	client    redis.Cmdable
	prefix    string
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
}

// RedisOption configures a Redis cache.
type RedisOption func(*Redis)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRetention makes Redis physically drop entries after d. Zero keeps
// entries until Clear, matching the in-memory cache.
func WithRetention(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithRedisClock replaces time.Now, mainly for tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRedis creates a cache on top of client. A non-positive ttl uses
// DefaultTTL.
func NewRedis(client redis.Cmdable, ttl time.Duration, opts ...RedisOption) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Redis{
		client: client,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) (*model.FullAnalysis, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}
	if e.Result == nil || !fresh(e.InsertedAt, r.now(), r.ttl) {
		return nil, false, nil
	}
	return e.Result, true, nil
}

// Put implements Cache.
func (r *Redis) Put(ctx context.Context, key string, v *model.FullAnalysis) error {
	data, err := json.Marshal(envelope{InsertedAt: r.now(), Result: v})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.retention).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Stats implements Cache.
func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{Total: len(keys)}
	now := r.now()
	for start := 0; start < len(keys); start += scanBatch {
		chunk := keys[start:min(start+scanBatch, len(keys))]
		values, err := r.client.MGet(ctx, chunk...).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("redis mget: %w", err)
		}
		for _, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var e envelope
			if json.Unmarshal([]byte(str), &e) != nil {
				continue
			}
			if fresh(e.InsertedAt, now, r.ttl) {
				s.Active++
			}
		}
	}
	return s, nil
}

// Clear implements Cache.
func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.keys(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += scanBatch {
		chunk := keys[start:min(start+scanBatch, len(keys))]
		if err := r.client.Del(ctx, chunk...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// TTL implements Cache.
func (r *Redis) TTL() time.Duration {
	return r.ttl
}

// keys lists every entry under the prefix. SCAN may return a key more than
// once while the keyspace is rehashing, so results are deduplicated.
func (r *Redis) keys(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		keys   []string
		seen   = make(map[string]struct{})
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range batch {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
