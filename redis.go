package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Backend on Redis. Each record lives under
// <prefix><id> with a PEXPIREAT matching its expiry, and a sorted set
// <prefix>expiry indexes ids by expiry so cleanup and count are exact.
// On a *redis.ClusterClient the prefix is hash-tagged ("{session:}") unless
// it already carries a tag, so all of the store's keys share one slot.
type RedisStore struct {
	client          redis.UniversalClient
	prefix          string
	index           string
	codec           Codec
	maxSessionBytes int
	ownsClient      bool
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	KeyPrefix       string // Defaults to "session:".
	Codec           *Codec // Defaults to MsgPack.
	MaxSessionBytes int
}

// NewRedisStore returns a store on a client owned by the caller.
func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "session:"
	}
	prefix = slotPrefix(client, prefix)
	codec := MsgPack
	if cfg.Codec != nil {
		codec = *cfg.Codec
	}
	return &RedisStore{
		client:          client,
		prefix:          prefix,
		index:           prefix + "expiry",
		codec:           codec,
		maxSessionBytes: cfg.MaxSessionBytes,
	}
}

// NewRedisStoreFromURL dials Redis from a redis:// URL. The store owns the
// client and closes it on Close.
func NewRedisStoreFromURL(ctx context.Context, url string, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	s := NewRedisStore(client, cfg)
	s.ownsClient = true
	return s, nil
}

// slotPrefix hash-tags prefix for Redis Cluster. The cleanup script reaches
// value keys it cannot declare up front, which only works within one slot.
func slotPrefix(client redis.UniversalClient, prefix string) string {
	if _, ok := client.(*redis.ClusterClient); !ok || hasHashTag(prefix) {
		return prefix
	}
	return "{" + prefix + "}"
}

func hasHashTag(key string) bool {
	open := strings.IndexByte(key, '{')
	if open < 0 {
		return false
	}
	return strings.IndexByte(key[open+1:], '}') > 0
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Record, error) {
	blob, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if s.maxSessionBytes > 0 && len(blob) > s.maxSessionBytes {
		return nil, ErrSessionTooLarge
	}
	r, err := decodeEnvelope(s.codec, id, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}
	if r.Expired(time.Now()) {
		return nil, nil
	}
	return r, nil
}

func (s *RedisStore) Save(ctx context.Context, r *Record) error {
	if r == nil || r.ID == "" {
		return ErrInvalidSessionID
	}
	blob, err := encodeEnvelope(s.codec, r)
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}
	if s.maxSessionBytes > 0 && len(blob) > s.maxSessionBytes {
		return ErrSessionTooLarge
	}

	key := s.key(r.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, blob, 0)
		if !r.ExpiresAt.IsZero() {
			pipe.PExpireAt(ctx, key, r.ExpiresAt)
		}
		pipe.ZAdd(ctx, s.index, redis.Z{Score: expiryScore(r.ExpiresAt), Member: r.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, s.index, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// cleanupScript removes every indexed id scored below ARGV[1] together with
// its value key, atomically with respect to concurrent saves.
var cleanupScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[2] .. id)
end
if #ids > 0 then
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
return #ids
`)

func (s *RedisStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	upper := "(" + strconv.FormatInt(now.UnixMicro(), 10)
	n, err := cleanupScript.Run(ctx, s.client, []string{s.index}, upper, s.prefix).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.index).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(n), nil
}

// Close closes the client only when the store dialed it.
func (s *RedisStore) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

// expiryScore keeps microsecond precision, which float64 holds exactly.
func expiryScore(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro())
}
