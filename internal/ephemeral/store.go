package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrAbsent is returned when a key does not exist or its TTL has elapsed.
	ErrAbsent = errors.New("ephemeral key absent")
	// ErrUnavailable wraps every transport or server error from Redis.
	ErrUnavailable = errors.New("ephemeral store unavailable")
)

const defaultPrefix = "wa"

// incrementLua increments a counter and arms its expiry on the first hit of the window.
// KEYS[1] = counter key
// ARGV[1] = window in milliseconds
var incrementLua = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// compareAndDeleteLua deletes KEYS[1] only when it still holds ARGV[1].
// Returns 1 when deleted, 0 otherwise.
var compareAndDeleteLua = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and v == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// Store is a namespaced key/value store with per-key expiry.
//
// Expiry is enforced by Redis itself, so a key whose TTL has elapsed is never
// returned even if it has not yet been physically evicted.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// New returns a Store that namespaces every key under prefix.
func New(redisClient redis.UniversalClient, prefix string) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{redis: redisClient, prefix: prefix}
}

// Key returns the fully qualified Redis key for the given parts.
func (s *Store) Key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

// Set stores value under key, overwriting any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ephemeral set requires positive ttl")
	}
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the value under key, or ErrAbsent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAbsent
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, nil
}

// Delete removes keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SetIfAbsent stores value only when key does not exist. It reports whether
// the write happened.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ephemeral set requires positive ttl")
	}
	ok, err := s.redis.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// TTL returns the remaining lifetime of key, or ErrAbsent when it does not exist.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// go-redis reports -2 for a missing key and -1 for a key without expiry.
	switch {
	case ttl == -2:
		return 0, ErrAbsent
	case ttl < 0:
		return 0, nil
	}
	return ttl, nil
}

// Increment atomically increments the counter under key. The window starts on
// the first increment and lasts ttl.
func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, errors.New("ephemeral increment requires positive ttl")
	}
	n, err := incrementLua.Run(ctx, s.redis, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// CompareAndDelete deletes key only if it still holds expected. It reports
// whether this caller performed the delete, so exactly one of several racing
// consumers observes true.
func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDeleteLua.Run(ctx, s.redis, []string{key}, expected).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// Run executes script against keys. Script errors raised with {err=...} are
// returned unchanged so callers can map them; transport errors are wrapped.
func (s *Store) Run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	result, err := script.Run(ctx, s.redis, keys, args...).Result()
	if err != nil {
		if isScriptError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func isScriptError(err error) bool {
	var redisErr redis.Error
	if !errors.As(err, &redisErr) {
		return false
	}
	msg := err.Error()
	// Server-side failures carry an upper-case prefix (ERR, NOSCRIPT, LOADING...).
	return msg != "" && (msg[0] < 'A' || msg[0] > 'Z')
}
