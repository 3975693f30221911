package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dcossios/TravelAgent/internal/config"
)

// NewRedisClient connects to the configured Redis. It returns nil when no
// address is set or the server does not answer a ping; callers then run
// without rate limiting.
func NewRedisClient(cfg config.RedisConfig, logger *log.Logger) *redis.Client {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Printf("ratelimit: redis %s unavailable: %v", cfg.Addr, err)
		}
		_ = client.Close()
		return nil
	}
	return client
}

var bucket = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

if interval_ms > 0 then
  local elapsed = math.max(0, now_ms - last_refill)
  local intervals = math.floor(elapsed / interval_ms)
  if intervals > 0 then
    tokens = math.min(capacity, tokens + intervals)
    last_refill = last_refill + (intervals * interval_ms)
  end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return { allowed, tokens, retry_after_ms }
`)

// KeyFunc names the bucket a request draws from.
type KeyFunc func(r *http.Request) string

// Limiter is a Redis token bucket shared by every server instance.
type Limiter struct {
	Config config.RateLimitConfig
	Redis  *redis.Client
	Key    KeyFunc
	Logger *log.Logger
	Now    func() time.Time
}

// Decision is the outcome of drawing one token.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

func (l Limiter) enabled() bool {
	return l.Config.Enabled && l.Redis != nil && l.Config.Capacity > 0
}

func (l Limiter) ttlSeconds() int64 {
	ttl := 5 * l.Config.RefillEvery.Duration
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return int64(ttl / time.Second)
}

// Take draws a token for key.
func (l Limiter) Take(ctx context.Context, key string) (Decision, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	vals, err := bucket.Run(ctx, l.Redis, []string{l.Config.Prefix + key},
		now().UnixMilli(), l.Config.Capacity, l.Config.RefillEvery.Milliseconds(), l.ttlSeconds()).Result()
	if err != nil {
		return Decision{}, err
	}
	arr, ok := vals.([]any)
	if !ok || len(arr) != 3 {
		return Decision{}, fmt.Errorf("unexpected script result %#v", vals)
	}
	return Decision{
		Allowed:    asInt64(arr[0]) == 1,
		Remaining:  asInt64(arr[1]),
		RetryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
	}, nil
}

// Middleware guards next with the bucket. It passes every request through
// when disabled, when Redis is absent, or when Redis errors.
func (l Limiter) Middleware(next http.Handler) http.Handler {
	if !l.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "anon"
		if l.Key != nil {
			if k := l.Key(r); k != "" {
				key = k
			}
		}
		d, err := l.Take(r.Context(), key)
		if err != nil {
			if l.Logger != nil {
				l.Logger.Printf("ratelimit: redis error for key=%s: %v", key, err)
			}
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.Config.Capacity))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":       "Too many generation requests",
				"details":     "rate limit exceeded",
				"retry_after": secs,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
