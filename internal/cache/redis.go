package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/techday-registration/internal/config"
	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
)

// NewRedisClient instantiates a Redis client and pings it with a short
// timeout. It returns nil when no address is configured or the server
// cannot be reached; callers should fall back to an in-process cache.
func NewRedisClient(cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	var tlsConf *tls.Config
	if cfg.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConf,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-process status cache", "addr", cfg.Addr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// Redis is a StatusCache shared by every instance behind a load balancer.
// Redis errors are logged and treated as cache misses.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis wraps client. Keys are namespaced with prefix.
func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *Redis) key() string {
	if r.prefix == "" {
		return statusKey
	}
	return r.prefix + ":" + statusKey
}

func (r *Redis) Get(ctx context.Context) (model.AdmissionState, bool) {
	raw, err := r.client.Get(ctx, r.key()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("status cache read failed", "error", err)
		}
		return model.AdmissionState{}, false
	}
	var state model.AdmissionState
	if err := json.Unmarshal(raw, &state); err != nil {
		r.logger.Warn("status cache entry corrupt", "error", err)
		return model.AdmissionState{}, false
	}
	return state, true
}

func (r *Redis) Set(ctx context.Context, state model.AdmissionState) {
	raw, err := json.Marshal(state)
	if err != nil {
		r.logger.Warn("status cache encode failed", "error", err)
		return
	}
	if err := r.client.Set(ctx, r.key(), raw, r.ttl).Err(); err != nil {
		r.logger.Warn("status cache write failed", "error", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context) {
	if err := r.client.Del(ctx, r.key()).Err(); err != nil {
		r.logger.Warn("status cache invalidate failed", "error", err)
	}
}
