package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/genealogy/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyPublicRead   = "genealogy:public:read:%s"
	keyPublicUpdate = "genealogy:public:update:%s"
	keyPublicLock   = "genealogy:public:lock:%s"

	updateLockTTL = 10 * time.Second
)

// PublicTokenLimiter throttles the unauthenticated token endpoints per
// client and serializes concurrent updates made with the same token.
type PublicTokenLimiter struct {
	bucket *TokenBucket
	locker *Locker

	readRate    float64
	readBurst   int
	updateRate  float64
	updateBurst int
}

// NewPublicTokenLimiter returns nil when rate limiting is disabled. A nil
// limiter allows everything.
func NewPublicTokenLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*PublicTokenLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	limiter, err := newPublicTokenLimiter(client, limitCfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("rate limit redis unreachable", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return limiter, nil
}

func newPublicTokenLimiter(client redis.UniversalClient, cfg config.RateLimitConfig) (*PublicTokenLimiter, error) {
	if cfg.PublicTokenRate <= 0 || cfg.PublicTokenBurst <= 0 {
		return nil, errors.New("public token read rate limit must be positive")
	}
	if cfg.PublicUpdateRate <= 0 || cfg.PublicUpdateBurst <= 0 {
		return nil, errors.New("public token update rate limit must be positive")
	}
	return &PublicTokenLimiter{
		bucket:      NewTokenBucket(client),
		locker:      NewLocker(client),
		readRate:    cfg.PublicTokenRate,
		readBurst:   cfg.PublicTokenBurst,
		updateRate:  cfg.PublicUpdateRate,
		updateBurst: cfg.PublicUpdateBurst,
	}, nil
}

func (l *PublicTokenLimiter) Enabled() bool {
	return l != nil
}

func (l *PublicTokenLimiter) AllowRead(ctx context.Context, client string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPublicRead, strings.TrimSpace(client)), l.readRate, l.readBurst)
}

func (l *PublicTokenLimiter) AllowUpdate(ctx context.Context, client string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPublicUpdate, strings.TrimSpace(client)), l.updateRate, l.updateBurst)
}

// LockToken takes the update lease for a token digest. ok is false when
// another update with the same token is in flight. A disabled limiter
// grants every request an empty lease.
func (l *PublicTokenLimiter) LockToken(ctx context.Context, tokenHash string) (lease Lease, ok bool, err error) {
	if !l.Enabled() {
		return Lease{}, true, nil
	}
	lease, err = l.locker.Acquire(ctx, fmt.Sprintf(keyPublicLock, tokenHash), updateLockTTL)
	if err != nil {
		return Lease{}, false, err
	}
	return lease, lease.Held(), nil
}

func (l *PublicTokenLimiter) UnlockToken(ctx context.Context, lease Lease) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, lease)
}
