package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var ErrInvalidTTL = errors.New("lease ttl must be positive")

// The lease is only dropped while its owner token still matches.
const releaseLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Lease is a held lock. The zero value holds nothing.
type Lease struct {
	Key   string
	Owner string
}

func (l Lease) Held() bool {
	return l.Key != "" && l.Owner != ""
}

// Locker hands out single-holder leases keyed by name.
type Locker struct {
	client  redis.Cmdable
	release *redis.Script
}

func NewLocker(client redis.Cmdable) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, release: redis.NewScript(releaseLeaseScript)}
}

// Acquire returns the zero lease and no error when another owner holds key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	switch {
	case l == nil || l.client == nil:
		return Lease{}, ErrNotConfigured
	case key == "":
		return Lease{}, ErrEmptyKey
	case ttl <= 0:
		return Lease{}, ErrInvalidTTL
	}

	owner := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil || !acquired {
		return Lease{}, err
	}
	return Lease{Key: key, Owner: owner}, nil
}

func (l *Locker) Release(ctx context.Context, lease Lease) error {
	if l == nil || l.client == nil || !lease.Held() {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{lease.Key}, lease.Owner).Err()
}
