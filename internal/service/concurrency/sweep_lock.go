package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// SweepLock keeps concurrent sweeper instances from processing the same batch.
// Lost locks are harmless: every sweep action is a conditional update that a
// second runner simply loses.
type SweepLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	holder string
}

// NewSweepLock constructs a lock with a process-unique holder token.
func NewSweepLock(client *redis.Client, keyPrefix string, ttl time.Duration) *SweepLock {
	return &SweepLock{
		client: client,
		key:    keyPrefix + ":lock",
		ttl:    ttl,
		holder: uuid.NewString(),
	}
}

// TryAcquire takes the lock if it is free or already held by this process,
// refreshing the TTL.
func (l *SweepLock) TryAcquire(ctx context.Context) (bool, error) {
	script := redis.NewScript(`
local key = KEYS[1]
local holder = ARGV[1]
local ttl = tonumber(ARGV[2])
local current = redis.call('GET', key)
if current == false or current == holder then
  redis.call('SET', key, holder, 'PX', ttl)
  return 1
end
return 0
`)
	res, err := script.Run(ctx, l.client, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("sweep lock acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees the lock if this process still holds it.
func (l *SweepLock) Release(ctx context.Context) error {
	script := redis.NewScript(`
local key = KEYS[1]
local holder = ARGV[1]
if redis.call('GET', key) == holder then
  return redis.call('DEL', key)
end
return 0
`)
	if _, err := script.Run(ctx, l.client, []string{l.key}, l.holder).Int(); err != nil {
		return fmt.Errorf("sweep lock release: %w", err)
	}
	return nil
}
