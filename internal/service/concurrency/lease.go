package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// AssignmentLease serializes assignment attempts per queue entry using Redis.
// The database conditional update remains the source of truth; the lease just
// keeps racing agents from burning transactions on the same entry.
type AssignmentLease struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAssignmentLease constructs a lease guard.
func NewAssignmentLease(client *redis.Client, ttl time.Duration) *AssignmentLease {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &AssignmentLease{client: client, ttl: ttl}
}

// Acquire attempts to take the lease on a queue entry for the agent.
func (l *AssignmentLease) Acquire(ctx context.Context, entryID, agentID uuid.UUID) (bool, error) {
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

	key := l.key(entryID)
	res, err := script.Run(ctx, l.client, []string{key}, agentID.String(), l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("assignment lease acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees the lease if the agent still holds it.
func (l *AssignmentLease) Release(ctx context.Context, entryID, agentID uuid.UUID) error {
	script := redis.NewScript(`
local key = KEYS[1]
local holder = ARGV[1]
if redis.call('GET', key) == holder then
  return redis.call('DEL', key)
end
return 0
`)
	if _, err := script.Run(ctx, l.client, []string{l.key(entryID)}, agentID.String()).Int(); err != nil {
		return fmt.Errorf("assignment lease release: %w", err)
	}
	return nil
}

func (l *AssignmentLease) key(entryID uuid.UUID) string {
	return fmt.Sprintf("rmcdialer:queue:%s:lease", entryID.String())
}
