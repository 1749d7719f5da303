// Package lock provides a Redis-backed mutual exclusion primitive so that
// multiple scheduler replicas do not fire the same tick action twice.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Lock coordinates single-holder ownership of named scheduler actions.
type Lock struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	token     string
}

// New constructs a lock helper. Each instance carries its own holder token, so
// a replica can only release locks it acquired itself.
func New(client *redis.Client, keyPrefix string, ttl time.Duration) *Lock {
	if keyPrefix == "" {
		keyPrefix = "leadsched:lock"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lock{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		token:     uuid.NewString(),
	}
}

// Acquire attempts to take the named lock. It returns false when another
// holder currently owns it.
func (l *Lock) Acquire(ctx context.Context, name string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(name), l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock acquire %s: %w", name, err)
	}
	return ok, nil
}

// Release frees the named lock if this instance still holds it.
func (l *Lock) Release(ctx context.Context, name string) error {
	script := redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]
if redis.call('GET', key) == token then
  return redis.call('DEL', key)
end
return 0
`)
	if _, err := script.Run(ctx, l.client, []string{l.key(name)}, l.token).Int(); err != nil {
		return fmt.Errorf("lock release %s: %w", name, err)
	}
	return nil
}

func (l *Lock) key(name string) string {
	return fmt.Sprintf("%s:%s", l.keyPrefix, name)
}
