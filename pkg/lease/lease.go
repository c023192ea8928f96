// Package lease provides a mutual-exclusion lease so that at most one
// dispatch cycle runs at a time across processes.
package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is acquired before a cycle and released after it. ok is false when
// another holder owns the lease.
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

// Local serialises holders inside one process.
type Local struct {
	mu      sync.Mutex
	held    bool
	expires time.Time
	now     func() time.Time
}

func NewLocal() *Local {
	return &Local{now: time.Now}
}

func (l *Local) Acquire(_ context.Context, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.held && now.Before(l.expires) {
		return nil, false, nil
	}
	l.held = true
	l.expires = now.Add(ttl)
	token := l.expires

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held && l.expires.Equal(token) {
			l.held = false
		}
	}, true, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis holds the lease as a key set with NX and a TTL, so a crashed holder
// frees it on expiry.
type Redis struct {
	client redis.UniversalClient
	key    string
}

func NewRedis(client redis.UniversalClient, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (l *Redis) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		// Release must run even when the cycle context was cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err()
	}, true, nil
}
