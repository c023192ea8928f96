package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

// acquireScript increments the window counter and only keeps the increment
// when it stays within capacity, so a denied call leaves no trace.
var acquireScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
	return 0
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

// RedisFixedWindow shares one quota across every dispatcher instance.
type RedisFixedWindow struct {
	client   redis.UniversalClient
	prefix   string
	capacity int
	window   time.Duration
	now      func() time.Time
	logger   *logger.Logger
}

func NewRedisFixedWindow(client redis.UniversalClient, prefix string, capacity int, window time.Duration, log *logger.Logger) *RedisFixedWindow {
	if window <= 0 {
		window = time.Minute
	}
	// slots are counted in whole milliseconds
	if window < time.Millisecond {
		window = time.Millisecond
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisFixedWindow{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		window:   window,
		now:      time.Now,
		logger:   log,
	}
}

func (l *RedisFixedWindow) key() string {
	slot := l.now().UnixMilli() / l.window.Milliseconds()
	return fmt.Sprintf("%s:%d", l.prefix, slot)
}

// TryAcquire denies when Redis is unreachable.
func (l *RedisFixedWindow) TryAcquire(ctx context.Context) bool {
	ok, err := acquireScript.Run(ctx, l.client, []string{l.key()}, l.capacity, l.window.Milliseconds()).Int()
	if err != nil {
		l.logger.Error(err, "Rate limiter unavailable, denying send")
		return false
	}
	return ok == 1
}
