package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	redisclient "github.com/recrutai/engage-server-go/internal/redis"
)

// Lease grants one instance cluster-wide ownership of a session's live
// connection.
type Lease interface {
	// Acquire takes the lease, or extends it when this instance already
	// holds it. It reports false when another instance owns the session.
	Acquire(ctx context.Context, sessionID string) (bool, error)
	// Renew extends a held lease. It reports false when the lease was lost.
	Renew(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

var acquireScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false then
    redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
    return 1
end
if current == ARGV[1] then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
    return 1
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
    return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisLease struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

// NewRedisLease identifies this process with a random owner id.
func NewRedisLease(client *redis.Client, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, owner: uuid.NewString(), ttl: ttl}
}

func (l *RedisLease) Owner() string {
	return l.owner
}

func (l *RedisLease) Acquire(ctx context.Context, sessionID string) (bool, error) {
	return l.run(ctx, acquireScript, sessionID)
}

func (l *RedisLease) Renew(ctx context.Context, sessionID string) (bool, error) {
	return l.run(ctx, renewScript, sessionID)
}

func (l *RedisLease) Release(ctx context.Context, sessionID string) error {
	_, err := l.run(ctx, releaseScript, sessionID)
	return err
}

func (l *RedisLease) run(ctx context.Context, script *redis.Script, sessionID string) (bool, error) {
	n, err := script.Run(ctx, l.client,
		[]string{redisclient.SessionLeaseKey(sessionID)},
		l.owner, l.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
