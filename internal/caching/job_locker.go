package caching

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another scheduler instance owns the job lock.
// It is distinct from a Redis failure, which callers may choose to run through.
var ErrLockHeld error = lockHeldError{}

type lockHeldError struct{}

func (lockHeldError) Error() string  { return "job lock held by another instance" }
func (lockHeldError) LockHeld() bool { return true }

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobLocker is a gocron.Locker backed by Redis SET NX, so only one scheduler
// replica runs a given job at a time.
type JobLocker struct {
	client   redis.UniversalClient
	ttls     map[string]time.Duration
	fallback time.Duration
}

var _ gocron.Locker = (*JobLocker)(nil)

// NewJobLocker returns a locker whose keys expire in case the owner dies
// without unlocking. Each job's key lives for its entry in ttls, which should
// cover the job's longest run including retries; unlisted jobs use fallback.
func NewJobLocker(client redis.UniversalClient, ttls map[string]time.Duration, fallback time.Duration) *JobLocker {
	return &JobLocker{client: client, ttls: ttls, fallback: fallback}
}

// TTL is the expiry applied to the lock of the named job.
func (l *JobLocker) TTL(jobName string) time.Duration {
	if ttl, ok := l.ttls[jobName]; ok && ttl > 0 {
		return ttl
	}
	return l.fallback
}

func lockKey(jobName string) string {
	return fmt.Sprintf("%s:joblock:%s", keyPrefix, jobName)
}

func (l *JobLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(key), token, l.TTL(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisLock{client: l.client, key: lockKey(key), token: token}, nil
}

type redisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Unlock deletes the key only if this lock still owns it.
func (l *redisLock) Unlock(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
