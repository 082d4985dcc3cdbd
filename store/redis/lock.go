package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while this owner still holds it.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireLock takes the named lock for ttl using SET NX. It reports false
// when another owner holds it.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKey(name), s.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("clipqueue/redis: acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// ReleaseLock drops the named lock if this store still owns it. A lock
// that expired and was taken by another owner is left alone.
func (s *Store) ReleaseLock(ctx context.Context, name string) error {
	if err := releaseScript.Run(ctx, s.client, []string{lockKey(name)}, s.owner).Err(); err != nil {
		return fmt.Errorf("clipqueue/redis: release lock %s: %w", name, err)
	}
	return nil
}
