package redisad

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Leaser claims job keys with SET NX PX so that scheduler instances sharing one Redis never
// run the same (agency, url) key concurrently. A crashed holder's claim expires on its own.
type Leaser struct {
	c      redis.UniversalClient
	prefix string
}

func NewLeaser(c redis.UniversalClient, prefix string) *Leaser {
	if prefix == "" {
		prefix = "tripscout:lease:"
	}
	return &Leaser{c: c, prefix: prefix}
}

func (l *Leaser) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.c.SetNX(ctx, l.prefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes the claim only while owner still holds it.
func (l *Leaser) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, l.c, []string{l.prefix + key}, owner).Err(); err != nil {
		return fmt.Errorf("lease release %s: %w", key, err)
	}
	return nil
}
