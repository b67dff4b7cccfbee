package scrape

import (
	"context"
	"sync"
	"time"
)

// LocalLeaser is the single-instance lease table. Multi-instance deployments use the
// Redis leaser instead.
type LocalLeaser struct {
	mu     sync.Mutex
	leases map[string]localLease
	now    func() time.Time
}

type localLease struct {
	owner   string
	expires time.Time
}

func NewLocalLeaser() *LocalLeaser {
	return &LocalLeaser{leases: make(map[string]localLease), now: time.Now}
}

func (l *LocalLeaser) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.leases[key]; ok && cur.owner != owner && now.Before(cur.expires) {
		return false, nil
	}
	l.leases[key] = localLease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (l *LocalLeaser) Release(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[key]; ok && cur.owner == owner {
		delete(l.leases, key)
	}
	return nil
}
