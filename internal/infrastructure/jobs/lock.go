package jobs

import (
	"context"
	"sync"
	"time"

	"xledger/internal/application/port"
)

type lease struct {
	runID   string
	expires time.Time
}

// LocalLock is an in-process run token, used when Redis is disabled.
type LocalLock struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{leases: make(map[string]lease), now: time.Now}
}

func (l *LocalLock) TryAcquire(ctx context.Context, account, runID string, ttl time.Duration) (bool, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.leases[account]; ok && (cur.expires.IsZero() || now.Before(cur.expires)) {
		return false, cur.runID, nil
	}
	l.leases[account] = lease{runID: runID, expires: expiry(now, ttl)}
	return true, runID, nil
}

func (l *LocalLock) Refresh(ctx context.Context, account, runID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[account]
	if !ok || cur.runID != runID {
		return nil
	}
	cur.expires = expiry(l.now(), ttl)
	l.leases[account] = cur
	return nil
}

func (l *LocalLock) Release(ctx context.Context, account, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[account]; ok && cur.runID == runID {
		delete(l.leases, account)
	}
	return nil
}

// holder returns the run currently holding account's token.
func (l *LocalLock) holder(account string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[account]
	if !ok || (!cur.expires.IsZero() && !l.now().Before(cur.expires)) {
		return "", false
	}
	return cur.runID, true
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

var _ port.RunLock = (*LocalLock)(nil)
