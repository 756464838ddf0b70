package syncer

import (
	"sync"
	"time"
)

// TTLLock is a non-blocking lock that expires on its own. A holder that
// crashes mid-pass never wedges the sync loop: once the TTL elapses the next
// acquirer simply takes over.
type TTLLock struct {
	mu      sync.Mutex
	ttl     time.Duration
	expires time.Time
	now     func() time.Time
}

// NewTTLLock creates a lock whose acquisitions expire after ttl.
func NewTTLLock(ttl time.Duration) *TTLLock {
	return &TTLLock{ttl: ttl, now: time.Now}
}

// TryAcquire takes the lock if it is free or expired. Returns false when
// another holder still owns it.
func (l *TTLLock) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Before(l.expires) {
		return false
	}
	l.expires = now.Add(l.ttl)
	return true
}

// Release frees the lock before its TTL elapses.
func (l *TTLLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expires = time.Time{}
}
