package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type localEntry struct {
	token   string
	expires time.Time // 零值表示不过期
}

// LocalLock 进程内锁，单实例部署时作为路径临界区
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]localEntry
	now   func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{
		locks: make(map[string]localEntry),
		now:   time.Now,
	}
}

func (l *LocalLock) live(e localEntry) bool {
	return e.expires.IsZero() || l.now().Before(e.expires)
}

func (l *LocalLock) AcquireLock(lockName string, timeout time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.locks[lockName]; ok && l.live(e) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[lockName] = localEntry{token: token, expires: l.expiry(timeout)}
	return token, true, nil
}

func (l *LocalLock) expiry(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return l.now().Add(timeout)
}

func (l *LocalLock) RefreshLock(lockName, token string, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[lockName]
	if !ok {
		return false, errors.Errorf("未持有锁 %s", lockName)
	}
	if e.token != token {
		return false, nil
	}
	e.expires = l.expiry(timeout)
	l.locks[lockName] = e
	return true, nil
}

// ReleaseLock 仅删除token对应的锁；过期后被他人取得的锁保持不变
func (l *LocalLock) ReleaseLock(lockName, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.locks[lockName]; ok && e.token == token {
		delete(l.locks, lockName)
	}
	return nil
}

func (l *LocalLock) ReleaseAllLocks() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks = make(map[string]localEntry)
}

func (l *LocalLock) Close() error {
	l.ReleaseAllLocks()
	return nil
}
