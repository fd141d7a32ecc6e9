package lock

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Lock 分布式锁接口
type Lock interface {
	// AcquireLock 获取锁，成功时返回本次持有的token
	// 锁被占用时返回 "", false, nil
	AcquireLock(lockName string, timeout time.Duration) (string, bool, error)

	// RefreshLock 刷新锁的过期时间，token不再持有锁时返回 false, nil
	RefreshLock(lockName, token string, timeout time.Duration) (bool, error)

	// ReleaseLock 释放token持有的锁，锁已被他人持有时不做任何事
	ReleaseLock(lockName, token string) error

	// ReleaseAllLocks 释放所有持有的锁
	ReleaseAllLocks()

	// Close 关闭锁客户端
	Close() error
}

// WithLock 获取锁后执行fn，锁被占用时每隔retry重试，直到ctx结束
func WithLock(ctx context.Context, l Lock, lockName string, ttl, retry time.Duration, fn func() error) error {
	if retry <= 0 {
		retry = 5 * time.Millisecond
	}
	var token string
	for {
		t, acquired, err := l.AcquireLock(lockName, ttl)
		if err != nil {
			return errors.Wrapf(err, "获取锁 %s 失败", lockName)
		}
		if acquired {
			token = t
			break
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrapf(ctx.Err(), "等待锁 %s 超时", lockName)
		case <-timer.C:
		}
	}
	defer l.ReleaseLock(lockName, token)
	return fn()
}
