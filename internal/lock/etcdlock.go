package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

const (
	minSessionTTL = 10 // 秒
	keyPrefix     = "/surveyvote/locks/"
)

// EtcdLock 基于etcd会话的路径锁，多实例部署时作为临界区
//
// 所有锁共用一个会话租约，会话过期时本实例持有的锁全部失效。
// 同一会话下同名的 concurrency.Mutex 共用一个键，因此同名锁在本实例内
// 的加锁与解锁都经过pending串行化，同一时刻只有一个操作在途。
type EtcdLock struct {
	client     *clientv3.Client
	sessionTTL int
	reqTimeout time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	session *concurrency.Session
	held    map[string]etcdHeld
	pending map[string]struct{}
}

type etcdHeld struct {
	token string
	m     *concurrency.Mutex
}

// NewETCDLock 连接etcd，会话在首次加锁时创建
func NewETCDLock(cfg config.ETCDConfig, logger *zap.Logger) (*EtcdLock, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "创建etcd客户端失败")
	}

	ttl := int(cfg.SessionTTL / time.Second)
	if ttl < minSessionTTL {
		ttl = minSessionTTL
	}
	reqTimeout := cfg.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = 3 * time.Second
	}
	return &EtcdLock{
		client:     cli,
		sessionTTL: ttl,
		reqTimeout: reqTimeout,
		logger:     logger,
		held:       make(map[string]etcdHeld),
		pending:    make(map[string]struct{}),
	}, nil
}

// currentSession 调用方持有mu
func (el *EtcdLock) currentSession() (*concurrency.Session, error) {
	if el.session != nil {
		select {
		case <-el.session.Done():
			el.logger.Warn("etcd会话已过期，持有的锁全部失效", zap.Int("held", len(el.held)))
			el.session = nil
			el.held = make(map[string]etcdHeld)
		default:
			return el.session, nil
		}
	}
	s, err := concurrency.NewSession(el.client, concurrency.WithTTL(el.sessionTTL))
	if err != nil {
		return nil, errors.Wrap(err, "创建etcd会话失败")
	}
	el.session = s
	return s, nil
}

// AcquireLock 尝试获取锁，不排队等待；已被占用（包括本实例）时返回 "", false, nil
func (el *EtcdLock) AcquireLock(lockName string, timeout time.Duration) (string, bool, error) {
	el.mu.Lock()
	if _, ok := el.held[lockName]; ok {
		el.mu.Unlock()
		return "", false, nil
	}
	if _, ok := el.pending[lockName]; ok {
		el.mu.Unlock()
		return "", false, nil
	}
	s, err := el.currentSession()
	if err != nil {
		el.mu.Unlock()
		return "", false, err
	}
	el.pending[lockName] = struct{}{}
	el.mu.Unlock()

	defer func() {
		el.mu.Lock()
		delete(el.pending, lockName)
		el.mu.Unlock()
	}()

	if timeout <= 0 || timeout > el.reqTimeout {
		timeout = el.reqTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	m := concurrency.NewMutex(s, keyPrefix+lockName)
	if err := m.TryLock(ctx); err != nil {
		if errors.Is(err, concurrency.ErrLocked) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "获取锁 %s 失败", lockName)
	}

	el.mu.Lock()
	defer el.mu.Unlock()
	if el.session != s {
		// 会话已过期，键随租约一起删除
		return "", false, nil
	}
	token := uuid.NewString()
	el.held[lockName] = etcdHeld{token: token, m: m}
	return token, true, nil
}

// RefreshLock 续约会话租约；租约已不存在时返回 false, nil
func (el *EtcdLock) RefreshLock(lockName, token string, _ time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	h, ok := el.held[lockName]
	if !ok {
		return false, errors.Errorf("未持有锁 %s", lockName)
	}
	if h.token != token {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), el.reqTimeout)
	defer cancel()
	if _, err := el.client.KeepAliveOnce(ctx, el.session.Lease()); err != nil {
		if errors.Is(err, rpctypes.ErrLeaseNotFound) {
			el.session = nil
			el.held = make(map[string]etcdHeld)
			return false, nil
		}
		return false, errors.Wrap(err, "续约失败")
	}
	return true, nil
}

func (el *EtcdLock) ReleaseLock(lockName, token string) error {
	el.mu.Lock()
	h, ok := el.held[lockName]
	if !ok || h.token != token {
		el.mu.Unlock()
		return nil
	}
	delete(el.held, lockName)
	el.pending[lockName] = struct{}{}
	el.mu.Unlock()

	return el.unlock(h.m, lockName)
}

// unlock 删除键期间锁名保持在pending中，调用方已将其加入
func (el *EtcdLock) unlock(m *concurrency.Mutex, lockName string) error {
	defer func() {
		el.mu.Lock()
		delete(el.pending, lockName)
		el.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), el.reqTimeout)
	defer cancel()
	if err := m.Unlock(ctx); err != nil {
		return errors.Wrapf(err, "释放锁 %s 失败", lockName)
	}
	return nil
}

func (el *EtcdLock) ReleaseAllLocks() {
	el.mu.Lock()
	held := el.held
	el.held = make(map[string]etcdHeld)
	for name := range held {
		el.pending[name] = struct{}{}
	}
	el.mu.Unlock()

	for name, h := range held {
		if err := el.unlock(h.m, name); err != nil {
			el.logger.Warn("释放锁失败", zap.String("lock", name), zap.Error(err))
		}
	}
}

// Close 释放全部锁并撤销会话租约
func (el *EtcdLock) Close() error {
	el.ReleaseAllLocks()
	el.mu.Lock()
	if el.session != nil {
		if err := el.session.Close(); err != nil {
			el.logger.Warn("关闭etcd会话失败", zap.Error(err))
		}
		el.session = nil
	}
	el.mu.Unlock()
	return el.client.Close()
}
