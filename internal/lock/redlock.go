package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ownerScript 仅当KEYS[1]的值等于token时执行：ARGV[2]为0时删除，否则设置毫秒过期
var ownerScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) ~= ARGV[1] then
		return 0
	end
	if ARGV[2] == "0" then
		return redis.call("DEL", KEYS[1])
	end
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
`)

const (
	redlockKeyPrefix = "surveyvote:lock:"
	// clockDrift 时钟漂移系数，有效期扣除 ttl*clockDrift + 2ms
	clockDrift = 0.01
)

type redisNode struct {
	addr   string
	client *redis.Client
}

// RedLock 多个独立Redis节点上的Redlock，节点并发访问
type RedLock struct {
	nodes   []redisNode
	timeout time.Duration
	retries int
	logger  *zap.Logger

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedLock 连接所有锁节点，任一节点不可达即失败
func NewRedLock(cfg config.RedisConfig, logger *zap.Logger) (*RedLock, error) {
	if len(cfg.LockAddresses) == 0 {
		return nil, errors.New("未配置Redis锁节点")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	r := &RedLock{
		timeout: timeout,
		retries: cfg.LockRetryCount,
		logger:  logger,
		tokens:  make(map[string]string),
	}
	if r.retries <= 0 {
		r.retries = 1
	}
	for _, addr := range cfg.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			MaxRetries:   0,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		})
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			client.Close()
			r.Close()
			return nil, errors.Wrapf(err, "Redis锁节点 %s 连接失败", addr)
		}
		r.nodes = append(r.nodes, redisNode{addr: addr, client: client})
	}
	return r, nil
}

func (r *RedLock) quorum() int {
	return len(r.nodes)/2 + 1
}

// onNodes 在每个节点上并发执行op，返回成功的节点数
func (r *RedLock) onNodes(lockName, action string, op func(ctx context.Context, n redisNode) (bool, error)) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, n := range r.nodes {
		wg.Add(1)
		go func(n redisNode) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			success, err := op(ctx, n)
			if err != nil {
				r.logger.Warn("锁节点操作失败",
					zap.String("action", action),
					zap.String("node", n.addr),
					zap.String("lock", lockName),
					zap.Error(err))
				return
			}
			if success {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(n)
	}
	wg.Wait()
	return ok
}

// AcquireLock 多数节点SETNX成功，且扣除耗时与漂移后仍有有效期，才算获取成功
func (r *RedLock) AcquireLock(lockName string, timeout time.Duration) (string, bool, error) {
	r.mu.Lock()
	_, held := r.tokens[lockName]
	r.mu.Unlock()
	if held {
		return "", false, nil
	}

	key := redlockKeyPrefix + lockName
	token := uuid.NewString()
	drift := time.Duration(float64(timeout)*clockDrift) + 2*time.Millisecond

	for attempt := 0; attempt < r.retries; attempt++ {
		start := time.Now()
		n := r.onNodes(lockName, "acquire", func(ctx context.Context, node redisNode) (bool, error) {
			return node.client.SetNX(ctx, key, token, timeout).Result()
		})

		if n >= r.quorum() && timeout-time.Since(start)-drift > 0 {
			r.mu.Lock()
			if _, held := r.tokens[lockName]; !held {
				r.tokens[lockName] = token
				r.mu.Unlock()
				return token, true, nil
			}
			r.mu.Unlock()
			r.release(lockName, token)
			return "", false, nil
		}

		r.release(lockName, token)
		if attempt+1 < r.retries {
			time.Sleep(r.timeout / 10)
		}
	}
	return "", false, nil
}

// RefreshLock 在多数节点上延长有效期，否则视为已丢失
func (r *RedLock) RefreshLock(lockName, token string, timeout time.Duration) (bool, error) {
	r.mu.Lock()
	current, ok := r.tokens[lockName]
	r.mu.Unlock()
	if !ok {
		return false, errors.Errorf("未持有锁 %s", lockName)
	}
	if current != token {
		return false, nil
	}

	key := redlockKeyPrefix + lockName
	ms := timeout.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	n := r.onNodes(lockName, "refresh", func(ctx context.Context, node redisNode) (bool, error) {
		res, err := ownerScript.Run(ctx, node.client, []string{key}, token, ms).Int64()
		return res == 1, err
	})
	if n >= r.quorum() {
		return true, nil
	}

	r.mu.Lock()
	if r.tokens[lockName] == token {
		delete(r.tokens, lockName)
	}
	r.mu.Unlock()
	return false, nil
}

// ReleaseLock 只释放token持有的锁，节点上的值不等于token时脚本不删除
func (r *RedLock) ReleaseLock(lockName, token string) error {
	r.mu.Lock()
	if r.tokens[lockName] == token {
		delete(r.tokens, lockName)
	}
	r.mu.Unlock()

	r.release(lockName, token)
	return nil
}

// release 在所有节点上删除token对应的锁
func (r *RedLock) release(lockName, token string) {
	key := redlockKeyPrefix + lockName
	r.onNodes(lockName, "release", func(ctx context.Context, node redisNode) (bool, error) {
		err := ownerScript.Run(ctx, node.client, []string{key}, token, 0).Err()
		if errors.Is(err, redis.Nil) {
			err = nil
		}
		return err == nil, err
	})
}

func (r *RedLock) ReleaseAllLocks() {
	r.mu.Lock()
	tokens := r.tokens
	r.tokens = make(map[string]string)
	r.mu.Unlock()

	for name, token := range tokens {
		r.release(name, token)
	}
}

// Close 释放全部锁并关闭节点连接
func (r *RedLock) Close() error {
	r.ReleaseAllLocks()
	var firstErr error
	for _, n := range r.nodes {
		if err := n.client.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "关闭锁节点 %s 失败", n.addr)
		}
	}
	return firstErr
}
