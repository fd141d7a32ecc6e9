package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/lvdashuaibi/surveyvote/internal/resolver"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// Redis键前缀
	ResultKey        = "resolver:"
	ResultVersionKey = "resolver:ver:"
	SummaryKey       = "summary:"

	// 读取版本号及该版本的结果
	getResultScript = `
		local ver = redis.call('GET', KEYS[1])
		if not ver then
			ver = '0'
		end
		local data = redis.call('GET', KEYS[2] .. ver)
		if not data then
			return {ver}
		end
		return {ver, data}
	`

	// 版本号未变化时才写入
	putResultScript = `
		local ver = redis.call('GET', KEYS[1])
		if not ver then
			ver = '0'
		end
		if ver ~= ARGV[1] then
			return 0
		end
		redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
		return 1
	`
)

// RedisCache 多实例共享的裁决结果缓存
// 结果按版本号存放，旧版本依靠过期时间回收
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu           sync.RWMutex
	scriptHashes map[string]string // 存储脚本SHA1哈希值
}

func NewRedisCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.DataAddress,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "Redis数据节点连接测试失败")
	}

	c, err := NewRedisCacheWithClient(ctx, client, cfg.ResultTTL, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// NewRedisCacheWithClient 使用已有客户端
func NewRedisCacheWithClient(ctx context.Context, client *redis.Client, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &RedisCache{
		client:       client,
		ttl:          ttl,
		logger:       logger,
		scriptHashes: make(map[string]string),
	}

	// 预加载Lua脚本
	if err := c.preloadScripts(ctx); err != nil {
		return nil, errors.Wrap(err, "预加载Lua脚本失败")
	}
	return c, nil
}

var scripts = map[string]string{
	"getResult": getResultScript,
	"putResult": putResultScript,
}

func (c *RedisCache) preloadScripts(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, src := range scripts {
		sha1, err := c.client.ScriptLoad(ctx, src).Result()
		if err != nil {
			return errors.Wrapf(err, "加载脚本 %s 失败", name)
		}
		c.scriptHashes[name] = sha1
	}
	return nil
}

// evalScript 使用EVALSHA执行预加载脚本，脚本不存在时重新加载后再试
func (c *RedisCache) evalScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	sha1, ok := c.scriptHashes[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("脚本 %s 未预加载", name)
	}

	result, err := c.client.EvalSha(ctx, sha1, keys, args...).Result()
	if err == nil || err == redis.Nil || !strings.HasPrefix(err.Error(), "NOSCRIPT") {
		return result, err
	}

	sha1, err = c.client.ScriptLoad(ctx, scripts[name]).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "重新加载脚本 %s 失败", name)
	}
	c.mu.Lock()
	c.scriptHashes[name] = sha1
	c.mu.Unlock()
	return c.client.EvalSha(ctx, sha1, keys, args...).Result()
}

func versionKey(locale, path string) string {
	return ResultVersionKey + locale + ":" + path
}

func resultKey(locale, path string) string {
	return ResultKey + locale + ":" + path + ":"
}

func (c *RedisCache) Get(ctx context.Context, locale, path string) (*resolver.Result, uint64, bool, error) {
	raw, err := c.evalScript(ctx, "getResult", []string{versionKey(locale, path), resultKey(locale, path)})
	if err != nil {
		return nil, 0, false, errors.Wrap(err, "读取裁决缓存失败")
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, 0, false, errors.New("LUA脚本返回格式错误")
	}
	verStr, _ := reply[0].(string)
	stamp, err := strconv.ParseUint(verStr, 10, 64)
	if err != nil {
		return nil, 0, false, errors.Wrap(err, "解析缓存版本号失败")
	}
	if len(reply) < 2 {
		return nil, stamp, false, nil
	}

	data, _ := reply[1].(string)
	var res resolver.Result
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		// 损坏的缓存按未命中处理
		c.logger.Warn("解析裁决缓存失败", zap.String("locale", locale), zap.String("path", path), zap.Error(err))
		return nil, stamp, false, nil
	}
	return &res, stamp, true, nil
}

func (c *RedisCache) Put(ctx context.Context, locale, path string, stamp uint64, res *resolver.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "序列化裁决结果失败")
	}
	ver := strconv.FormatUint(stamp, 10)
	_, err = c.evalScript(ctx, "putResult",
		[]string{versionKey(locale, path), resultKey(locale, path) + ver},
		ver, data, c.ttl.Milliseconds())
	if err != nil {
		return errors.Wrap(err, "写入裁决缓存失败")
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, locale, path string) error {
	if err := c.client.Incr(ctx, versionKey(locale, path)).Err(); err != nil {
		return errors.Wrap(err, "更新缓存版本号失败")
	}
	return nil
}

// SaveSummary 保存locale汇总
func (c *RedisCache) SaveSummary(ctx context.Context, s *model.LocaleSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "序列化汇总失败")
	}
	if err := c.client.Set(ctx, SummaryKey+s.Locale, data, 0).Err(); err != nil {
		return errors.Wrap(err, "保存汇总失败")
	}
	return nil
}

// GetSummary 读取locale汇总，不存在时返回 nil, nil
func (c *RedisCache) GetSummary(ctx context.Context, locale string) (*model.LocaleSummary, error) {
	data, err := c.client.Get(ctx, SummaryKey+locale).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Wrap(err, "读取汇总失败")
	}
	var s model.LocaleSummary
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, errors.Wrap(err, "解析汇总失败")
	}
	return &s, nil
}

// Close 关闭Redis连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}
