// Package summary 定时生成每个locale的裁决汇总
//
// 多个实例中只有拿到生产者锁的一个执行刷新。
package summary

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/lvdashuaibi/surveyvote/internal/batch"
	"github.com/lvdashuaibi/surveyvote/internal/lock"
	"github.com/lvdashuaibi/surveyvote/internal/metrics"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/lvdashuaibi/surveyvote/internal/source"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	ProducerLockName = "summary:producer:lock"
)

// Store 汇总存储
type Store interface {
	SaveSummary(ctx context.Context, s *model.LocaleSummary) error
	// GetSummary 不存在时返回 nil, nil
	GetSummary(ctx context.Context, locale string) (*model.LocaleSummary, error)
}

// MemoryStore 进程内汇总存储
type MemoryStore struct {
	mu        sync.RWMutex
	summaries map[string]*model.LocaleSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{summaries: make(map[string]*model.LocaleSummary)}
}

func (m *MemoryStore) SaveSummary(_ context.Context, s *model.LocaleSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.summaries[s.Locale] = &cp
	return nil
}

func (m *MemoryStore) GetSummary(_ context.Context, locale string) (*model.LocaleSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[locale]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// Service 汇总生产者
type Service struct {
	cfg      config.SummaryConfig
	sources  *source.Registry
	batch    *batch.Resolver
	store    Store
	producer lock.Lock
	metrics  *metrics.Metrics
	logger   *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewService(
	cfg config.SummaryConfig,
	sources *source.Registry,
	resolver *batch.Resolver,
	store Store,
	producerLock lock.Lock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		sources:  sources,
		batch:    resolver,
		store:    store,
		producer: producerLock,
		metrics:  m,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start 启动定时刷新
func (s *Service) Start() {
	interval := s.cfg.RefreshInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick()
			case <-s.stopChan:
				s.logger.Info("汇总生产者已停止")
				return
			}
		}
	}()
	s.logger.Info("汇总生产者已启动", zap.Duration("interval", interval))
}

// Stop 停止定时刷新，等待进行中的刷新结束
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Service) tick() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ran, err := s.RefreshIfLeader(ctx)
	if err != nil {
		s.logger.Warn("刷新汇总失败", zap.Error(err))
		return
	}
	if !ran {
		s.logger.Debug("未能获取汇总生产者锁，跳过当前刷新")
	}
}

// RefreshIfLeader 获取生产者锁后刷新，锁被其它实例持有时返回 false, nil
func (s *Service) RefreshIfLeader(ctx context.Context) (bool, error) {
	token, acquired, err := s.producer.AcquireLock(ProducerLockName, s.lockTimeout())
	if err != nil {
		return false, errors.Wrap(err, "获取汇总生产者锁失败")
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if err := s.producer.ReleaseLock(ProducerLockName, token); err != nil {
			s.logger.Warn("释放汇总生产者锁失败", zap.Error(err))
		}
	}()
	return true, s.Refresh(ctx)
}

func (s *Service) lockTimeout() time.Duration {
	if s.cfg.LockTimeout > 0 {
		return s.cfg.LockTimeout
	}
	return 30 * time.Second
}

// Refresh 重新生成所有locale的汇总，单个locale失败不影响其它locale
func (s *Service) Refresh(ctx context.Context) error {
	locales, err := s.locales(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, locale := range locales {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.RefreshLocale(ctx, locale); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("刷新locale汇总失败", zap.String("locale", locale), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RefreshLocale 生成并保存一个locale的汇总
func (s *Service) RefreshLocale(ctx context.Context, locale string) (err error) {
	defer func() { s.metrics.SummaryRefreshed(err == nil) }()

	src, err := s.sources.ForLocale(ctx, locale)
	if err != nil {
		return err
	}
	report, err := s.batch.ResolveLocale(ctx, src, nil)
	if err != nil {
		return err
	}
	if err := s.store.SaveSummary(ctx, report.Summary); err != nil {
		return errors.Wrapf(err, "保存 %s 汇总失败", locale)
	}
	return nil
}

func (s *Service) locales(ctx context.Context) ([]string, error) {
	if len(s.cfg.Locales) > 0 {
		return s.cfg.Locales, nil
	}
	locales, err := s.sources.Locales(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "读取locale列表失败")
	}
	sort.Strings(locales)
	return locales, nil
}
