package source

import (
	"context"
	"sync"

	"github.com/lvdashuaibi/surveyvote/internal/ballot"
	"github.com/lvdashuaibi/surveyvote/internal/metrics"
	"go.uber.org/zap"
)

// Registry 按locale提供VoteProjectedSource
type Registry struct {
	factory *ballot.Factory
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	sources map[string]*VoteProjectedSource
}

func NewRegistry(factory *ballot.Factory, m *metrics.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		factory: factory,
		metrics: m,
		logger:  logger,
		sources: make(map[string]*VoteProjectedSource),
	}
}

// ForLocale 返回locale的数据源
func (r *Registry) ForLocale(ctx context.Context, locale string) (*VoteProjectedSource, error) {
	r.mu.Lock()
	s, ok := r.sources[locale]
	r.mu.Unlock()
	if ok {
		return s, nil
	}

	box, err := r.factory.ForLocale(ctx, locale)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sources[locale]; ok {
		return s, nil
	}
	s = NewVoteProjectedSource(box, r.metrics, r.logger)
	r.sources[locale] = s
	return s, nil
}

// ValueAndFullPath 普通读取locale中路径的有效值
func (r *Registry) ValueAndFullPath(ctx context.Context, locale, path string) (*string, string, error) {
	s, err := r.ForLocale(ctx, locale)
	if err != nil {
		return nil, "", err
	}
	return s.ValueAndFullPath(ctx, path)
}

// Locales 可用的全部locale
func (r *Registry) Locales(ctx context.Context) ([]string, error) {
	return r.factory.Locales(ctx)
}
