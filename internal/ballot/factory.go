package ballot

import (
	"context"
	"sync"

	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/lvdashuaibi/surveyvote/internal/baseline"
	"golang.org/x/sync/singleflight"
)

// Factory 为每个locale维护一个投票箱
type Factory struct {
	cfg      config.VoteConfig
	baseline baseline.Source
	deps     Deps

	group singleflight.Group
	mu    sync.RWMutex
	boxes map[string]*BallotBox
}

func NewFactory(cfg config.VoteConfig, source baseline.Source, deps Deps) *Factory {
	return &Factory{
		cfg:      cfg,
		baseline: source,
		deps:     deps,
		boxes:    make(map[string]*BallotBox),
	}
}

// OptionsFor 由配置生成locale的投票策略
func OptionsFor(cfg config.VoteConfig, locale string) Options {
	return Options{
		RequiredVotes:   cfg.RequiredVotesFor(locale),
		HighBarPrefixes: cfg.HighBarPrefixes,
		MaxValueLength:  cfg.MaxValueLength,
		ReadOnly:        cfg.IsReadOnlyLocale(locale),
		PhaseReadOnly:   cfg.PhaseReadOnly,
		LockTTL:         cfg.LockTTL,
		LockRetry:       cfg.LockRetryInterval,
	}
}

// ForLocale 返回locale的投票箱，首次访问时加载基线快照
func (f *Factory) ForLocale(ctx context.Context, locale string) (*BallotBox, error) {
	f.mu.RLock()
	box, ok := f.boxes[locale]
	f.mu.RUnlock()
	if ok {
		return box, nil
	}

	// 同一locale的并发首次访问只加载一次
	v, err, _ := f.group.Do(locale, func() (interface{}, error) {
		f.mu.RLock()
		box, ok := f.boxes[locale]
		f.mu.RUnlock()
		if ok {
			return box, nil
		}

		snap, err := f.baseline.Snapshot(ctx, locale)
		if err != nil {
			return nil, err
		}
		box = New(snap, OptionsFor(f.cfg, locale), f.deps)

		f.mu.Lock()
		f.boxes[locale] = box
		f.mu.Unlock()
		return box, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*BallotBox), nil
}

// Locales 基线中的全部locale
func (f *Factory) Locales(ctx context.Context) ([]string, error) {
	return f.baseline.Locales(ctx)
}

// Invalidate 使路径的裁决缓存失效，用于处理其它实例的写入
func (f *Factory) Invalidate(ctx context.Context, locale, path string) error {
	if f.deps.Cache == nil {
		return nil
	}
	return f.deps.Cache.Invalidate(ctx, locale, path)
}
