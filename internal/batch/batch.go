// Package batch 对整个locale做已裁决数据的批量生成
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lvdashuaibi/surveyvote/internal/metrics"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/lvdashuaibi/surveyvote/internal/source"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// Progress 进度回调，done为已完成的路径数
type Progress func(done, total int)

// Entry 单个路径的批量裁决结果
type Entry struct {
	Path  string
	Value source.Value
	Err   error
}

// Report 一次批量裁决的全部结果
type Report struct {
	Summary *model.LocaleSummary
	// Entries 按路径排序
	Entries []Entry
}

// Resolver 并发裁决locale内的所有路径
type Resolver struct {
	workers    int
	instanceID string
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func New(workers int, instanceID string, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{workers: workers, instanceID: instanceID, metrics: m, logger: logger}
}

// ResolveLocale 以FullGeneration裁决每个路径
// 单个路径失败只记录，不中断；ctx取消时在路径之间停止并返回ctx的错误
func (r *Resolver) ResolveLocale(ctx context.Context, src *source.VoteProjectedSource, progress Progress) (*Report, error) {
	paths := src.Paths()
	total := len(paths)
	logger := r.logger.With(zap.String("locale", src.Locale()))

	summary := &model.LocaleSummary{
		Locale:      src.Locale(),
		Paths:       total,
		ByStatus:    make(map[string]int),
		GeneratedBy: r.instanceID,
	}
	entries := make([]Entry, 0, total)

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, path := range paths {
		if err := gctx.Err(); err != nil {
			break
		}
		path := path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := src.Lookup(gctx, path, source.FullGeneration)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			if err != nil {
				logger.Warn("路径裁决失败", zap.String("path", path), zap.Error(err))
			}
			r.metrics.BatchPath(err == nil)

			mu.Lock()
			defer mu.Unlock()
			entries = append(entries, Entry{Path: path, Value: v, Err: err})
			if err != nil {
				summary.Failed++
			} else {
				summary.ByStatus[v.Status.String()]++
				if v.Disputed {
					summary.Disputed++
				}
				if v.Locked {
					summary.Locked++
				}
			}
			done++
			if progress != nil {
				progress(done, total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// 所有已派发的任务都成功返回，但循环可能因取消提前退出
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	summary.GeneratedAt = time.Now()
	logger.Info("批量裁决完成",
		zap.Int("paths", total),
		zap.Int("failed", summary.Failed),
		zap.Int("disputed", summary.Disputed),
		zap.Int("locked", summary.Locked))
	return &Report{Summary: summary, Entries: entries}, nil
}
