// Package source 将基线数据与投票裁决合并为每个路径的有效值
//
// BaselineSource 只暴露基线快照；VoteProjectedSource 组合投票箱与基线，
// 只能通过投票改变其结果，本身没有写接口。
package source

import (
	"context"

	"github.com/lvdashuaibi/surveyvote/internal/ballot"
	"github.com/lvdashuaibi/surveyvote/internal/baseline"
	"github.com/lvdashuaibi/surveyvote/internal/metrics"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/lvdashuaibi/surveyvote/internal/xpath"
	"go.uber.org/zap"
)

// LoadContext 读取场景
type LoadContext int

const (
	// OrdinaryLoad 普通批量读取，没有投票的路径直接使用基线
	OrdinaryLoad LoadContext = iota
	// SingleVote 刚投出一张票后确认该路径，始终裁决
	SingleVote
	// FullGeneration 生成整个locale的已裁决数据，始终裁决
	FullGeneration
)

func (c LoadContext) String() string {
	switch c {
	case SingleVote:
		return "single_vote"
	case FullGeneration:
		return "full_generation"
	default:
		return "ordinary"
	}
}

// Value 路径的有效值
type Value struct {
	// Value 为nil表示该路径没有值
	Value    *string
	FullPath string
	Status   model.Status
	Locked   bool
	Disputed bool
	// Resolved 为false表示直接取自基线
	Resolved bool
}

// ReadOnlyDataSource 只读的locale数据
type ReadOnlyDataSource interface {
	Locale() string
	Paths() []string
	ValueAndFullPath(ctx context.Context, path string) (*string, string, error)
}

var (
	_ ReadOnlyDataSource = (*BaselineSource)(nil)
	_ ReadOnlyDataSource = (*VoteProjectedSource)(nil)
)

// BaselineSource 基线快照上的只读数据源
type BaselineSource struct {
	snap *baseline.Snapshot
}

func NewBaselineSource(snap *baseline.Snapshot) *BaselineSource {
	return &BaselineSource{snap: snap}
}

func (s *BaselineSource) Locale() string {
	return s.snap.Locale()
}

func (s *BaselineSource) Paths() []string {
	return s.snap.Paths()
}

func (s *BaselineSource) lookup(path string) Value {
	v := s.snap.Value(path)
	full := s.snap.FullPath(path)
	if full == "" {
		full = path
	}
	return Value{Value: v, FullPath: full, Status: s.snap.Status(path)}
}

// ValueAndFullPath 基线值与基线完整路径
func (s *BaselineSource) ValueAndFullPath(_ context.Context, path string) (*string, string, error) {
	v := s.lookup(path)
	return v.Value, v.FullPath, nil
}

// VoteProjectedSource 投票裁决投影后的数据源
type VoteProjectedSource struct {
	box     *ballot.BallotBox
	base    *BaselineSource
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewVoteProjectedSource(box *ballot.BallotBox, m *metrics.Metrics, logger *zap.Logger) *VoteProjectedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoteProjectedSource{
		box:     box,
		base:    NewBaselineSource(box.Baseline()),
		metrics: m,
		logger:  logger.With(zap.String("locale", box.Locale())),
	}
}

func (s *VoteProjectedSource) Locale() string {
	return s.box.Locale()
}

func (s *VoteProjectedSource) Paths() []string {
	return s.base.Paths()
}

// ValueAndFullPath 普通读取的有效值与完整路径
func (s *VoteProjectedSource) ValueAndFullPath(ctx context.Context, path string) (*string, string, error) {
	return s.ValueAndFullPathFor(ctx, path, OrdinaryLoad)
}

// ValueAndFullPathFor 指定读取场景的有效值与完整路径
func (s *VoteProjectedSource) ValueAndFullPathFor(ctx context.Context, path string, lc LoadContext) (*string, string, error) {
	v, err := s.Lookup(ctx, path, lc)
	if err != nil {
		return nil, "", err
	}
	return v.Value, v.FullPath, nil
}

// Lookup 返回路径的有效值
func (s *VoteProjectedSource) Lookup(ctx context.Context, path string, lc LoadContext) (Value, error) {
	if !s.box.Baseline().Has(path) {
		return Value{}, &ballot.InvalidPathError{Locale: s.box.Locale(), Path: path}
	}

	// 只有普通读取可以跳过裁决；刚弃权的路径看起来也没有票，但必须重新裁决
	if lc == OrdinaryLoad {
		has, err := s.box.HasVotes(ctx, path)
		if err != nil {
			return Value{}, err
		}
		if !has {
			l, err := s.box.Lock(ctx, path)
			if err != nil {
				return Value{}, err
			}
			if l == nil {
				return s.base.lookup(path), nil
			}
		}
	}

	res, err := s.box.Resolve(ctx, path)
	if err != nil {
		return Value{}, err
	}
	if res.WinningValue == nil {
		return Value{FullPath: path, Status: res.WinningStatus, Locked: res.Locked, Disputed: res.Disputed, Resolved: true}, nil
	}

	full := s.box.Baseline().FullPath(path)
	if full == "" {
		full = path
	}
	full = xpath.RemoveDraftAltProposed(full)
	if draft, ok := s.draftFor(path, res.WinningStatus); ok {
		full = xpath.WithDraft(full, draft)
	}

	value := *res.WinningValue
	return Value{
		Value:    &value,
		FullPath: full,
		Status:   res.WinningStatus,
		Locked:   res.Locked,
		Disputed: res.Disputed,
		Resolved: true,
	}, nil
}

// draftFor 裁决状态对应的草稿注解，approved与missing不加注解
func (s *VoteProjectedSource) draftFor(path string, st model.Status) (xpath.DraftStatus, bool) {
	switch st {
	case model.StatusApproved, model.StatusMissing:
		return "", false
	case model.StatusContributed:
		return xpath.DraftContributed, true
	case model.StatusProvisional:
		return xpath.DraftProvisional, true
	case model.StatusUnconfirmed:
		return xpath.DraftUnconfirmed, true
	}
	s.logger.Warn("无法映射的裁决状态，按unconfirmed处理", zap.String("path", path), zap.Int("status", int(st)))
	s.metrics.ResolverDegraded("unknown_status")
	return xpath.DraftUnconfirmed, true
}
