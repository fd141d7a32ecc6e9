// Package ballot 每个locale的投票箱：校验并记录投票、驱动永久票状态机、
// 通过缓存提供路径的裁决结果
package ballot

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lvdashuaibi/surveyvote/internal/baseline"
	"github.com/lvdashuaibi/surveyvote/internal/cache"
	"github.com/lvdashuaibi/surveyvote/internal/identity"
	"github.com/lvdashuaibi/surveyvote/internal/lock"
	"github.com/lvdashuaibi/surveyvote/internal/metrics"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/lvdashuaibi/surveyvote/internal/permanent"
	"github.com/lvdashuaibi/surveyvote/internal/repository"
	"github.com/lvdashuaibi/surveyvote/internal/resolver"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Deps 投票箱依赖的服务，所有locale共享
type Deps struct {
	Store     repository.Store
	Voters    identity.Registry
	Locks     lock.Lock
	Cache     cache.ResultCache
	Permanent *permanent.Controller
	Pool      *resolver.Pool
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Options 单个locale的投票策略
type Options struct {
	RequiredVotes   int
	HighBarPrefixes []string
	MaxValueLength  int
	ReadOnly        bool
	PhaseReadOnly   bool
	LockTTL         time.Duration
	LockRetry       time.Duration
}

// BallotBox 单个locale的投票箱，并发安全
type BallotBox struct {
	locale string
	snap   *baseline.Snapshot
	opts   Options
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// New 基于locale的基线快照创建投票箱
func New(snap *baseline.Snapshot, opts Options, deps Deps) *BallotBox {
	if opts.RequiredVotes <= 0 {
		opts.RequiredVotes = resolver.DefaultRequiredVotes
	}
	if opts.MaxValueLength <= 0 {
		opts.MaxValueLength = 1024
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if deps.Pool == nil {
		deps.Pool = resolver.NewPool()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &BallotBox{
		locale: snap.Locale(),
		snap:   snap,
		opts:   opts,
		deps:   deps,
		logger: deps.Logger.With(zap.String("locale", snap.Locale())),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (b *BallotBox) Locale() string {
	return b.locale
}

// Baseline 该locale的基线快照
func (b *BallotBox) Baseline() *baseline.Snapshot {
	return b.snap
}

func (b *BallotBox) checkPath(path string) error {
	if !b.snap.Has(path) {
		return &InvalidPathError{Locale: b.locale, Path: path}
	}
	return nil
}

// countDenial 投票人的票是否计入该locale
func (b *BallotBox) countDenial(v *model.Voter) Denial {
	if v == nil {
		return DenyNullUser
	}
	if !v.Level.IsGuest() {
		return DenyNoRights
	}
	if v.Level.IsManagerOrStronger() || v.CoversLocale(b.locale) {
		return DenyNone
	}
	return DenyLocaleList
}

// modifyDenial 投票人能否修改该locale，在计票条件之上再检查只读
func (b *BallotBox) modifyDenial(v *model.Voter) Denial {
	if v == nil {
		return DenyNullUser
	}
	if b.opts.ReadOnly {
		return DenyLocaleReadOnly
	}
	if d := b.countDenial(v); d != DenyNone {
		return d
	}
	// 管理员与TC在只读阶段仍可修改
	if b.opts.PhaseReadOnly && !v.Level.IsTC() {
		return DenyPhaseReadOnly
	}
	return DenyNone
}

func (b *BallotBox) requiredVotesFor(path string) int {
	for _, prefix := range b.opts.HighBarPrefixes {
		if strings.HasPrefix(path, prefix) {
			return resolver.HighBar
		}
	}
	return b.opts.RequiredVotes
}

func lockName(locale, path string) string {
	return "vote:" + locale + ":" + path
}

// VoteForValue 以默认票数投票，value为nil表示弃权
func (b *BallotBox) VoteForValue(ctx context.Context, voter *model.Voter, path string, value *string) error {
	_, err := b.VoteForValueWithType(ctx, voter, path, value, nil, model.VoteTypeDirect)
	return err
}

// VoteForValueWithType 投票并返回永久票引起的状态迁移
// override为PermanentVotes时该票为永久票
func (b *BallotBox) VoteForValueWithType(ctx context.Context, voter *model.Voter, path string, value *string, override *int, voteType model.VoteType) (permanent.Outcome, error) {
	if err := b.checkPath(path); err != nil {
		return permanent.Outcome{}, err
	}
	override, err := b.validate(voter, value, override)
	if err != nil {
		var vna *VoteNotAcceptedError
		if errors.As(err, &vna) {
			b.deps.Metrics.VoteRejected(string(vna.Code))
		}
		return permanent.Outcome{}, err
	}
	if voteType == model.VoteTypeNone {
		voteType = model.VoteTypeDirect
	}

	vote := &model.Vote{
		Locale:    b.locale,
		Path:      path,
		VoterID:   voter.ID,
		Value:     value,
		Override:  override,
		Permanent: override != nil && *override == model.PermanentVotes,
		Type:      voteType,
	}

	var out permanent.Outcome
	err = lock.WithLock(ctx, b.deps.Locks, lockName(b.locale, path), b.opts.LockTTL, b.opts.LockRetry, func() error {
		var err error
		out, err = b.record(ctx, vote)
		return err
	})
	if err != nil {
		return permanent.Outcome{}, err
	}

	switch {
	case vote.Permanent:
		b.deps.Metrics.VoteAccepted("permanent")
	case value == nil:
		b.deps.Metrics.VoteAccepted("abstain")
	default:
		b.deps.Metrics.VoteAccepted("vote")
	}
	if out.Locked {
		b.deps.Metrics.Transition("lock")
	} else if out.Unlocked {
		b.deps.Metrics.Transition("unlock")
	}
	return out, nil
}

// validate 检查权限、票数与取值，返回规范化后的override
func (b *BallotBox) validate(voter *model.Voter, value *string, override *int) (*int, error) {
	if d := b.modifyDenial(voter); d != DenyNone {
		return nil, denied(d, "投票人不能修改 "+b.locale)
	}

	if override != nil {
		if *override == voter.Votes() {
			override = nil
		} else if !voter.CanVoteWithCount(*override) {
			return nil, &VoteNotAcceptedError{
				Code:    CodeNoPermission,
				Message: errors.Errorf("投票人 %d 不能以 %d 票投票", voter.ID, *override).Error(),
			}
		}
	}

	if value != nil {
		if !utf8.ValidString(*value) {
			return nil, &VoteNotAcceptedError{Code: CodeBadValue, Message: "取值不是合法的UTF-8"}
		}
		if n := utf8.RuneCountInString(*value); n > b.opts.MaxValueLength {
			return nil, &VoteNotAcceptedError{
				Code:    CodeBadValue,
				Message: errors.Errorf("长度 %d 超过上限 %d", n, b.opts.MaxValueLength).Error(),
			}
		}
	}
	return override, nil
}

// record 在路径临界区内写入投票、处理永久票并使缓存失效
func (b *BallotBox) record(ctx context.Context, vote *model.Vote) (permanent.Outcome, error) {
	prev, err := b.deps.Store.GetVote(ctx, vote.Locale, vote.Path, vote.VoterID)
	if err != nil {
		return permanent.Outcome{}, err
	}

	wrote := false
	if prev == nil || !prev.SameBallot(vote) {
		vote.ModTime = b.now()
		if err := b.deps.Store.PutVote(ctx, vote); err != nil {
			return permanent.Outcome{}, err
		}
		wrote = true
	}

	var out permanent.Outcome
	// 相同的永久票也重新检查，以完成上次失败的迁移
	if vote.Permanent && b.deps.Permanent != nil {
		out, err = b.deps.Permanent.Evaluate(ctx, vote.Locale, vote.Path, vote.Value)
		if err != nil {
			if wrote {
				// 投票已写入，缓存仍需失效
				_ = b.invalidate(ctx, vote.Path)
			}
			return permanent.Outcome{}, err
		}
	}

	if wrote || out.Changed() {
		if err := b.invalidate(ctx, vote.Path); err != nil {
			return out, err
		}
	}

	b.logger.Debug("投票已记录",
		zap.String("path", vote.Path), zap.Int("voter", vote.VoterID),
		zap.Bool("abstain", vote.Value == nil), zap.Bool("permanent", vote.Permanent),
		zap.Bool("unchanged", !wrote))
	return out, nil
}

func (b *BallotBox) invalidate(ctx context.Context, path string) error {
	if b.deps.Cache == nil {
		return nil
	}
	if err := b.deps.Cache.Invalidate(ctx, b.locale, path); err != nil {
		b.logger.Error("裁决缓存失效失败", zap.String("path", path), zap.Error(err))
		return errors.Wrap(err, "裁决缓存失效失败")
	}
	return nil
}

// UnvoteFor 弃权，弃权同样记录为一张票
func (b *BallotBox) UnvoteFor(ctx context.Context, voter *model.Voter, path string) error {
	return b.VoteForValue(ctx, voter, path, nil)
}

// RevoteFor 重新投出投票人最近一次的非空取值
func (b *BallotBox) RevoteFor(ctx context.Context, voter *model.Voter, path string) error {
	if err := b.checkPath(path); err != nil {
		return err
	}
	if voter == nil {
		return denied(DenyNullUser, "未指定投票人")
	}
	prev, err := b.deps.Store.GetVote(ctx, b.locale, path, voter.ID)
	if err != nil {
		return err
	}
	if prev == nil {
		return ErrNoPriorVote
	}
	value := prev.Value
	if value == nil {
		value = prev.LastValue
	}
	if value == nil {
		return ErrNoPriorVote
	}
	_, err = b.VoteForValueWithType(ctx, voter, path, value, nil, prev.Type)
	return err
}

// Resolve 返回路径的裁决结果，结果只读
func (b *BallotBox) Resolve(ctx context.Context, path string) (*resolver.Result, error) {
	if err := b.checkPath(path); err != nil {
		return nil, err
	}

	useCache := b.deps.Cache != nil
	var stamp uint64
	if useCache {
		res, s, ok, err := b.deps.Cache.Get(ctx, b.locale, path)
		if err != nil {
			// 缓存不可用时直接计算，不写回
			b.logger.Warn("读取裁决缓存失败", zap.String("path", path), zap.Error(err))
			useCache = false
		} else if ok {
			b.deps.Metrics.CacheLookup(true)
			return res, nil
		} else {
			b.deps.Metrics.CacheLookup(false)
			stamp = s
		}
	}

	res, err := b.compute(ctx, path)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := b.deps.Cache.Put(ctx, b.locale, path, stamp, res); err != nil {
			b.logger.Warn("写入裁决缓存失败", zap.String("path", path), zap.Error(err))
		}
	}
	return res, nil
}

// compute 读取当前投票与锁定记录并裁决
func (b *BallotBox) compute(ctx context.Context, path string) (*resolver.Result, error) {
	start := time.Now()

	votes, err := b.deps.Store.VotesForPath(ctx, b.locale, path)
	if err != nil {
		return nil, err
	}
	locked, err := b.deps.Store.GetLock(ctx, b.locale, path)
	if err != nil {
		return nil, err
	}

	r := b.deps.Pool.Get()
	defer b.deps.Pool.Put(r)

	r.SetRequiredVotes(b.requiredVotesFor(path))
	r.SetBaseline(b.snap.Value(path), b.snap.Status(path))
	if locked != nil {
		if err := r.SetLock(locked.Value, locked.ModTime); err != nil {
			return nil, err
		}
	}

	for _, v := range votes {
		voter, err := b.deps.Voters.GetVoter(ctx, v.VoterID)
		if err != nil {
			if errors.Is(err, identity.ErrUnknownVoter) {
				b.logger.Warn("跳过未知投票人的投票", zap.String("path", path), zap.Int("voter", v.VoterID))
				b.deps.Metrics.ResolverDegraded("unknown_voter")
				continue
			}
			return nil, err
		}
		if d := b.countDenial(voter); d != DenyNone {
			b.logger.Debug("投票人的票不再计入", zap.String("path", path), zap.Int("voter", v.VoterID), zap.String("denial", string(d)))
			b.deps.Metrics.ResolverDegraded("not_counted")
			continue
		}
		if err := r.Add(v, voter); err != nil {
			return nil, err
		}
	}

	res := r.Resolve()
	b.deps.Metrics.Resolved(time.Since(start).Seconds())
	return res, nil
}

// ResolverDump 路径裁决明细，用于审计
func (b *BallotBox) ResolverDump(ctx context.Context, path string) (string, error) {
	res, err := b.Resolve(ctx, path)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// votesFor 校验路径后读取路径上的全部投票
func (b *BallotBox) votesFor(ctx context.Context, path string) ([]*model.Vote, error) {
	if err := b.checkPath(path); err != nil {
		return nil, err
	}
	return b.deps.Store.VotesForPath(ctx, b.locale, path)
}

// voteOf 校验路径与投票人后读取其当前投票，未投票时为nil
func (b *BallotBox) voteOf(ctx context.Context, voter *model.Voter, path string) (*model.Vote, error) {
	if err := b.checkPath(path); err != nil {
		return nil, err
	}
	if voter == nil {
		return nil, denied(DenyNullUser, "未指定投票人")
	}
	return b.deps.Store.GetVote(ctx, b.locale, path, voter.ID)
}

// VotesForValue 投给value的投票人ID，升序
func (b *BallotBox) VotesForValue(ctx context.Context, path, value string) ([]int, error) {
	votes, err := b.votesFor(ctx, path)
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, v := range votes {
		if v.Value != nil && *v.Value == value {
			ids = append(ids, v.VoterID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// VoteDetailsPerUser 路径上每个投票人的当前投票（含弃权）
func (b *BallotBox) VoteDetailsPerUser(ctx context.Context, path string) ([]*model.Vote, error) {
	return b.votesFor(ctx, path)
}

// UserDidVote 投票人是否对路径投出了非空取值
func (b *BallotBox) UserDidVote(ctx context.Context, voter *model.Voter, path string) (bool, error) {
	v, err := b.voteOf(ctx, voter, path)
	if err != nil {
		return false, err
	}
	return v != nil && v.Value != nil, nil
}

// UserVoteType 投票人当前投票的来源，未投票时为VoteTypeNone
func (b *BallotBox) UserVoteType(ctx context.Context, voter *model.Voter, path string) (model.VoteType, error) {
	v, err := b.voteOf(ctx, voter, path)
	if err != nil {
		return model.VoteTypeNone, err
	}
	if v == nil {
		return model.VoteTypeNone, nil
	}
	return v.Type, nil
}

// VoteValue 投票人当前的取值，弃权或未投票时为nil
func (b *BallotBox) VoteValue(ctx context.Context, voter *model.Voter, path string) (*string, error) {
	v, err := b.voteOf(ctx, voter, path)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Value, nil
}

// Values 路径上出现过的全部候选值（当前投票、历史投票、基线），排序后返回
func (b *BallotBox) Values(ctx context.Context, path string) ([]string, error) {
	votes, err := b.votesFor(ctx, path)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, v := range votes {
		if v.Value != nil {
			set[*v.Value] = struct{}{}
		}
		if v.LastValue != nil {
			set[*v.LastValue] = struct{}{}
		}
	}
	if bv := b.snap.Value(path); bv != nil {
		set[*bv] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// LastModDate 路径最近一次投票的时间，没有投票时为nil
func (b *BallotBox) LastModDate(ctx context.Context, path string) (*time.Time, error) {
	votes, err := b.votesFor(ctx, path)
	if err != nil {
		return nil, err
	}
	var last *time.Time
	for _, v := range votes {
		if last == nil || v.ModTime.After(*last) {
			t := v.ModTime
			last = &t
		}
	}
	return last, nil
}

// HasVotes 路径上是否有非弃权票
func (b *BallotBox) HasVotes(ctx context.Context, path string) (bool, error) {
	votes, err := b.votesFor(ctx, path)
	if err != nil {
		return false, err
	}
	for _, v := range votes {
		if v.Value != nil {
			return true, nil
		}
	}
	return false, nil
}

// Lock 路径的锁定记录，未锁定时为nil
func (b *BallotBox) Lock(ctx context.Context, path string) (*model.LockEntry, error) {
	if err := b.checkPath(path); err != nil {
		return nil, err
	}
	return b.deps.Store.GetLock(ctx, b.locale, path)
}
