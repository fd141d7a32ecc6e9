// Package permanent 实现永久票的锁定/解锁状态机
//
// 路径状态为未锁定或锁定于某个值。对某个值的永久票达到法定数量时锁定（或改锁）到该值；
// 永久弃权达到法定数量时解锁。发生迁移时可同时清除该路径的全部永久票。
// 只统计当前仍有永久投票权的投票人，降级后的旧永久票不计入。
// 调用方必须持有该(locale, path)的临界区。
package permanent

import (
	"context"
	"time"

	"github.com/lvdashuaibi/surveyvote/internal/identity"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/lvdashuaibi/surveyvote/internal/repository"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultQuorum = 2
)

// Policy 法定数量与清场开关
type Policy struct {
	Quorum     int
	CleanSlate bool
}

// DefaultPolicy 两票锁定，迁移时清场
func DefaultPolicy() Policy {
	return Policy{Quorum: DefaultQuorum, CleanSlate: true}
}

// Outcome 一次永久票处理的结果
type Outcome struct {
	Locked     bool
	Unlocked   bool
	CleanSlate bool
	Purged     int64
	// Value 锁定后的值，解锁时为nil
	Value *string
}

// Changed 是否发生了状态迁移
func (o Outcome) Changed() bool {
	return o.Locked || o.Unlocked
}

type Controller struct {
	store  repository.Store
	voters identity.Registry
	policy Policy
	logger *zap.Logger
	now    func() time.Time
}

func NewController(store repository.Store, voters identity.Registry, policy Policy, logger *zap.Logger) *Controller {
	if policy.Quorum <= 0 {
		policy.Quorum = DefaultQuorum
	}
	return &Controller{
		store:  store,
		voters: voters,
		policy: policy,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Evaluate 在一张永久票（value为nil表示永久弃权）写入后检查是否需要迁移
// 重复调用是安全的：已处于目标状态时不做任何事
func (c *Controller) Evaluate(ctx context.Context, locale, path string, value *string) (Outcome, error) {
	current, err := c.store.GetLock(ctx, locale, path)
	if err != nil {
		return Outcome{}, err
	}

	if value == nil {
		return c.evaluateAbstain(ctx, locale, path, current)
	}

	if current != nil && current.Value == *value {
		return Outcome{}, nil
	}
	n, err := c.countPermanent(ctx, locale, path, value)
	if err != nil {
		return Outcome{}, err
	}
	if n < c.policy.Quorum {
		return Outcome{}, nil
	}

	entry := &model.LockEntry{Locale: locale, Path: path, Value: *value, ModTime: c.now()}
	purged, err := c.store.ApplyTransition(ctx, repository.Transition{
		Locale:     locale,
		Path:       path,
		Lock:       entry,
		CleanSlate: c.policy.CleanSlate,
	})
	if err != nil {
		return Outcome{}, errors.Wrap(err, "锁定路径失败")
	}

	out := Outcome{
		Locked:     true,
		Unlocked:   current != nil,
		CleanSlate: c.policy.CleanSlate,
		Purged:     purged,
		Value:      model.StringPtr(*value),
	}
	fields := []zap.Field{zap.String("locale", locale), zap.String("path", path), zap.String("value", *value), zap.Int64("purged", purged)}
	if current != nil {
		c.logger.Info("路径已改锁", append(fields, zap.String("previous", current.Value))...)
	} else {
		c.logger.Info("路径已锁定", fields...)
	}
	return out, nil
}

func (c *Controller) evaluateAbstain(ctx context.Context, locale, path string, current *model.LockEntry) (Outcome, error) {
	// 未锁定时解锁是空操作，不清场
	if current == nil {
		return Outcome{}, nil
	}
	n, err := c.countPermanent(ctx, locale, path, nil)
	if err != nil {
		return Outcome{}, err
	}
	if n < c.policy.Quorum {
		return Outcome{}, nil
	}

	purged, err := c.store.ApplyTransition(ctx, repository.Transition{
		Locale:     locale,
		Path:       path,
		CleanSlate: c.policy.CleanSlate,
	})
	if err != nil {
		return Outcome{}, errors.Wrap(err, "解锁路径失败")
	}

	c.logger.Info("路径已解锁",
		zap.String("locale", locale), zap.String("path", path),
		zap.String("previous", current.Value), zap.Int64("purged", purged))
	return Outcome{Unlocked: true, CleanSlate: c.policy.CleanSlate, Purged: purged}, nil
}

// countPermanent 统计有效永久票，投票人已删除或已无永久投票权时跳过
func (c *Controller) countPermanent(ctx context.Context, locale, path string, value *string) (int, error) {
	ids, err := c.store.PermanentVoters(ctx, locale, path, value)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		voter, err := c.voters.GetVoter(ctx, id)
		if errors.Is(err, identity.ErrUnknownVoter) {
			c.logger.Debug("跳过未知投票人的永久票", zap.String("locale", locale), zap.String("path", path), zap.Int("voter", id))
			continue
		}
		if err != nil {
			return 0, err
		}
		if !voter.CanPermanentVote() {
			c.logger.Debug("跳过已失去永久投票权的永久票",
				zap.String("locale", locale), zap.String("path", path),
				zap.Int("voter", id), zap.Stringer("level", voter.Level))
			continue
		}
		n++
	}
	return n, nil
}
