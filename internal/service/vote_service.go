package service

import (
	"context"
	"time"

	"github.com/lvdashuaibi/surveyvote/internal/ballot"
	"github.com/lvdashuaibi/surveyvote/internal/identity"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/lvdashuaibi/surveyvote/internal/resolver"
	"github.com/lvdashuaibi/surveyvote/internal/source"
	"github.com/lvdashuaibi/surveyvote/internal/summary"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Publisher 投票事件发布，kafka.Producer实现该接口
type Publisher interface {
	SendVoteEvent(ctx context.Context, event *model.VoteEvent) error
}

type VoteService struct {
	factory   *ballot.Factory
	sources   *source.Registry
	voters    identity.Registry
	publisher Publisher
	summaries summary.Store
	logger    *zap.Logger
	now       func() time.Time
}

// NewVoteService publisher与summaries可以为nil
func NewVoteService(
	factory *ballot.Factory,
	sources *source.Registry,
	voters identity.Registry,
	publisher Publisher,
	summaries summary.Store,
	logger *zap.Logger,
) *VoteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoteService{
		factory:   factory,
		sources:   sources,
		voters:    voters,
		publisher: publisher,
		summaries: summaries,
		logger:    logger,
		now:       time.Now,
	}
}

// voter 查询投票人，不存在时按未指定投票人拒绝
func (s *VoteService) voter(ctx context.Context, id int) (*model.Voter, error) {
	v, err := s.voters.GetVoter(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownVoter) {
			return nil, &ballot.VoteNotAcceptedError{
				Code:    ballot.CodeNoPermission,
				Denial:  ballot.DenyNullUser,
				Message: err.Error(),
			}
		}
		return nil, err
	}
	return v, nil
}

func (s *VoteService) failed(err error) *model.VoteResponse {
	return &model.VoteResponse{
		Success:   false,
		Message:   "投票失败: " + err.Error(),
		Timestamp: s.now(),
	}
}

// Vote 投票，Value为nil表示弃权
func (s *VoteService) Vote(ctx context.Context, req *model.VoteRequest) (*model.VoteResponse, error) {
	box, err := s.factory.ForLocale(ctx, req.Locale)
	if err != nil {
		return s.failed(err), err
	}
	voter, err := s.voter(ctx, req.VoterID)
	if err != nil {
		return s.failed(err), err
	}

	out, err := box.VoteForValueWithType(ctx, voter, req.Path, req.Value, req.Override, req.Type)
	if err != nil {
		return s.failed(err), err
	}

	s.publish(ctx, &model.VoteEvent{
		Locale:     req.Locale,
		Path:       req.Path,
		VoterID:    req.VoterID,
		Value:      req.Value,
		Override:   req.Override,
		Type:       req.Type,
		Locked:     out.Locked,
		Unlocked:   out.Unlocked,
		CleanSlate: out.CleanSlate,
	})

	msg := "投票成功"
	switch {
	case out.Locked:
		msg = "投票成功，路径已锁定"
	case out.Unlocked:
		msg = "投票成功，路径已解锁"
	}
	return &model.VoteResponse{
		Success:   true,
		Message:   msg,
		Locked:    out.Locked,
		Unlocked:  out.Unlocked,
		Timestamp: s.now(),
	}, nil
}

// Unvote 弃权
func (s *VoteService) Unvote(ctx context.Context, locale, path string, voterID int) (*model.VoteResponse, error) {
	return s.Vote(ctx, &model.VoteRequest{Locale: locale, Path: path, VoterID: voterID})
}

// Revote 重新投出最近一次的取值
func (s *VoteService) Revote(ctx context.Context, locale, path string, voterID int) (*model.VoteResponse, error) {
	box, err := s.factory.ForLocale(ctx, locale)
	if err != nil {
		return s.failed(err), err
	}
	voter, err := s.voter(ctx, voterID)
	if err != nil {
		return s.failed(err), err
	}
	if err := box.RevoteFor(ctx, voter, path); err != nil {
		return s.failed(err), err
	}

	value, err := box.VoteValue(ctx, voter, path)
	if err != nil {
		s.logger.Warn("读取重新投票的取值失败", zap.String("locale", locale), zap.String("path", path), zap.Error(err))
	}
	s.publish(ctx, &model.VoteEvent{Locale: locale, Path: path, VoterID: voterID, Value: value})
	return &model.VoteResponse{Success: true, Message: "重新投票成功", Timestamp: s.now()}, nil
}

// publish 发布失败不影响已写入的投票，其它实例的缓存以写入戳为准
func (s *VoteService) publish(ctx context.Context, ev *model.VoteEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.SendVoteEvent(ctx, ev); err != nil {
		s.logger.Warn("发送投票事件失败",
			zap.String("locale", ev.Locale), zap.String("path", ev.Path), zap.Error(err))
	}
}

// Resolve 路径的裁决结果
func (s *VoteService) Resolve(ctx context.Context, locale, path string) (*resolver.Result, error) {
	box, err := s.factory.ForLocale(ctx, locale)
	if err != nil {
		return nil, err
	}
	return box.Resolve(ctx, path)
}

// Value 路径的有效值
func (s *VoteService) Value(ctx context.Context, locale, path string) (source.Value, error) {
	src, err := s.sources.ForLocale(ctx, locale)
	if err != nil {
		return source.Value{}, err
	}
	return src.Lookup(ctx, path, source.OrdinaryLoad)
}

// Votes 路径上每个投票人的当前投票
func (s *VoteService) Votes(ctx context.Context, locale, path string) ([]*model.Vote, error) {
	box, err := s.factory.ForLocale(ctx, locale)
	if err != nil {
		return nil, err
	}
	return box.VoteDetailsPerUser(ctx, path)
}

// Values 路径的候选值
func (s *VoteService) Values(ctx context.Context, locale, path string) ([]string, error) {
	box, err := s.factory.ForLocale(ctx, locale)
	if err != nil {
		return nil, err
	}
	return box.Values(ctx, path)
}

// Dump 路径裁决明细
func (s *VoteService) Dump(ctx context.Context, locale, path string) (string, error) {
	box, err := s.factory.ForLocale(ctx, locale)
	if err != nil {
		return "", err
	}
	return box.ResolverDump(ctx, path)
}

// Summary 最近一次生成的locale汇总，尚未生成时返回 nil, nil
func (s *VoteService) Summary(ctx context.Context, locale string) (*model.LocaleSummary, error) {
	if s.summaries == nil {
		return nil, nil
	}
	return s.summaries.GetSummary(ctx, locale)
}
