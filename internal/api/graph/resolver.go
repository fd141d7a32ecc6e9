package graph

import (
	"context"
	"sort"
	"time"

	"github.com/lvdashuaibi/surveyvote/internal/ballot"
	"github.com/lvdashuaibi/surveyvote/internal/baseline"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/lvdashuaibi/surveyvote/internal/repository"
	"github.com/lvdashuaibi/surveyvote/internal/resolver"
	"github.com/lvdashuaibi/surveyvote/internal/service"
	"github.com/lvdashuaibi/surveyvote/internal/source"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// apiError 带错误码的GraphQL错误
type apiError struct {
	code string
	err  error
}

func (e *apiError) Error() string {
	return e.err.Error()
}

func (e *apiError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.code}
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	code := "E_INTERNAL"
	var vna *ballot.VoteNotAcceptedError
	switch {
	case errors.As(err, &vna):
		code = string(vna.Code)
	case errors.Is(err, ballot.ErrInvalidPath):
		code = "E_BAD_XPATH"
	case errors.Is(err, baseline.ErrUnknownLocale):
		code = "E_BAD_LOCALE"
	case errors.Is(err, ballot.ErrNoPriorVote):
		code = "E_NO_PRIOR_VOTE"
	case errors.Is(err, repository.ErrPersistence):
		code = "E_PERSISTENCE"
	}
	return &apiError{code: code, err: err}
}

// Resolver GraphQL解析器
type Resolver struct {
	voteService *service.VoteService
	logger      *zap.Logger
}

// NewResolver 创建新的解析器
func NewResolver(voteService *service.VoteService, logger *zap.Logger) *Resolver {
	return &Resolver{voteService: voteService, logger: logger}
}

type pathArgs struct {
	Locale string
	Path   string
}

type voterPathArgs struct {
	Locale  string
	Path    string
	VoterID int32
}

// Resolver 路径的裁决结果
func (r *Resolver) Resolver(ctx context.Context, args pathArgs) (*ResultResolver, error) {
	res, err := r.voteService.Resolve(ctx, args.Locale, args.Path)
	if err != nil {
		return nil, wrapError(err)
	}
	return &ResultResolver{locale: args.Locale, path: args.Path, res: res}, nil
}

func (r *Resolver) Value(ctx context.Context, args pathArgs) (*EffectiveValueResolver, error) {
	v, err := r.voteService.Value(ctx, args.Locale, args.Path)
	if err != nil {
		return nil, wrapError(err)
	}
	return &EffectiveValueResolver{v: v}, nil
}

func (r *Resolver) Votes(ctx context.Context, args pathArgs) ([]*VoteResolver, error) {
	votes, err := r.voteService.Votes(ctx, args.Locale, args.Path)
	if err != nil {
		return nil, wrapError(err)
	}
	out := make([]*VoteResolver, len(votes))
	for i, v := range votes {
		out[i] = &VoteResolver{vote: v}
	}
	return out, nil
}

func (r *Resolver) Values(ctx context.Context, args pathArgs) ([]string, error) {
	values, err := r.voteService.Values(ctx, args.Locale, args.Path)
	if err != nil {
		return nil, wrapError(err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func (r *Resolver) ResolverDump(ctx context.Context, args pathArgs) (string, error) {
	dump, err := r.voteService.Dump(ctx, args.Locale, args.Path)
	return dump, wrapError(err)
}

func (r *Resolver) Summary(ctx context.Context, args struct{ Locale string }) (*SummaryResolver, error) {
	s, err := r.voteService.Summary(ctx, args.Locale)
	if err != nil {
		return nil, wrapError(err)
	}
	if s == nil {
		return nil, nil
	}
	return &SummaryResolver{s: s}, nil
}

// VoteInput 投票输入类型
type VoteInput struct {
	Locale   string
	Path     string
	VoterID  int32
	Value    *string
	Override *int32
	Type     *string
}

// Vote 投票
func (r *Resolver) Vote(ctx context.Context, args struct{ Input VoteInput }) (*VoteResponseResolver, error) {
	in := args.Input
	req := &model.VoteRequest{
		Locale:  in.Locale,
		Path:    in.Path,
		VoterID: int(in.VoterID),
		Value:   in.Value,
	}
	if in.Override != nil {
		req.Override = model.IntPtr(int(*in.Override))
	}
	if in.Type != nil {
		req.Type = model.ParseVoteType(*in.Type)
	}
	return r.respond(r.voteService.Vote(ctx, req))
}

func (r *Resolver) Unvote(ctx context.Context, args voterPathArgs) (*VoteResponseResolver, error) {
	return r.respond(r.voteService.Unvote(ctx, args.Locale, args.Path, int(args.VoterID)))
}

func (r *Resolver) Revote(ctx context.Context, args voterPathArgs) (*VoteResponseResolver, error) {
	return r.respond(r.voteService.Revote(ctx, args.Locale, args.Path, int(args.VoterID)))
}

func (r *Resolver) respond(resp *model.VoteResponse, err error) (*VoteResponseResolver, error) {
	if err != nil {
		r.logger.Debug("投票失败", zap.Error(err))
		return &VoteResponseResolver{response: resp}, wrapError(err)
	}
	return &VoteResponseResolver{response: resp}, nil
}

// ResultResolver 裁决结果解析器
type ResultResolver struct {
	locale string
	path   string
	res    *resolver.Result
}

func (r *ResultResolver) Locale() string { return r.locale }
func (r *ResultResolver) Path() string { return r.path }
func (r *ResultResolver) WinningValue() *string { return r.res.WinningValue }
func (r *ResultResolver) WinningStatus() string { return r.res.WinningStatus.String() }
func (r *ResultResolver) BaselineValue() *string { return r.res.BaselineValue }
func (r *ResultResolver) BaselineStatus() string { return r.res.BaselineStatus.String() }
func (r *ResultResolver) RequiredVotes() int32 { return int32(r.res.RequiredVotes) }
func (r *ResultResolver) Locked() bool { return r.res.Locked }
func (r *ResultResolver) Disputed() bool { return r.res.Disputed }
func (r *ResultResolver) Abstentions() int32 { return int32(r.res.Abstentions) }

func (r *ResultResolver) Totals() []*ValueCountResolver {
	out := make([]*ValueCountResolver, len(r.res.Totals))
	for i := range r.res.Totals {
		out[i] = &ValueCountResolver{vc: r.res.Totals[i]}
	}
	return out
}

func (r *ResultResolver) Orgs() []*OrgVoteResolver {
	out := make([]*OrgVoteResolver, len(r.res.Orgs))
	for i := range r.res.Orgs {
		out[i] = &OrgVoteResolver{ov: r.res.Orgs[i]}
	}
	return out
}

func (r *ResultResolver) StatusFor(args struct{ Org string }) string {
	return string(r.res.StatusForOrganization(args.Org))
}

type ValueCountResolver struct {
	vc resolver.ValueCount
}

func (r *ValueCountResolver) Value() string { return r.vc.Value }
func (r *ValueCountResolver) Votes() int32 { return int32(r.vc.Votes) }

type OrgVoteResolver struct {
	ov resolver.OrgVote
}

func (r *OrgVoteResolver) Org() string { return r.ov.Org }
func (r *OrgVoteResolver) Value() string { return r.ov.Value }
func (r *OrgVoteResolver) Votes() int32 { return int32(r.ov.Votes) }
func (r *OrgVoteResolver) Conflicted() bool { return r.ov.Conflicted }

// EffectiveValueResolver 有效值解析器
type EffectiveValueResolver struct {
	v source.Value
}

func (r *EffectiveValueResolver) Value() *string { return r.v.Value }
func (r *EffectiveValueResolver) FullPath() string { return r.v.FullPath }
func (r *EffectiveValueResolver) Status() string { return r.v.Status.String() }
func (r *EffectiveValueResolver) Locked() bool { return r.v.Locked }
func (r *EffectiveValueResolver) Disputed() bool { return r.v.Disputed }
func (r *EffectiveValueResolver) Resolved() bool { return r.v.Resolved }

// VoteResolver 投票解析器
type VoteResolver struct {
	vote *model.Vote
}

func (r *VoteResolver) VoterID() int32 { return int32(r.vote.VoterID) }
func (r *VoteResolver) Value() *string { return r.vote.Value }
func (r *VoteResolver) LastValue() *string { return r.vote.LastValue }
func (r *VoteResolver) Permanent() bool { return r.vote.Permanent }
func (r *VoteResolver) Type() string { return r.vote.Type.String() }
func (r *VoteResolver) ModTime() string { return r.vote.ModTime.Format(time.RFC3339) }

func (r *VoteResolver) Override() *int32 {
	if r.vote.Override == nil {
		return nil
	}
	n := int32(*r.vote.Override)
	return &n
}

// SummaryResolver 汇总解析器
type SummaryResolver struct {
	s *model.LocaleSummary
}

func (r *SummaryResolver) Locale() string { return r.s.Locale }
func (r *SummaryResolver) Paths() int32 { return int32(r.s.Paths) }
func (r *SummaryResolver) Disputed() int32 { return int32(r.s.Disputed) }
func (r *SummaryResolver) Locked() int32 { return int32(r.s.Locked) }
func (r *SummaryResolver) Failed() int32 { return int32(r.s.Failed) }
func (r *SummaryResolver) GeneratedAt() string { return r.s.GeneratedAt.Format(time.RFC3339) }
func (r *SummaryResolver) GeneratedBy() string { return r.s.GeneratedBy }

func (r *SummaryResolver) ByStatus() []*StatusCountResolver {
	out := make([]*StatusCountResolver, 0, len(r.s.ByStatus))
	for st, n := range r.s.ByStatus {
		out = append(out, &StatusCountResolver{status: st, count: int32(n)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].status < out[j].status })
	return out
}

type StatusCountResolver struct {
	status string
	count  int32
}

func (r *StatusCountResolver) Status() string { return r.status }
func (r *StatusCountResolver) Count() int32 { return r.count }

// VoteResponseResolver 投票响应解析器
type VoteResponseResolver struct {
	response *model.VoteResponse
}

func (r *VoteResponseResolver) Success() bool { return r.response.Success }
func (r *VoteResponseResolver) Message() string { return r.response.Message }
func (r *VoteResponseResolver) Locked() bool { return r.response.Locked }
func (r *VoteResponseResolver) Unlocked() bool { return r.response.Unlocked }

func (r *VoteResponseResolver) Timestamp() string {
	return r.response.Timestamp.Format(time.RFC3339)
}
