// Package resolver 将一个路径上的全部投票裁决为胜出值与状态
package resolver

import (
	"sort"
	"sync"
	"time"

	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/pkg/errors"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const (
	// HighBar 高门槛路径需要的票数（一名TC的票数）
	HighBar = 50
	// LowerBar 两名vetter的票数，高门槛路径在基线未批准时退回到该值
	LowerBar = 8
	// DefaultRequiredVotes 未配置时的批准门槛
	DefaultRequiredVotes = LowerBar

	// lockOrg 锁定记录以该保留组织的名义投出
	lockOrg = "__locked__"
)

var ErrAlreadyResolved = errors.New("裁决器已完成裁决，需先Reset")

type tally struct {
	weight int64
	time   time.Time
}

func (t *tally) addMax(weight int64, when time.Time) {
	if weight < t.weight {
		return
	}
	t.weight = weight
	if when.After(t.time) {
		t.time = when
	}
}

func (t *tally) addSum(weight int64, when time.Time) {
	t.weight += weight
	if when.After(t.time) {
		t.time = when
	}
}

// Resolver 单路径投票裁决器
// 非并发安全，通过 Pool 复用，每个路径使用前必须 Reset
type Resolver struct {
	requiredVotes  int
	baseline       *string
	baselineStatus model.Status
	lockValue      *string

	orgVotes    map[string]map[string]*tally
	orgMax      map[string]int64
	allVotes    map[string]*tally
	voters      []VoterVote
	abstentions int

	collator *collate.Collator
	resolved bool
}

// New 创建裁决器
func New() *Resolver {
	r := &Resolver{collator: collate.New(language.English)}
	r.Reset()
	return r
}

// Reset 清空上一次裁决的全部状态
func (r *Resolver) Reset() {
	r.requiredVotes = DefaultRequiredVotes
	r.baseline = nil
	r.baselineStatus = model.StatusMissing
	r.lockValue = nil
	r.orgVotes = make(map[string]map[string]*tally)
	r.orgMax = make(map[string]int64)
	r.allVotes = make(map[string]*tally)
	r.voters = nil
	r.abstentions = 0
	r.resolved = false
}

// SetRequiredVotes 设置批准门槛
func (r *Resolver) SetRequiredVotes(n int) {
	if n > 0 {
		r.requiredVotes = n
	}
}

// SetBaseline 设置基线值与状态，值为nil时状态强制为missing
func (r *Resolver) SetBaseline(value *string, status model.Status) {
	if value == nil {
		status = model.StatusMissing
	}
	r.baseline = value
	r.baselineStatus = status
}

// SetLock 注入锁定记录，作为保留组织的一张LockingVotes票
func (r *Resolver) SetLock(value string, when time.Time) error {
	if r.resolved {
		return ErrAlreadyResolved
	}
	v := value
	r.lockValue = &v
	r.addInternal(value, lockOrg, model.LockingVotes, when)
	r.voters = append(r.voters, VoterVote{VoterID: -1, Name: "lock", Org: lockOrg, Value: &v, Weight: model.LockingVotes, Time: when})
	return nil
}

// Add 加入一张投票，弃权票只计入参与人数
func (r *Resolver) Add(vote *model.Vote, voter *model.Voter) error {
	if r.resolved {
		return ErrAlreadyResolved
	}
	if vote.Value == nil {
		r.abstentions++
		r.voters = append(r.voters, VoterVote{VoterID: voter.ID, Name: voter.Name, Org: voter.Org.Name, Time: vote.ModTime})
		return nil
	}
	weight := voter.EffectiveWeight(vote.Override)
	r.addInternal(*vote.Value, voter.Org.Name, int64(weight), vote.ModTime)
	r.voters = append(r.voters, VoterVote{
		VoterID: voter.ID,
		Name:    voter.Name,
		Org:     voter.Org.Name,
		Value:   vote.Value,
		Weight:  weight,
		Time:    vote.ModTime,
	})
	return nil
}

func (r *Resolver) addInternal(value, org string, weight int64, when time.Time) {
	all, ok := r.allVotes[value]
	if !ok {
		all = &tally{}
		r.allVotes[value] = all
	}
	all.addSum(weight, when)

	votes, ok := r.orgVotes[org]
	if !ok {
		votes = make(map[string]*tally)
		r.orgVotes[org] = votes
	}
	t, ok := votes[value]
	if !ok {
		t = &tally{}
		votes[value] = t
	}
	t.addMax(weight, when)

	if weight > r.orgMax[org] {
		r.orgMax[org] = weight
	}
}

// effectiveRequiredVotes 高门槛路径在基线未批准时降低门槛
func (r *Resolver) effectiveRequiredVotes() int {
	if r.requiredVotes == HighBar && r.baselineStatus != model.StatusApproved {
		return LowerBar
	}
	return r.requiredVotes
}

// orgValues 组织内各值按票数降序，同票时较晚的优先，再按排序规则
func (r *Resolver) orgValues(org string) []ValueCount {
	votes := r.orgVotes[org]
	out := make([]ValueCount, 0, len(votes))
	for v, t := range votes {
		out = append(out, ValueCount{Value: v, Votes: t.weight, time: t.time})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Votes != b.Votes {
			return a.Votes > b.Votes
		}
		if !a.time.Equal(b.time) {
			return a.time.After(b.time)
		}
		return r.less(a.Value, b.Value)
	})
	return out
}

func (r *Resolver) less(a, b string) bool {
	if c := r.collator.CompareString(a, b); c != 0 {
		return c < 0
	}
	return a < b
}

func (r *Resolver) orgCount(value string) int {
	n := 0
	for _, votes := range r.orgVotes {
		if t, ok := votes[value]; ok && t.weight > 0 {
			n++
		}
	}
	return n
}

func (r *Resolver) computeStatus(o, n int64, winner string) model.Status {
	if o > n {
		if o >= int64(r.effectiveRequiredVotes()) {
			return model.StatusApproved
		}
		if o >= 4 && r.baselineStatus < model.StatusContributed {
			return model.StatusContributed
		}
		if o >= 2 && r.orgCount(winner) >= 2 {
			return model.StatusContributed
		}
	}
	if o >= n && o >= 2 {
		return model.StatusProvisional
	}
	return model.StatusUnconfirmed
}

// Resolve 执行裁决，结果与裁决器不共享内存，可在Reset后继续持有
func (r *Resolver) Resolve() *Result {
	r.resolved = true
	res := &Result{
		BaselineValue:  copyValue(r.baseline),
		BaselineStatus: r.baselineStatus,
		RequiredVotes:  r.effectiveRequiredVotes(),
		Abstentions:    r.abstentions,
		Locked:         r.lockValue != nil,
		AllVotes:       make(map[string]int64, len(r.allVotes)),
	}
	for v, t := range r.allVotes {
		res.AllVotes[v] = t.weight
	}
	res.Voters = append(res.Voters, r.voters...)
	sort.SliceStable(res.Voters, func(i, j int) bool { return res.Voters[i].VoterID < res.Voters[j].VoterID })

	// 每个组织取其最高票的值
	totals := make(map[string]*tally)
	orgs := make([]string, 0, len(r.orgVotes))
	for org := range r.orgVotes {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	for _, org := range orgs {
		values := r.orgValues(org)
		if len(values) == 0 || values[0].Votes == 0 {
			continue
		}
		top := values[0]
		ov := OrgVote{Org: org, Value: top.Value, Votes: top.Votes, Values: values}
		if len(values) > 1 && values[1].Votes == top.Votes {
			ov.Conflicted = true
			res.Conflicted = append(res.Conflicted, org)
		}
		res.Orgs = append(res.Orgs, ov)

		t, ok := totals[top.Value]
		if !ok {
			t = &tally{}
			totals[top.Value] = t
		}
		t.addSum(top.Votes, top.time)
	}

	for v, t := range totals {
		res.Totals = append(res.Totals, ValueCount{Value: v, Votes: t.weight})
	}
	sort.Slice(res.Totals, func(i, j int) bool {
		a, b := res.Totals[i], res.Totals[j]
		if a.Votes != b.Votes {
			return a.Votes > b.Votes
		}
		if av, bv := r.allVotes[a.Value].weight, r.allVotes[b.Value].weight; av != bv {
			return av > bv
		}
		if r.baseline != nil {
			if a.Value == *r.baseline {
				return true
			}
			if b.Value == *r.baseline {
				return false
			}
		}
		return r.less(a.Value, b.Value)
	})

	if len(res.Totals) == 0 {
		// 没有有效票（含全部弃权）时沿用基线
		res.WinningValue = copyValue(r.baseline)
		res.WinningStatus = r.baselineStatus
		if r.baseline != nil {
			res.SameVotes = []string{*r.baseline}
		}
		res.finishLock(r.lockValue)
		return res
	}

	winner := res.Totals[0]
	res.OValue = model.StringPtr(winner.Value)
	res.OWeight = winner.Votes
	res.SameVotes = []string{winner.Value}
	if len(res.Totals) > 1 {
		next := res.Totals[1]
		res.NValue = model.StringPtr(next.Value)
		res.NWeight = next.Votes
		for _, vc := range res.Totals[1:] {
			if vc.Votes != winner.Votes {
				break
			}
			res.SameVotes = append(res.SameVotes, vc.Value)
		}
	}

	res.WinningValue = model.StringPtr(winner.Value)
	res.WinningStatus = r.computeStatus(res.OWeight, res.NWeight, winner.Value)

	// 不如基线时沿用基线
	if res.WinningStatus < r.baselineStatus {
		res.WinningValue = copyValue(r.baseline)
		res.WinningStatus = r.baselineStatus
		res.SameVotes = []string{*r.baseline}
	}

	if res.WinningStatus < model.StatusContributed {
		var best int64
		for _, m := range r.orgMax {
			best += m
		}
		possible := r.computeStatus(best, 0, winner.Value)
		res.Disputed = possible >= model.StatusContributed
	}

	res.finishLock(r.lockValue)
	return res
}

func copyValue(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Pool 复用裁决器
type Pool struct {
	p sync.Pool
}

func NewPool() *Pool {
	return &Pool{p: sync.Pool{New: func() interface{} { return New() }}}
}

// Get 取出一个已Reset的裁决器
func (p *Pool) Get() *Resolver {
	r := p.p.Get().(*Resolver)
	r.Reset()
	return r
}

// Put 归还裁决器
func (p *Pool) Put(r *Resolver) {
	p.p.Put(r)
}
