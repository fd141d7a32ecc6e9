package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/lvdashuaibi/surveyvote/internal/model"
)

// VoteStatus 从某个组织角度看路径的状态
type VoteStatus string

const (
	// VoteStatusOKNoVotes 已达contributed以上，本组织未投票
	VoteStatusOKNoVotes VoteStatus = "ok_novotes"
	// VoteStatusOK 已达contributed以上，本组织投给了胜出值
	VoteStatusOK VoteStatus = "ok"
	// VoteStatusProvisionalOrWorse 胜出值未达contributed
	VoteStatusProvisionalOrWorse VoteStatus = "provisional_or_worse"
	// VoteStatusLosing 本组织的选择未胜出
	VoteStatusLosing VoteStatus = "losing"
	// VoteStatusDisputed 存在多个有票的值，或有票的值未胜出
	VoteStatusDisputed VoteStatus = "disputed"
)

// ValueCount 值及其票数
type ValueCount struct {
	Value string `json:"value"`
	Votes int64  `json:"votes"`

	time time.Time
}

// OrgVote 单个组织的投票情况
type OrgVote struct {
	Org        string       `json:"org"`
	Value      string       `json:"value"`
	Votes      int64        `json:"votes"`
	Conflicted bool         `json:"conflicted"`
	Values     []ValueCount `json:"values"`
}

// VoterVote 单个投票人计入裁决的票
type VoterVote struct {
	VoterID int       `json:"voterId"`
	Name    string    `json:"name"`
	Org     string    `json:"org"`
	Value   *string   `json:"value"`
	Weight  int       `json:"weight"`
	Time    time.Time `json:"time"`
}

// Result 裁决结果，不持久化
type Result struct {
	WinningValue   *string          `json:"winningValue"`
	WinningStatus  model.Status     `json:"winningStatus"`
	OValue         *string          `json:"oValue,omitempty"`
	OWeight        int64            `json:"oWeight"`
	NValue         *string          `json:"nValue,omitempty"`
	NWeight        int64            `json:"nWeight"`
	BaselineValue  *string          `json:"baselineValue"`
	BaselineStatus model.Status     `json:"baselineStatus"`
	RequiredVotes  int              `json:"requiredVotes"`
	Totals         []ValueCount     `json:"totals"`
	AllVotes       map[string]int64 `json:"allVotes"`
	Orgs           []OrgVote        `json:"orgs"`
	Conflicted     []string         `json:"conflicted,omitempty"`
	SameVotes      []string         `json:"sameVotes,omitempty"`
	Locked         bool             `json:"locked"`
	Disputed       bool             `json:"disputed"`
	Abstentions    int              `json:"abstentions"`
	Voters         []VoterVote      `json:"voters"`
}

func (res *Result) finishLock(lockValue *string) {
	if lockValue == nil {
		return
	}
	res.WinningValue = copyValue(lockValue)
	res.WinningStatus = model.StatusApproved
	res.SameVotes = []string{*lockValue}
	res.Disputed = false
}

// HasVotes 是否有非弃权票
func (res *Result) HasVotes() bool {
	return len(res.Totals) > 0
}

// OrgVote 返回组织的投票，未投票时为nil
func (res *Result) OrgVote(org string) *OrgVote {
	for i := range res.Orgs {
		if res.Orgs[i].Org == org {
			return &res.Orgs[i]
		}
	}
	return nil
}

// VotesFor 值在组织裁决后的总票数
func (res *Result) VotesFor(value string) int64 {
	for _, vc := range res.Totals {
		if vc.Value == value {
			return vc.Votes
		}
	}
	return 0
}

// StatusForOrganization 组织视角下的状态
func (res *Result) StatusForOrganization(org string) VoteStatus {
	if res.WinningStatus <= model.StatusProvisional {
		return VoteStatusProvisionalOrWorse
	}
	if ov := res.OrgVote(org); ov != nil && !model.EqualValue(res.WinningValue, &ov.Value) {
		return VoteStatusLosing
	}
	switch len(res.Totals) {
	case 0:
		return VoteStatusOKNoVotes
	case 1:
		if !model.EqualValue(res.WinningValue, &res.Totals[0].Value) {
			return VoteStatusDisputed
		}
		return VoteStatusOK
	default:
		return VoteStatusDisputed
	}
}

func formatValue(v *string) string {
	if v == nil {
		return "∅"
	}
	return fmt.Sprintf("%q", *v)
}

// String 输出可读的裁决明细，用于审计
func (res *Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{baseline: {%s, %s}, requiredVotes: %d, locked: %t, abstentions: %d\n",
		formatValue(res.BaselineValue), res.BaselineStatus, res.RequiredVotes, res.Locked, res.Abstentions)
	b.WriteString(" voters: [")
	for i, v := range res.Voters {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d/%s/%s=%s(%d)", v.VoterID, v.Name, v.Org, formatValue(v.Value), v.Weight)
	}
	b.WriteString("]\n orgToVotes: {")
	for i, o := range res.Orgs {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=", o.Org)
		writeCounts(&b, o.Values)
	}
	b.WriteString("}\n totals: ")
	writeCounts(&b, res.Totals)
	fmt.Fprintf(&b, ", conflicted: %v, sameVotes: %q\n", res.Conflicted, res.SameVotes)
	fmt.Fprintf(&b, " O: %s(%d), N: %s(%d)\n", formatValue(res.OValue), res.OWeight, formatValue(res.NValue), res.NWeight)
	fmt.Fprintf(&b, " winning: {%s, %s}, disputed: %t}", formatValue(res.WinningValue), res.WinningStatus, res.Disputed)
	return b.String()
}

func writeCounts(b *strings.Builder, counts []ValueCount) {
	b.WriteString("{")
	for i, vc := range counts {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%q=%d", vc.Value, vc.Votes)
	}
	b.WriteString("}")
}
