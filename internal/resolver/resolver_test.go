package resolver

import (
	"testing"
	"time"

	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newVoter(id int, org string, level model.Level) *model.Voter {
	return &model.Voter{ID: id, Name: org + "-user", Org: model.Organization{Name: org}, Level: level}
}

func newVote(voterID int, value string, at time.Time) *model.Vote {
	return &model.Vote{Locale: "fr", Path: "//ldml/p", VoterID: voterID, Value: model.StringPtr(value), Type: model.VoteTypeDirect, ModTime: at}
}

func abstain(voterID int, at time.Time) *model.Vote {
	return &model.Vote{Locale: "fr", Path: "//ldml/p", VoterID: voterID, ModTime: at}
}

func add(t *testing.T, r *Resolver, v *model.Vote, voter *model.Voter) {
	t.Helper()
	require.NoError(t, r.Add(v, voter))
}

func TestResolveNoVotesUsesBaseline(t *testing.T) {
	r := New()
	r.SetBaseline(model.StringPtr("Bonjour"), model.StatusApproved)
	res := r.Resolve()

	require.NotNil(t, res.WinningValue)
	assert.Equal(t, "Bonjour", *res.WinningValue)
	assert.Equal(t, model.StatusApproved, res.WinningStatus)
	assert.False(t, res.HasVotes())
	assert.False(t, res.Disputed)
}

func TestResolveNoVotesNoBaseline(t *testing.T) {
	res := New().Resolve()
	assert.Nil(t, res.WinningValue)
	assert.Equal(t, model.StatusMissing, res.WinningStatus)
}

func TestResolveTwoVettersFromDifferentOrgs(t *testing.T) {
	r := New()
	r.SetBaseline(model.StringPtr("Bonjour"), model.StatusApproved)
	add(t, r, newVote(1, "Salut", t0), newVoter(1, "x", model.LevelVetter))
	add(t, r, newVote(2, "Salut", t0.Add(time.Second)), newVoter(2, "y", model.LevelVetter))
	res := r.Resolve()

	assert.Equal(t, "Salut", *res.WinningValue)
	assert.Equal(t, model.StatusApproved, res.WinningStatus)
	assert.Equal(t, int64(8), res.OWeight)
	assert.Nil(t, res.NValue)
}

func TestResolveContributedBelowRequiredVotes(t *testing.T) {
	r := New()
	r.SetRequiredVotes(16)
	add(t, r, newVote(1, "Salut", t0), newVoter(1, "x", model.LevelVetter))
	add(t, r, newVote(2, "Salut", t0), newVoter(2, "y", model.LevelVetter))
	res := r.Resolve()

	assert.Equal(t, "Salut", *res.WinningValue)
	assert.Equal(t, model.StatusContributed, res.WinningStatus)
	assert.Equal(t, 16, res.RequiredVotes)
}

func TestResolveSingleGuestIsUnconfirmed(t *testing.T) {
	r := New()
	add(t, r, newVote(1, "Salut", t0), newVoter(1, "x", model.LevelGuest))
	res := r.Resolve()

	assert.Equal(t, "Salut", *res.WinningValue)
	assert.Equal(t, model.StatusUnconfirmed, res.WinningStatus)
}

func TestResolveWeakWinnerFallsBackToBaseline(t *testing.T) {
	r := New()
	r.SetBaseline(model.StringPtr("Bonjour"), model.StatusApproved)
	add(t, r, newVote(1, "Salut", t0), newVoter(1, "x", model.LevelVetter))
	res := r.Resolve()

	assert.Equal(t, "Bonjour", *res.WinningValue)
	assert.Equal(t, model.StatusApproved, res.WinningStatus)
	// O值仍然记录投票结果
	assert.Equal(t, "Salut", *res.OValue)
	assert.Equal(t, []string{"Bonjour"}, res.SameVotes)
}

func TestResolveTieBreak(t *testing.T) {
	t.Run("collation order", func(t *testing.T) {
		r := New()
		add(t, r, newVote(1, "b", t0), newVoter(1, "x", model.LevelVetter))
		add(t, r, newVote(2, "a", t0), newVoter(2, "y", model.LevelVetter))
		res := r.Resolve()

		assert.Equal(t, "a", *res.WinningValue)
		assert.Equal(t, "b", *res.NValue)
		assert.Equal(t, model.StatusProvisional, res.WinningStatus)
		assert.Equal(t, []string{"a", "b"}, res.SameVotes)
		assert.True(t, res.Disputed)
	})

	t.Run("baseline preferred", func(t *testing.T) {
		r := New()
		r.SetBaseline(model.StringPtr("b"), model.StatusUnconfirmed)
		add(t, r, newVote(1, "b", t0), newVoter(1, "x", model.LevelVetter))
		add(t, r, newVote(2, "a", t0), newVoter(2, "y", model.LevelVetter))
		res := r.Resolve()

		assert.Equal(t, "b", *res.WinningValue)
	})

	t.Run("raw votes before baseline", func(t *testing.T) {
		r := New()
		r.SetBaseline(model.StringPtr("b"), model.StatusUnconfirmed)
		// 组织x内两人都投a，组织权重仍为4，但原始票数为8
		add(t, r, newVote(1, "a", t0), newVoter(1, "x", model.LevelVetter))
		add(t, r, newVote(2, "a", t0), newVoter(2, "x", model.LevelVetter))
		add(t, r, newVote(3, "b", t0), newVoter(3, "y", model.LevelVetter))
		res := r.Resolve()

		assert.Equal(t, int64(4), res.VotesFor("a"))
		assert.Equal(t, int64(8), res.AllVotes["a"])
		assert.Equal(t, "a", *res.WinningValue)
	})
}

func TestResolveIntraOrgConflict(t *testing.T) {
	r := New()
	add(t, r, newVote(1, "a", t0), newVoter(1, "x", model.LevelVetter))
	add(t, r, newVote(2, "b", t0.Add(time.Minute)), newVoter(2, "x", model.LevelVetter))
	res := r.Resolve()

	assert.Equal(t, []string{"x"}, res.Conflicted)
	ov := res.OrgVote("x")
	require.NotNil(t, ov)
	assert.True(t, ov.Conflicted)
	// 同组织同票数时较晚的投票代表组织
	assert.Equal(t, "b", ov.Value)
	assert.Equal(t, "b", *res.WinningValue)
	assert.Len(t, res.Totals, 1)
}

func TestResolveOverrideWeights(t *testing.T) {
	r := New()
	tc := newVoter(1, "x", model.LevelTC)
	guest := newVoter(2, "y", model.LevelGuest)

	v1 := newVote(1, "a", t0)
	v1.Override = model.IntPtr(4)
	add(t, r, v1, tc)

	// guest不能使用50票，退回默认1票
	v2 := newVote(2, "b", t0)
	v2.Override = model.IntPtr(50)
	add(t, r, v2, guest)

	res := r.Resolve()
	assert.Equal(t, int64(4), res.VotesFor("a"))
	assert.Equal(t, int64(1), res.VotesFor("b"))
}

func TestResolveTCOrgVetterWeight(t *testing.T) {
	r := New()
	v := &model.Voter{ID: 1, Name: "v", Org: model.Organization{Name: "google", TC: true}, Level: model.LevelVetter}
	add(t, r, newVote(1, "a", t0), v)
	res := r.Resolve()
	assert.Equal(t, int64(6), res.OWeight)
}

func TestResolvePermanentVoteWeight(t *testing.T) {
	r := New()
	r.SetBaseline(model.StringPtr("Bonjour"), model.StatusApproved)
	v := newVote(1, "Salut", t0)
	v.Override = model.IntPtr(model.PermanentVotes)
	v.Permanent = true
	add(t, r, v, newVoter(1, "x", model.LevelTC))
	res := r.Resolve()

	assert.Equal(t, "Salut", *res.WinningValue)
	assert.Equal(t, model.StatusApproved, res.WinningStatus)
}

func TestResolveLockedValueWins(t *testing.T) {
	r := New()
	r.SetBaseline(model.StringPtr("Bonjour"), model.StatusApproved)
	require.NoError(t, r.SetLock("Salut", t0))
	for i, org := range []string{"x", "y", "z"} {
		add(t, r, newVote(i+1, "Bonjour", t0), newVoter(i+1, org, model.LevelTC))
	}
	res := r.Resolve()

	assert.True(t, res.Locked)
	assert.Equal(t, "Salut", *res.WinningValue)
	assert.Equal(t, model.StatusApproved, res.WinningStatus)
	assert.False(t, res.Disputed)
}

func TestResolveAbstentions(t *testing.T) {
	r := New()
	r.SetBaseline(model.StringPtr("Bonjour"), model.StatusApproved)
	add(t, r, abstain(1, t0), newVoter(1, "x", model.LevelVetter))
	add(t, r, abstain(2, t0), newVoter(2, "y", model.LevelVetter))
	res := r.Resolve()

	assert.Equal(t, 2, res.Abstentions)
	assert.Len(t, res.Voters, 2)
	assert.False(t, res.HasVotes())
	assert.Equal(t, "Bonjour", *res.WinningValue)
	assert.Equal(t, model.StatusApproved, res.WinningStatus)
}

func TestResolveAllAbstainWithoutBaselineIsMissing(t *testing.T) {
	r := New()
	add(t, r, abstain(1, t0), newVoter(1, "x", model.LevelVetter))
	add(t, r, abstain(2, t0), newVoter(2, "y", model.LevelVetter))
	res := r.Resolve()

	assert.Nil(t, res.WinningValue)
	assert.Equal(t, model.StatusMissing, res.WinningStatus)
	assert.Equal(t, 2, res.Abstentions)
}

// 没有基线时单个vetter（4票）即为contributed
func TestResolveSingleVetterWithoutBaselineIsContributed(t *testing.T) {
	r := New()
	add(t, r, newVote(1, "Salut", t0), newVoter(1, "x", model.LevelVetter))
	res := r.Resolve()

	require.NotNil(t, res.WinningValue)
	assert.Equal(t, "Salut", *res.WinningValue)
	assert.Equal(t, model.StatusContributed, res.WinningStatus)
	assert.Equal(t, int64(4), res.OWeight)
}

func TestResolveHighBar(t *testing.T) {
	t.Run("baseline approved keeps high bar", func(t *testing.T) {
		r := New()
		r.SetRequiredVotes(HighBar)
		r.SetBaseline(model.StringPtr("old"), model.StatusApproved)
		add(t, r, newVote(1, "new", t0), newVoter(1, "x", model.LevelVetter))
		add(t, r, newVote(2, "new", t0), newVoter(2, "y", model.LevelVetter))
		res := r.Resolve()

		assert.Equal(t, HighBar, res.RequiredVotes)
		assert.Equal(t, "old", *res.WinningValue)
	})

	t.Run("baseline not approved lowers bar", func(t *testing.T) {
		r := New()
		r.SetRequiredVotes(HighBar)
		r.SetBaseline(model.StringPtr("old"), model.StatusProvisional)
		add(t, r, newVote(1, "new", t0), newVoter(1, "x", model.LevelVetter))
		add(t, r, newVote(2, "new", t0), newVoter(2, "y", model.LevelVetter))
		res := r.Resolve()

		assert.Equal(t, LowerBar, res.RequiredVotes)
		assert.Equal(t, "new", *res.WinningValue)
		assert.Equal(t, model.StatusApproved, res.WinningStatus)
	})
}

func TestResolveReinforcingVotesNeverLowerStatus(t *testing.T) {
	r := New()
	r.SetBaseline(model.StringPtr("Bonjour"), model.StatusProvisional)
	var voters []*model.Voter
	var votes []*model.Vote
	// 先有一票反对
	voters = append(voters, newVoter(100, "other", model.LevelVetter))
	votes = append(votes, newVote(100, "Coucou", t0))

	prev := model.StatusMissing
	for i, org := range []string{"a", "b", "c", "d", "e"} {
		voters = append(voters, newVoter(i+1, org, model.LevelVetter))
		votes = append(votes, newVote(i+1, "Salut", t0.Add(time.Duration(i)*time.Second)))

		r.Reset()
		r.SetBaseline(model.StringPtr("Bonjour"), model.StatusProvisional)
		for j := range votes {
			add(t, r, votes[j], voters[j])
		}
		res := r.Resolve()
		if *res.WinningValue == "Salut" {
			assert.GreaterOrEqual(t, int(res.WinningStatus), int(prev))
			prev = res.WinningStatus
		}
	}
	assert.Equal(t, model.StatusApproved, prev)
}

func TestResolveOrderIndependent(t *testing.T) {
	voters := []*model.Voter{
		newVoter(1, "x", model.LevelVetter),
		newVoter(2, "y", model.LevelVetter),
		newVoter(3, "z", model.LevelGuest),
	}
	votes := []*model.Vote{
		newVote(1, "a", t0),
		newVote(2, "b", t0.Add(time.Second)),
		newVote(3, "b", t0.Add(2*time.Second)),
	}

	r := New()
	for i := range votes {
		add(t, r, votes[i], voters[i])
	}
	forward := r.Resolve()

	r.Reset()
	for i := len(votes) - 1; i >= 0; i-- {
		add(t, r, votes[i], voters[i])
	}
	backward := r.Resolve()

	assert.Equal(t, forward.WinningValue, backward.WinningValue)
	assert.Equal(t, forward.WinningStatus, backward.WinningStatus)
	assert.Equal(t, forward.Totals, backward.Totals)
}

func TestStatusForOrganization(t *testing.T) {
	r := New()
	add(t, r, newVote(1, "Salut", t0), newVoter(1, "x", model.LevelVetter))
	add(t, r, newVote(2, "Salut", t0), newVoter(2, "y", model.LevelVetter))
	add(t, r, newVote(3, "Bonjour", t0), newVoter(3, "z", model.LevelVetter))
	res := r.Resolve()

	require.Equal(t, model.StatusApproved, res.WinningStatus)
	assert.Equal(t, VoteStatusLosing, res.StatusForOrganization("z"))
	assert.Equal(t, VoteStatusDisputed, res.StatusForOrganization("x"))

	r.Reset()
	add(t, r, newVote(1, "Salut", t0), newVoter(1, "x", model.LevelVetter))
	add(t, r, newVote(2, "Salut", t0), newVoter(2, "y", model.LevelVetter))
	res = r.Resolve()
	assert.Equal(t, VoteStatusOK, res.StatusForOrganization("x"))
	assert.Equal(t, VoteStatusOK, res.StatusForOrganization("w"))

	r.Reset()
	r.SetBaseline(model.StringPtr("Bonjour"), model.StatusApproved)
	res = r.Resolve()
	assert.Equal(t, VoteStatusOKNoVotes, res.StatusForOrganization("x"))

	r.Reset()
	add(t, r, newVote(1, "Salut", t0), newVoter(1, "x", model.LevelGuest))
	res = r.Resolve()
	assert.Equal(t, VoteStatusProvisionalOrWorse, res.StatusForOrganization("x"))
}

func TestResolverRejectsAddAfterResolve(t *testing.T) {
	r := New()
	r.Resolve()
	assert.ErrorIs(t, r.Add(newVote(1, "a", t0), newVoter(1, "x", model.LevelVetter)), ErrAlreadyResolved)
	assert.ErrorIs(t, r.SetLock("a", t0), ErrAlreadyResolved)
}

func TestPoolReturnsCleanResolver(t *testing.T) {
	p := NewPool()
	r := p.Get()
	add(t, r, newVote(1, "a", t0), newVoter(1, "x", model.LevelVetter))
	first := r.Resolve()
	p.Put(r)

	r = p.Get()
	second := r.Resolve()
	assert.True(t, first.HasVotes())
	assert.False(t, second.HasVotes())
	// 先前的结果不受复用影响
	assert.Equal(t, "a", *first.WinningValue)
}

func TestResultString(t *testing.T) {
	r := New()
	r.SetBaseline(model.StringPtr("Bonjour"), model.StatusApproved)
	add(t, r, newVote(1, "Salut", t0), newVoter(1, "x", model.LevelVetter))
	s := r.Resolve().String()

	assert.Contains(t, s, `baseline: {"Bonjour", approved}`)
	assert.Contains(t, s, `x={"Salut"=4}`)
	assert.Contains(t, s, `winning: {"Bonjour", approved}`)
}
