package ballot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/lvdashuaibi/surveyvote/internal/baseline"
	"github.com/lvdashuaibi/surveyvote/internal/cache"
	"github.com/lvdashuaibi/surveyvote/internal/identity"
	"github.com/lvdashuaibi/surveyvote/internal/lock"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/lvdashuaibi/surveyvote/internal/permanent"
	"github.com/lvdashuaibi/surveyvote/internal/repository"
	"github.com/lvdashuaibi/surveyvote/internal/resolver"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	pathP    = "//ldml/greeting"
	pathQ    = "//ldml/farewell"
	pathHigh = "//ldml/high/name"
)

var (
	vetterA    = &model.Voter{ID: 1, Name: "a", Org: model.Organization{Name: "x"}, Level: model.LevelVetter}
	vetterB    = &model.Voter{ID: 2, Name: "b", Org: model.Organization{Name: "y"}, Level: model.LevelVetter}
	tcA        = &model.Voter{ID: 3, Name: "tca", Org: model.Organization{Name: "google", TC: true}, Level: model.LevelTC}
	tcC        = &model.Voter{ID: 4, Name: "tcc", Org: model.Organization{Name: "apple", TC: true}, Level: model.LevelTC}
	guest      = &model.Voter{ID: 5, Name: "g", Org: model.Organization{Name: "z"}, Level: model.LevelGuest}
	lockedUser = &model.Voter{ID: 6, Name: "l", Org: model.Organization{Name: "z"}, Level: model.LevelLocked}
	germanOnly = &model.Voter{ID: 7, Name: "d", Org: model.Organization{Name: "w"}, Level: model.LevelVetter, Locales: []string{"de"}}
	vetterD    = &model.Voter{ID: 8, Name: "d", Org: model.Organization{Name: "v"}, Level: model.LevelVetter}
	admin      = &model.Voter{ID: 9, Name: "root", Org: model.Organization{Name: "surveytool"}, Level: model.LevelAdmin}
)

type fixture struct {
	box    *BallotBox
	store  *repository.MemoryStore
	voters *identity.MemoryRegistry
	cache  *cache.MemoryCache
}

func frSnapshot() *baseline.Snapshot {
	return baseline.NewSnapshot("fr", map[string]baseline.Entry{
		pathP:    {Value: model.StringPtr("Bonjour"), FullPath: pathP},
		pathQ:    {FullPath: pathQ},
		pathHigh: {Value: model.StringPtr("Haut"), FullPath: pathHigh},
	})
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	voters := identity.NewMemoryRegistry(vetterA, vetterB, tcA, tcC, guest, lockedUser, germanOnly, vetterD, admin)
	c, err := cache.NewMemoryCache(64)
	require.NoError(t, err)

	if opts.LockRetry == 0 {
		opts.LockRetry = time.Millisecond
	}
	box := New(frSnapshot(), opts, Deps{
		Store:     store,
		Voters:    voters,
		Locks:     lock.NewLocalLock(),
		Cache:     c,
		Permanent: permanent.NewController(store, voters, permanent.DefaultPolicy(), zap.NewNop()),
		Logger:    zap.NewNop(),
	})
	return &fixture{box: box, store: store, voters: voters, cache: c}
}

func permanentVote() *int {
	return model.IntPtr(model.PermanentVotes)
}

func TestZeroVotesReturnsBaseline(t *testing.T) {
	f := newFixture(t, Options{})
	res, err := f.box.Resolve(context.Background(), pathP)
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", *res.WinningValue)
	assert.Equal(t, model.StatusApproved, res.WinningStatus)
	assert.False(t, res.HasVotes())

	res, err = f.box.Resolve(context.Background(), pathQ)
	require.NoError(t, err)
	assert.Nil(t, res.WinningValue)
	assert.Equal(t, model.StatusMissing, res.WinningStatus)
}

func TestTwoOrganizationsAgree(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.box.VoteForValue(ctx, vetterA, pathQ, model.StringPtr("Salut")))
	require.NoError(t, f.box.VoteForValue(ctx, vetterB, pathQ, model.StringPtr("Salut")))

	res, err := f.box.Resolve(ctx, pathQ)
	require.NoError(t, err)
	assert.Equal(t, "Salut", *res.WinningValue)
	assert.GreaterOrEqual(t, int(res.WinningStatus), int(model.StatusContributed))
	assert.Len(t, res.Orgs, 2)
}

func TestInvalidPath(t *testing.T) {
	f := newFixture(t, Options{})
	err := f.box.VoteForValue(context.Background(), vetterA, "//ldml/nope", model.StringPtr("x"))
	assert.True(t, errors.Is(err, ErrInvalidPath))
	var ipe *InvalidPathError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, "fr", ipe.Locale)

	_, err = f.box.Resolve(context.Background(), "//ldml/nope")
	assert.True(t, errors.Is(err, ErrInvalidPath))
}

func TestQueriesRejectInvalidPath(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	const bad = "//ldml/nope"

	_, err := f.box.VotesForValue(ctx, bad, "x")
	assert.True(t, errors.Is(err, ErrInvalidPath))
	_, err = f.box.VoteDetailsPerUser(ctx, bad)
	assert.True(t, errors.Is(err, ErrInvalidPath))
	_, err = f.box.Values(ctx, bad)
	assert.True(t, errors.Is(err, ErrInvalidPath))
	_, err = f.box.LastModDate(ctx, bad)
	assert.True(t, errors.Is(err, ErrInvalidPath))
	_, err = f.box.HasVotes(ctx, bad)
	assert.True(t, errors.Is(err, ErrInvalidPath))
	_, err = f.box.Lock(ctx, bad)
	assert.True(t, errors.Is(err, ErrInvalidPath))
	_, err = f.box.UserDidVote(ctx, vetterA, bad)
	assert.True(t, errors.Is(err, ErrInvalidPath))
	_, err = f.box.UserVoteType(ctx, vetterA, bad)
	assert.True(t, errors.Is(err, ErrInvalidPath))
	_, err = f.box.VoteValue(ctx, vetterA, bad)
	assert.True(t, errors.Is(err, ErrInvalidPath))
}

func TestQueriesRejectNilVoter(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var vna *VoteNotAcceptedError
	_, err := f.box.UserDidVote(ctx, nil, pathP)
	require.True(t, errors.As(err, &vna))
	assert.Equal(t, DenyNullUser, vna.Denial)
	_, err = f.box.UserVoteType(ctx, nil, pathP)
	assert.True(t, errors.As(err, &vna))
	_, err = f.box.VoteValue(ctx, nil, pathP)
	assert.True(t, errors.As(err, &vna))
}

func TestVoteNotAccepted(t *testing.T) {
	long := strings.Repeat("é", 11)
	tests := []struct {
		name     string
		opts     Options
		voter    *model.Voter
		value    *string
		override *int
		code     ErrorCode
		denial   Denial
	}{
		{"无投票人", Options{}, nil, model.StringPtr("x"), nil, CodeNoPermission, DenyNullUser},
		{"已锁定账号", Options{}, lockedUser, model.StringPtr("x"), nil, CodeNoPermission, DenyNoRights},
		{"locale不在列表中", Options{}, germanOnly, model.StringPtr("x"), nil, CodeNoPermission, DenyLocaleList},
		{"只读locale", Options{ReadOnly: true}, vetterA, model.StringPtr("x"), nil, CodeLocaleReadOnly, DenyLocaleReadOnly},
		{"只读阶段", Options{PhaseReadOnly: true}, vetterA, model.StringPtr("x"), nil, CodeLocaleReadOnly, DenyPhaseReadOnly},
		{"票数不在菜单中", Options{}, vetterA, model.StringPtr("x"), model.IntPtr(50), CodeNoPermission, DenyNone},
		{"vetter不能投永久票", Options{}, vetterA, model.StringPtr("x"), permanentVote(), CodeNoPermission, DenyNone},
		{"取值过长", Options{MaxValueLength: 10}, vetterA, &long, nil, CodeBadValue, DenyNone},
		{"非法UTF-8", Options{}, vetterA, model.StringPtr("\xff\xfe"), nil, CodeBadValue, DenyNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts)
			_, err := f.box.VoteForValueWithType(context.Background(), tt.voter, pathP, tt.value, tt.override, model.VoteTypeDirect)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrVoteNotAccepted))

			var vna *VoteNotAcceptedError
			require.True(t, errors.As(err, &vna))
			assert.Equal(t, tt.code, vna.Code)
			assert.Equal(t, tt.denial, vna.Denial)

			votes, err := f.box.VoteDetailsPerUser(context.Background(), pathP)
			require.NoError(t, err)
			assert.Empty(t, votes)
		})
	}
}

func TestValueAtLengthLimitAccepted(t *testing.T) {
	f := newFixture(t, Options{MaxValueLength: 10})
	v := strings.Repeat("é", 10)
	assert.NoError(t, f.box.VoteForValue(context.Background(), vetterA, pathP, &v))
}

func TestPhaseReadOnlyAllowsTC(t *testing.T) {
	f := newFixture(t, Options{PhaseReadOnly: true})
	assert.NoError(t, f.box.VoteForValue(context.Background(), tcA, pathP, model.StringPtr("Salut")))
}

func TestOverrideEqualToDefaultIsNormalised(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.box.VoteForValueWithType(ctx, vetterA, pathP, model.StringPtr("Salut"), model.IntPtr(4), model.VoteTypeDirect)
	require.NoError(t, err)

	v, err := f.store.GetVote(ctx, "fr", pathP, vetterA.ID)
	require.NoError(t, err)
	assert.Nil(t, v.Override)
}

func TestRevoteSameValueIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.box.VoteForValue(ctx, vetterA, pathP, model.StringPtr("Salut")))
	require.NoError(t, f.box.VoteForValue(ctx, vetterB, pathP, model.StringPtr("Coucou")))
	before, err := f.box.Resolve(ctx, pathP)
	require.NoError(t, err)
	dump := before.String()
	first, err := f.store.GetVote(ctx, "fr", pathP, vetterA.ID)
	require.NoError(t, err)

	require.NoError(t, f.box.VoteForValue(ctx, vetterA, pathP, model.StringPtr("Salut")))

	votes, err := f.box.VoteDetailsPerUser(ctx, pathP)
	require.NoError(t, err)
	assert.Len(t, votes, 2)
	again, err := f.store.GetVote(ctx, "fr", pathP, vetterA.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ModTime, again.ModTime)

	after, err := f.box.Resolve(ctx, pathP)
	require.NoError(t, err)
	assert.Equal(t, dump, after.String())
}

func TestAbstainRemovesOnlyThatVoter(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.box.VoteForValue(ctx, vetterA, pathQ, model.StringPtr("Salut")))
	require.NoError(t, f.box.VoteForValue(ctx, vetterB, pathQ, model.StringPtr("Salut")))
	res, err := f.box.Resolve(ctx, pathQ)
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.VotesFor("Salut"))

	require.NoError(t, f.box.UnvoteFor(ctx, vetterA, pathQ))

	res, err = f.box.Resolve(ctx, pathQ)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.VotesFor("Salut"))
	assert.Equal(t, 1, res.Abstentions)

	did, err := f.box.UserDidVote(ctx, vetterA, pathQ)
	require.NoError(t, err)
	assert.False(t, did)
	did, err = f.box.UserDidVote(ctx, vetterB, pathQ)
	require.NoError(t, err)
	assert.True(t, did)

	// 弃权同样是一条记录
	votes, err := f.box.VoteDetailsPerUser(ctx, pathQ)
	require.NoError(t, err)
	assert.Len(t, votes, 2)
}

func TestRevoteFor(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	err := f.box.RevoteFor(ctx, vetterA, pathP)
	assert.True(t, errors.Is(err, ErrNoPriorVote))

	require.NoError(t, f.box.VoteForValue(ctx, vetterA, pathP, model.StringPtr("Salut")))
	require.NoError(t, f.box.UnvoteFor(ctx, vetterA, pathP))
	v, err := f.box.VoteValue(ctx, vetterA, pathP)
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, f.box.RevoteFor(ctx, vetterA, pathP))
	v, err = f.box.VoteValue(ctx, vetterA, pathP)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "Salut", *v)
}

func TestPermanentVotesLockPath(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	out, err := f.box.VoteForValueWithType(ctx, tcA, pathP, model.StringPtr("Salut"), permanentVote(), model.VoteTypeDirect)
	require.NoError(t, err)
	assert.False(t, out.Changed())

	out, err = f.box.VoteForValueWithType(ctx, tcC, pathP, model.StringPtr("Salut"), permanentVote(), model.VoteTypeDirect)
	require.NoError(t, err)
	assert.True(t, out.Locked)
	assert.True(t, out.CleanSlate)

	l, err := f.box.Lock(ctx, pathP)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "Salut", l.Value)

	// 永久票已清除
	votes, err := f.box.VoteDetailsPerUser(ctx, pathP)
	require.NoError(t, err)
	assert.Empty(t, votes)

	// 普通投票不改变锁定值
	require.NoError(t, f.box.VoteForValue(ctx, vetterD, pathP, model.StringPtr("Bonjour")))
	res, err := f.box.Resolve(ctx, pathP)
	require.NoError(t, err)
	assert.Equal(t, "Salut", *res.WinningValue)
	assert.Equal(t, model.StatusApproved, res.WinningStatus)
	assert.True(t, res.Locked)

	// 第三张永久票为空操作
	out, err = f.box.VoteForValueWithType(ctx, admin, pathP, model.StringPtr("Salut"), permanentVote(), model.VoteTypeDirect)
	require.NoError(t, err)
	assert.False(t, out.Changed())
	l, err = f.box.Lock(ctx, pathP)
	require.NoError(t, err)
	assert.Equal(t, "Salut", l.Value)
}

func TestPermanentAbstainsUnlockPath(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for _, v := range []*model.Voter{tcA, tcC} {
		_, err := f.box.VoteForValueWithType(ctx, v, pathP, model.StringPtr("Salut"), permanentVote(), model.VoteTypeDirect)
		require.NoError(t, err)
	}

	out, err := f.box.VoteForValueWithType(ctx, tcA, pathP, nil, permanentVote(), model.VoteTypeDirect)
	require.NoError(t, err)
	assert.False(t, out.Changed())
	out, err = f.box.VoteForValueWithType(ctx, tcC, pathP, nil, permanentVote(), model.VoteTypeDirect)
	require.NoError(t, err)
	assert.True(t, out.Unlocked)

	l, err := f.box.Lock(ctx, pathP)
	require.NoError(t, err)
	assert.Nil(t, l)

	res, err := f.box.Resolve(ctx, pathP)
	require.NoError(t, err)
	assert.False(t, res.Locked)
	assert.Equal(t, "Bonjour", *res.WinningValue)
}

func TestWriteInvalidatesCachedResult(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.box.Resolve(ctx, pathQ)
	require.NoError(t, err)
	assert.Nil(t, res.WinningValue)
	assert.Equal(t, 1, f.cache.Len())

	require.NoError(t, f.box.VoteForValue(ctx, vetterA, pathQ, model.StringPtr("Salut")))
	res, err = f.box.Resolve(ctx, pathQ)
	require.NoError(t, err)
	require.NotNil(t, res.WinningValue)
	assert.Equal(t, "Salut", *res.WinningValue)
}

func TestQueries(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	last, err := f.box.LastModDate(ctx, pathP)
	require.NoError(t, err)
	assert.Nil(t, last)
	has, err := f.box.HasVotes(ctx, pathP)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, f.box.VoteForValue(ctx, vetterA, pathP, model.StringPtr("Salut")))
	require.NoError(t, f.box.VoteForValue(ctx, vetterB, pathP, model.StringPtr("Salut")))
	_, err = f.box.VoteForValueWithType(ctx, vetterD, pathP, model.StringPtr("Coucou"), nil, model.VoteTypeBulkUpload)
	require.NoError(t, err)
	require.NoError(t, f.box.VoteForValue(ctx, vetterD, pathP, model.StringPtr("Allô")))

	ids, err := f.box.VotesForValue(ctx, pathP, "Salut")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids)

	values, err := f.box.Values(ctx, pathP)
	require.NoError(t, err)
	assert.Equal(t, []string{"Allô", "Bonjour", "Salut"}, values)

	vt, err := f.box.UserVoteType(ctx, vetterD, pathP)
	require.NoError(t, err)
	assert.Equal(t, model.VoteTypeDirect, vt)
	vt, err = f.box.UserVoteType(ctx, guest, pathP)
	require.NoError(t, err)
	assert.Equal(t, model.VoteTypeNone, vt)

	last, err = f.box.LastModDate(ctx, pathP)
	require.NoError(t, err)
	require.NotNil(t, last)
	d, err := f.store.GetVote(ctx, "fr", pathP, vetterD.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ModTime, *last)

	has, err = f.box.HasVotes(ctx, pathP)
	require.NoError(t, err)
	assert.True(t, has)

	dump, err := f.box.ResolverDump(ctx, pathP)
	require.NoError(t, err)
	assert.Contains(t, dump, `"Salut"`)
}

func TestValuesIncludePreviousValue(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.box.VoteForValue(ctx, vetterA, pathQ, model.StringPtr("Salut")))
	require.NoError(t, f.box.UnvoteFor(ctx, vetterA, pathQ))

	values, err := f.box.Values(ctx, pathQ)
	require.NoError(t, err)
	assert.Equal(t, []string{"Salut"}, values)
}

func TestUnknownAndUncountedVotersAreSkipped(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.box.VoteForValue(ctx, vetterA, pathQ, model.StringPtr("Salut")))
	require.NoError(t, f.store.PutVote(ctx, &model.Vote{Locale: "fr", Path: pathQ, VoterID: 999, Value: model.StringPtr("Ghost"), ModTime: time.Now()}))
	require.NoError(t, f.store.PutVote(ctx, &model.Vote{Locale: "fr", Path: pathQ, VoterID: germanOnly.ID, Value: model.StringPtr("Ghost"), ModTime: time.Now()}))

	res, err := f.box.Resolve(ctx, pathQ)
	require.NoError(t, err)
	assert.Equal(t, "Salut", *res.WinningValue)
	assert.Equal(t, int64(0), res.VotesFor("Ghost"))
}

func TestHighBarPath(t *testing.T) {
	f := newFixture(t, Options{HighBarPrefixes: []string{"//ldml/high/"}})
	ctx := context.Background()

	require.NoError(t, f.box.VoteForValue(ctx, vetterA, pathHigh, model.StringPtr("Neu")))
	require.NoError(t, f.box.VoteForValue(ctx, vetterB, pathHigh, model.StringPtr("Neu")))

	res, err := f.box.Resolve(ctx, pathHigh)
	require.NoError(t, err)
	assert.Equal(t, resolver.HighBar, res.RequiredVotes)
	assert.Equal(t, "Haut", *res.WinningValue)

	// 普通路径上同样的票足以批准
	require.NoError(t, f.box.VoteForValue(ctx, vetterA, pathP, model.StringPtr("Neu")))
	require.NoError(t, f.box.VoteForValue(ctx, vetterB, pathP, model.StringPtr("Neu")))
	res, err = f.box.Resolve(ctx, pathP)
	require.NoError(t, err)
	assert.Equal(t, "Neu", *res.WinningValue)
	assert.Equal(t, model.StatusApproved, res.WinningStatus)
}

func TestConcurrentVotesOnOnePath(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	const n = 30
	for i := 0; i < n; i++ {
		f.voters.Put(&model.Voter{ID: 100 + i, Name: fmt.Sprint(i), Org: model.Organization{Name: fmt.Sprintf("org%d", i)}, Level: model.LevelVetter})
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			voter, err := f.voters.GetVoter(ctx, 100+i)
			if err != nil {
				errs <- err
				return
			}
			value := "Salut"
			if i%3 == 0 {
				value = "Coucou"
			}
			errs <- f.box.VoteForValue(ctx, voter, pathQ, &value)
			// 并发读取不阻塞写入
			_, err = f.box.Resolve(ctx, pathQ)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	votes, err := f.box.VoteDetailsPerUser(ctx, pathQ)
	require.NoError(t, err)
	assert.Len(t, votes, n)

	res, err := f.box.Resolve(ctx, pathQ)
	require.NoError(t, err)
	assert.Equal(t, "Salut", *res.WinningValue)
	assert.Equal(t, int64(4*20), res.VotesFor("Salut"))
	assert.Equal(t, int64(4*10), res.VotesFor("Coucou"))
}

func TestConcurrentPermanentVotesAlwaysLock(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t, Options{})
		ctx := context.Background()

		var wg sync.WaitGroup
		for _, v := range []*model.Voter{tcA, tcC} {
			wg.Add(1)
			go func(v *model.Voter) {
				defer wg.Done()
				_, err := f.box.VoteForValueWithType(ctx, v, pathP, model.StringPtr("Salut"), permanentVote(), model.VoteTypeDirect)
				assert.NoError(t, err)
			}(v)
		}
		wg.Wait()

		l, err := f.box.Lock(ctx, pathP)
		require.NoError(t, err)
		require.NotNil(t, l, "round %d", round)
		assert.Equal(t, "Salut", l.Value)
	}
}

func TestFactory(t *testing.T) {
	store := repository.NewMemoryStore()
	cfg := config.Default().Vote
	cfg.ReadOnlyLocales = []string{"de"}
	de := baseline.NewSnapshot("de", map[string]baseline.Entry{pathP: {Value: model.StringPtr("Hallo")}})
	f := NewFactory(cfg, baseline.NewMapSource(frSnapshot(), de), Deps{
		Store:  store,
		Voters: identity.NewMemoryRegistry(vetterA),
		Locks:  lock.NewLocalLock(),
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	boxes := make([]*BallotBox, 8)
	for i := range boxes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := f.ForLocale(ctx, "fr")
			assert.NoError(t, err)
			boxes[i] = b
		}(i)
	}
	wg.Wait()
	for _, b := range boxes[1:] {
		assert.Same(t, boxes[0], b)
	}

	deBox, err := f.ForLocale(ctx, "de")
	require.NoError(t, err)
	err = deBox.VoteForValue(ctx, vetterA, pathP, model.StringPtr("Servus"))
	var vna *VoteNotAcceptedError
	require.True(t, errors.As(err, &vna))
	assert.Equal(t, CodeLocaleReadOnly, vna.Code)

	_, err = f.ForLocale(ctx, "xx")
	assert.True(t, errors.Is(err, baseline.ErrUnknownLocale))
}
