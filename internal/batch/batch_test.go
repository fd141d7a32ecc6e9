package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lvdashuaibi/surveyvote/internal/ballot"
	"github.com/lvdashuaibi/surveyvote/internal/baseline"
	"github.com/lvdashuaibi/surveyvote/internal/identity"
	"github.com/lvdashuaibi/surveyvote/internal/lock"
	"github.com/lvdashuaibi/surveyvote/internal/metrics"
	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/lvdashuaibi/surveyvote/internal/permanent"
	"github.com/lvdashuaibi/surveyvote/internal/repository"
	"github.com/lvdashuaibi/surveyvote/internal/source"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const brokenPath = "//ldml/broken"

var (
	vetterX = &model.Voter{ID: 1, Org: model.Organization{Name: "x"}, Level: model.LevelVetter}
	vetterY = &model.Voter{ID: 2, Org: model.Organization{Name: "y"}, Level: model.LevelVetter}
	tcA     = &model.Voter{ID: 3, Org: model.Organization{Name: "google", TC: true}, Level: model.LevelTC}
	tcC     = &model.Voter{ID: 4, Org: model.Organization{Name: "apple", TC: true}, Level: model.LevelTC}
	guest   = &model.Voter{ID: 5, Org: model.Organization{Name: "w"}, Level: model.LevelGuest}
)

// flakyStore 读取brokenPath时失败
type flakyStore struct {
	repository.Store
}

func (s flakyStore) VotesForPath(ctx context.Context, locale, path string) ([]*model.Vote, error) {
	if path == brokenPath {
		return nil, &repository.PersistenceError{Op: "读取投票失败", Err: errors.New("connection reset")}
	}
	return s.Store.VotesForPath(ctx, locale, path)
}

func newSource(t *testing.T, store repository.Store, m *metrics.Metrics, n int) (*source.VoteProjectedSource, *ballot.BallotBox) {
	t.Helper()
	entries := map[string]baseline.Entry{
		brokenPath: {Value: model.StringPtr("x")},
	}
	for i := 0; i < n; i++ {
		p := fmt.Sprintf("//ldml/p%03d", i)
		entries[p] = baseline.Entry{Value: model.StringPtr(fmt.Sprintf("v%d", i)), FullPath: p}
	}
	entries["//ldml/empty"] = baseline.Entry{}

	if store == nil {
		store = repository.NewMemoryStore()
	}
	voters := identity.NewMemoryRegistry(vetterX, vetterY, tcA, tcC, guest)
	box := ballot.New(baseline.NewSnapshot("fr", entries), ballot.Options{LockRetry: time.Millisecond}, ballot.Deps{
		Store:     store,
		Voters:    voters,
		Locks:     lock.NewLocalLock(),
		Permanent: permanent.NewController(store, voters, permanent.DefaultPolicy(), zap.NewNop()),
		Metrics:   m,
	})
	return source.NewVoteProjectedSource(box, m, zap.NewNop()), box
}

func TestResolveLocaleSummary(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	store := flakyStore{repository.NewMemoryStore()}
	src, box := newSource(t, store, m, 20)

	require.NoError(t, box.VoteForValue(ctx, guest, "//ldml/empty", model.StringPtr("Salut")))
	require.NoError(t, box.VoteForValue(ctx, vetterX, "//ldml/p001", model.StringPtr("Autre")))
	for _, v := range []*model.Voter{tcA, tcC} {
		_, err := box.VoteForValueWithType(ctx, v, "//ldml/p002", model.StringPtr("Verrou"), model.IntPtr(model.PermanentVotes), model.VoteTypeDirect)
		require.NoError(t, err)
	}

	var calls int32
	var last int32
	r := New(3, "node-1", m, zap.NewNop())
	report, err := r.ResolveLocale(ctx, src, func(done, total int) {
		atomic.AddInt32(&calls, 1)
		atomic.StoreInt32(&last, int32(done))
		assert.Equal(t, 22, total)
	})
	require.NoError(t, err)

	s := report.Summary
	assert.Equal(t, "fr", s.Locale)
	assert.Equal(t, 22, s.Paths)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Locked)
	assert.Equal(t, "node-1", s.GeneratedBy)
	assert.False(t, s.GeneratedAt.IsZero())
	assert.Equal(t, 20, s.ByStatus["approved"])
	assert.Equal(t, 1, s.ByStatus["unconfirmed"])
	assert.EqualValues(t, 22, calls)
	assert.EqualValues(t, 22, last)

	require.Len(t, report.Entries, 22)
	for i := 1; i < len(report.Entries); i++ {
		assert.Less(t, report.Entries[i-1].Path, report.Entries[i].Path)
	}
	for _, e := range report.Entries {
		switch e.Path {
		case brokenPath:
			assert.ErrorIs(t, e.Err, repository.ErrPersistence)
		case "//ldml/p001":
			// 一名vetter对抗已批准的基线，基线保留
			require.NoError(t, e.Err)
			assert.Equal(t, "v1", *e.Value.Value)
		case "//ldml/p002":
			require.NoError(t, e.Err)
			assert.Equal(t, "Verrou", *e.Value.Value)
			assert.True(t, e.Value.Locked)
		case "//ldml/empty":
			assert.Equal(t, `//ldml/empty[@draft="unconfirmed"]`, e.Value.FullPath)
		default:
			require.NoError(t, e.Err)
			assert.True(t, e.Value.Resolved)
		}
	}

	assert.Equal(t, 21.0, testutil.ToFloat64(m.BatchPaths.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchPaths.WithLabelValues("error")))
}

func TestResolveLocaleCancelled(t *testing.T) {
	src, _ := newSource(t, nil, nil, 50)
	ctx, cancel := context.WithCancel(context.Background())

	r := New(1, "node-1", nil, nil)
	_, err := r.ResolveLocale(ctx, src, func(done, total int) {
		if done == 5 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveLocaleAlreadyCancelled(t *testing.T) {
	src, _ := newSource(t, nil, nil, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	_, err := New(2, "", nil, nil).ResolveLocale(ctx, src, func(int, int) { atomic.AddInt32(&calls, 1) })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&calls))
}
