package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/lvdashuaibi/surveyvote/internal/model"
)

// MemoryStore 内存存储，用于开发环境与测试
type MemoryStore struct {
	mu    sync.RWMutex
	votes map[string]map[int]*model.Vote
	locks map[string]*model.LockEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		votes: make(map[string]map[int]*model.Vote),
		locks: make(map[string]*model.LockEntry),
	}
}

func copyVote(v *model.Vote) *model.Vote {
	c := *v
	if v.Value != nil {
		s := *v.Value
		c.Value = &s
	}
	if v.LastValue != nil {
		s := *v.LastValue
		c.LastValue = &s
	}
	if v.Override != nil {
		n := *v.Override
		c.Override = &n
	}
	return &c
}

func (m *MemoryStore) PutVote(ctx context.Context, v *model.Vote) error {
	if err := ctx.Err(); err != nil {
		return persistErr("写入投票", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pathKey(v.Locale, v.Path)
	byVoter, ok := m.votes[key]
	if !ok {
		byVoter = make(map[int]*model.Vote)
		m.votes[key] = byVoter
	}
	c := copyVote(v)
	c.LastValue = c.Value
	if c.Value == nil {
		if old, ok := byVoter[v.VoterID]; ok {
			c.LastValue = old.LastValue
		}
	}
	byVoter[v.VoterID] = c
	return nil
}

func (m *MemoryStore) GetVote(ctx context.Context, locale, path string, voterID int) (*model.Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("读取投票", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.votes[pathKey(locale, path)][voterID]
	if !ok {
		return nil, nil
	}
	return copyVote(v), nil
}

func sortVotes(votes []*model.Vote) {
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].Path != votes[j].Path {
			return votes[i].Path < votes[j].Path
		}
		return votes[i].VoterID < votes[j].VoterID
	})
}

func (m *MemoryStore) VotesForPath(ctx context.Context, locale, path string) ([]*model.Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("读取路径投票", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	byVoter := m.votes[pathKey(locale, path)]
	out := make([]*model.Vote, 0, len(byVoter))
	for _, v := range byVoter {
		out = append(out, copyVote(v))
	}
	sortVotes(out)
	return out, nil
}

func (m *MemoryStore) VotesForLocale(ctx context.Context, locale string) ([]*model.Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("读取locale投票", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Vote
	for _, byVoter := range m.votes {
		for _, v := range byVoter {
			if v.Locale == locale {
				out = append(out, copyVote(v))
			}
		}
	}
	sortVotes(out)
	return out, nil
}

func (m *MemoryStore) PermanentVoters(ctx context.Context, locale, path string, value *string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("读取永久票", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int
	for _, v := range m.votes[pathKey(locale, path)] {
		if v.Permanent && model.EqualValue(v.Value, value) {
			ids = append(ids, v.VoterID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (m *MemoryStore) GetLock(ctx context.Context, locale, path string) (*model.LockEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("读取锁定", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.locks[pathKey(locale, path)]
	if !ok {
		return nil, nil
	}
	c := *l
	return &c, nil
}

func (m *MemoryStore) LocksForLocale(ctx context.Context, locale string) ([]*model.LockEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("读取锁定", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.LockEntry
	for _, l := range m.locks {
		if l.Locale == locale {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *MemoryStore) ApplyTransition(ctx context.Context, t Transition) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, persistErr("锁定迁移", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pathKey(t.Locale, t.Path)
	if t.Lock != nil {
		c := *t.Lock
		m.locks[key] = &c
	} else {
		delete(m.locks, key)
	}

	var purged int64
	if t.CleanSlate {
		for id, v := range m.votes[key] {
			if v.Permanent {
				delete(m.votes[key], id)
				purged++
			}
		}
	}
	return purged, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
