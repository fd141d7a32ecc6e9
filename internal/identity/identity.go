// Package identity 查询投票人信息
package identity

import (
	"context"
	"sync"

	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/pkg/errors"
)

var ErrUnknownVoter = errors.New("未知的投票人")

// Registry 按ID查询投票人
type Registry interface {
	// GetVoter 投票人不存在时返回 ErrUnknownVoter
	GetVoter(ctx context.Context, id int) (*model.Voter, error)
}

// MemoryRegistry 内存投票人表
type MemoryRegistry struct {
	mu     sync.RWMutex
	voters map[int]*model.Voter
}

func NewMemoryRegistry(voters ...*model.Voter) *MemoryRegistry {
	r := &MemoryRegistry{voters: make(map[int]*model.Voter, len(voters))}
	for _, v := range voters {
		r.voters[v.ID] = v
	}
	return r
}

// Put 新增或替换投票人
func (r *MemoryRegistry) Put(v *model.Voter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voters[v.ID] = v
}

func (r *MemoryRegistry) GetVoter(_ context.Context, id int) (*model.Voter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.voters[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownVoter, "id %d", id)
	}
	c := *v
	return &c, nil
}
