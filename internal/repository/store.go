package repository

import (
	"context"
	"fmt"

	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/pkg/errors"
)

// ErrPersistence 存储读写失败
var ErrPersistence = errors.New("投票存储失败")

// PersistenceError 包装底层驱动错误，errors.Is(err, ErrPersistence) 为真
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// VoteStore 投票记录存储，每个(locale, path, voter)只有一条当前记录
type VoteStore interface {
	// PutVote 写入或替换投票，Value非空时同时更新LastValue
	PutVote(ctx context.Context, v *model.Vote) error
	// GetVote 不存在时返回 nil, nil
	GetVote(ctx context.Context, locale, path string, voterID int) (*model.Vote, error)
	VotesForPath(ctx context.Context, locale, path string) ([]*model.Vote, error)
	VotesForLocale(ctx context.Context, locale string) ([]*model.Vote, error)
	// PermanentVoters 投给value的永久票的投票人ID，升序；value为nil时为永久弃权
	PermanentVoters(ctx context.Context, locale, path string, value *string) ([]int, error)
}

// LockTable 路径锁定记录
type LockTable interface {
	// GetLock 未锁定时返回 nil, nil
	GetLock(ctx context.Context, locale, path string) (*model.LockEntry, error)
	LocksForLocale(ctx context.Context, locale string) ([]*model.LockEntry, error)
}

// Transition 锁定状态迁移
// Lock为nil表示解锁；CleanSlate为真时同时清除该路径全部永久票
type Transition struct {
	Locale     string
	Path       string
	Lock       *model.LockEntry
	CleanSlate bool
}

// Store 投票与锁定的组合存储
type Store interface {
	VoteStore
	LockTable
	// ApplyTransition 在一个事务中完成锁定写入/删除与清场，重复执行结果相同
	// 返回清除的永久票数量
	ApplyTransition(ctx context.Context, t Transition) (int64, error)
	Close() error
}

func pathKey(locale, path string) string {
	return locale + "\x00" + path
}
