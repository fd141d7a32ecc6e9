package ballot

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidPath     = errors.New("路径不可投票")
	ErrVoteNotAccepted = errors.New("投票未被接受")
	ErrNoPriorVote     = errors.New("没有可重新投出的历史投票")
)

// InvalidPathError 路径不属于该locale的可投票路径
type InvalidPathError struct {
	Locale string
	Path   string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("路径 %s 在 %s 中不可投票", e.Path, e.Locale)
}

func (e *InvalidPathError) Is(target error) bool {
	return target == ErrInvalidPath
}

// ErrorCode 拒绝投票的错误码
type ErrorCode string

const (
	CodeNoPermission   ErrorCode = "E_NO_PERMISSION"
	CodeBadValue       ErrorCode = "E_BAD_VALUE"
	CodeLocaleReadOnly ErrorCode = "E_LOCALE_READONLY"
)

// Denial 投票人不能修改locale的原因
type Denial string

const (
	DenyNone           Denial = ""
	DenyNullUser       Denial = "DENY_NULL_USER"
	DenyLocaleReadOnly Denial = "DENY_LOCALE_READONLY"
	DenyPhaseReadOnly  Denial = "DENY_PHASE_READONLY"
	DenyNoRights       Denial = "DENY_NO_RIGHTS"
	DenyLocaleList     Denial = "DENY_LOCALE_LIST"
)

// VoteNotAcceptedError 投票被拒绝，Code供调用方区分原因
type VoteNotAcceptedError struct {
	Code    ErrorCode
	Denial  Denial
	Message string
}

func (e *VoteNotAcceptedError) Error() string {
	if e.Denial != DenyNone {
		return fmt.Sprintf("%s(%s): %s", e.Code, e.Denial, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *VoteNotAcceptedError) Is(target error) bool {
	return target == ErrVoteNotAccepted
}

func denied(d Denial, msg string) *VoteNotAcceptedError {
	code := CodeNoPermission
	if d == DenyLocaleReadOnly || d == DenyPhaseReadOnly {
		code = CodeLocaleReadOnly
	}
	return &VoteNotAcceptedError{Code: code, Denial: d, Message: msg}
}
