package model

import (
	"time"
)

// VoteType 投票来源
type VoteType int

const (
	VoteTypeNone VoteType = iota
	VoteTypeDirect
	VoteTypeAutoImport
	VoteTypeManualImport
	VoteTypeBulkUpload
)

func (t VoteType) String() string {
	switch t {
	case VoteTypeDirect:
		return "direct"
	case VoteTypeAutoImport:
		return "auto_import"
	case VoteTypeManualImport:
		return "manual_import"
	case VoteTypeBulkUpload:
		return "bulk_upload"
	default:
		return "none"
	}
}

// ParseVoteType 解析投票来源，未知值返回 VoteTypeNone
func ParseVoteType(s string) VoteType {
	switch s {
	case "direct":
		return VoteTypeDirect
	case "auto_import":
		return VoteTypeAutoImport
	case "manual_import":
		return VoteTypeManualImport
	case "bulk_upload":
		return VoteTypeBulkUpload
	default:
		return VoteTypeNone
	}
}

// Vote 某投票人在(locale, path)上的当前投票
// Value为nil表示弃权，弃权同样是一条记录
type Vote struct {
	Locale    string    `json:"locale"`
	Path      string    `json:"path"`
	VoterID   int       `json:"voterId"`
	Value     *string   `json:"value"`
	LastValue *string   `json:"lastValue,omitempty"`
	Override  *int      `json:"override,omitempty"`
	Permanent bool      `json:"permanent"`
	Type      VoteType  `json:"type"`
	ModTime   time.Time `json:"modTime"`
}

// IsAbstain 是否为弃权票
func (v *Vote) IsAbstain() bool {
	return v.Value == nil
}

// SameBallot 判断两张票的内容是否一致（不比较时间）
func (v *Vote) SameBallot(o *Vote) bool {
	if o == nil {
		return false
	}
	return EqualValue(v.Value, o.Value) && equalInt(v.Override, o.Override) &&
		v.Permanent == o.Permanent && v.Type == o.Type
}

// LockEntry 永久锁定的路径
type LockEntry struct {
	Locale  string    `json:"locale"`
	Path    string    `json:"path"`
	Value   string    `json:"value"`
	ModTime time.Time `json:"modTime"`
}

// VoteRequest 投票请求
type VoteRequest struct {
	Locale   string   `json:"locale"`
	Path     string   `json:"path"`
	VoterID  int      `json:"voterId"`
	Value    *string  `json:"value"`
	Override *int     `json:"override,omitempty"`
	Type     VoteType `json:"type"`
}

// VoteResponse 投票响应
type VoteResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Locked    bool      `json:"locked"`
	Unlocked  bool      `json:"unlocked"`
	Timestamp time.Time `json:"timestamp"`
}

// VoteEvent Kafka投票事件
type VoteEvent struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instanceId"`
	Locale     string    `json:"locale"`
	Path       string    `json:"path"`
	VoterID    int       `json:"voterId"`
	Value      *string   `json:"value"`
	Override   *int      `json:"override,omitempty"`
	Type       VoteType  `json:"type"`
	Locked     bool      `json:"locked"`
	Unlocked   bool      `json:"unlocked"`
	CleanSlate bool      `json:"cleanSlate"`
	VotedAt    time.Time `json:"votedAt"`
}

// EqualValue 比较两个可空取值
func EqualValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// StringPtr 返回s的指针
func StringPtr(s string) *string {
	return &s
}

// IntPtr 返回n的指针
func IntPtr(n int) *int {
	return &n
}
