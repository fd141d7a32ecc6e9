package model

import "strings"

// Status 裁决状态，按从弱到强排列
type Status int

const (
	StatusMissing Status = iota
	StatusUnconfirmed
	StatusProvisional
	StatusContributed
	StatusApproved
)

var statusNames = [...]string{"missing", "unconfirmed", "provisional", "contributed", "approved"}

func (s Status) String() string {
	if s < StatusMissing || s > StatusApproved {
		return "invalid"
	}
	return statusNames[s]
}

// Valid 是否为已定义的状态
func (s Status) Valid() bool {
	return s >= StatusMissing && s <= StatusApproved
}

// ParseStatus 解析状态名，第二个返回值表示是否识别
func ParseStatus(name string) (Status, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range statusNames {
		if n == name {
			return Status(i), true
		}
	}
	return StatusMissing, false
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	st, _ := ParseStatus(string(b))
	*s = st
	return nil
}
