// Package baseline 提供按locale冻结的基线（磁盘）数据
package baseline

import (
	"context"
	"sort"

	"github.com/lvdashuaibi/surveyvote/internal/model"
	"github.com/lvdashuaibi/surveyvote/internal/xpath"
	"github.com/pkg/errors"
)

var ErrUnknownLocale = errors.New("未知的locale")

// Entry 基线中的一个路径
// Value为nil表示路径可投票但基线无值
type Entry struct {
	Value    *string `json:"value" yaml:"value"`
	FullPath string  `json:"fullPath" yaml:"full_path"`
}

// Status 基线状态：无值为missing，完整路径带draft时取其状态，否则为approved
func (e Entry) Status() model.Status {
	if e.Value == nil {
		return model.StatusMissing
	}
	draft, ok := xpath.DraftOf(e.FullPath)
	if !ok {
		return model.StatusApproved
	}
	if s, ok := model.ParseStatus(draft); ok {
		return s
	}
	return model.StatusUnconfirmed
}

// Snapshot 一个locale的只读基线快照
type Snapshot struct {
	locale  string
	entries map[string]Entry
	paths   []string
}

// NewSnapshot 以entries的副本创建快照
func NewSnapshot(locale string, entries map[string]Entry) *Snapshot {
	s := &Snapshot{
		locale:  locale,
		entries: make(map[string]Entry, len(entries)),
		paths:   make([]string, 0, len(entries)),
	}
	for p, e := range entries {
		if e.Value != nil {
			v := *e.Value
			e.Value = &v
		}
		s.entries[p] = e
		s.paths = append(s.paths, p)
	}
	sort.Strings(s.paths)
	return s
}

func (s *Snapshot) Locale() string {
	return s.locale
}

// Has 路径是否属于该locale的可投票集合
func (s *Snapshot) Has(path string) bool {
	_, ok := s.entries[path]
	return ok
}

func (s *Snapshot) Get(path string) (Entry, bool) {
	e, ok := s.entries[path]
	return e, ok
}

// Value 基线值，返回副本
func (s *Snapshot) Value(path string) *string {
	e, ok := s.entries[path]
	if !ok || e.Value == nil {
		return nil
	}
	v := *e.Value
	return &v
}

// FullPath 基线完整路径，不存在时为空串
func (s *Snapshot) FullPath(path string) string {
	return s.entries[path].FullPath
}

func (s *Snapshot) Status(path string) model.Status {
	e, ok := s.entries[path]
	if !ok {
		return model.StatusMissing
	}
	return e.Status()
}

// Paths 全部路径，已排序
func (s *Snapshot) Paths() []string {
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

func (s *Snapshot) Len() int {
	return len(s.paths)
}

// Entries 返回条目副本
func (s *Snapshot) Entries() map[string]Entry {
	out := make(map[string]Entry, len(s.entries))
	for p, e := range s.entries {
		out[p] = e
	}
	return out
}

// Source 基线数据源
type Source interface {
	Snapshot(ctx context.Context, locale string) (*Snapshot, error)
	Locales(ctx context.Context) ([]string, error)
}

// MapSource 内存中的基线数据源
type MapSource struct {
	snapshots map[string]*Snapshot
}

func NewMapSource(snapshots ...*Snapshot) *MapSource {
	m := &MapSource{snapshots: make(map[string]*Snapshot, len(snapshots))}
	for _, s := range snapshots {
		m.snapshots[s.Locale()] = s
	}
	return m
}

func (m *MapSource) Snapshot(_ context.Context, locale string) (*Snapshot, error) {
	s, ok := m.snapshots[locale]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownLocale, "locale %s", locale)
	}
	return s, nil
}

func (m *MapSource) Locales(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(m.snapshots))
	for l := range m.snapshots {
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}
