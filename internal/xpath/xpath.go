// Package xpath 处理路径上的 draft / alt 注解
package xpath

import (
	"fmt"
	"regexp"
	"strings"
)

// DraftStatus 写入完整路径的草稿状态
type DraftStatus string

const (
	DraftUnconfirmed DraftStatus = "unconfirmed"
	DraftProvisional DraftStatus = "provisional"
	DraftContributed DraftStatus = "contributed"
	DraftApproved    DraftStatus = "approved"
)

var (
	draftAttr = regexp.MustCompile(`\[@draft="([^"]*)"\]`)
	altAttr   = regexp.MustCompile(`\[@alt="([^"]*)"\]`)
)

// RemoveDraftAltProposed 去掉 draft 注解以及 alt 中的 proposed 部分，其它属性保留
func RemoveDraftAltProposed(path string) string {
	path = draftAttr.ReplaceAllString(path, "")
	return altAttr.ReplaceAllStringFunc(path, func(m string) string {
		alt := altAttr.FindStringSubmatch(m)[1]
		i := strings.Index(alt, "proposed")
		if i < 0 {
			return m
		}
		alt = strings.TrimSuffix(alt[:i], "-")
		if alt == "" {
			return ""
		}
		return fmt.Sprintf(`[@alt="%s"]`, alt)
	})
}

// DraftOf 返回路径上的 draft 值，没有时第二个返回值为false
func DraftOf(path string) (string, bool) {
	m := draftAttr.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// WithDraft 在路径末尾追加 draft 注解
func WithDraft(path string, draft DraftStatus) string {
	return fmt.Sprintf(`%s[@draft="%s"]`, path, draft)
}
