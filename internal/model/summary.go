package model

import "time"

// LocaleSummary 一个locale全部路径的裁决汇总
type LocaleSummary struct {
	Locale      string         `json:"locale"`
	Paths       int            `json:"paths"`
	ByStatus    map[string]int `json:"byStatus"`
	Disputed    int            `json:"disputed"`
	Locked      int            `json:"locked"`
	Failed      int            `json:"failed"`
	GeneratedAt time.Time      `json:"generatedAt"`
	GeneratedBy string         `json:"generatedBy"`
}
