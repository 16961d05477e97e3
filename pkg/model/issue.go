package model

import (
	"fmt"
	"strings"
)

// IssueKind 问题类型
type IssueKind string

const (
	IssueUnknownDriver      IssueKind = "unknown_driver"
	IssueUnknownOrder       IssueKind = "unknown_order"
	IssueTimeConflict       IssueKind = "time_conflict"
	IssueCapabilityMismatch IssueKind = "capability_mismatch"
	IssueCapacityExceeded   IssueKind = "capacity_exceeded"
	IssueResourceWaste      IssueKind = "resource_waste"
	IssueRegionMismatch     IssueKind = "region_mismatch"
	IssueOther              IssueKind = "other"
)

// IsCritical 时间冲突与能力不匹配为严重问题
func (k IssueKind) IsCritical() bool {
	return k == IssueTimeConflict || k == IssueCapabilityMismatch
}

// Issue 校验问题，是数据而不是错误
type Issue struct {
	Kind     IssueKind `json:"kind"`
	DriverID string    `json:"driver_id,omitempty"`
	OrderIDs []string  `json:"order_ids,omitempty"`
	Message  string    `json:"message"`
}

// String 返回可读描述
func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s", i.Kind, i.Message)
}

// Category 评分类别
type Category string

const (
	CategoryTimeConflicts Category = "time_conflicts"
	CategoryCapability    Category = "capability"
	CategoryCapacity      Category = "capacity"
	CategoryResourceWaste Category = "resource_waste"
	CategoryRegion        Category = "region"
	CategoryOther         Category = "other"
)

// Categories 按严重程度降序排列的评分类别
var Categories = []Category{
	CategoryTimeConflicts,
	CategoryCapability,
	CategoryCapacity,
	CategoryResourceWaste,
	CategoryRegion,
	CategoryOther,
}

// CategoryOf 问题类型对应的评分类别，未知标识归入 other
func CategoryOf(kind IssueKind) Category {
	switch kind {
	case IssueTimeConflict:
		return CategoryTimeConflicts
	case IssueCapabilityMismatch:
		return CategoryCapability
	case IssueCapacityExceeded:
		return CategoryCapacity
	case IssueResourceWaste:
		return CategoryResourceWaste
	case IssueRegionMismatch:
		return CategoryRegion
	default:
		return CategoryOther
	}
}

// Breakdown 各评分类别的问题数量
type Breakdown map[Category]int

// NewBreakdown 统计问题列表，所有类别都有键
func NewBreakdown(issues []Issue) Breakdown {
	b := make(Breakdown, len(Categories))
	for _, c := range Categories {
		b[c] = 0
	}
	for _, issue := range issues {
		b[CategoryOf(issue.Kind)]++
	}
	return b
}

// Critical 严重问题数量
func (b Breakdown) Critical() int {
	return b[CategoryTimeConflicts] + b[CategoryCapability]
}

// String 按固定类别顺序输出
func (b Breakdown) String() string {
	parts := make([]string, 0, len(Categories))
	for _, c := range Categories {
		parts = append(parts, fmt.Sprintf("%s=%d", c, b[c]))
	}
	return strings.Join(parts, " ")
}
