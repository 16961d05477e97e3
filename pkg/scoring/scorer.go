// Package scoring 提供问题加权评分与最优方案选择
package scoring

import (
	"fmt"

	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/model"
)

// Weights 各类问题的权重，必须严格按严重程度递减
type Weights struct {
	TimeConflict       int64 `yaml:"time_conflict" json:"time_conflict"`
	CapabilityMismatch int64 `yaml:"capability_mismatch" json:"capability_mismatch"`
	CapacityExceeded   int64 `yaml:"capacity_exceeded" json:"capacity_exceeded"`
	ResourceWaste      int64 `yaml:"resource_waste" json:"resource_waste"`
	RegionMismatch     int64 `yaml:"region_mismatch" json:"region_mismatch"`
	Other              int64 `yaml:"other" json:"other"`
}

// DefaultWeights 默认权重，按10的幂间隔
func DefaultWeights() Weights {
	return Weights{
		TimeConflict:       10_000_000_000,
		CapabilityMismatch: 1_000_000_000,
		CapacityExceeded:   1_000,
		ResourceWaste:      100,
		RegionMismatch:     10,
		Other:              1,
	}
}

// Validate 检查权重是否为正且严格递减
func (w Weights) Validate() error {
	ordered := []struct {
		name  string
		value int64
	}{
		{"time_conflict", w.TimeConflict},
		{"capability_mismatch", w.CapabilityMismatch},
		{"capacity_exceeded", w.CapacityExceeded},
		{"resource_waste", w.ResourceWaste},
		{"region_mismatch", w.RegionMismatch},
		{"other", w.Other},
	}
	for i, item := range ordered {
		if item.value <= 0 {
			return errors.New(errors.CodeInvalidConfig, fmt.Sprintf("权重 %s 必须为正数", item.name))
		}
		if i > 0 && item.value >= ordered[i-1].value {
			return errors.New(errors.CodeInvalidConfig,
				fmt.Sprintf("权重 %s (%d) 必须小于 %s (%d)", item.name, item.value, ordered[i-1].name, ordered[i-1].value))
		}
	}
	return nil
}

// For 类别对应的权重
func (w Weights) For(c model.Category) int64 {
	switch c {
	case model.CategoryTimeConflicts:
		return w.TimeConflict
	case model.CategoryCapability:
		return w.CapabilityMismatch
	case model.CategoryCapacity:
		return w.CapacityExceeded
	case model.CategoryResourceWaste:
		return w.ResourceWaste
	case model.CategoryRegion:
		return w.RegionMismatch
	default:
		return w.Other
	}
}

// Scorer 问题评分器
type Scorer struct {
	weights Weights
}

// NewScorer 创建评分器，权重非法时返回错误
func NewScorer(weights Weights) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: weights}, nil
}

// NewDefaultScorer 使用默认权重创建评分器
func NewDefaultScorer() *Scorer {
	return &Scorer{weights: DefaultWeights()}
}

// Weights 返回当前权重
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score 计算加权分数与类别统计，分数越低越好
// 非严重问题的合计封顶在能力不匹配权重以下，
// 因此任何含严重问题的方案得分都高于所有无严重问题的方案
func (s *Scorer) Score(issues []model.Issue) (int64, model.Breakdown) {
	breakdown := model.NewBreakdown(issues)

	var critical, minor int64
	for _, c := range model.Categories {
		part := int64(breakdown[c]) * s.weights.For(c)
		if c == model.CategoryTimeConflicts || c == model.CategoryCapability {
			critical += part
		} else {
			minor += part
		}
	}

	if ceiling := s.weights.CapabilityMismatch - 1; minor > ceiling {
		minor = ceiling
	}
	return critical + minor, breakdown
}
