// Package constraints 分配校验规则库
package constraints

import (
	"fmt"
	"strings"

	"github.com/paiban/allocator/pkg/classifier"
	"github.com/paiban/allocator/pkg/model"
	"github.com/paiban/allocator/pkg/scoring"
	"github.com/paiban/allocator/pkg/validator"
)

// ConstraintParam 约束参数定义
type ConstraintParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // int, float, string, bool, array
	Description string `json:"description"`
	Value       string `json:"value"` // 当前生效值
	Default     string `json:"default,omitempty"`
	Min         string `json:"min,omitempty"`
	Max         string `json:"max,omitempty"`
}

// ConstraintDefinition 约束定义
type ConstraintDefinition struct {
	Name        string            `json:"name"` // 问题类型标识
	DisplayName string            `json:"display_name"`
	Type        string            `json:"type"`     // hard 严重问题, soft 一般问题
	Category    model.Category    `json:"category"` // 评分类别
	Weight      int64             `json:"weight"`
	Description string            `json:"description"`
	Params      []ConstraintParam `json:"params,omitempty"`
}

// LibraryResponse 约束库响应
type LibraryResponse struct {
	Library []ConstraintDefinition `json:"library"`
	Weights scoring.Weights        `json:"weights"`
	Tiers   classifier.TierConfig  `json:"tiers"`
}

// Settings 规则库展示所需的当前配置
type Settings struct {
	Weights   scoring.Weights
	Validator validator.Config
	Tiers     classifier.TierConfig
}

// DefaultSettings 默认配置
func DefaultSettings() Settings {
	return Settings{
		Weights:   scoring.DefaultWeights(),
		Validator: *validator.DefaultConfig(),
		Tiers:     classifier.DefaultTierConfig(),
	}
}

// GetLibrary 获取完整的校验规则库，按严重程度排列
func GetLibrary(s Settings) []ConstraintDefinition {
	defaults := DefaultSettings()
	restricted := strings.Join(s.Tiers.Restricted, ",")
	secondary := strings.Join(s.Tiers.Secondary, ",")

	library := []ConstraintDefinition{
		{
			Name:        string(model.IssueTimeConflict),
			DisplayName: "时间冲突",
			Description: "同一司机的两个订单在 [取货, 撤场) 区间上重叠。首尾相接不算冲突。",
		},
		{
			Name:        string(model.IssueCapabilityMismatch),
			DisplayName: "能力不匹配",
			Description: "订单层级高于司机层级：受限订单只能由受限能力司机承接，次级订单需要次级或受限能力司机。",
			Params: []ConstraintParam{
				{Name: "restricted_tags", Type: "array", Description: "受限层级标签", Value: restricted,
					Default: strings.Join(defaults.Tiers.Restricted, ",")},
				{Name: "secondary_tags", Type: "array", Description: "次级层级标签", Value: secondary,
					Default: strings.Join(defaults.Tiers.Secondary, ",")},
			},
		},
		{
			Name:        string(model.IssueCapacityExceeded),
			DisplayName: "超出容量",
			Description: "司机分配的订单数超过每日最大订单数。",
		},
		{
			Name:        string(model.IssueResourceWaste),
			DisplayName: "资源浪费",
			Description: "仍有受限订单未分配时，受限能力司机承接了非受限订单。",
		},
		{
			Name:        string(model.IssueRegionMismatch),
			DisplayName: "区域不匹配",
			Description: "司机已分配订单中位于偏好区域的比例低于阈值。",
			Params: []ConstraintParam{
				{
					Name:        "region_match_threshold",
					Type:        "float",
					Description: "区域匹配率阈值",
					Value:       fmt.Sprintf("%.2f", s.Validator.RegionMatchThreshold),
					Default:     fmt.Sprintf("%.2f", defaults.Validator.RegionMatchThreshold),
					Min:         "0",
					Max:         "1",
				},
			},
		},
		{
			Name:        string(model.IssueUnknownDriver),
			DisplayName: "未知司机",
			Description: "方案引用了输入中不存在的司机。",
		},
		{
			Name:        string(model.IssueUnknownOrder),
			DisplayName: "未知订单",
			Description: "方案引用了输入中不存在的订单。",
		},
		{
			Name:        string(model.IssueOther),
			DisplayName: "其他问题",
			Description: "订单重复分配、方案格式错误等无法归类的问题。",
		},
	}

	for i := range library {
		kind := model.IssueKind(library[i].Name)
		library[i].Category = model.CategoryOf(kind)
		library[i].Weight = s.Weights.For(library[i].Category)
		library[i].Type = "soft"
		if kind.IsCritical() {
			library[i].Type = "hard"
		}
	}
	return library
}

// GetLibraryResponse 规则库及当前权重与层级配置
func GetLibraryResponse(s Settings) LibraryResponse {
	return LibraryResponse{
		Library: GetLibrary(s),
		Weights: s.Weights,
		Tiers:   s.Tiers,
	}
}
