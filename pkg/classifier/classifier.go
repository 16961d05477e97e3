// Package classifier 按能力标签划分订单与司机的层级
package classifier

import (
	"sort"

	"github.com/paiban/allocator/pkg/model"
)

// Tier 层级，数值越大优先级越高
type Tier int

const (
	TierUnrestricted Tier = iota // 普通
	TierSecondary                // 次级（企业/会议）
	TierRestricted               // 受限（婚礼/VIP/大型活动）
)

// Tiers 按处理顺序排列：受限、次级、普通
var Tiers = []Tier{TierRestricted, TierSecondary, TierUnrestricted}

// String 订单层级名称
func (t Tier) String() string {
	switch t {
	case TierRestricted:
		return "restricted"
	case TierSecondary:
		return "secondary"
	default:
		return "unrestricted"
	}
}

// DriverLabel 司机层级名称
func (t Tier) DriverLabel() string {
	switch t {
	case TierRestricted:
		return "restricted_capable"
	case TierSecondary:
		return "secondary_capable"
	default:
		return "standard"
	}
}

// Covers 该层级的司机能否承接 order 层级的订单
func (t Tier) Covers(order Tier) bool {
	return t >= order
}

// TierConfig 层级标签配置
type TierConfig struct {
	Restricted []string `yaml:"restricted_tags" json:"restricted_tags"`
	Secondary  []string `yaml:"secondary_tags" json:"secondary_tags"`
}

// DefaultTierConfig 默认层级标签
func DefaultTierConfig() TierConfig {
	return TierConfig{
		Restricted: []string{"vip", "wedding", "large_events"},
		Secondary:  []string{"corporate", "seminars"},
	}
}

// Classifier 层级分类器，创建后只读，可并发使用
type Classifier struct {
	restricted map[string]struct{}
	secondary  map[string]struct{}
}

// New 创建分类器
func New(cfg TierConfig) *Classifier {
	c := &Classifier{
		restricted: make(map[string]struct{}, len(cfg.Restricted)),
		secondary:  make(map[string]struct{}, len(cfg.Secondary)),
	}
	for _, tag := range cfg.Restricted {
		c.restricted[tag] = struct{}{}
	}
	for _, tag := range cfg.Secondary {
		c.secondary[tag] = struct{}{}
	}
	return c
}

// TierConfig 返回当前标签配置，标签按字典序排列
func (c *Classifier) TierConfig() TierConfig {
	return TierConfig{Restricted: sortedTags(c.restricted), Secondary: sortedTags(c.secondary)}
}

func sortedTags(set map[string]struct{}) []string {
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// NewDefault 使用默认标签创建分类器
func NewDefault() *Classifier {
	return New(DefaultTierConfig())
}

// TierOf 标签集合所属的最高层级
func (c *Classifier) TierOf(tags []string) Tier {
	tier := TierUnrestricted
	for _, tag := range tags {
		if _, ok := c.restricted[tag]; ok {
			return TierRestricted
		}
		if _, ok := c.secondary[tag]; ok {
			tier = TierSecondary
		}
	}
	return tier
}

// OrderTier 订单层级
func (c *Classifier) OrderTier(o *model.Order) Tier {
	return c.TierOf(o.Tags)
}

// DriverTier 司机层级
func (c *Classifier) DriverTier(d *model.Driver) Tier {
	return c.TierOf(d.Capabilities)
}

// Classification 分类结果
type Classification struct {
	TotalOrders     int                 `json:"total_orders"`
	TotalDrivers    int                 `json:"total_drivers"`
	TotalCapacity   int                 `json:"total_capacity"`
	OrdersByTier    map[string][]string `json:"orders_by_tier"`
	DriversByTier   map[string][]string `json:"drivers_by_tier"`
	OrdersByRegion  map[string][]string `json:"orders_by_region"`
	OrdersBySlot    map[string][]string `json:"orders_by_time_slot"`
	DriversByRegion map[string][]string `json:"drivers_by_region"`
}

// RegionCounts 每个区域的订单数
func (cl *Classification) RegionCounts() map[string]int {
	return counts(cl.OrdersByRegion)
}

// SlotCounts 每个时段的订单数
func (cl *Classification) SlotCounts() map[string]int {
	return counts(cl.OrdersBySlot)
}

func counts(groups map[string][]string) map[string]int {
	out := make(map[string]int, len(groups))
	for k, ids := range groups {
		out[k] = len(ids)
	}
	return out
}

// Classify 划分订单与司机并汇总区域、时段计数
func (c *Classifier) Classify(drivers []model.Driver, orders []model.Order) *Classification {
	cl := &Classification{
		TotalOrders:     len(orders),
		TotalDrivers:    len(drivers),
		OrdersByTier:    make(map[string][]string, len(Tiers)),
		DriversByTier:   make(map[string][]string, len(Tiers)),
		OrdersByRegion:  make(map[string][]string),
		OrdersBySlot:    make(map[string][]string),
		DriversByRegion: make(map[string][]string),
	}
	for _, t := range Tiers {
		cl.OrdersByTier[t.String()] = []string{}
		cl.DriversByTier[t.DriverLabel()] = []string{}
	}

	for i := range orders {
		o := &orders[i]
		tier := c.OrderTier(o).String()
		cl.OrdersByTier[tier] = append(cl.OrdersByTier[tier], o.ID)
		cl.OrdersByRegion[o.Region] = append(cl.OrdersByRegion[o.Region], o.ID)
		slot := o.TimeSlot()
		cl.OrdersBySlot[slot] = append(cl.OrdersBySlot[slot], o.ID)
	}

	for i := range drivers {
		d := &drivers[i]
		label := c.DriverTier(d).DriverLabel()
		cl.DriversByTier[label] = append(cl.DriversByTier[label], d.ID)
		cl.DriversByRegion[d.PreferredRegion] = append(cl.DriversByRegion[d.PreferredRegion], d.ID)
		cl.TotalCapacity += d.Capacity
	}

	return cl
}
