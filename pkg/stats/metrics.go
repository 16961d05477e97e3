// Package stats 提供分配结果的统计分析功能
package stats

import (
	"github.com/paiban/allocator/pkg/classifier"
	"github.com/paiban/allocator/pkg/model"
)

// Metrics 分配指标
type Metrics struct {
	TotalOrders     int `json:"total_orders"`
	TotalAssigned   int `json:"total_assigned"`   // 已分配的不同订单数
	TotalUnassigned int `json:"total_unassigned"` // 未分配订单数
	Assignments     int `json:"assignments"`      // 司机-订单分配条数

	AssignedByTier map[string]int `json:"assigned_by_tier"`

	DriversUsed              int     `json:"drivers_used"`
	AvgOrdersPerActiveDriver float64 `json:"avg_orders_per_active_driver"`
	RegionMatchRate          float64 `json:"region_match_rate"` // 0-1，无分配时为0

	// 受限能力司机的使用情况
	RestrictedDriversOnRestricted   int `json:"restricted_drivers_on_restricted_orders"`
	RestrictedDriversOnUnrestricted int `json:"restricted_drivers_on_unrestricted_orders"`
}

// Calculator 指标计算器，只读，可重复调用
type Calculator struct {
	classifier *classifier.Classifier
}

// NewCalculator 创建指标计算器
func NewCalculator(c *classifier.Classifier) *Calculator {
	if c == nil {
		c = classifier.NewDefault()
	}
	return &Calculator{classifier: c}
}

// Calculate 计算分配指标
// 未知司机与未知订单不计入，同一司机下重复的订单只计一次
func (c *Calculator) Calculate(alloc model.Allocation, drivers []model.Driver, orders []model.Order) *Metrics {
	return c.CalculateIndexed(alloc, model.NewIndex(drivers, orders))
}

// CalculateIndexed 使用预建查找表计算指标
func (c *Calculator) CalculateIndexed(alloc model.Allocation, idx *model.Index) *Metrics {
	m := &Metrics{
		TotalOrders:    len(idx.OrderOrder),
		AssignedByTier: make(map[string]int, len(classifier.Tiers)),
	}
	for _, t := range classifier.Tiers {
		m.AssignedByTier[t.String()] = 0
	}

	assigned := make(map[string]bool)
	regionMatches := 0

	for _, driverID := range idx.DriverOrder {
		orders := knownOrders(alloc[driverID], idx)
		if len(orders) == 0 {
			continue
		}
		driver := idx.Drivers[driverID]
		driverTier := c.classifier.DriverTier(driver)
		m.DriversUsed++

		for _, o := range orders {
			m.Assignments++
			orderTier := c.classifier.OrderTier(o)

			if !assigned[o.ID] {
				assigned[o.ID] = true
				m.AssignedByTier[orderTier.String()]++
			}
			if driver.MatchesRegion(o.Region) {
				regionMatches++
			}
			if driverTier == classifier.TierRestricted {
				switch orderTier {
				case classifier.TierRestricted:
					m.RestrictedDriversOnRestricted++
				case classifier.TierUnrestricted:
					m.RestrictedDriversOnUnrestricted++
				}
			}
		}
	}

	m.TotalAssigned = len(assigned)
	m.TotalUnassigned = m.TotalOrders - m.TotalAssigned
	if m.DriversUsed > 0 {
		m.AvgOrdersPerActiveDriver = float64(m.Assignments) / float64(m.DriversUsed)
	}
	if m.Assignments > 0 {
		m.RegionMatchRate = float64(regionMatches) / float64(m.Assignments)
	}
	return m
}

// knownOrders 解析订单ID，跳过未知与重复
func knownOrders(ids []string, idx *model.Index) []*model.Order {
	out := make([]*model.Order, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		o, ok := idx.Orders[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, o)
	}
	return out
}
