// Package validator 审核候选分配方案，输出问题列表
package validator

import (
	"fmt"

	"github.com/paiban/allocator/pkg/classifier"
	"github.com/paiban/allocator/pkg/model"
)

// Config 校验配置
type Config struct {
	// RegionMatchThreshold 司机订单区域匹配率低于该值时报告问题
	RegionMatchThreshold float64 `yaml:"region_match_threshold" json:"region_match_threshold"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{RegionMatchThreshold: 0.5}
}

// Validator 分配方案校验器
// Validate 为纯函数：不修改输入、不持有状态，可并发调用
type Validator struct {
	config     *Config
	classifier *classifier.Classifier
}

// New 创建校验器
func New(config *Config, c *classifier.Classifier) *Validator {
	if config == nil {
		config = DefaultConfig()
	}
	if c == nil {
		c = classifier.NewDefault()
	}
	return &Validator{config: config, classifier: c}
}

// Config 返回校验配置副本
func (v *Validator) Config() Config {
	return *v.config
}

// Validate 校验分配方案，从不返回错误，异常一律记为问题
func (v *Validator) Validate(alloc model.Allocation, drivers []model.Driver, orders []model.Order) []model.Issue {
	return v.ValidateIndexed(alloc, model.NewIndex(drivers, orders))
}

// ValidateIndexed 使用预建查找表校验，多个方案共用同一份查找表
func (v *Validator) ValidateIndexed(alloc model.Allocation, idx *model.Index) []model.Issue {
	issues := make([]model.Issue, 0)
	unassignedRestricted := v.unassignedRestricted(alloc, idx)
	owner := make(map[string]string)

	for _, driverID := range visitOrder(alloc, idx) {
		orderIDs := alloc[driverID]
		driver, ok := idx.Drivers[driverID]
		if !ok {
			issues = append(issues, model.Issue{
				Kind:     model.IssueUnknownDriver,
				DriverID: driverID,
				OrderIDs: append([]string(nil), orderIDs...),
				Message:  fmt.Sprintf("未知司机 %s", driverID),
			})
			continue
		}

		if len(orderIDs) > driver.Capacity {
			issues = append(issues, model.Issue{
				Kind:     model.IssueCapacityExceeded,
				DriverID: driverID,
				OrderIDs: append([]string(nil), orderIDs...),
				Message:  fmt.Sprintf("司机 %s 分配 %d 单，超过容量 %d", driverID, len(orderIDs), driver.Capacity),
			})
		}

		known, entryIssues := v.resolveOrders(driverID, orderIDs, idx, owner)
		issues = append(issues, entryIssues...)
		issues = append(issues, v.checkCapability(driver, known)...)
		issues = append(issues, v.checkResourceWaste(driver, known, unassignedRestricted)...)
		issues = append(issues, v.checkRegion(driver, known)...)
		issues = append(issues, checkTimeConflicts(driverID, known)...)
	}

	return issues
}

// visitOrder 已知司机按输入顺序，未知司机按字典序排在最后
func visitOrder(alloc model.Allocation, idx *model.Index) []string {
	ids := make([]string, 0, len(alloc))
	for _, id := range idx.DriverOrder {
		if _, ok := alloc[id]; ok {
			ids = append(ids, id)
		}
	}
	for _, id := range alloc.DriverIDs() {
		if _, ok := idx.Drivers[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// resolveOrders 解析订单ID，报告未知与重复订单
// 同一司机下重复出现的订单只保留一次，跨司机重复的订单仍参与该司机的检查
func (v *Validator) resolveOrders(driverID string, orderIDs []string, idx *model.Index, owner map[string]string) ([]*model.Order, []model.Issue) {
	var issues []model.Issue
	known := make([]*model.Order, 0, len(orderIDs))
	seen := make(map[string]bool, len(orderIDs))

	for _, orderID := range orderIDs {
		order, ok := idx.Orders[orderID]
		if !ok {
			issues = append(issues, model.Issue{
				Kind:     model.IssueUnknownOrder,
				DriverID: driverID,
				OrderIDs: []string{orderID},
				Message:  fmt.Sprintf("司机 %s 下存在未知订单 %s", driverID, orderID),
			})
			continue
		}
		if seen[orderID] {
			issues = append(issues, model.Issue{
				Kind:     model.IssueOther,
				DriverID: driverID,
				OrderIDs: []string{orderID},
				Message:  fmt.Sprintf("订单 %s 在司机 %s 下重复出现", orderID, driverID),
			})
			continue
		}
		seen[orderID] = true

		if prev, dup := owner[orderID]; dup {
			issues = append(issues, model.Issue{
				Kind:     model.IssueOther,
				DriverID: driverID,
				OrderIDs: []string{orderID},
				Message:  fmt.Sprintf("订单 %s 同时分配给司机 %s 和 %s", orderID, prev, driverID),
			})
		} else {
			owner[orderID] = driverID
		}
		known = append(known, order)
	}
	return known, issues
}

// checkCapability 订单层级高于司机层级时报告能力不匹配
func (v *Validator) checkCapability(driver *model.Driver, orders []*model.Order) []model.Issue {
	var issues []model.Issue
	driverTier := v.classifier.DriverTier(driver)
	for _, o := range orders {
		orderTier := v.classifier.OrderTier(o)
		if driverTier.Covers(orderTier) {
			continue
		}
		issues = append(issues, model.Issue{
			Kind:     model.IssueCapabilityMismatch,
			DriverID: driver.ID,
			OrderIDs: []string{o.ID},
			Message: fmt.Sprintf("%s 订单 %s 分配给了 %s 司机 %s",
				orderTier, o.ID, driverTier.DriverLabel(), driver.ID),
		})
	}
	return issues
}

// unassignedRestricted 统计全部订单中未分配给任何已知司机的受限订单数
func (v *Validator) unassignedRestricted(alloc model.Allocation, idx *model.Index) int {
	known := make(model.Allocation, len(alloc))
	for driverID, orderIDs := range alloc {
		if _, ok := idx.Drivers[driverID]; ok {
			known[driverID] = orderIDs
		}
	}
	assigned := known.AssignedOrderIDs()

	n := 0
	for _, id := range idx.OrderOrder {
		if _, ok := assigned[id]; !ok && v.classifier.OrderTier(idx.Orders[id]) == classifier.TierRestricted {
			n++
		}
	}
	return n
}

// checkResourceWaste 受限能力司机承接非受限订单，而仍有受限订单未分配
// 即使该司机日程已无法容纳剩余受限订单也照常报告
func (v *Validator) checkResourceWaste(driver *model.Driver, orders []*model.Order, unassignedRestricted int) []model.Issue {
	if unassignedRestricted == 0 || v.classifier.DriverTier(driver) != classifier.TierRestricted {
		return nil
	}

	var regular []string
	for _, o := range orders {
		if v.classifier.OrderTier(o) != classifier.TierRestricted {
			regular = append(regular, o.ID)
		}
	}
	if len(regular) == 0 {
		return nil
	}

	return []model.Issue{{
		Kind:     model.IssueResourceWaste,
		DriverID: driver.ID,
		OrderIDs: regular,
		Message: fmt.Sprintf("受限能力司机 %s 承接了 %d 个非受限订单，仍有 %d 个受限订单未分配",
			driver.ID, len(regular), unassignedRestricted),
	}}
}

// checkRegion 区域匹配率低于阈值时报告
func (v *Validator) checkRegion(driver *model.Driver, orders []*model.Order) []model.Issue {
	if len(orders) == 0 {
		return nil
	}

	var mismatched []string
	for _, o := range orders {
		if !driver.MatchesRegion(o.Region) {
			mismatched = append(mismatched, o.ID)
		}
	}
	rate := float64(len(orders)-len(mismatched)) / float64(len(orders))
	if len(mismatched) == 0 || rate >= v.config.RegionMatchThreshold {
		return nil
	}

	return []model.Issue{{
		Kind:     model.IssueRegionMismatch,
		DriverID: driver.ID,
		OrderIDs: mismatched,
		Message: fmt.Sprintf("司机 %s 区域匹配率 %.0f%%（%d/%d 不在偏好区域 %s）",
			driver.ID, rate*100, len(mismatched), len(orders), driver.PreferredRegion),
	}}
}
