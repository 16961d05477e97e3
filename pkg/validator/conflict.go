package validator

import (
	"fmt"

	"github.com/paiban/allocator/pkg/model"
)

// checkTimeConflicts 同一司机下的订单两两检查时间冲突，每对冲突报告一次
func checkTimeConflicts(driverID string, orders []*model.Order) []model.Issue {
	var issues []model.Issue
	for i := 0; i < len(orders); i++ {
		for j := i + 1; j < len(orders); j++ {
			a, b := orders[i], orders[j]
			if !a.ConflictsWith(b) {
				continue
			}
			issues = append(issues, model.Issue{
				Kind:     model.IssueTimeConflict,
				DriverID: driverID,
				OrderIDs: []string{a.ID, b.ID},
				Message: fmt.Sprintf("司机 %s 的订单 %s (%s-%s) 与 %s (%s-%s) 时间重叠",
					driverID,
					a.ID, a.Pickup.Format("01-02 15:04"), a.Teardown.Format("01-02 15:04"),
					b.ID, b.Pickup.Format("01-02 15:04"), b.Teardown.Format("01-02 15:04")),
			})
		}
	}
	return issues
}

// FindConflicts 返回与候选订单冲突的已有订单
func FindConflicts(existing []*model.Order, candidate *model.Order) []*model.Order {
	var conflicts []*model.Order
	for _, o := range existing {
		if o.ConflictsWith(candidate) {
			conflicts = append(conflicts, o)
		}
	}
	return conflicts
}
