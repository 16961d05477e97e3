package stats

import (
	"github.com/paiban/allocator/pkg/model"
)

// DefaultUnassignedReason 未提供原因时的未分配说明
const DefaultUnassignedReason = "没有合适的司机或不满足分配约束"

// DefaultReasoning 未提供理由时的分配说明
const DefaultReasoning = "未提供分配理由"

// AssignedOrder 已分配订单及理由
type AssignedOrder struct {
	Order     model.Order `json:"order"`
	Reasoning string      `json:"allocation_reasoning"`
}

// DriverAllocation 单个司机的分配情况
type DriverAllocation struct {
	Driver      model.Driver    `json:"driver"`
	Orders      []AssignedOrder `json:"assigned_orders"`
	Utilization float64         `json:"utilization"`
}

// UnassignedOrder 未分配订单及原因
type UnassignedOrder struct {
	Order  model.Order `json:"order"`
	Reason string      `json:"unallocated_reason"`
}

// Report 完整分配报告
type Report struct {
	Drivers     []DriverAllocation `json:"driver_allocations"`
	Unassigned  []UnassignedOrder  `json:"unallocated_orders"`
	IdleDrivers []model.Driver     `json:"unused_drivers"`
	Metrics     *Metrics           `json:"metrics"`
	Workload    *WorkloadBalance   `json:"workload"`
	Coverage    *CoverageMetrics   `json:"coverage"`
}

// ReportInput 报告输入
type ReportInput struct {
	Allocation model.Allocation
	Reasoning  map[string]string // 订单ID或司机ID -> 分配理由
	Reasons    map[string]string // 订单ID -> 未分配原因
	Drivers    []model.Driver
	Orders     []model.Order
}

// BuildReport 生成包含全部司机与订单信息的报告
func (c *Calculator) BuildReport(in ReportInput) *Report {
	idx := model.NewIndex(in.Drivers, in.Orders)
	report := &Report{
		Drivers:     make([]DriverAllocation, 0, len(idx.DriverOrder)),
		Unassigned:  make([]UnassignedOrder, 0),
		IdleDrivers: make([]model.Driver, 0),
		Metrics:     c.CalculateIndexed(in.Allocation, idx),
	}

	assigned := make(map[string]bool)
	for _, driverID := range idx.DriverOrder {
		driver := idx.Drivers[driverID]
		orders := knownOrders(in.Allocation[driverID], idx)

		da := DriverAllocation{
			Driver:      *driver,
			Orders:      make([]AssignedOrder, 0, len(orders)),
			Utilization: driver.Utilization(len(orders)),
		}
		for _, o := range orders {
			assigned[o.ID] = true
			reasoning, ok := in.Reasoning[o.ID]
			if !ok || reasoning == "" {
				// 外部方案常按司机给出理由
				reasoning, ok = in.Reasoning[driverID]
			}
			if !ok || reasoning == "" {
				reasoning = DefaultReasoning
			}
			da.Orders = append(da.Orders, AssignedOrder{Order: *o, Reasoning: reasoning})
		}
		report.Drivers = append(report.Drivers, da)

		if len(orders) == 0 {
			report.IdleDrivers = append(report.IdleDrivers, *driver)
		}
	}

	for _, orderID := range idx.OrderOrder {
		if assigned[orderID] {
			continue
		}
		reason, ok := in.Reasons[orderID]
		if !ok || reason == "" {
			reason = DefaultUnassignedReason
		}
		report.Unassigned = append(report.Unassigned, UnassignedOrder{Order: *idx.Orders[orderID], Reason: reason})
	}

	report.Workload = AnalyzeWorkload(report.Drivers)
	report.Coverage = NewCoverageAnalyzer(c.classifier).Analyze(in.Allocation, idx)
	return report
}
