package model

import (
	"sort"

	"github.com/paiban/allocator/pkg/errors"
)

// Allocation 候选分配方案：司机ID -> 有序订单ID列表
// 不要求覆盖全部订单，未出现的订单视为未分配
type Allocation map[string][]string

// Clone 深拷贝分配方案
func (a Allocation) Clone() Allocation {
	out := make(Allocation, len(a))
	for driverID, orderIDs := range a {
		out[driverID] = append([]string(nil), orderIDs...)
	}
	return out
}

// DriverIDs 返回排序后的司机ID
func (a Allocation) DriverIDs() []string {
	ids := make([]string, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AssignedOrderIDs 返回出现在任一司机下的订单ID集合
func (a Allocation) AssignedOrderIDs() map[string]struct{} {
	set := make(map[string]struct{})
	for _, orderIDs := range a {
		for _, id := range orderIDs {
			set[id] = struct{}{}
		}
	}
	return set
}

// Proposal 外部来源的候选方案
type Proposal struct {
	Source      string            `json:"source"`
	Allocations Allocation        `json:"allocations"`
	Reasoning   map[string]string `json:"reasoning,omitempty"` // 订单ID或司机ID -> 分配理由
	Warnings    []string          `json:"warnings,omitempty"`
	Defects     []string          `json:"defects,omitempty"` // 解码时发现的格式问题
}

// Index 司机与订单的查找表
type Index struct {
	Drivers     map[string]*Driver
	Orders      map[string]*Order
	DriverOrder []string // 输入顺序
	OrderOrder  []string
}

// NewIndex 构建查找表，重复ID以首次出现为准
func NewIndex(drivers []Driver, orders []Order) *Index {
	idx := &Index{
		Drivers:     make(map[string]*Driver, len(drivers)),
		Orders:      make(map[string]*Order, len(orders)),
		DriverOrder: make([]string, 0, len(drivers)),
		OrderOrder:  make([]string, 0, len(orders)),
	}
	for i := range drivers {
		d := &drivers[i]
		if _, ok := idx.Drivers[d.ID]; ok {
			continue
		}
		idx.Drivers[d.ID] = d
		idx.DriverOrder = append(idx.DriverOrder, d.ID)
	}
	for i := range orders {
		o := &orders[i]
		if _, ok := idx.Orders[o.ID]; ok {
			continue
		}
		idx.Orders[o.ID] = o
		idx.OrderOrder = append(idx.OrderOrder, o.ID)
	}
	return idx
}

// CheckInput 校验输入记录，汇总全部问题
func CheckInput(drivers []Driver, orders []Order) error {
	var ve errors.ValidationErrors
	seenDrivers := make(map[string]bool, len(drivers))
	for i := range drivers {
		d := &drivers[i]
		if err := d.Validate(); err != nil {
			ve.Add("drivers", err.Error())
		}
		if seenDrivers[d.ID] {
			ve.Add("drivers", errors.DuplicateID("司机", d.ID).Message)
		}
		seenDrivers[d.ID] = true
	}

	seenOrders := make(map[string]bool, len(orders))
	for i := range orders {
		o := &orders[i]
		if err := o.Validate(); err != nil {
			ve.Add("orders", err.Error())
		}
		if seenOrders[o.ID] {
			ve.Add("orders", errors.DuplicateID("订单", o.ID).Message)
		}
		seenOrders[o.ID] = true
	}

	if ve.HasErrors() {
		return ve.ToAppError()
	}
	return nil
}
