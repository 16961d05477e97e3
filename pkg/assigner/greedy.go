// Package assigner 提供确定性的贪心分配算法
package assigner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/paiban/allocator/pkg/classifier"
	"github.com/paiban/allocator/pkg/logger"
	"github.com/paiban/allocator/pkg/model"
	"github.com/paiban/allocator/pkg/validator"
)

// Assigner 分配器接口
type Assigner interface {
	// Assign 生成分配方案
	Assign(ctx context.Context, drivers []model.Driver, orders []model.Order) (*Result, error)

	// Name 返回分配器名称
	Name() string
}

// Reason 未分配原因
type Reason string

const (
	ReasonNoCapableDriver   Reason = "no_capable_driver"  // 没有具备能力的司机
	ReasonCapacityExhausted Reason = "capacity_exhausted" // 有能力的司机都已满载
	ReasonTimeConflict      Reason = "time_conflict"      // 有空余容量的司机时间都冲突
)

// Unassigned 未分配订单
type Unassigned struct {
	OrderID string `json:"order_id"`
	Tier    string `json:"tier"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// Result 分配结果
type Result struct {
	Allocation model.Allocation  `json:"allocations"`
	Reasoning  map[string]string `json:"reasoning"`
	Unassigned []Unassigned      `json:"unassigned"`
	Statistics *Statistics       `json:"statistics"`
	Duration   time.Duration     `json:"duration"`
}

// Statistics 分配统计
type Statistics struct {
	TotalOrders    int            `json:"total_orders"`
	Assigned       int            `json:"assigned"`
	Unassigned     int            `json:"unassigned"`
	DriversUsed    int            `json:"drivers_used"`
	AssignedByTier map[string]int `json:"assigned_by_tier"`
}

// GreedyAssigner 贪心分配器
type GreedyAssigner struct {
	classifier *classifier.Classifier
	logger     *logger.AllocatorLogger
}

// NewGreedyAssigner 创建贪心分配器
func NewGreedyAssigner(c *classifier.Classifier, l *logger.AllocatorLogger) *GreedyAssigner {
	if c == nil {
		c = classifier.NewDefault()
	}
	if l == nil {
		l = logger.NewAllocatorLogger()
	}
	return &GreedyAssigner{classifier: c, logger: l}
}

// Name 返回分配器名称
func (a *GreedyAssigner) Name() string {
	return "GreedyAssigner"
}

// candidate 候选司机及其排序键
type candidate struct {
	driver      *model.Driver
	surplus     int // 司机层级超出订单层级的幅度
	regionMatch bool
	remaining   int
}

// Assign 按层级从高到低、同层级按取货时间分配订单
// 每次调用持有独立的日程表，结束后丢弃
func (a *GreedyAssigner) Assign(ctx context.Context, drivers []model.Driver, orders []model.Order) (*Result, error) {
	startTime := time.Now()

	result := &Result{
		Allocation: make(model.Allocation),
		Reasoning:  make(map[string]string),
		Unassigned: make([]Unassigned, 0),
		Statistics: &Statistics{
			TotalOrders:    len(orders),
			AssignedByTier: make(map[string]int, len(classifier.Tiers)),
		},
	}

	driverTiers := make([]classifier.Tier, len(drivers))
	for i := range drivers {
		driverTiers[i] = a.classifier.DriverTier(&drivers[i])
	}

	schedule := make(map[string][]*model.Order, len(drivers))

	for _, tier := range classifier.Tiers {
		for _, o := range a.ordersInTier(orders, tier) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			candidates, reason := a.candidates(drivers, driverTiers, schedule, o, tier)
			if len(candidates) == 0 {
				u := Unassigned{
					OrderID: o.ID,
					Tier:    tier.String(),
					Reason:  reason,
					Message: reasonMessage(reason, tier),
				}
				result.Unassigned = append(result.Unassigned, u)
				a.logger.OrderUnassigned(o.ID, u.Tier, string(reason))
				continue
			}

			best := candidates[0]
			schedule[best.driver.ID] = append(schedule[best.driver.ID], o)
			result.Allocation[best.driver.ID] = append(result.Allocation[best.driver.ID], o.ID)
			result.Reasoning[o.ID] = assignmentReason(best, tier)
			result.Statistics.AssignedByTier[tier.String()]++
		}
	}

	result.Statistics.Assigned = len(orders) - len(result.Unassigned)
	result.Statistics.Unassigned = len(result.Unassigned)
	result.Statistics.DriversUsed = len(result.Allocation)
	result.Duration = time.Since(startTime)

	return result, nil
}

// ordersInTier 取出某层级订单，按取货时间升序，时间相同保持输入顺序
func (a *GreedyAssigner) ordersInTier(orders []model.Order, tier classifier.Tier) []*model.Order {
	var out []*model.Order
	for i := range orders {
		if a.classifier.OrderTier(&orders[i]) == tier {
			out = append(out, &orders[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Pickup.Before(out[j].Pickup)
	})
	return out
}

// candidates 筛选并排序候选司机
// 没有候选时返回最后一步筛掉全部司机的原因
func (a *GreedyAssigner) candidates(
	drivers []model.Driver,
	driverTiers []classifier.Tier,
	schedule map[string][]*model.Order,
	o *model.Order,
	tier classifier.Tier,
) ([]candidate, Reason) {
	capable, withRoom := 0, 0
	var out []candidate

	for i := range drivers {
		d := &drivers[i]
		if !driverTiers[i].Covers(tier) {
			continue
		}
		capable++

		remaining := d.Capacity - len(schedule[d.ID])
		if remaining <= 0 {
			continue
		}
		withRoom++

		if len(validator.FindConflicts(schedule[d.ID], o)) > 0 {
			continue
		}

		out = append(out, candidate{
			driver:      d,
			surplus:     int(driverTiers[i] - tier),
			regionMatch: d.MatchesRegion(o.Region),
			remaining:   remaining,
		})
	}

	switch {
	case capable == 0:
		return nil, ReasonNoCapableDriver
	case withRoom == 0:
		return nil, ReasonCapacityExhausted
	case len(out) == 0:
		return nil, ReasonTimeConflict
	}

	// 按能力余量升序：普通订单先给普通司机，其次次级司机，最后受限司机
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].surplus != out[j].surplus {
			return out[i].surplus < out[j].surplus
		}
		if out[i].regionMatch != out[j].regionMatch {
			return out[i].regionMatch
		}
		return out[i].remaining > out[j].remaining
	})
	return out, ""
}

func reasonMessage(reason Reason, tier classifier.Tier) string {
	switch reason {
	case ReasonNoCapableDriver:
		return fmt.Sprintf("没有可承接 %s 订单的司机", tier)
	case ReasonCapacityExhausted:
		return "可承接的司机均已满载"
	default:
		return "有空余容量的司机在该时段均有冲突订单"
	}
}

func assignmentReason(c candidate, tier classifier.Tier) string {
	region := "区域不匹配"
	if c.regionMatch {
		region = "区域匹配"
	}
	return fmt.Sprintf("%s 订单分配给 %s（%s，分配前剩余容量 %d）", tier, c.driver.ID, region, c.remaining)
}
