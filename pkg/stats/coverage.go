package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/paiban/allocator/pkg/classifier"
	"github.com/paiban/allocator/pkg/model"
)

// CoverageMetrics 订单覆盖率指标
type CoverageMetrics struct {
	// 整体覆盖率
	TotalOrders     int     `json:"total_orders"`
	AssignedOrders  int     `json:"assigned_orders"`
	OverallCoverage float64 `json:"overall_coverage"` // 百分比

	// 按取货日期统计
	DailyCoverage map[string]DayCoverage `json:"daily_coverage"`

	// 按层级、区域统计的覆盖率 (%)
	TierCoverage   map[string]float64 `json:"tier_coverage"`
	RegionCoverage map[string]float64 `json:"region_coverage"`

	// 按取货小时统计 (0-23)
	HourlyCoverage map[int]float64 `json:"hourly_coverage"`

	// 问题识别
	UncoveredOrders []UncoveredOrder     `json:"uncovered_orders"`
	Understaffed    []UnderstaffedPeriod `json:"understaffed"`
}

// DayCoverage 每日覆盖情况
type DayCoverage struct {
	Date         string  `json:"date"`
	TotalOrders  int     `json:"total_orders"`
	Assigned     int     `json:"assigned"`
	CoverageRate float64 `json:"coverage_rate"`
	DriverCount  int     `json:"driver_count"`
	TotalHours   float64 `json:"total_hours"` // 已分配订单的服务时长合计
}

// UncoveredOrder 未覆盖订单
type UncoveredOrder struct {
	OrderID   string `json:"order_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Tier      string `json:"tier"`
	Region    string `json:"region"`
}

// UnderstaffedPeriod 有订单无人承接的小时段
type UnderstaffedPeriod struct {
	Date      string `json:"date"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Required  int    `json:"required"` // 该时段进行中的订单数
	Assigned  int    `json:"assigned"`
	Shortage  int    `json:"shortage"`
}

// CoverageAnalyzer 覆盖率分析器
type CoverageAnalyzer struct {
	classifier *classifier.Classifier
}

// NewCoverageAnalyzer 创建覆盖率分析器
func NewCoverageAnalyzer(c *classifier.Classifier) *CoverageAnalyzer {
	if c == nil {
		c = classifier.NewDefault()
	}
	return &CoverageAnalyzer{classifier: c}
}

type hourKey struct {
	date string
	hour int
}

// Analyze 分析订单覆盖率，只计入分配给已知司机的已知订单
func (c *CoverageAnalyzer) Analyze(alloc model.Allocation, idx *model.Index) *CoverageMetrics {
	m := &CoverageMetrics{
		TotalOrders:     len(idx.OrderOrder),
		DailyCoverage:   make(map[string]DayCoverage),
		TierCoverage:    make(map[string]float64),
		RegionCoverage:  make(map[string]float64),
		HourlyCoverage:  make(map[int]float64),
		UncoveredOrders: make([]UncoveredOrder, 0),
		Understaffed:    make([]UnderstaffedPeriod, 0),
	}
	if m.TotalOrders == 0 {
		m.OverallCoverage = 100
		return m
	}

	owner := make(map[string]string)
	for _, driverID := range idx.DriverOrder {
		for _, o := range knownOrders(alloc[driverID], idx) {
			if _, ok := owner[o.ID]; !ok {
				owner[o.ID] = driverID
			}
		}
	}

	daily := make(map[string]*DayCoverage)
	dailyDrivers := make(map[string]map[string]bool)
	tierTotals, tierAssigned := make(map[string]int), make(map[string]int)
	regionTotals, regionAssigned := make(map[string]int), make(map[string]int)
	hourTotals, hourAssigned := make(map[int]int), make(map[int]int)
	activeTotals, activeAssigned := make(map[hourKey]int), make(map[hourKey]int)

	for _, orderID := range idx.OrderOrder {
		o := idx.Orders[orderID]
		date := o.Pickup.Format("2006-01-02")
		tier := c.classifier.OrderTier(o).String()
		hour := o.Pickup.Hour()
		driverID, covered := owner[o.ID]

		day, ok := daily[date]
		if !ok {
			day = &DayCoverage{Date: date}
			daily[date] = day
			dailyDrivers[date] = make(map[string]bool)
		}
		day.TotalOrders++
		tierTotals[tier]++
		regionTotals[o.Region]++
		hourTotals[hour]++

		for _, k := range activeHours(o) {
			activeTotals[k]++
			if covered {
				activeAssigned[k]++
			}
		}

		if !covered {
			m.UncoveredOrders = append(m.UncoveredOrders, UncoveredOrder{
				OrderID:   o.ID,
				Date:      date,
				StartTime: o.Pickup.Format("15:04"),
				EndTime:   o.Teardown.Format("15:04"),
				Tier:      tier,
				Region:    o.Region,
			})
			continue
		}

		m.AssignedOrders++
		day.Assigned++
		day.TotalHours += o.Window().Duration().Hours()
		dailyDrivers[date][driverID] = true
		tierAssigned[tier]++
		regionAssigned[o.Region]++
		hourAssigned[hour]++
	}

	m.OverallCoverage = percent(m.AssignedOrders, m.TotalOrders)
	for date, day := range daily {
		day.CoverageRate = percent(day.Assigned, day.TotalOrders)
		day.DriverCount = len(dailyDrivers[date])
		m.DailyCoverage[date] = *day
	}
	for tier, total := range tierTotals {
		m.TierCoverage[tier] = percent(tierAssigned[tier], total)
	}
	for region, total := range regionTotals {
		m.RegionCoverage[region] = percent(regionAssigned[region], total)
	}
	for hour, total := range hourTotals {
		m.HourlyCoverage[hour] = percent(hourAssigned[hour], total)
	}

	m.Understaffed = identifyUnderstaffed(activeTotals, activeAssigned)
	return m
}

// AnalyzeTimeRange 只分析取货时间落在 [start, end) 内的订单
func (c *CoverageAnalyzer) AnalyzeTimeRange(alloc model.Allocation, idx *model.Index, start, end time.Time) *CoverageMetrics {
	window := model.TimeRange{Start: start, End: end}

	drivers := make([]model.Driver, 0, len(idx.DriverOrder))
	for _, id := range idx.DriverOrder {
		drivers = append(drivers, *idx.Drivers[id])
	}
	var orders []model.Order
	for _, id := range idx.OrderOrder {
		if o := idx.Orders[id]; window.Contains(o.Pickup) {
			orders = append(orders, *o)
		}
	}
	return c.Analyze(alloc, model.NewIndex(drivers, orders))
}

// activeHours 订单进行中的整点小时，按半开区间计算
func activeHours(o *model.Order) []hourKey {
	var keys []hourKey
	for t := o.Pickup.Truncate(time.Hour); t.Before(o.Teardown); t = t.Add(time.Hour) {
		keys = append(keys, hourKey{date: t.Format("2006-01-02"), hour: t.Hour()})
	}
	return keys
}

// identifyUnderstaffed 按日期与小时排序列出存在未覆盖订单的时段
func identifyUnderstaffed(totals, assigned map[hourKey]int) []UnderstaffedPeriod {
	periods := make([]UnderstaffedPeriod, 0)
	for k, total := range totals {
		if shortage := total - assigned[k]; shortage > 0 {
			periods = append(periods, UnderstaffedPeriod{
				Date:      k.date,
				StartHour: k.hour,
				EndHour:   k.hour + 1,
				Required:  total,
				Assigned:  assigned[k],
				Shortage:  shortage,
			})
		}
	}
	sort.Slice(periods, func(i, j int) bool {
		if periods[i].Date != periods[j].Date {
			return periods[i].Date < periods[j].Date
		}
		return periods[i].StartHour < periods[j].StartHour
	})
	return periods
}

func percent(n, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(n) / float64(total) * 100
}

// GenerateCoverageReport 生成覆盖率报告
func (c *CoverageAnalyzer) GenerateCoverageReport(m *CoverageMetrics) string {
	var b strings.Builder
	b.WriteString("=== 覆盖率分析报告 ===\n\n")

	b.WriteString("【整体覆盖情况】\n")
	fmt.Fprintf(&b, "  订单总数: %d\n", m.TotalOrders)
	fmt.Fprintf(&b, "  已分配订单: %d\n", m.AssignedOrders)
	fmt.Fprintf(&b, "  覆盖率: %.1f%%\n\n", m.OverallCoverage)

	if len(m.TierCoverage) > 0 {
		b.WriteString("【按层级】\n")
		for _, t := range classifier.Tiers {
			if rate, ok := m.TierCoverage[t.String()]; ok {
				fmt.Fprintf(&b, "  %-12s %.1f%%\n", t, rate)
			}
		}
		b.WriteString("\n")
	}

	if len(m.UncoveredOrders) > 0 {
		b.WriteString("【未覆盖订单】\n")
		for _, o := range m.UncoveredOrders {
			fmt.Fprintf(&b, "  - %s %s %s-%s (%s, %s)\n", o.OrderID, o.Date, o.StartTime, o.EndTime, o.Tier, o.Region)
		}
		b.WriteString("\n")
	}

	if len(m.Understaffed) > 0 {
		b.WriteString("【人手不足时段】\n")
		for _, p := range m.Understaffed {
			fmt.Fprintf(&b, "  - %s %02d:00-%02d:00 (进行中%d单，已分配%d单，缺%d单)\n",
				p.Date, p.StartHour, p.EndHour, p.Required, p.Assigned, p.Shortage)
		}
	}

	return b.String()
}
