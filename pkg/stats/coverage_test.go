package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/paiban/allocator/pkg/model"
)

func coverageFixture() ([]model.Driver, []model.Order) {
	day := time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	drivers := []model.Driver{
		{ID: "D1", PreferredRegion: "north", Capacity: 3, Capabilities: []string{"vip"}},
		{ID: "D2", PreferredRegion: "south", Capacity: 3},
	}
	orders := []model.Order{
		{ID: "O1", Region: "north", Pickup: at(8), Teardown: at(10), Tags: []string{"vip"}},
		{ID: "O2", Region: "north", Pickup: at(9), Teardown: at(11), Tags: []string{"wedding"}},
		{ID: "O3", Region: "south", Pickup: at(13), Teardown: at(15)},
		{ID: "O4", Region: "south", Pickup: at(24 + 9), Teardown: at(24 + 10)},
	}
	return drivers, orders
}

func TestCoverageAnalyzer_Analyze(t *testing.T) {
	drivers, orders := coverageFixture()
	alloc := model.Allocation{"D1": {"O1"}, "D2": {"O3", "O4"}, "D9": {"O2"}}

	m := NewCoverageAnalyzer(nil).Analyze(alloc, model.NewIndex(drivers, orders))

	if m.TotalOrders != 4 || m.AssignedOrders != 3 {
		t.Fatalf("订单统计错误: total=%d assigned=%d", m.TotalOrders, m.AssignedOrders)
	}
	if m.OverallCoverage != 75 {
		t.Errorf("整体覆盖率应为75%%，实际 %.1f", m.OverallCoverage)
	}
	if len(m.UncoveredOrders) != 1 || m.UncoveredOrders[0].OrderID != "O2" {
		t.Errorf("未知司机名下的订单应视为未覆盖: %+v", m.UncoveredOrders)
	}
	if m.UncoveredOrders[0].StartTime != "09:00" || m.UncoveredOrders[0].Tier != "restricted" {
		t.Errorf("未覆盖订单信息错误: %+v", m.UncoveredOrders[0])
	}
	if m.TierCoverage["restricted"] != 50 {
		t.Errorf("受限层级覆盖率应为50%%，实际 %.1f", m.TierCoverage["restricted"])
	}
	if m.RegionCoverage["south"] != 100 {
		t.Errorf("south 区域应全部覆盖，实际 %.1f", m.RegionCoverage["south"])
	}
	if m.HourlyCoverage[9] != 50 {
		t.Errorf("9点取货覆盖率应为50%%，实际 %.1f", m.HourlyCoverage[9])
	}
}

func TestCoverageAnalyzer_DailyCoverage(t *testing.T) {
	drivers, orders := coverageFixture()
	alloc := model.Allocation{"D1": {"O1", "O2"}, "D2": {"O3"}}

	m := NewCoverageAnalyzer(nil).Analyze(alloc, model.NewIndex(drivers, orders))

	first, ok := m.DailyCoverage["2026-01-11"]
	if !ok {
		t.Fatal("缺少 2026-01-11 的统计")
	}
	if first.TotalOrders != 3 || first.Assigned != 3 || first.DriverCount != 2 {
		t.Errorf("首日统计错误: %+v", first)
	}
	if first.TotalHours != 6 {
		t.Errorf("首日服务时长应为6小时，实际 %.1f", first.TotalHours)
	}

	second := m.DailyCoverage["2026-01-12"]
	if second.CoverageRate != 0 {
		t.Errorf("次日没有分配，覆盖率应为0，实际 %.1f", second.CoverageRate)
	}
}

func TestCoverageAnalyzer_Understaffed(t *testing.T) {
	drivers, orders := coverageFixture()
	alloc := model.Allocation{"D1": {"O1"}, "D2": {"O3", "O4"}}

	m := NewCoverageAnalyzer(nil).Analyze(alloc, model.NewIndex(drivers, orders))

	// O2 [9,11) 未分配，9点时 O1 仍在进行
	if len(m.Understaffed) != 2 {
		t.Fatalf("期望2个人手不足时段，实际 %+v", m.Understaffed)
	}
	p := m.Understaffed[0]
	if p.StartHour != 9 || p.Required != 2 || p.Assigned != 1 || p.Shortage != 1 {
		t.Errorf("9点时段统计错误: %+v", p)
	}
	if m.Understaffed[1].StartHour != 10 || m.Understaffed[1].Required != 1 {
		t.Errorf("10点时段统计错误: %+v", m.Understaffed[1])
	}
}

func TestCoverageAnalyzer_EmptyInput(t *testing.T) {
	m := NewCoverageAnalyzer(nil).Analyze(nil, model.NewIndex(nil, nil))
	if m.OverallCoverage != 100 {
		t.Errorf("没有订单时覆盖率应为100%%，实际 %.1f", m.OverallCoverage)
	}
	if m.UncoveredOrders == nil || m.Understaffed == nil {
		t.Error("空结果应返回空切片而不是 nil")
	}
}

func TestCoverageAnalyzer_AnalyzeTimeRange(t *testing.T) {
	drivers, orders := coverageFixture()
	alloc := model.Allocation{"D2": {"O4"}}
	idx := model.NewIndex(drivers, orders)

	start := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)
	m := NewCoverageAnalyzer(nil).AnalyzeTimeRange(alloc, idx, start, start.Add(24*time.Hour))

	if m.TotalOrders != 1 || m.OverallCoverage != 100 {
		t.Errorf("次日窗口统计错误: total=%d coverage=%.1f", m.TotalOrders, m.OverallCoverage)
	}
}

func TestCoverageAnalyzer_GenerateCoverageReport(t *testing.T) {
	drivers, orders := coverageFixture()
	analyzer := NewCoverageAnalyzer(nil)
	m := analyzer.Analyze(model.Allocation{"D1": {"O1"}}, model.NewIndex(drivers, orders))

	report := analyzer.GenerateCoverageReport(m)
	for _, want := range []string{"订单总数: 4", "覆盖率: 25.0%", "O2 2026-01-11 09:00-11:00", "人手不足时段"} {
		if !strings.Contains(report, want) {
			t.Errorf("报告缺少 %q:\n%s", want, report)
		}
	}
}
