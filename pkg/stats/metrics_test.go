package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/allocator/pkg/model"
)

var day = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

func order(id, region string, startHour, endHour int, tags ...string) model.Order {
	return model.Order{
		ID:       id,
		Region:   region,
		Pickup:   day.Add(time.Duration(startHour) * time.Hour),
		Teardown: day.Add(time.Duration(endHour) * time.Hour),
		Tags:     tags,
	}
}

func fixture() ([]model.Driver, []model.Order) {
	drivers := []model.Driver{
		{ID: "VIP", PreferredRegion: "north", Capacity: 3, Capabilities: []string{"wedding"}},
		{ID: "SEC", PreferredRegion: "south", Capacity: 2, Capabilities: []string{"corporate"}},
		{ID: "STD", PreferredRegion: "east", Capacity: 2},
	}
	orders := []model.Order{
		order("W1", "north", 18, 22, "wedding"),
		order("C1", "south", 9, 12, "corporate"),
		order("R1", "north", 6, 8),
		order("R2", "east", 13, 15),
		order("R3", "west", 16, 17),
	}
	return drivers, orders
}

func TestCalculator_Calculate(t *testing.T) {
	drivers, orders := fixture()
	alloc := model.Allocation{
		"VIP":   {"W1", "R1"},
		"SEC":   {"C1", "C1"},
		"GHOST": {"R2"},
		"STD":   {"R404"},
	}

	m := NewCalculator(nil).Calculate(alloc, drivers, orders)

	assert.Equal(t, 5, m.TotalOrders)
	assert.Equal(t, 3, m.TotalAssigned)
	assert.Equal(t, 2, m.TotalUnassigned)
	assert.Equal(t, 3, m.Assignments)
	assert.Equal(t, 2, m.DriversUsed)
	assert.InDelta(t, 1.5, m.AvgOrdersPerActiveDriver, 1e-9)
	assert.InDelta(t, 1.0, m.RegionMatchRate, 1e-9)
	assert.Equal(t, map[string]int{"restricted": 1, "secondary": 1, "unrestricted": 1}, m.AssignedByTier)
	assert.Equal(t, 1, m.RestrictedDriversOnRestricted)
	assert.Equal(t, 1, m.RestrictedDriversOnUnrestricted)
}

func TestCalculator_RegionMatchRate(t *testing.T) {
	drivers, orders := fixture()
	alloc := model.Allocation{"STD": {"R2", "R3"}}

	m := NewCalculator(nil).Calculate(alloc, drivers, orders)
	assert.InDelta(t, 0.5, m.RegionMatchRate, 1e-9)
}

func TestCalculator_Empty(t *testing.T) {
	drivers, orders := fixture()
	c := NewCalculator(nil)

	m := c.Calculate(nil, drivers, orders)
	assert.Zero(t, m.TotalAssigned)
	assert.Equal(t, 5, m.TotalUnassigned)
	assert.Zero(t, m.RegionMatchRate)
	assert.Zero(t, m.AvgOrdersPerActiveDriver)

	again := c.Calculate(nil, drivers, orders)
	assert.Equal(t, m, again, "重复调用结果一致")
}

func TestCalculator_BuildReport(t *testing.T) {
	drivers, orders := fixture()
	alloc := model.Allocation{
		"VIP": {"W1", "R1"},
		"SEC": {"C1"},
	}

	report := NewCalculator(nil).BuildReport(ReportInput{
		Allocation: alloc,
		Reasoning:  map[string]string{"W1": "婚礼订单给受限司机"},
		Reasons:    map[string]string{"R2": "时间冲突"},
		Drivers:    drivers,
		Orders:     orders,
	})

	require.Len(t, report.Drivers, 3)
	vip := report.Drivers[0]
	assert.Equal(t, "VIP", vip.Driver.ID)
	assert.InDelta(t, 2.0/3.0, vip.Utilization, 1e-9)
	require.Len(t, vip.Orders, 2)
	assert.Equal(t, "婚礼订单给受限司机", vip.Orders[0].Reasoning)
	assert.Equal(t, DefaultReasoning, vip.Orders[1].Reasoning)

	require.Len(t, report.IdleDrivers, 1)
	assert.Equal(t, "STD", report.IdleDrivers[0].ID)

	require.Len(t, report.Unassigned, 2)
	assert.Equal(t, "R2", report.Unassigned[0].Order.ID)
	assert.Equal(t, "时间冲突", report.Unassigned[0].Reason)
	assert.Equal(t, DefaultUnassignedReason, report.Unassigned[1].Reason)

	assert.Equal(t, 3, report.Metrics.TotalAssigned)
	require.NotNil(t, report.Workload)
	assert.Greater(t, report.Workload.UtilizationGini, 0.0)
}
