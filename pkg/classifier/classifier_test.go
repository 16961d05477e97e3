package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/allocator/pkg/model"
)

func TestClassifier_TierOf(t *testing.T) {
	c := NewDefault()

	tests := []struct {
		name     string
		tags     []string
		expected Tier
	}{
		{"无标签", nil, TierUnrestricted},
		{"普通标签", []string{"standard", "airport"}, TierUnrestricted},
		{"企业订单", []string{"corporate"}, TierSecondary},
		{"婚礼订单", []string{"wedding"}, TierRestricted},
		{"多标签取最高", []string{"seminars", "vip"}, TierRestricted},
		{"次级在前受限在后", []string{"corporate", "large_events"}, TierRestricted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.TierOf(tt.tags))
		})
	}
}

func TestClassifier_CustomConfig(t *testing.T) {
	c := New(TierConfig{Restricted: []string{"hazmat"}, Secondary: []string{"fragile"}})

	assert.Equal(t, TierRestricted, c.TierOf([]string{"hazmat"}))
	assert.Equal(t, TierSecondary, c.TierOf([]string{"fragile"}))
	assert.Equal(t, TierUnrestricted, c.TierOf([]string{"wedding"}), "默认标签不应生效")
}

func TestTier_Covers(t *testing.T) {
	assert.True(t, TierRestricted.Covers(TierSecondary))
	assert.True(t, TierSecondary.Covers(TierSecondary))
	assert.True(t, TierUnrestricted.Covers(TierUnrestricted))
	assert.False(t, TierUnrestricted.Covers(TierSecondary))
	assert.False(t, TierSecondary.Covers(TierRestricted))
}

func TestClassifier_Classify(t *testing.T) {
	day := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	orders := []model.Order{
		{ID: "O1", Region: "north", Pickup: day.Add(18 * time.Hour), Teardown: day.Add(22 * time.Hour), Tags: []string{"wedding"}},
		{ID: "O2", Region: "south", Pickup: day.Add(18*time.Hour + 30*time.Minute), Teardown: day.Add(20 * time.Hour), Tags: []string{"corporate"}},
		{ID: "O3", Region: "north", Pickup: day.Add(9 * time.Hour), Teardown: day.Add(11 * time.Hour)},
	}
	drivers := []model.Driver{
		{ID: "D1", PreferredRegion: "north", Capacity: 3, Capabilities: []string{"vip"}},
		{ID: "D2", PreferredRegion: "south", Capacity: 2, Capabilities: []string{"seminars"}},
		{ID: "D3", PreferredRegion: "north", Capacity: 4},
	}

	cl := NewDefault().Classify(drivers, orders)

	require.NotNil(t, cl)
	assert.Equal(t, 3, cl.TotalOrders)
	assert.Equal(t, 3, cl.TotalDrivers)
	assert.Equal(t, 9, cl.TotalCapacity)

	assert.Equal(t, []string{"O1"}, cl.OrdersByTier["restricted"])
	assert.Equal(t, []string{"O2"}, cl.OrdersByTier["secondary"])
	assert.Equal(t, []string{"O3"}, cl.OrdersByTier["unrestricted"])

	assert.Equal(t, []string{"D1"}, cl.DriversByTier["restricted_capable"])
	assert.Equal(t, []string{"D2"}, cl.DriversByTier["secondary_capable"])
	assert.Equal(t, []string{"D3"}, cl.DriversByTier["standard"])

	assert.Equal(t, map[string]int{"north": 2, "south": 1}, cl.RegionCounts())
	assert.Equal(t, map[string]int{"2024-06-15_18:00": 2, "2024-06-15_09:00": 1}, cl.SlotCounts())
	assert.Equal(t, []string{"D1", "D3"}, cl.DriversByRegion["north"])
}

func TestClassifier_ClassifyEmpty(t *testing.T) {
	cl := NewDefault().Classify(nil, nil)

	assert.Equal(t, 0, cl.TotalOrders)
	assert.Empty(t, cl.OrdersByRegion)
	for _, tier := range Tiers {
		assert.NotNil(t, cl.OrdersByTier[tier.String()], "空输入也应包含层级键")
	}
}
