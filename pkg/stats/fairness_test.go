package stats

import (
	"math"
	"testing"

	"github.com/paiban/allocator/pkg/model"
)

func TestAnalyzeWorkload(t *testing.T) {
	tests := []struct {
		name         string
		utilizations []float64
		capacities   []int
		wantGini     float64
		wantAvg      float64
	}{
		{
			name:         "完全均衡",
			utilizations: []float64{0.5, 0.5, 0.5},
			capacities:   []int{2, 2, 2},
			wantGini:     0,
			wantAvg:      0.5,
		},
		{
			name:         "完全集中",
			utilizations: []float64{0, 0, 0, 1},
			capacities:   []int{1, 1, 1, 1},
			wantGini:     0.75,
			wantAvg:      0.25,
		},
		{
			name:         "零容量司机不参与",
			utilizations: []float64{1, 0},
			capacities:   []int{1, 0},
			wantGini:     0,
			wantAvg:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drivers := make([]DriverAllocation, len(tt.utilizations))
			for i, u := range tt.utilizations {
				drivers[i] = DriverAllocation{
					Driver:      model.Driver{ID: "D", Capacity: tt.capacities[i]},
					Utilization: u,
				}
			}

			wb := AnalyzeWorkload(drivers)
			if math.Abs(wb.UtilizationGini-tt.wantGini) > 1e-9 {
				t.Errorf("UtilizationGini = %v, expected %v", wb.UtilizationGini, tt.wantGini)
			}
			if math.Abs(wb.AvgUtilization-tt.wantAvg) > 1e-9 {
				t.Errorf("AvgUtilization = %v, expected %v", wb.AvgUtilization, tt.wantAvg)
			}
			if wb.BalanceScore < 0 || wb.BalanceScore > 100 {
				t.Errorf("BalanceScore out of range: %v", wb.BalanceScore)
			}
		})
	}
}

func TestAnalyzeWorkload_EmptyInput(t *testing.T) {
	wb := AnalyzeWorkload(nil)
	if wb.BalanceScore != 100 {
		t.Errorf("空输入均衡评分应为100, got %v", wb.BalanceScore)
	}
}
