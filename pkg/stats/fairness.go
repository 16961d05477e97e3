package stats

import (
	"math"
	"sort"
)

// WorkloadBalance 司机工作量均衡指标
type WorkloadBalance struct {
	UtilizationGini   float64 `json:"utilization_gini"` // 利用率基尼系数 (0=完全均衡, 1=完全不均衡)
	UtilizationStdDev float64 `json:"utilization_std_dev"`
	AvgUtilization    float64 `json:"avg_utilization"`
	MaxUtilization    float64 `json:"max_utilization"`
	MinUtilization    float64 `json:"min_utilization"`
	BalanceScore      float64 `json:"balance_score"` // 0-100
}

// AnalyzeWorkload 基于各司机利用率计算均衡指标，容量为0的司机不参与
func AnalyzeWorkload(drivers []DriverAllocation) *WorkloadBalance {
	values := make([]float64, 0, len(drivers))
	for _, d := range drivers {
		if d.Driver.Capacity > 0 {
			values = append(values, d.Utilization)
		}
	}
	if len(values) == 0 {
		return &WorkloadBalance{BalanceScore: 100}
	}

	mean := calculateMean(values)
	stdDev := math.Sqrt(calculateVariance(values, mean))
	max, min := calculateRange(values)
	gini := calculateGini(values)

	return &WorkloadBalance{
		UtilizationGini:   gini,
		UtilizationStdDev: stdDev,
		AvgUtilization:    mean,
		MaxUtilization:    max,
		MinUtilization:    min,
		BalanceScore:      math.Max(0, 100*(1-gini)),
	}
}

// calculateMean 计算平均值
func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateVariance 计算方差
func calculateVariance(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSquares := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return sumSquares / float64(len(values))
}

// calculateRange 计算极值
func calculateRange(values []float64) (max, min float64) {
	if len(values) == 0 {
		return 0, 0
	}
	max, min = values[0], values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return
}

// calculateGini 计算基尼系数
func calculateGini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	if sum == 0 {
		return 0
	}

	gini := 0.0
	for i, v := range sorted {
		gini += (2*float64(i+1) - float64(n) - 1) * v
	}
	gini = gini / (float64(n) * sum)
	return math.Max(0, math.Min(1, gini))
}
