package model

import (
	"fmt"
	"strings"
)

// Driver 司机，单次分配期间只读
type Driver struct {
	ID              string   `json:"driver_id"`
	Name            string   `json:"name"`
	PreferredRegion string   `json:"preferred_region"`
	Capacity        int      `json:"max_orders_per_day"` // 每日最大订单数
	Capabilities    []string `json:"capabilities"`
}

// Validate 校验司机数据
func (d *Driver) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("司机标识为空")
	}
	if d.Capacity < 0 {
		return fmt.Errorf("司机 %s 的每日容量不能为负数: %d", d.ID, d.Capacity)
	}
	return nil
}

// HasCapability 检查是否具备某项能力
func (d *Driver) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// HasAnyCapability 检查是否具备集合中的任一能力
func (d *Driver) HasAnyCapability(capabilities []string) bool {
	return hasAny(d.Capabilities, tagSet(capabilities))
}

// MatchesRegion 检查订单区域是否为司机偏好区域
func (d *Driver) MatchesRegion(region string) bool {
	return d.PreferredRegion == region
}

// Utilization 计算给定订单数下的利用率，容量为0时返回0
func (d *Driver) Utilization(assigned int) float64 {
	if d.Capacity <= 0 {
		return 0
	}
	return float64(assigned) / float64(d.Capacity)
}
