package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Order 订单，单次分配期间只读
type Order struct {
	ID       string    `json:"order_id"`
	Region   string    `json:"region"`
	Pickup   time.Time `json:"pickup_time"`
	Teardown time.Time `json:"teardown_time"`
	Pax      int       `json:"pax_count"`
	Tags     []string  `json:"tags"`
}

// orderJSON 订单的 JSON 形式，时间以字符串表示
type orderJSON struct {
	ID       string   `json:"order_id"`
	Region   string   `json:"region"`
	Pickup   string   `json:"pickup_time"`
	Teardown string   `json:"teardown_time"`
	Pax      int      `json:"pax_count"`
	Tags     []string `json:"tags"`
}

// UnmarshalJSON 兼容不带时区的时间格式
func (o *Order) UnmarshalJSON(data []byte) error {
	var raw orderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pickup, err := ParseTime(raw.Pickup)
	if err != nil {
		return fmt.Errorf("订单 %s pickup_time: %w", raw.ID, err)
	}
	teardown, err := ParseTime(raw.Teardown)
	if err != nil {
		return fmt.Errorf("订单 %s teardown_time: %w", raw.ID, err)
	}
	*o = Order{
		ID:       raw.ID,
		Region:   raw.Region,
		Pickup:   pickup,
		Teardown: teardown,
		Pax:      raw.Pax,
		Tags:     raw.Tags,
	}
	return nil
}

// MarshalJSON 以输入格式输出时间
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		ID:       o.ID,
		Region:   o.Region,
		Pickup:   o.Pickup.Format(TimeLayout),
		Teardown: o.Teardown.Format(TimeLayout),
		Pax:      o.Pax,
		Tags:     o.Tags,
	})
}

// Validate 校验订单数据
func (o *Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("订单标识为空")
	}
	if o.Teardown.Before(o.Pickup) {
		return fmt.Errorf("订单 %s 的结束时间 %s 早于取货时间 %s",
			o.ID, o.Teardown.Format(TimeLayout), o.Pickup.Format(TimeLayout))
	}
	if o.Pax < 0 {
		return fmt.Errorf("订单 %s 的人数不能为负数", o.ID)
	}
	return nil
}

// Window 返回订单时间窗口
func (o *Order) Window() TimeRange {
	return TimeRange{Start: o.Pickup, End: o.Teardown}
}

// ConflictsWith 检查两个订单时间窗口是否冲突
// 一个订单结束时刻等于另一个订单开始时刻时不冲突
func (o *Order) ConflictsWith(other *Order) bool {
	return o.Window().Overlaps(other.Window())
}

// HasTag 检查是否带有某个标签
func (o *Order) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TimeSlot 取货时段键，格式 日期_小时:00
func (o *Order) TimeSlot() string {
	return fmt.Sprintf("%s_%02d:00", o.Pickup.Format("2006-01-02"), o.Pickup.Hour())
}

// Conflicts 检查两个订单是否冲突
func Conflicts(o1, o2 *Order) bool {
	return o1.ConflictsWith(o2)
}
