package portal

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// DeskTime 自定义时间类型.
// 值班/升级模块里所有时刻都是绝对时刻，序列化统一用RFC3339，
// 时区换算只在旋转解析时按排班表时区进行.
type DeskTime time.Time

const (
	timeFormat = time.RFC3339
)

// MarshalJSON 实现json序列化接口.
func (t DeskTime) MarshalJSON() ([]byte, error) {
	formatted := fmt.Sprintf("\"%s\"", time.Time(t).Format(timeFormat))
	return []byte(formatted), nil
}

// UnmarshalJSON 实现json反序列化接口.
func (t *DeskTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	// 去掉引号
	str := string(data)[1 : len(data)-1]
	parsed, err := time.Parse(timeFormat, str)
	if err != nil {
		return err
	}
	*t = DeskTime(parsed)
	return nil
}

// Value 实现 driver.Valuer 接口.
func (t DeskTime) Value() (driver.Value, error) {
	return time.Time(t), nil
}

// Scan 实现 sql.Scanner 接口.
func (t *DeskTime) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case time.Time:
		*t = DeskTime(v)
	default:
		return fmt.Errorf("cannot scan type %T into DeskTime", value)
	}
	return nil
}

// String 实现 Stringer 接口.
func (t DeskTime) String() string {
	return time.Time(t).Format(timeFormat)
}

// Time 转换为标准时间类型.
func (t DeskTime) Time() time.Time {
	return time.Time(t)
}

// UnmarshalParam 实现gin参数绑定接口.
func (t *DeskTime) UnmarshalParam(param string) error {
	if param == "" {
		return nil
	}
	parsed, err := time.Parse(timeFormat, param)
	if err != nil {
		return err
	}
	*t = DeskTime(parsed)
	return nil
}
