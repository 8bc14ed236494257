package portal

// ShiftOrigin 班次来源枚举
type ShiftOrigin string

const (
	ShiftOriginRotation ShiftOrigin = "rotation" // 轮换推导(一般不落库)
	ShiftOriginManual   ShiftOrigin = "manual"   // 手工创建
	ShiftOriginSwap     ShiftOrigin = "swap"     // 换班产生
)

// Shift 班次表
//
// 区间为[start, end)，manual/swap来源的班次在同一排班表内不重叠；
// rotation来源的班次按需计算，只有换班/覆盖记账时才物化.
type Shift struct {
	TenantModel
	ScheduleID int64       `gorm:"column:schedule_id;type:bigint;index" json:"scheduleId"` // 排班表ID
	UserID     string      `gorm:"column:user_id;type:varchar(100)" json:"userId"`         // 值班人ID
	StartTime  DeskTime    `gorm:"column:start_time;type:datetime;index" json:"startTime"` // 开始时刻(含)
	EndTime    DeskTime    `gorm:"column:end_time;type:datetime" json:"endTime"`           // 结束时刻(不含)
	Origin     ShiftOrigin `gorm:"column:origin;type:varchar(20)" json:"origin"`           // 班次来源
}

// TableName 指定表名
func (Shift) TableName() string {
	return "shifts"
}

// Override 值班覆盖表
//
// 同一排班表允许区间重叠的覆盖共存，解析时取覆盖查询时刻且
// created_at最新的一条(相同created_at按插入顺序取后插入者)，从不混合.
type Override struct {
	TenantModel
	ScheduleID int64    `gorm:"column:schedule_id;type:bigint;index" json:"scheduleId"` // 排班表ID
	UserID     string   `gorm:"column:user_id;type:varchar(100)" json:"userId"`         // 替班人ID
	StartTime  DeskTime `gorm:"column:start_time;type:datetime;index" json:"startTime"` // 开始时刻(含)
	EndTime    DeskTime `gorm:"column:end_time;type:datetime" json:"endTime"`           // 结束时刻(不含)
	Reason     string   `gorm:"column:reason;type:varchar(500)" json:"reason"`          // 覆盖原因
	CreatedBy  string   `gorm:"column:created_by;type:varchar(100)" json:"createdBy"`   // 创建人
}

// TableName 指定表名
func (Override) TableName() string {
	return "oncall_overrides"
}
