package portal

// RotationType 轮换类型枚举
type RotationType string

const (
	RotationTypeDaily  RotationType = "daily"  // 每日轮换
	RotationTypeWeekly RotationType = "weekly" // 每周轮换
	RotationTypeCustom RotationType = "custom" // 自定义周期轮换
)

// OnCallSchedule 值班排班表
//
// 轮换按参与人position顺序循环，交接边界按排班表时区的
// 本地时间计算（跨夏令时也以本地墙钟为准）.
type OnCallSchedule struct {
	TenantModel
	Name           string       `gorm:"column:name;type:varchar(255)" json:"name"`                      // 排班表名称
	ApplicationID  int64        `gorm:"column:application_id;type:bigint;index" json:"applicationId"`   // 关联应用ID(who-is-on-call按应用查询)
	Timezone       string       `gorm:"column:timezone;type:varchar(100)" json:"timezone"`              // IANA时区，如 America/New_York
	RotationType   RotationType `gorm:"column:rotation_type;type:varchar(50)" json:"rotationType"`      // 轮换类型
	HandoffTime    string       `gorm:"column:handoff_time;type:varchar(10)" json:"handoffTime"`        // 交接时刻，格式 15:04
	HandoffWeekday int          `gorm:"column:handoff_weekday;type:int" json:"handoffWeekday"`          // 交接星期(0=周日)，仅weekly使用
	RotationStart  DeskTime     `gorm:"column:rotation_start;type:datetime" json:"rotationStart"`       // 轮换锚点时刻
	PeriodDays     int          `gorm:"column:period_days;type:int" json:"periodDays"`                  // 自定义周期天数，仅custom使用
	CreatedBy      string       `gorm:"column:created_by;type:varchar(100)" json:"createdBy"`           // 创建人

	// 关联关系
	Participants []RotationParticipant `gorm:"foreignKey:ScheduleID" json:"participants,omitempty"` // 轮换参与人列表
}

// TableName 指定表名
func (OnCallSchedule) TableName() string {
	return "oncall_schedules"
}

// RotationParticipant 轮换参与人表
//
// 约束：同一排班表内position必须是0..N-1的连续排列，N>=1.
// 参与人增删只影响编辑时刻之后的解析结果，历史解析不回写.
type RotationParticipant struct {
	TenantModel
	ScheduleID int64  `gorm:"column:schedule_id;type:bigint;index" json:"scheduleId"` // 排班表ID
	UserID     string `gorm:"column:user_id;type:varchar(100)" json:"userId"`         // 用户ID
	Position   int    `gorm:"column:position;type:int" json:"position"`               // 轮换顺位(0开始)
}

// TableName 指定表名
func (RotationParticipant) TableName() string {
	return "rotation_participants"
}
