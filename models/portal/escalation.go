package portal

// NotifyType 升级步骤通知对象类型枚举
type NotifyType string

const (
	NotifyTypeUser     NotifyType = "user"     // 直接通知指定用户
	NotifyTypeSchedule NotifyType = "schedule" // 通知排班表当前值班人
	NotifyTypeGroup    NotifyType = "group"    // 通知用户组全部成员
)

// EscalationPolicy 升级策略表
type EscalationPolicy struct {
	TenantModel
	Name        string `gorm:"column:name;type:varchar(255)" json:"name"`        // 策略名称
	Description string `gorm:"column:description;type:text" json:"description"`  // 策略描述
	RepeatCount int    `gorm:"column:repeat_count;type:int" json:"repeatCount"`  // 整体重复次数(>=0)
	CreatedBy   string `gorm:"column:created_by;type:varchar(100)" json:"createdBy"` // 创建人

	// 关联关系
	Steps []EscalationStep `gorm:"foreignKey:PolicyID" json:"steps,omitempty"` // 有序升级步骤
}

// TableName 指定表名
func (EscalationPolicy) TableName() string {
	return "escalation_policies"
}

// EscalationStep 升级步骤表
//
// 约束：step_number从1开始连续编号；delay_minutes是本步骤触发后
// 等待确认的分钟数，超时未确认则推进到下一步骤.
type EscalationStep struct {
	TenantModel
	PolicyID     int64      `gorm:"column:policy_id;type:bigint;index" json:"policyId"`   // 策略ID
	StepNumber   int        `gorm:"column:step_number;type:int" json:"stepNumber"`        // 步骤序号(1开始)
	NotifyType   NotifyType `gorm:"column:notify_type;type:varchar(20)" json:"notifyType"` // 通知对象类型
	TargetID     string     `gorm:"column:target_id;type:varchar(100)" json:"targetId"`   // 通知对象ID(用户/排班表/用户组)
	DelayMinutes int        `gorm:"column:delay_minutes;type:int" json:"delayMinutes"`    // 本步骤触发后的等待分钟数
}

// TableName 指定表名
func (EscalationStep) TableName() string {
	return "escalation_steps"
}

// ExecutionStatus 升级执行状态枚举
type ExecutionStatus string

const (
	ExecutionStatusPending      ExecutionStatus = "pending"      // 已创建待启动
	ExecutionStatusNotifying    ExecutionStatus = "notifying"    // 正在通知当前步骤
	ExecutionStatusWaitingAck   ExecutionStatus = "waiting_ack"  // 等待确认
	ExecutionStatusEscalating   ExecutionStatus = "escalating"   // 超时推进中
	ExecutionStatusAcknowledged ExecutionStatus = "acknowledged" // 已确认(终态)
	ExecutionStatusResolved     ExecutionStatus = "resolved"     // 告警自行恢复(终态)
	ExecutionStatusExhausted    ExecutionStatus = "exhausted"    // 步骤耗尽无人确认(终态)
)

// IsTerminal 判断是否为终态
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusAcknowledged || s == ExecutionStatusResolved || s == ExecutionStatusExhausted
}

// EscalationExecution 升级执行表
//
// 每条执行持有至多一个在途定时器；next_deadline落库，步骤推进和
// 定时器设置在同一事务内完成，进程重启后按next_deadline恢复.
type EscalationExecution struct {
	TenantModel
	PolicyID       int64           `gorm:"column:policy_id;type:bigint;index" json:"policyId"`             // 策略ID
	TriggerID      string          `gorm:"column:trigger_id;type:varchar(100);index" json:"triggerId"`     // 外部告警引用
	CurrentStep    int             `gorm:"column:current_step;type:int" json:"currentStep"`                // 当前步骤序号
	CurrentCycle   int             `gorm:"column:current_cycle;type:int" json:"currentCycle"`              // 当前重复轮次(0开始)
	Status         ExecutionStatus `gorm:"column:status;type:varchar(20);index" json:"status"`             // 执行状态
	StartedAt      DeskTime        `gorm:"column:started_at;type:datetime" json:"startedAt"`               // 触发时刻
	NextDeadline   *DeskTime       `gorm:"column:next_deadline;type:datetime;index" json:"nextDeadline"`   // 下一次定时器触发时刻
	AcknowledgedAt *DeskTime       `gorm:"column:acknowledged_at;type:datetime" json:"acknowledgedAt"`     // 确认时刻
	AcknowledgedBy string          `gorm:"column:acknowledged_by;type:varchar(100)" json:"acknowledgedBy"` // 确认人
}

// TableName 指定表名
func (EscalationExecution) TableName() string {
	return "escalation_executions"
}
