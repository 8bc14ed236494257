package escalation_digest

// ExhaustedExecution 升级耗尽的执行摘要
type ExhaustedExecution struct {
	ExecutionID int64  // 执行ID
	TenantID    string // 租户
	PolicyName  string // 策略名称
	TriggerID   string // 外部告警引用
	StartedAt   string // 触发时刻
	Cycles      int    // 已完成轮数
}

// FailedNotification 通知失败记录摘要
type FailedNotification struct {
	ExecutionID  int64  // 执行ID
	TenantID     string // 租户
	StepNumber   int    // 步骤序号
	Recipient    string // 目标
	ErrorMessage string // 失败原因
	SendTime     string // 发生时刻
}

// DigestTemplateData 日报邮件模板数据
type DigestTemplateData struct {
	Date                string               // 报告日期
	TotalExhausted      int                  // 耗尽执行总数
	TotalFailed         int                  // 通知失败总数
	ExhaustedExecutions []ExhaustedExecution // 耗尽执行明细
	FailedNotifications []FailedNotification // 通知失败明细
}
