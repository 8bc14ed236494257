package portal

// 通知发送状态常量
const (
	NotificationStatusSent   = "sent"   // 已提交外部通知器
	NotificationStatusFailed = "failed" // 发送失败或对象解析失败
)

// NotificationLog 通知日志表
//
// 升级引擎每次外呼通知器都落一条日志；对象解析失败(排班表无人、
// 用户组为空)同样落failed日志后立即推进，保证升级链路不被卡死.
type NotificationLog struct {
	TenantModel
	ExecutionID  *int64   `gorm:"column:execution_id;type:bigint;index" json:"executionId"`          // 关联升级执行ID(可选)
	StepNumber   int      `gorm:"column:step_number;type:int" json:"stepNumber"`                     // 升级步骤序号
	NotifyType   string   `gorm:"column:notify_type;type:varchar(50)" json:"notifyType"`             // 通知类型
	Recipient    string   `gorm:"column:recipient;type:varchar(255)" json:"recipient"`               // 接收人信息
	Content      string   `gorm:"column:content;type:text" json:"content"`                           // 通知内容
	Status       string   `gorm:"column:status;type:varchar(50)" json:"status"`                      // 发送状态
	SendTime     DeskTime `gorm:"column:send_time;type:datetime" json:"sendTime"`                    // 发送时间
	ErrorMessage string   `gorm:"column:error_message;type:text" json:"errorMessage"`                // 错误信息
}

// TableName 指定表名
func (NotificationLog) TableName() string {
	return "notification_log"
}
