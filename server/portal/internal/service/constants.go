package service

import "time"

// 分页默认值
const (
	DefaultPage = 1
	DefaultSize = 10
	MaxSize     = 100
)

// 排序方式
const (
	OrderByCreatedAtDesc = "created_at DESC"
	OrderByStartTimeAsc  = "start_time ASC"
	OrderByPositionAsc   = "position ASC"
	OrderByStepNumberAsc = "step_number ASC"
)

// 数据库字段条件
const (
	fieldID             = "id = ?"
	fieldTenant         = "tenant_id = ?"
	fieldScheduleID     = "schedule_id = ?"
	fieldPolicyID       = "policy_id = ?"
	fieldGroupID        = "group_id = ?"
	fieldApplicationID  = "application_id = ?"
	fieldStatusEq       = "status = ?"
	fieldOriginIn       = "origin IN ?"
	fieldCoversInstant  = "start_time <= ? AND end_time > ?"
	fieldWindowOverlaps = "start_time < ? AND end_time > ?"
	fieldExpiresBefore  = "expires_at < ?"
	fieldDeadlineSet    = "next_deadline IS NOT NULL"
	fieldStartGTE       = "start_time >= ?"
	fieldStartLT        = "start_time < ?"
)

// 值班来源
const (
	ResolveSourceRotation = "rotation"
	ResolveSourceOverride = "override"
	ResolveSourceManual   = "manual"
)

// 换班单号前缀
const (
	swapNumberPrefix = "SWAP"
	swapNumberFormat = "%s-%05d"
)

// 换班申请默认有效期
const (
	DefaultSwapTTL = 72 * time.Hour
)

// 分布式锁参数
const (
	swapLockTimeout = 10 * time.Second
)

// 交接时刻格式
const handoffTimeLayout = "15:04"
