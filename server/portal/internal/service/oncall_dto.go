package service

import (
	"time"

	"github.com/asklokesh/FireLater-sub004/models/portal"
)

// ParticipantRequest 轮换参与人请求
type ParticipantRequest struct {
	UserID   string `json:"userId" binding:"required" example:"alice" swagger:"description=用户ID"`
	Position int    `json:"position" example:"0" swagger:"description=轮换顺位(0开始)"`
}

// ScheduleCreateRequest 创建排班表请求
type ScheduleCreateRequest struct {
	Name           string               `json:"name" binding:"required" example:"支付平台值班" swagger:"description=排班表名称"`
	ApplicationID  int64                `json:"applicationId" example:"101" swagger:"description=关联应用ID"`
	Timezone       string               `json:"timezone" example:"Asia/Shanghai" swagger:"description=IANA时区"`
	RotationType   portal.RotationType  `json:"rotationType" binding:"required" example:"weekly" swagger:"description=轮换类型 daily|weekly|custom"`
	HandoffTime    string               `json:"handoffTime" example:"09:00" swagger:"description=交接时刻"`
	HandoffWeekday int                  `json:"handoffWeekday" example:"1" swagger:"description=交接星期(0=周日)"`
	RotationStart  portal.DeskTime      `json:"rotationStart" binding:"required" swagger:"description=轮换锚点时刻"`
	PeriodDays     int                  `json:"periodDays" example:"3" swagger:"description=自定义周期天数"`
	Participants   []ParticipantRequest `json:"participants" swagger:"description=初始参与人列表"`
}

// ScheduleDTO 排班表DTO
type ScheduleDTO struct {
	ID             int64                        `json:"id"`
	Name           string                       `json:"name"`
	ApplicationID  int64                        `json:"applicationId"`
	Timezone       string                       `json:"timezone"`
	RotationType   portal.RotationType          `json:"rotationType"`
	HandoffTime    string                       `json:"handoffTime"`
	HandoffWeekday int                          `json:"handoffWeekday"`
	RotationStart  portal.DeskTime              `json:"rotationStart"`
	PeriodDays     int                          `json:"periodDays"`
	CreatedBy      string                       `json:"createdBy"`
	Participants   []portal.RotationParticipant `json:"participants"`
}

// ShiftCreateRequest 创建手工班次请求
type ShiftCreateRequest struct {
	UserID    string          `json:"userId" binding:"required" example:"bob" swagger:"description=值班人ID"`
	StartTime portal.DeskTime `json:"startTime" binding:"required" swagger:"description=开始时刻(含)"`
	EndTime   portal.DeskTime `json:"endTime" binding:"required" swagger:"description=结束时刻(不含)"`
}

// OverrideCreateRequest 创建覆盖请求
type OverrideCreateRequest struct {
	UserID    string          `json:"userId" binding:"required" example:"carol" swagger:"description=替班人ID"`
	StartTime portal.DeskTime `json:"startTime" binding:"required" swagger:"description=开始时刻(含)"`
	EndTime   portal.DeskTime `json:"endTime" binding:"required" swagger:"description=结束时刻(不含)"`
	Reason    string          `json:"reason" example:"临时替班" swagger:"description=覆盖原因"`
	CreatedBy string          `json:"createdBy" example:"admin" swagger:"description=创建人"`
}

// ShiftRangeQuery 班次区间查询参数
type ShiftRangeQuery struct {
	StartDate portal.DeskTime `form:"start_date" swagger:"description=区间开始"`
	EndDate   portal.DeskTime `form:"end_date" swagger:"description=区间结束"`
}

// toScheduleDTO 模型转DTO
func toScheduleDTO(s *portal.OnCallSchedule) ScheduleDTO {
	return ScheduleDTO{
		ID:             s.ID,
		Name:           s.Name,
		ApplicationID:  s.ApplicationID,
		Timezone:       s.Timezone,
		RotationType:   s.RotationType,
		HandoffTime:    s.HandoffTime,
		HandoffWeekday: s.HandoffWeekday,
		RotationStart:  s.RotationStart,
		PeriodDays:     s.PeriodDays,
		CreatedBy:      s.CreatedBy,
		Participants:   s.Participants,
	}
}

// overlaps 判断两个[start,end)区间是否相交
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
