package routers

// HTTP 路由路径常量
const (
	// 基础路由组
	RouteGroupSchedules          = "/oncall/schedules"
	RouteGroupSwaps              = "/oncall/swaps"
	RouteGroupEscalationPolicies = "/oncall/escalation-policies"
	RouteGroupExecutions         = "/oncall/escalation-executions"
	RouteWhoIsOnCall             = "/oncall/who-is-on-call"

	// 路由参数路径
	RouteParamID                  = "/:id"
	RouteParamIDRotations         = "/:id/rotations"
	RouteParamIDRotationsRotation = "/:id/rotations/:rotation_id"
	RouteParamIDShifts            = "/:id/shifts"
	RouteParamIDOverride          = "/:id/override"
	RouteParamIDOverrides         = "/:id/overrides"
	RouteParamIDSteps             = "/:id/steps"
	RouteParamIDTrigger           = "/:id/trigger"
	RouteParamIDAccept            = "/:id/accept"
	RouteParamIDReject            = "/:id/reject"
	RouteParamIDCancel            = "/:id/cancel"
	RouteParamIDAck               = "/:id/ack"
	RouteParamIDResolve           = "/:id/resolve"
)

// HTTP 参数名常量
const (
	ParamID            = "id"
	ParamRotationID    = "rotation_id"
	ParamApplicationID = "application_id"
	ParamScheduleID    = "schedule_id"
	ParamAt            = "at"
)

// HTTP 请求头常量
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// 错误提示消息
const (
	MsgInvalidID          = "无效的ID参数"
	MsgInvalidRequestBody = "无效的请求格式: "
	MsgInvalidQuery       = "无效的查询参数: "
	MsgMissingUser        = "缺少操作人标识(X-User-ID)"
	MsgMissingAppOrSched  = "application_id与schedule_id必须提供其一"
)
