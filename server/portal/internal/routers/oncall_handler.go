package routers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/pkg/middleware/render"
	"github.com/asklokesh/FireLater-sub004/pkg/redis"
	"github.com/asklokesh/FireLater-sub004/server/portal/internal/service"
)

// OnCallHandler 值班排班处理器
type OnCallHandler struct {
	schedules *service.ScheduleService
	resolver  *service.RotationResolver
}

// NewOnCallHandler 创建值班排班处理器
func NewOnCallHandler(db *gorm.DB, redisHandler *redis.Handler, logger *zap.Logger) *OnCallHandler {
	keyBuilder := redis.NewKeyBuilder(redis.GlobalPrefix, "")

	return &OnCallHandler{
		schedules: service.NewScheduleService(db, redisHandler, keyBuilder, logger),
		resolver:  service.NewRotationResolver(db, redisHandler, keyBuilder, logger),
	}
}

// RegisterRoutes 注册路由
func (h *OnCallHandler) RegisterRoutes(api *gin.RouterGroup) {
	scheduleGroup := api.Group(RouteGroupSchedules)

	// 排班表管理接口
	scheduleGroup.GET("", h.ListSchedules)
	scheduleGroup.POST("", h.CreateSchedule)
	scheduleGroup.GET(RouteParamID, h.GetSchedule)
	scheduleGroup.DELETE(RouteParamID, h.DeleteSchedule)

	// 轮换参与人接口
	scheduleGroup.GET(RouteParamIDRotations, h.ListParticipants)
	scheduleGroup.POST(RouteParamIDRotations, h.AddParticipant)
	scheduleGroup.DELETE(RouteParamIDRotationsRotation, h.RemoveParticipant)

	// 班次与覆盖接口
	scheduleGroup.GET(RouteParamIDShifts, h.ListShifts)
	scheduleGroup.POST(RouteParamIDShifts, h.CreateManualShift)
	scheduleGroup.POST(RouteParamIDOverride, h.CreateOverride)
	scheduleGroup.GET(RouteParamIDOverrides, h.ListOverrides)

	// 值班解析接口
	api.GET(RouteWhoIsOnCall, h.WhoIsOnCall)
}

// ListSchedules 获取排班表列表
// @Summary 获取排班表列表
// @Description 分页获取当前租户的值班排班表
// @Tags 值班排班
// @Produce json
// @Param page query int false "页码"
// @Param size query int false "每页数量"
// @Success 200 {object} render.Response
// @Failure 500 {object} render.Response
// @Router /fe-v1/oncall/schedules [get]
func (h *OnCallHandler) ListSchedules(c *gin.Context) {
	var page service.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		render.BadRequest(c, MsgInvalidQuery+err.Error())
		return
	}

	schedules, total, err := h.schedules.ListSchedules(c.Request.Context(), &page)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, service.ToPaginationResponseWithData(&page, total, schedules))
}

// CreateSchedule 创建排班表
// @Summary 创建排班表
// @Description 创建值班排班表及其初始轮换参与人
// @Tags 值班排班
// @Accept json
// @Produce json
// @Param request body service.ScheduleCreateRequest true "排班表信息"
// @Success 200 {object} render.Response
// @Failure 400 {object} render.Response
// @Router /fe-v1/oncall/schedules [post]
func (h *OnCallHandler) CreateSchedule(c *gin.Context) {
	var req service.ScheduleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, MsgInvalidRequestBody+err.Error())
		return
	}

	schedule, err := h.schedules.CreateSchedule(c.Request.Context(), &req, currentUser(c))
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, schedule)
}

// GetSchedule 获取排班表详情
// @Summary 获取排班表详情
// @Tags 值班排班
// @Produce json
// @Param id path int true "排班表ID"
// @Success 200 {object} render.Response
// @Failure 404 {object} render.Response
// @Router /fe-v1/oncall/schedules/{id} [get]
func (h *OnCallHandler) GetSchedule(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	schedule, err := h.schedules.GetSchedule(c.Request.Context(), id)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, schedule)
}

// DeleteSchedule 删除排班表
// @Summary 删除排班表
// @Description 删除排班表及其轮换参与人
// @Tags 值班排班
// @Produce json
// @Param id path int true "排班表ID"
// @Success 200 {object} render.Response
// @Failure 404 {object} render.Response
// @Router /fe-v1/oncall/schedules/{id} [delete]
func (h *OnCallHandler) DeleteSchedule(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	if err := h.schedules.DeleteSchedule(c.Request.Context(), id); err != nil {
		renderServiceError(c, err)
		return
	}

	render.SuccessWithMessage(c, "排班表已删除", nil)
}

// ListParticipants 获取轮换参与人列表
// @Summary 获取轮换参与人列表
// @Tags 值班排班
// @Produce json
// @Param id path int true "排班表ID"
// @Success 200 {object} render.Response
// @Router /fe-v1/oncall/schedules/{id}/rotations [get]
func (h *OnCallHandler) ListParticipants(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	participants, err := h.schedules.ListParticipants(c.Request.Context(), id)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, participants)
}

// AddParticipant 添加轮换参与人
// @Summary 添加轮换参与人
// @Description 在指定顺位插入参与人，后续顺位依次后移
// @Tags 值班排班
// @Accept json
// @Produce json
// @Param id path int true "排班表ID"
// @Param request body service.ParticipantRequest true "参与人信息"
// @Success 200 {object} render.Response
// @Failure 400 {object} render.Response
// @Router /fe-v1/oncall/schedules/{id}/rotations [post]
func (h *OnCallHandler) AddParticipant(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	var req service.ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, MsgInvalidRequestBody+err.Error())
		return
	}

	participant, err := h.schedules.AddParticipant(c.Request.Context(), id, &req)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, participant)
}

// RemoveParticipant 移除轮换参与人
// @Summary 移除轮换参与人
// @Description 移除参与人，后续顺位依次前移
// @Tags 值班排班
// @Produce json
// @Param id path int true "排班表ID"
// @Param rotation_id path int true "参与人ID"
// @Success 200 {object} render.Response
// @Failure 404 {object} render.Response
// @Router /fe-v1/oncall/schedules/{id}/rotations/{rotation_id} [delete]
func (h *OnCallHandler) RemoveParticipant(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}
	rotationID, ok := parseIDParam(c, ParamRotationID)
	if !ok {
		return
	}

	if err := h.schedules.RemoveParticipant(c.Request.Context(), id, rotationID); err != nil {
		renderServiceError(c, err)
		return
	}

	render.SuccessWithMessage(c, "参与人已移除", nil)
}

// ListShifts 查询班次列表
// @Summary 查询班次列表
// @Description 按时间区间查询排班表的班次
// @Tags 值班排班
// @Produce json
// @Param id path int true "排班表ID"
// @Param start_date query string false "区间开始(RFC3339)"
// @Param end_date query string false "区间结束(RFC3339)"
// @Success 200 {object} render.Response
// @Router /fe-v1/oncall/schedules/{id}/shifts [get]
func (h *OnCallHandler) ListShifts(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	var query service.ShiftRangeQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		render.BadRequest(c, MsgInvalidQuery+err.Error())
		return
	}

	shifts, err := h.schedules.ListShifts(c.Request.Context(), id, &query)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, shifts)
}

// CreateManualShift 创建手工班次
// @Summary 创建手工班次
// @Description 创建manual来源的班次，与已有班次重叠时返回409
// @Tags 值班排班
// @Accept json
// @Produce json
// @Param id path int true "排班表ID"
// @Param request body service.ShiftCreateRequest true "班次信息"
// @Success 200 {object} render.Response
// @Failure 409 {object} render.Response
// @Router /fe-v1/oncall/schedules/{id}/shifts [post]
func (h *OnCallHandler) CreateManualShift(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	var req service.ShiftCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, MsgInvalidRequestBody+err.Error())
		return
	}

	shift, err := h.schedules.CreateManualShift(c.Request.Context(), id, &req)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, shift)
}

// CreateOverride 创建临时覆盖
// @Summary 创建临时覆盖
// @Description 覆盖允许重叠，解析时取created_at最新的一条
// @Tags 值班排班
// @Accept json
// @Produce json
// @Param id path int true "排班表ID"
// @Param request body service.OverrideCreateRequest true "覆盖信息"
// @Success 200 {object} render.Response
// @Failure 400 {object} render.Response
// @Router /fe-v1/oncall/schedules/{id}/override [post]
func (h *OnCallHandler) CreateOverride(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	var req service.OverrideCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, MsgInvalidRequestBody+err.Error())
		return
	}

	override, err := h.schedules.CreateOverride(c.Request.Context(), id, &req)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, override)
}

// ListOverrides 获取覆盖列表
// @Summary 获取覆盖列表
// @Tags 值班排班
// @Produce json
// @Param id path int true "排班表ID"
// @Success 200 {object} render.Response
// @Router /fe-v1/oncall/schedules/{id}/overrides [get]
func (h *OnCallHandler) ListOverrides(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	overrides, err := h.schedules.ListOverrides(c.Request.Context(), id)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, overrides)
}

// WhoIsOnCall 查询当前值班人
// @Summary 查询当前值班人
// @Description 按应用或排班表解析指定时刻的值班人，at缺省为当前时刻
// @Tags 值班排班
// @Produce json
// @Param application_id query int false "应用ID"
// @Param schedule_id query int false "排班表ID"
// @Param at query string false "解析时刻(RFC3339)"
// @Success 200 {object} render.Response
// @Failure 404 {object} render.Response
// @Failure 422 {object} render.Response
// @Router /fe-v1/oncall/who-is-on-call [get]
func (h *OnCallHandler) WhoIsOnCall(c *gin.Context) {
	at := time.Now()
	if raw := c.Query(ParamAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			render.BadRequest(c, MsgInvalidQuery+err.Error())
			return
		}
		at = parsed
	}

	var result *service.ResolveResult
	var err error
	switch {
	case c.Query(ParamScheduleID) != "":
		scheduleID, parseErr := strconv.ParseInt(c.Query(ParamScheduleID), 10, 64)
		if parseErr != nil {
			render.BadRequest(c, MsgInvalidID)
			return
		}
		result, err = h.resolver.Resolve(c.Request.Context(), scheduleID, at)
	case c.Query(ParamApplicationID) != "":
		applicationID, parseErr := strconv.ParseInt(c.Query(ParamApplicationID), 10, 64)
		if parseErr != nil {
			render.BadRequest(c, MsgInvalidID)
			return
		}
		result, err = h.resolver.ResolveByApplication(c.Request.Context(), applicationID, at)
	default:
		render.BadRequest(c, MsgMissingAppOrSched)
		return
	}
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, result)
}
