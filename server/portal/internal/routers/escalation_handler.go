package routers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/pkg/middleware/render"
	"github.com/asklokesh/FireLater-sub004/server/portal/internal/service"
)

// TriggerRequest 触发升级请求
type TriggerRequest struct {
	TriggerID string `json:"triggerId" binding:"required" example:"ALERT-20260901-001" swagger:"description=外部告警引用"`
}

// EscalationHandler 告警升级处理器
type EscalationHandler struct {
	policies *service.EscalationPolicyService
	engine   *service.EscalationEngine
}

// NewEscalationHandler 创建告警升级处理器
func NewEscalationHandler(db *gorm.DB, engine *service.EscalationEngine, logger *zap.Logger) *EscalationHandler {
	return &EscalationHandler{
		policies: service.NewEscalationPolicyService(db, logger),
		engine:   engine,
	}
}

// RegisterRoutes 注册路由
func (h *EscalationHandler) RegisterRoutes(api *gin.RouterGroup) {
	policyGroup := api.Group(RouteGroupEscalationPolicies)

	// 升级策略管理接口
	policyGroup.GET("", h.ListPolicies)
	policyGroup.POST("", h.CreatePolicy)
	policyGroup.GET(RouteParamID, h.GetPolicy)
	policyGroup.DELETE(RouteParamID, h.DeletePolicy)
	policyGroup.POST(RouteParamIDSteps, h.AddStep)
	policyGroup.POST(RouteParamIDTrigger, h.Trigger)

	// 升级执行接口
	executionGroup := api.Group(RouteGroupExecutions)
	executionGroup.GET("", h.ListExecutions)
	executionGroup.GET(RouteParamID, h.GetExecution)
	executionGroup.POST(RouteParamIDAck, h.Acknowledge)
	executionGroup.POST(RouteParamIDResolve, h.ResolveExecution)
}

// ListPolicies 获取升级策略列表
// @Summary 获取升级策略列表
// @Tags 告警升级
// @Produce json
// @Param page query int false "页码"
// @Param size query int false "每页数量"
// @Success 200 {object} render.Response
// @Router /fe-v1/oncall/escalation-policies [get]
func (h *EscalationHandler) ListPolicies(c *gin.Context) {
	var page service.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		render.BadRequest(c, MsgInvalidQuery+err.Error())
		return
	}

	policies, total, err := h.policies.ListPolicies(c.Request.Context(), &page)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, service.ToPaginationResponseWithData(&page, total, policies))
}

// CreatePolicy 创建升级策略
// @Summary 创建升级策略
// @Description 创建策略及其有序升级步骤
// @Tags 告警升级
// @Accept json
// @Produce json
// @Param request body service.PolicyCreateRequest true "策略信息"
// @Success 200 {object} render.Response
// @Failure 400 {object} render.Response
// @Router /fe-v1/oncall/escalation-policies [post]
func (h *EscalationHandler) CreatePolicy(c *gin.Context) {
	var req service.PolicyCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, MsgInvalidRequestBody+err.Error())
		return
	}

	policy, err := h.policies.CreatePolicy(c.Request.Context(), &req, currentUser(c))
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, policy)
}

// GetPolicy 获取升级策略详情
// @Summary 获取升级策略详情
// @Tags 告警升级
// @Produce json
// @Param id path int true "策略ID"
// @Success 200 {object} render.Response
// @Failure 404 {object} render.Response
// @Router /fe-v1/oncall/escalation-policies/{id} [get]
func (h *EscalationHandler) GetPolicy(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	policy, err := h.policies.GetPolicy(c.Request.Context(), id)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, policy)
}

// DeletePolicy 删除升级策略
// @Summary 删除升级策略
// @Tags 告警升级
// @Produce json
// @Param id path int true "策略ID"
// @Success 200 {object} render.Response
// @Failure 404 {object} render.Response
// @Router /fe-v1/oncall/escalation-policies/{id} [delete]
func (h *EscalationHandler) DeletePolicy(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	if err := h.policies.DeletePolicy(c.Request.Context(), id); err != nil {
		renderServiceError(c, err)
		return
	}

	render.SuccessWithMessage(c, "升级策略已删除", nil)
}

// AddStep 追加升级步骤
// @Summary 追加升级步骤
// @Description 在策略末尾追加一个升级步骤
// @Tags 告警升级
// @Accept json
// @Produce json
// @Param id path int true "策略ID"
// @Param request body service.StepRequest true "步骤信息"
// @Success 200 {object} render.Response
// @Failure 400 {object} render.Response
// @Router /fe-v1/oncall/escalation-policies/{id}/steps [post]
func (h *EscalationHandler) AddStep(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	var req service.StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, MsgInvalidRequestBody+err.Error())
		return
	}

	step, err := h.policies.AddStep(c.Request.Context(), id, &req)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, step)
}

// Trigger 触发升级执行
// @Summary 触发升级执行
// @Description 按策略创建升级执行并立即触发第一步
// @Tags 告警升级
// @Accept json
// @Produce json
// @Param id path int true "策略ID"
// @Param request body TriggerRequest true "触发信息"
// @Success 200 {object} render.Response
// @Failure 422 {object} render.Response
// @Router /fe-v1/oncall/escalation-policies/{id}/trigger [post]
func (h *EscalationHandler) Trigger(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, MsgInvalidRequestBody+err.Error())
		return
	}

	execution, err := h.engine.Trigger(c.Request.Context(), id, req.TriggerID)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, execution)
}

// ListExecutions 查询升级执行列表
// @Summary 查询升级执行列表
// @Description 支持按状态与告警引用过滤，运维侧由此发现exhausted执行
// @Tags 告警升级
// @Produce json
// @Param page query int false "页码"
// @Param size query int false "每页数量"
// @Param status query string false "执行状态过滤"
// @Param trigger_id query string false "告警引用过滤"
// @Success 200 {object} render.Response
// @Router /fe-v1/oncall/escalation-executions [get]
func (h *EscalationHandler) ListExecutions(c *gin.Context) {
	var query service.ExecutionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		render.BadRequest(c, MsgInvalidQuery+err.Error())
		return
	}

	executions, total, err := h.policies.ListExecutions(c.Request.Context(), &query)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, service.ToPaginationResponseWithData(&query.PaginationRequest, total, executions))
}

// GetExecution 获取升级执行详情
// @Summary 获取升级执行详情
// @Tags 告警升级
// @Produce json
// @Param id path int true "执行ID"
// @Success 200 {object} render.Response
// @Failure 404 {object} render.Response
// @Router /fe-v1/oncall/escalation-executions/{id} [get]
func (h *EscalationHandler) GetExecution(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	execution, err := h.policies.GetExecution(c.Request.Context(), id)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, execution)
}

// Acknowledge 确认升级执行
// @Summary 确认升级执行
// @Description 终止后续升级，重复确认为幂等无操作
// @Tags 告警升级
// @Produce json
// @Param id path int true "执行ID"
// @Success 200 {object} render.Response
// @Failure 404 {object} render.Response
// @Router /fe-v1/oncall/escalation-executions/{id}/ack [post]
func (h *EscalationHandler) Acknowledge(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	userID := currentUser(c)
	if userID == "" {
		render.BadRequest(c, MsgMissingUser)
		return
	}

	execution, err := h.engine.Acknowledge(c.Request.Context(), id, userID)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, execution)
}

// ResolveExecution 关闭升级执行
// @Summary 关闭升级执行
// @Description 告警自行恢复时关闭执行，重复关闭为幂等无操作
// @Tags 告警升级
// @Produce json
// @Param id path int true "执行ID"
// @Success 200 {object} render.Response
// @Failure 404 {object} render.Response
// @Router /fe-v1/oncall/escalation-executions/{id}/resolve [post]
func (h *EscalationHandler) ResolveExecution(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	execution, err := h.engine.ResolveExecution(c.Request.Context(), id)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, execution)
}
