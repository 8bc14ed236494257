package routers

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/pkg/middleware/render"
	"github.com/asklokesh/FireLater-sub004/pkg/redis"
	"github.com/asklokesh/FireLater-sub004/server/portal/internal/service"
)

// SwapHandler 换班工作流处理器
type SwapHandler struct {
	swaps *service.ShiftSwapService
}

// NewSwapHandler 创建换班工作流处理器
func NewSwapHandler(db *gorm.DB, redisHandler *redis.Handler, logger *zap.Logger) *SwapHandler {
	keyBuilder := redis.NewKeyBuilder(redis.GlobalPrefix, "")
	resolver := service.NewRotationResolver(db, redisHandler, keyBuilder, logger)

	return &SwapHandler{
		swaps: service.NewShiftSwapService(db, resolver, redisHandler, keyBuilder, logger),
	}
}

// RegisterRoutes 注册路由
func (h *SwapHandler) RegisterRoutes(api *gin.RouterGroup) {
	swapGroup := api.Group(RouteGroupSwaps)

	swapGroup.GET("", h.ListSwaps)
	swapGroup.POST("", h.CreateSwap)
	swapGroup.GET(RouteParamID, h.GetSwap)
	swapGroup.POST(RouteParamIDAccept, h.AcceptSwap)
	swapGroup.POST(RouteParamIDReject, h.RejectSwap)
	swapGroup.POST(RouteParamIDCancel, h.CancelSwap)
}

// ListSwaps 获取换班申请列表
// @Summary 获取换班申请列表
// @Description 分页获取换班申请，支持按状态过滤(含派生的completed)
// @Tags 换班工作流
// @Produce json
// @Param page query int false "页码"
// @Param size query int false "每页数量"
// @Param status query string false "状态过滤"
// @Success 200 {object} render.Response
// @Router /fe-v1/oncall/swaps [get]
func (h *SwapHandler) ListSwaps(c *gin.Context) {
	var query service.SwapQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		render.BadRequest(c, MsgInvalidQuery+err.Error())
		return
	}

	swaps, total, err := h.swaps.ListSwaps(c.Request.Context(), &query)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, service.ToPaginationResponseWithData(&query.PaginationRequest, total, swaps))
}

// CreateSwap 创建换班申请
// @Summary 创建换班申请
// @Description 申请人必须是原班次窗口解析出的值班人，单号自动发放
// @Tags 换班工作流
// @Accept json
// @Produce json
// @Param request body service.SwapCreateRequest true "换班申请"
// @Success 200 {object} render.Response
// @Failure 403 {object} render.Response
// @Router /fe-v1/oncall/swaps [post]
func (h *SwapHandler) CreateSwap(c *gin.Context) {
	userID := currentUser(c)
	if userID == "" {
		render.BadRequest(c, MsgMissingUser)
		return
	}

	var req service.SwapCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		render.BadRequest(c, MsgInvalidRequestBody+err.Error())
		return
	}

	swap, err := h.swaps.CreateSwap(c.Request.Context(), &req, userID)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, swap)
}

// GetSwap 获取换班申请详情
// @Summary 获取换班申请详情
// @Tags 换班工作流
// @Produce json
// @Param id path int true "换班申请ID"
// @Success 200 {object} render.Response
// @Failure 404 {object} render.Response
// @Router /fe-v1/oncall/swaps/{id} [get]
func (h *SwapHandler) GetSwap(c *gin.Context) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	swap, err := h.swaps.GetSwap(c.Request.Context(), id)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, swap)
}

// AcceptSwap 接受换班申请
// @Summary 接受换班申请
// @Description 原子接受：冲突检查与班次写入在同一事务，并发接受恰好一个成功
// @Tags 换班工作流
// @Produce json
// @Param id path int true "换班申请ID"
// @Success 200 {object} render.Response
// @Failure 403 {object} render.Response
// @Failure 409 {object} render.Response
// @Failure 410 {object} render.Response
// @Router /fe-v1/oncall/swaps/{id}/accept [post]
func (h *SwapHandler) AcceptSwap(c *gin.Context) {
	h.respond(c, h.swaps.AcceptSwap)
}

// RejectSwap 拒绝换班申请
// @Summary 拒绝换班申请
// @Tags 换班工作流
// @Produce json
// @Param id path int true "换班申请ID"
// @Success 200 {object} render.Response
// @Failure 409 {object} render.Response
// @Router /fe-v1/oncall/swaps/{id}/reject [post]
func (h *SwapHandler) RejectSwap(c *gin.Context) {
	h.respond(c, h.swaps.RejectSwap)
}

// CancelSwap 取消换班申请
// @Summary 取消换班申请
// @Description 仅申请人可取消待处理的申请
// @Tags 换班工作流
// @Produce json
// @Param id path int true "换班申请ID"
// @Success 200 {object} render.Response
// @Failure 403 {object} render.Response
// @Router /fe-v1/oncall/swaps/{id}/cancel [post]
func (h *SwapHandler) CancelSwap(c *gin.Context) {
	h.respond(c, h.swaps.CancelSwap)
}

// respond 三种响应操作共用的参数解析与渲染
func (h *SwapHandler) respond(c *gin.Context, op func(ctx context.Context, id int64, userID string) (*service.SwapDTO, error)) {
	id, ok := parseIDParam(c, ParamID)
	if !ok {
		return
	}

	userID := currentUser(c)
	if userID == "" {
		render.BadRequest(c, MsgMissingUser)
		return
	}

	swap, err := op(c.Request.Context(), id, userID)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	render.Success(c, swap)
}
