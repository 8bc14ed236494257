package routers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/asklokesh/FireLater-sub004/pkg/middleware/render"
	"github.com/asklokesh/FireLater-sub004/server/portal/internal/service"
)

// TenantMiddleware 租户中间件
//
// 从X-Tenant-ID读取租户标识并写入请求上下文，缺省租户为default；
// 所有下游查询都按该标识分区.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(HeaderTenantID)
		if tenantID == "" {
			tenantID = service.DefaultTenant
		}
		c.Request = c.Request.WithContext(service.WithTenant(c.Request.Context(), tenantID))
		c.Next()
	}
}

// currentUser 提取操作人标识，未携带时返回空串由调用方裁决
func currentUser(c *gin.Context) string {
	return c.GetHeader(HeaderUserID)
}

// parseIDParam 解析路径上的整型ID参数
func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		render.BadRequest(c, MsgInvalidID)
		return 0, false
	}
	return id, true
}

// renderServiceError 按服务错误码渲染HTTP响应
func renderServiceError(c *gin.Context, err error) {
	render.Fail(c, service.HTTPStatus(err), err.Error())
}
