package service

import "context"

// DefaultTenant 未携带租户标识时使用的默认租户
const DefaultTenant = "default"

type tenantKeyType struct{}

var tenantKey tenantKeyType

// WithTenant 将租户标识写入上下文.
// 租户配置按请求显式传递，不使用进程级单例.
func WithTenant(ctx context.Context, tenant string) context.Context {
	if tenant == "" {
		tenant = DefaultTenant
	}
	return context.WithValue(ctx, tenantKey, tenant)
}

// TenantFrom 从上下文读取租户标识.
func TenantFrom(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey).(string); ok && v != "" {
		return v
	}
	return DefaultTenant
}
