/*
Package portal 提供数据模型定义.
*/
package portal

// BaseModel 基础模型.
type BaseModel struct {
	ID        int64    `gorm:"primaryKey;autoIncrement"`        // 主键ID
	CreatedAt DeskTime `gorm:"column:created_at;type:datetime"` // 创建时间
	UpdatedAt DeskTime `gorm:"column:updated_at;type:datetime"` // 更新时间
}

// TenantModel 租户模型.
// 多租户分区由产品统一的schema方案实现，这个模块只保证每条记录
// 携带租户标识、每个查询按租户过滤.
type TenantModel struct {
	BaseModel
	TenantID string `gorm:"column:tenant_id;type:varchar(100);index" json:"tenantId"` // 租户标识
}
