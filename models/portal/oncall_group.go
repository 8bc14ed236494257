package portal

// OnCallGroup 值班用户组表
//
// 升级步骤notify_type=group时按组成员展开通知.
type OnCallGroup struct {
	TenantModel
	Name        string `gorm:"column:name;type:varchar(255)" json:"name"`       // 用户组名称
	Description string `gorm:"column:description;type:text" json:"description"` // 用户组描述

	// 关联关系
	Members []OnCallGroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"` // 组成员列表
}

// TableName 指定表名
func (OnCallGroup) TableName() string {
	return "oncall_groups"
}

// OnCallGroupMember 值班用户组成员表
type OnCallGroupMember struct {
	TenantModel
	GroupID int64  `gorm:"column:group_id;type:bigint;index" json:"groupId"` // 用户组ID
	UserID  string `gorm:"column:user_id;type:varchar(100)" json:"userId"`   // 用户ID
}

// TableName 指定表名
func (OnCallGroupMember) TableName() string {
	return "oncall_group_members"
}
