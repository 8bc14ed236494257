package portal

// SwapStatus 换班申请状态枚举
type SwapStatus string

const (
	SwapStatusPending   SwapStatus = "pending"   // 待响应
	SwapStatusAccepted  SwapStatus = "accepted"  // 已接受
	SwapStatusRejected  SwapStatus = "rejected"  // 已拒绝
	SwapStatusCancelled SwapStatus = "cancelled" // 申请人撤销
	SwapStatusExpired   SwapStatus = "expired"   // 超时失效
	SwapStatusCompleted SwapStatus = "completed" // 替班窗口已结束(派生态，仅用于报表)
)

// ShiftSwapRequest 换班申请表
//
// 状态机：pending -> accepted/rejected/cancelled/expired，
// accepted在replacement_end过后报表层面派生为completed，不再允许变更.
// offered_to_user_id为空表示向排班表内任何人开放.
type ShiftSwapRequest struct {
	TenantModel
	SwapNumber       string     `gorm:"column:swap_number;type:varchar(50);unique" json:"swapNumber"`          // 换班单号，如 SWAP-00001
	ScheduleID       int64      `gorm:"column:schedule_id;type:bigint;index" json:"scheduleId"`                // 排班表ID
	RequesterID      string     `gorm:"column:requester_id;type:varchar(100)" json:"requesterId"`              // 申请人ID
	OriginalStart    DeskTime   `gorm:"column:original_start;type:datetime" json:"originalStart"`              // 原班次开始
	OriginalEnd      DeskTime   `gorm:"column:original_end;type:datetime" json:"originalEnd"`                  // 原班次结束
	OfferedToUserID  string     `gorm:"column:offered_to_user_id;type:varchar(100)" json:"offeredToUserId"`    // 指定接班人(空=开放)
	AccepterID       string     `gorm:"column:accepter_id;type:varchar(100)" json:"accepterId"`                // 实际接班人
	ReplacementStart *DeskTime  `gorm:"column:replacement_start;type:datetime" json:"replacementStart"`        // 替班开始
	ReplacementEnd   *DeskTime  `gorm:"column:replacement_end;type:datetime" json:"replacementEnd"`            // 替班结束
	Status           SwapStatus `gorm:"column:status;type:varchar(20);index" json:"status"`                    // 申请状态
	Reason           string     `gorm:"column:reason;type:varchar(500)" json:"reason"`                         // 换班原因
	RequestedAt      DeskTime   `gorm:"column:requested_at;type:datetime" json:"requestedAt"`                  // 申请时刻
	RespondedAt      *DeskTime  `gorm:"column:responded_at;type:datetime" json:"respondedAt"`                  // 响应时刻
	ExpiresAt        DeskTime   `gorm:"column:expires_at;type:datetime;index" json:"expiresAt"`                // 失效时刻
	ApprovedBy       string     `gorm:"column:approved_by;type:varchar(100)" json:"approvedBy"`                // 审批人(预留)
	ApprovedAt       *DeskTime  `gorm:"column:approved_at;type:datetime" json:"approvedAt"`                    // 审批时刻(预留)
}

// TableName 指定表名
func (ShiftSwapRequest) TableName() string {
	return "shift_swap_requests"
}

// IDSequence 单号序列表
//
// 每个租户每种单据一行，换班单号按 SWAP-00001 风格递增发放，
// 取号在换班创建事务内完成.
type IDSequence struct {
	TenantModel
	Prefix  string `gorm:"column:prefix;type:varchar(20)" json:"prefix"`  // 单号前缀，如 SWAP
	NextVal int64  `gorm:"column:next_val;type:bigint" json:"nextVal"`    // 下一个序号
}

// TableName 指定表名
func (IDSequence) TableName() string {
	return "id_sequences"
}
