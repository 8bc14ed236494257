package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/models/portal"
)

// SwapCreateRequest 创建换班申请请求
type SwapCreateRequest struct {
	ScheduleID      int64           `json:"scheduleId" binding:"required" example:"1" swagger:"description=排班表ID"`
	OriginalStart   portal.DeskTime `json:"originalStart" binding:"required" swagger:"description=原班次开始"`
	OriginalEnd     portal.DeskTime `json:"originalEnd" binding:"required" swagger:"description=原班次结束"`
	OfferedToUserID string          `json:"offeredToUserId" example:"bob" swagger:"description=指定接班人(空=开放)"`
	Reason          string          `json:"reason" example:"家中有事" swagger:"description=换班原因"`
}

// SwapDTO 换班申请DTO，accepted且替班窗口已结束时派生为completed
type SwapDTO struct {
	portal.ShiftSwapRequest
	EffectiveStatus portal.SwapStatus `json:"effectiveStatus"` // 含completed派生态
}

// SwapQuery 换班申请查询参数
type SwapQuery struct {
	PaginationRequest
	Status portal.SwapStatus `form:"status" swagger:"description=申请状态过滤"`
}

// ShiftSwapService 换班工作流服务
//
// 状态机：pending -> accepted/rejected/cancelled/expired.
// 接受操作在Redis锁+数据库事务内完成冲突检查与写入，
// 并用条件更新保证并发接受恰好一个成功.
type ShiftSwapService struct {
	db           *gorm.DB
	resolver     *RotationResolver
	redisHandler RedisHandlerInterface
	keyBuilder   KeyBuilderInterface
	logger       *zap.Logger
	swapTTL      time.Duration
	nowFn        func() time.Time
}

// NewShiftSwapService 创建换班工作流服务实例
func NewShiftSwapService(db *gorm.DB, resolver *RotationResolver, redisHandler RedisHandlerInterface, keyBuilder KeyBuilderInterface, logger *zap.Logger) *ShiftSwapService {
	return &ShiftSwapService{
		db:           db,
		resolver:     resolver,
		redisHandler: redisHandler,
		keyBuilder:   keyBuilder,
		logger:       logger,
		swapTTL:      DefaultSwapTTL,
		nowFn:        time.Now,
	}
}

// CreateSwap 创建换班申请
//
// 申请人必须是该时间窗口当前解析出的值班人，单号在事务内发放.
func (s *ShiftSwapService) CreateSwap(ctx context.Context, req *SwapCreateRequest, requesterID string) (*SwapDTO, error) {
	tenantID := TenantFrom(ctx)
	nowTime := s.nowFn()

	start := req.OriginalStart.Time()
	end := req.OriginalEnd.Time()
	if !start.Before(end) {
		return nil, NewBadRequestError("swap window start must be before end")
	}

	// 窗口归属校验：窗口起点解析出的值班人必须是申请人
	resolved, err := s.resolver.Resolve(ctx, req.ScheduleID, start)
	if err != nil {
		return nil, err
	}
	if resolved.UserID != requesterID {
		return nil, NewForbiddenError(fmt.Sprintf("shift window is owned by %s, not %s", resolved.UserID, requesterID))
	}

	// 失效时刻不晚于原班次开始，窗口开始后换班没有意义
	expiresAt := nowTime.Add(s.swapTTL)
	if expiresAt.After(start) {
		expiresAt = start
	}

	var swap portal.ShiftSwapRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := nextSequenceNumber(tx, tenantID, swapNumberPrefix)
		if err != nil {
			return err
		}

		swap = portal.ShiftSwapRequest{
			TenantModel:     portal.TenantModel{TenantID: tenantID},
			SwapNumber:      number,
			ScheduleID:      req.ScheduleID,
			RequesterID:     requesterID,
			OriginalStart:   req.OriginalStart,
			OriginalEnd:     req.OriginalEnd,
			OfferedToUserID: req.OfferedToUserID,
			Status:          portal.SwapStatusPending,
			Reason:          req.Reason,
			RequestedAt:     portal.DeskTime(nowTime),
			ExpiresAt:       portal.DeskTime(expiresAt),
		}
		if err := tx.Create(&swap).Error; err != nil {
			return NewServerError("failed to create swap request", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dto := s.toDTO(&swap)
	return &dto, nil
}

// GetSwap 获取换班申请详情
func (s *ShiftSwapService) GetSwap(ctx context.Context, id int64) (*SwapDTO, error) {
	tenantID := TenantFrom(ctx)

	var swap portal.ShiftSwapRequest
	err := s.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		First(&swap, id).Error
	if err != nil {
		return nil, HandleDBError(err, "swap request", id)
	}

	dto := s.toDTO(&swap)
	return &dto, nil
}

// ListSwaps 查询换班申请列表
func (s *ShiftSwapService) ListSwaps(ctx context.Context, query *SwapQuery) ([]SwapDTO, int64, error) {
	tenantID := TenantFrom(ctx)
	query.AdjustPagination()

	db := s.db.WithContext(ctx).Model(&portal.ShiftSwapRequest{}).Where(fieldTenant, tenantID)
	if query.Status != "" {
		// completed是派生态，按accepted查再在DTO层过滤
		if query.Status == portal.SwapStatusCompleted {
			db = db.Where(fieldStatusEq, portal.SwapStatusAccepted)
		} else {
			db = db.Where(fieldStatusEq, query.Status)
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, NewServerError("failed to count swap requests", err)
	}

	var swaps []portal.ShiftSwapRequest
	err := db.Order(OrderByCreatedAtDesc).
		Offset(query.GetOffset()).Limit(query.Size).
		Find(&swaps).Error
	if err != nil {
		return nil, 0, NewServerError("failed to list swap requests", err)
	}

	dtos := make([]SwapDTO, 0, len(swaps))
	for i := range swaps {
		dto := s.toDTO(&swaps[i])
		if query.Status == portal.SwapStatusCompleted && dto.EffectiveStatus != portal.SwapStatusCompleted {
			continue
		}
		dtos = append(dtos, dto)
	}
	return dtos, total, nil
}

// AcceptSwap 接受换班申请
//
// 先取排班表级Redis锁，事务内条件更新pending->accepted并做
// 替班窗口冲突检查，任一步失败整体回滚，状态保持pending.
func (s *ShiftSwapService) AcceptSwap(ctx context.Context, id int64, byUserID string) (*SwapDTO, error) {
	tenantID := TenantFrom(ctx)
	nowTime := s.nowFn()

	swap, err := s.loadPending(ctx, id, byUserID, nowTime)
	if err != nil {
		return nil, err
	}

	// 开放申请只允许排班表参与人接班，且不能自己接自己
	if swap.OfferedToUserID == "" {
		if byUserID == swap.RequesterID {
			return nil, NewForbiddenError("requester cannot accept their own swap")
		}
		var member int64
		if err := s.db.WithContext(ctx).Model(&portal.RotationParticipant{}).
			Where(fieldTenant, tenantID).
			Where(fieldScheduleID, swap.ScheduleID).
			Where("user_id = ?", byUserID).
			Count(&member).Error; err != nil {
			return nil, NewServerError("failed to check schedule membership", err)
		}
		if member == 0 {
			return nil, NewForbiddenError(fmt.Sprintf("user %s is not a member of schedule %d", byUserID, swap.ScheduleID))
		}
	}

	if s.redisHandler != nil && s.keyBuilder != nil {
		lockKey := s.keyBuilder.SwapAcceptLockKey(swap.ScheduleID)
		lockValue := fmt.Sprintf("swap:%d:%d", id, nowTime.UnixNano())
		acquired, err := s.redisHandler.AcquireLock(lockKey, lockValue, swapLockTimeout)
		if err != nil {
			return nil, NewServerError("failed to acquire swap lock", err)
		}
		if !acquired {
			return nil, NewConflictError("another swap operation is in progress for this schedule")
		}
		defer s.redisHandler.Delete(lockKey)
	}

	replacementStart := swap.OriginalStart
	replacementEnd := swap.OriginalEnd

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 冲突检查：替班窗口不得与既有manual/swap班次重叠
		var conflicting int64
		if err := tx.Model(&portal.Shift{}).
			Where(fieldTenant, tenantID).
			Where(fieldScheduleID, swap.ScheduleID).
			Where(fieldOriginIn, []portal.ShiftOrigin{portal.ShiftOriginManual, portal.ShiftOriginSwap}).
			Where(fieldWindowOverlaps, replacementEnd.Time(), replacementStart.Time()).
			Count(&conflicting).Error; err != nil {
			return NewServerError("failed to check replacement window", err)
		}
		if conflicting > 0 {
			return NewConflictError("replacement window conflicts with an existing manual or swap shift")
		}

		// 条件更新：并发接受时只有一个事务能命中pending行
		responded := portal.DeskTime(nowTime)
		result := tx.Model(&portal.ShiftSwapRequest{}).
			Where(fieldID, swap.ID).
			Where(fieldStatusEq, portal.SwapStatusPending).
			Updates(map[string]interface{}{
				"status":            portal.SwapStatusAccepted,
				"accepter_id":       byUserID,
				"replacement_start": replacementStart,
				"replacement_end":   replacementEnd,
				"responded_at":      responded,
			})
		if result.Error != nil {
			return NewServerError("failed to accept swap request", result.Error)
		}
		if result.RowsAffected == 0 {
			return NewConflictError("swap request is no longer pending")
		}

		shift := portal.Shift{
			TenantModel: portal.TenantModel{TenantID: tenantID},
			ScheduleID:  swap.ScheduleID,
			UserID:      byUserID,
			StartTime:   replacementStart,
			EndTime:     replacementEnd,
			Origin:      portal.ShiftOriginSwap,
		}
		if err := tx.Create(&shift).Error; err != nil {
			return NewServerError("failed to create swap shift", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateResolveCache(s.redisHandler, s.keyBuilder, swap.ScheduleID, s.logger)
	s.logger.Info("Swap request accepted",
		zap.Int64("swapID", swap.ID),
		zap.String("swapNumber", swap.SwapNumber),
		zap.String("accepter", byUserID))

	return s.GetSwap(ctx, id)
}

// RejectSwap 拒绝换班申请，不产生班次写入
func (s *ShiftSwapService) RejectSwap(ctx context.Context, id int64, byUserID string) (*SwapDTO, error) {
	nowTime := s.nowFn()

	swap, err := s.loadPending(ctx, id, byUserID, nowTime)
	if err != nil {
		return nil, err
	}

	responded := portal.DeskTime(nowTime)
	result := s.db.WithContext(ctx).Model(&portal.ShiftSwapRequest{}).
		Where(fieldID, swap.ID).
		Where(fieldStatusEq, portal.SwapStatusPending).
		Updates(map[string]interface{}{
			"status":       portal.SwapStatusRejected,
			"accepter_id":  byUserID,
			"responded_at": responded,
		})
	if result.Error != nil {
		return nil, NewServerError("failed to reject swap request", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, NewConflictError("swap request is no longer pending")
	}

	return s.GetSwap(ctx, id)
}

// CancelSwap 撤销换班申请，仅申请人可操作
func (s *ShiftSwapService) CancelSwap(ctx context.Context, id int64, byUserID string) (*SwapDTO, error) {
	tenantID := TenantFrom(ctx)

	var swap portal.ShiftSwapRequest
	err := s.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		First(&swap, id).Error
	if err != nil {
		return nil, HandleDBError(err, "swap request", id)
	}

	if swap.RequesterID != byUserID {
		return nil, NewForbiddenError("only the requester can cancel a swap request")
	}
	if swap.Status != portal.SwapStatusPending {
		return nil, NewConflictError(fmt.Sprintf("swap request in status %s cannot be cancelled", swap.Status))
	}

	responded := portal.DeskTime(s.nowFn())
	result := s.db.WithContext(ctx).Model(&portal.ShiftSwapRequest{}).
		Where(fieldID, swap.ID).
		Where(fieldStatusEq, portal.SwapStatusPending).
		Updates(map[string]interface{}{
			"status":       portal.SwapStatusCancelled,
			"responded_at": responded,
		})
	if result.Error != nil {
		return nil, NewServerError("failed to cancel swap request", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, NewConflictError("swap request is no longer pending")
	}

	return s.GetSwap(ctx, id)
}

// SweepExpired 后台清扫：pending且已过失效时刻的申请置为expired.
// 跨租户执行，由定时任务调用，不产生班次写入.
func (s *ShiftSwapService) SweepExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&portal.ShiftSwapRequest{}).
		Where(fieldStatusEq, portal.SwapStatusPending).
		Where(fieldExpiresBefore, s.nowFn()).
		Update("status", portal.SwapStatusExpired)
	if result.Error != nil {
		return 0, NewServerError("failed to sweep expired swap requests", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("Expired swap requests swept", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// loadPending 加载待响应的申请并做响应前置校验
func (s *ShiftSwapService) loadPending(ctx context.Context, id int64, byUserID string, nowTime time.Time) (*portal.ShiftSwapRequest, error) {
	tenantID := TenantFrom(ctx)

	var swap portal.ShiftSwapRequest
	err := s.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		First(&swap, id).Error
	if err != nil {
		return nil, HandleDBError(err, "swap request", id)
	}

	if swap.Status != portal.SwapStatusPending {
		return nil, NewConflictError(fmt.Sprintf("swap request in status %s cannot be responded to", swap.Status))
	}

	// 惰性失效：已过期的申请先落库再报错
	if nowTime.After(swap.ExpiresAt.Time()) {
		s.db.WithContext(ctx).Model(&portal.ShiftSwapRequest{}).
			Where(fieldID, swap.ID).
			Where(fieldStatusEq, portal.SwapStatusPending).
			Update("status", portal.SwapStatusExpired)
		return nil, NewExpiredError("swap request has expired")
	}

	if swap.OfferedToUserID != "" && swap.OfferedToUserID != byUserID {
		return nil, NewForbiddenError(fmt.Sprintf("swap request is offered to %s", swap.OfferedToUserID))
	}

	return &swap, nil
}

// toDTO 模型转DTO，计算completed派生态
func (s *ShiftSwapService) toDTO(swap *portal.ShiftSwapRequest) SwapDTO {
	dto := SwapDTO{ShiftSwapRequest: *swap, EffectiveStatus: swap.Status}
	if swap.Status == portal.SwapStatusAccepted && swap.ReplacementEnd != nil &&
		swap.ReplacementEnd.Time().Before(s.nowFn()) {
		dto.EffectiveStatus = portal.SwapStatusCompleted
	}
	return dto
}
