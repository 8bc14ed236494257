package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/models/portal"
)

// ScheduleService 排班表服务
//
// 负责排班表/参与人/班次/覆盖的增删查；写操作会失效对应排班表的
// 解析缓存，保证who-is-on-call立即观察到新数据.
type ScheduleService struct {
	db           *gorm.DB
	redisHandler RedisHandlerInterface
	keyBuilder   KeyBuilderInterface
	logger       *zap.Logger
}

// NewScheduleService 创建排班表服务实例
func NewScheduleService(db *gorm.DB, redisHandler RedisHandlerInterface, keyBuilder KeyBuilderInterface, logger *zap.Logger) *ScheduleService {
	return &ScheduleService{
		db:           db,
		redisHandler: redisHandler,
		keyBuilder:   keyBuilder,
		logger:       logger,
	}
}

// CreateSchedule 创建排班表
func (s *ScheduleService) CreateSchedule(ctx context.Context, req *ScheduleCreateRequest, createdBy string) (*ScheduleDTO, error) {
	tenantID := TenantFrom(ctx)

	if err := validateScheduleRequest(req); err != nil {
		return nil, err
	}

	schedule := portal.OnCallSchedule{
		TenantModel:    portal.TenantModel{TenantID: tenantID},
		Name:           req.Name,
		ApplicationID:  req.ApplicationID,
		Timezone:       req.Timezone,
		RotationType:   req.RotationType,
		HandoffTime:    req.HandoffTime,
		HandoffWeekday: req.HandoffWeekday,
		RotationStart:  req.RotationStart,
		PeriodDays:     req.PeriodDays,
		CreatedBy:      createdBy,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&schedule).Error; err != nil {
			return NewServerError("failed to create schedule", err)
		}
		for _, p := range req.Participants {
			participant := portal.RotationParticipant{
				TenantModel: portal.TenantModel{TenantID: tenantID},
				ScheduleID:  schedule.ID,
				UserID:      p.UserID,
				Position:    p.Position,
			}
			if err := tx.Create(&participant).Error; err != nil {
				return NewServerError("failed to create participant", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetSchedule(ctx, schedule.ID)
}

// GetSchedule 获取排班表详情
func (s *ScheduleService) GetSchedule(ctx context.Context, id int64) (*ScheduleDTO, error) {
	tenantID := TenantFrom(ctx)

	var schedule portal.OnCallSchedule
	err := s.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order(OrderByPositionAsc)
		}).
		First(&schedule, id).Error
	if err != nil {
		return nil, HandleDBError(err, "schedule", id)
	}

	dto := toScheduleDTO(&schedule)
	return &dto, nil
}

// ListSchedules 获取排班表列表
func (s *ScheduleService) ListSchedules(ctx context.Context, page *PaginationRequest) ([]ScheduleDTO, int64, error) {
	tenantID := TenantFrom(ctx)
	page.AdjustPagination()

	var total int64
	db := s.db.WithContext(ctx).Model(&portal.OnCallSchedule{}).Where(fieldTenant, tenantID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, NewServerError("failed to count schedules", err)
	}

	var schedules []portal.OnCallSchedule
	err := db.Preload("Participants", func(db *gorm.DB) *gorm.DB {
		return db.Order(OrderByPositionAsc)
	}).
		Order(OrderByCreatedAtDesc).
		Offset(page.GetOffset()).Limit(page.Size).
		Find(&schedules).Error
	if err != nil {
		return nil, 0, NewServerError("failed to list schedules", err)
	}

	dtos := make([]ScheduleDTO, len(schedules))
	for i := range schedules {
		dtos[i] = toScheduleDTO(&schedules[i])
	}
	return dtos, total, nil
}

// DeleteSchedule 删除排班表及其参与人
func (s *ScheduleService) DeleteSchedule(ctx context.Context, id int64) error {
	tenantID := TenantFrom(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where(fieldTenant, tenantID).Delete(&portal.OnCallSchedule{}, id)
		if result.Error != nil {
			return NewServerError("failed to delete schedule", result.Error)
		}
		if result.RowsAffected == 0 {
			return NewNotFoundError("schedule", id)
		}
		if err := tx.Where(fieldTenant, tenantID).
			Where(fieldScheduleID, id).
			Delete(&portal.RotationParticipant{}).Error; err != nil {
			return NewServerError("failed to delete participants", err)
		}
		return nil
	})
}

// ListParticipants 获取轮换参与人列表
func (s *ScheduleService) ListParticipants(ctx context.Context, scheduleID int64) ([]portal.RotationParticipant, error) {
	tenantID := TenantFrom(ctx)

	if err := s.ensureSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}

	var participants []portal.RotationParticipant
	err := s.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		Where(fieldScheduleID, scheduleID).
		Order(OrderByPositionAsc).
		Find(&participants).Error
	if err != nil {
		return nil, NewServerError("failed to list participants", err)
	}
	return participants, nil
}

// AddParticipant 添加轮换参与人
//
// position取值0..N，插入位置之后的参与人顺位整体后移，
// 保持0..N-1连续排列；只影响此后时刻的解析结果.
func (s *ScheduleService) AddParticipant(ctx context.Context, scheduleID int64, req *ParticipantRequest) (*portal.RotationParticipant, error) {
	tenantID := TenantFrom(ctx)

	if err := s.ensureSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}

	var participant portal.RotationParticipant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&portal.RotationParticipant{}).
			Where(fieldTenant, tenantID).
			Where(fieldScheduleID, scheduleID).
			Count(&count).Error; err != nil {
			return NewServerError("failed to count participants", err)
		}
		if req.Position < 0 || int64(req.Position) > count {
			return NewBadRequestError(fmt.Sprintf("position %d out of range [0, %d]", req.Position, count))
		}

		if err := tx.Model(&portal.RotationParticipant{}).
			Where(fieldTenant, tenantID).
			Where(fieldScheduleID, scheduleID).
			Where("position >= ?", req.Position).
			UpdateColumn("position", gorm.Expr("position + 1")).Error; err != nil {
			return NewServerError("failed to shift participant positions", err)
		}

		participant = portal.RotationParticipant{
			TenantModel: portal.TenantModel{TenantID: tenantID},
			ScheduleID:  scheduleID,
			UserID:      req.UserID,
			Position:    req.Position,
		}
		if err := tx.Create(&participant).Error; err != nil {
			return NewServerError("failed to create participant", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(scheduleID)
	return &participant, nil
}

// RemoveParticipant 移除轮换参与人，后续顺位前移保持连续
func (s *ScheduleService) RemoveParticipant(ctx context.Context, scheduleID, participantID int64) error {
	tenantID := TenantFrom(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var participant portal.RotationParticipant
		if err := tx.Where(fieldTenant, tenantID).
			Where(fieldScheduleID, scheduleID).
			First(&participant, participantID).Error; err != nil {
			return HandleDBError(err, "participant", participantID)
		}

		if err := tx.Delete(&portal.RotationParticipant{}, participant.ID).Error; err != nil {
			return NewServerError("failed to delete participant", err)
		}

		if err := tx.Model(&portal.RotationParticipant{}).
			Where(fieldTenant, tenantID).
			Where(fieldScheduleID, scheduleID).
			Where("position > ?", participant.Position).
			UpdateColumn("position", gorm.Expr("position - 1")).Error; err != nil {
			return NewServerError("failed to shift participant positions", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidate(scheduleID)
	return nil
}

// ListShifts 查询区间内的班次
func (s *ScheduleService) ListShifts(ctx context.Context, scheduleID int64, query *ShiftRangeQuery) ([]portal.Shift, error) {
	tenantID := TenantFrom(ctx)

	if err := s.ensureSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		Where(fieldScheduleID, scheduleID)
	if !query.StartDate.Time().IsZero() {
		db = db.Where(fieldStartGTE, query.StartDate.Time())
	}
	if !query.EndDate.Time().IsZero() {
		db = db.Where(fieldStartLT, query.EndDate.Time())
	}

	var shifts []portal.Shift
	if err := db.Order(OrderByStartTimeAsc).Find(&shifts).Error; err != nil {
		return nil, NewServerError("failed to list shifts", err)
	}
	return shifts, nil
}

// CreateManualShift 创建手工班次
//
// manual/swap班次在同一排班表内不允许重叠，冲突返回Conflict.
func (s *ScheduleService) CreateManualShift(ctx context.Context, scheduleID int64, req *ShiftCreateRequest) (*portal.Shift, error) {
	tenantID := TenantFrom(ctx)

	if err := s.ensureSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}
	if !req.StartTime.Time().Before(req.EndTime.Time()) {
		return nil, NewBadRequestError("shift start must be before end")
	}

	var shift portal.Shift
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conflicting int64
		if err := tx.Model(&portal.Shift{}).
			Where(fieldTenant, tenantID).
			Where(fieldScheduleID, scheduleID).
			Where(fieldOriginIn, []portal.ShiftOrigin{portal.ShiftOriginManual, portal.ShiftOriginSwap}).
			Where(fieldWindowOverlaps, req.EndTime.Time(), req.StartTime.Time()).
			Count(&conflicting).Error; err != nil {
			return NewServerError("failed to check shift overlap", err)
		}
		if conflicting > 0 {
			return NewConflictError("shift window overlaps an existing manual or swap shift")
		}

		shift = portal.Shift{
			TenantModel: portal.TenantModel{TenantID: tenantID},
			ScheduleID:  scheduleID,
			UserID:      req.UserID,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Origin:      portal.ShiftOriginManual,
		}
		if err := tx.Create(&shift).Error; err != nil {
			return NewServerError("failed to create shift", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(scheduleID)
	return &shift, nil
}

// CreateOverride 创建值班覆盖
//
// 允许与既有覆盖重叠，解析时按last-write-wins取最新一条.
func (s *ScheduleService) CreateOverride(ctx context.Context, scheduleID int64, req *OverrideCreateRequest) (*portal.Override, error) {
	tenantID := TenantFrom(ctx)

	if err := s.ensureSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}
	if !req.StartTime.Time().Before(req.EndTime.Time()) {
		return nil, NewBadRequestError("override start must be before end")
	}

	override := portal.Override{
		TenantModel: portal.TenantModel{TenantID: tenantID},
		ScheduleID:  scheduleID,
		UserID:      req.UserID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Reason:      req.Reason,
		CreatedBy:   req.CreatedBy,
	}
	if err := s.db.WithContext(ctx).Create(&override).Error; err != nil {
		return nil, NewServerError("failed to create override", err)
	}

	s.invalidate(scheduleID)
	return &override, nil
}

// ListOverrides 查询排班表的覆盖记录
func (s *ScheduleService) ListOverrides(ctx context.Context, scheduleID int64) ([]portal.Override, error) {
	tenantID := TenantFrom(ctx)

	var overrides []portal.Override
	err := s.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		Where(fieldScheduleID, scheduleID).
		Order(OrderByCreatedAtDesc).
		Find(&overrides).Error
	if err != nil {
		return nil, NewServerError("failed to list overrides", err)
	}
	return overrides, nil
}

// ensureSchedule 校验排班表存在
func (s *ScheduleService) ensureSchedule(ctx context.Context, scheduleID int64) error {
	tenantID := TenantFrom(ctx)

	var count int64
	err := s.db.WithContext(ctx).Model(&portal.OnCallSchedule{}).
		Where(fieldTenant, tenantID).
		Where(fieldID, scheduleID).
		Count(&count).Error
	if err != nil {
		return NewServerError("failed to query schedule", err)
	}
	if count == 0 {
		return NewNotFoundError("schedule", scheduleID)
	}
	return nil
}

// invalidate 失效排班表的解析缓存
func (s *ScheduleService) invalidate(scheduleID int64) {
	invalidateResolveCache(s.redisHandler, s.keyBuilder, scheduleID, s.logger)
}

// validateScheduleRequest 校验创建排班表请求
func validateScheduleRequest(req *ScheduleCreateRequest) error {
	switch req.RotationType {
	case portal.RotationTypeDaily, portal.RotationTypeWeekly, portal.RotationTypeCustom:
	default:
		return NewBadRequestError(fmt.Sprintf("unknown rotation type %q", req.RotationType))
	}
	if req.RotationType == portal.RotationTypeCustom && req.PeriodDays <= 0 {
		return NewBadRequestError("custom rotation requires periodDays > 0")
	}
	if req.HandoffWeekday < 0 || req.HandoffWeekday > 6 {
		return NewBadRequestError("handoffWeekday must be in [0, 6]")
	}
	if req.HandoffTime != "" {
		if _, err := time.Parse(handoffTimeLayout, req.HandoffTime); err != nil {
			return NewBadRequestError(fmt.Sprintf("invalid handoff time %q, expected HH:MM", req.HandoffTime))
		}
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return NewBadRequestError(fmt.Sprintf("invalid timezone %q", req.Timezone))
		}
	}
	// 参与人顺位必须是0..N-1的连续排列
	seen := make(map[int]bool, len(req.Participants))
	for _, p := range req.Participants {
		if p.Position < 0 || p.Position >= len(req.Participants) || seen[p.Position] {
			return NewBadRequestError("participant positions must be a contiguous 0..N-1 permutation")
		}
		seen[p.Position] = true
	}
	return nil
}
