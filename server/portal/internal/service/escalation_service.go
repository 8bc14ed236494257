package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/models/portal"
)

// StepRequest 升级步骤请求
type StepRequest struct {
	NotifyType   portal.NotifyType `json:"notifyType" binding:"required" example:"schedule" swagger:"description=通知对象类型 user|schedule|group"`
	TargetID     string            `json:"targetId" binding:"required" example:"1" swagger:"description=通知对象ID"`
	DelayMinutes int               `json:"delayMinutes" example:"5" swagger:"description=本步骤触发后的等待分钟数"`
}

// PolicyCreateRequest 创建升级策略请求
type PolicyCreateRequest struct {
	Name        string        `json:"name" binding:"required" example:"P1告警升级" swagger:"description=策略名称"`
	Description string        `json:"description" swagger:"description=策略描述"`
	RepeatCount int           `json:"repeatCount" example:"1" swagger:"description=整体重复次数(>=0)"`
	Steps       []StepRequest `json:"steps" swagger:"description=有序升级步骤"`
}

// ExecutionQuery 升级执行查询参数
type ExecutionQuery struct {
	PaginationRequest
	Status    portal.ExecutionStatus `form:"status" swagger:"description=执行状态过滤"`
	TriggerID string                 `form:"trigger_id" swagger:"description=外部告警引用过滤"`
}

// EscalationPolicyService 升级策略服务
//
// 策略与步骤的增删查，以及升级执行的查询入口；执行状态的变更
// 全部由EscalationEngine驱动，本服务只读执行记录.
type EscalationPolicyService struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewEscalationPolicyService 创建升级策略服务实例
func NewEscalationPolicyService(db *gorm.DB, logger *zap.Logger) *EscalationPolicyService {
	return &EscalationPolicyService{db: db, logger: logger}
}

// CreatePolicy 创建升级策略
func (s *EscalationPolicyService) CreatePolicy(ctx context.Context, req *PolicyCreateRequest, createdBy string) (*portal.EscalationPolicy, error) {
	tenantID := TenantFrom(ctx)

	if req.RepeatCount < 0 {
		return nil, NewBadRequestError("repeatCount must be >= 0")
	}
	for _, step := range req.Steps {
		if err := validateStep(&step); err != nil {
			return nil, err
		}
	}

	policy := portal.EscalationPolicy{
		TenantModel: portal.TenantModel{TenantID: tenantID},
		Name:        req.Name,
		Description: req.Description,
		RepeatCount: req.RepeatCount,
		CreatedBy:   createdBy,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&policy).Error; err != nil {
			return NewServerError("failed to create policy", err)
		}
		// 步骤按请求顺序编号，保证step_number从1连续
		for i, stepReq := range req.Steps {
			step := portal.EscalationStep{
				TenantModel:  portal.TenantModel{TenantID: tenantID},
				PolicyID:     policy.ID,
				StepNumber:   i + 1,
				NotifyType:   stepReq.NotifyType,
				TargetID:     stepReq.TargetID,
				DelayMinutes: stepReq.DelayMinutes,
			}
			if err := tx.Create(&step).Error; err != nil {
				return NewServerError("failed to create policy step", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetPolicy(ctx, policy.ID)
}

// GetPolicy 获取升级策略详情
func (s *EscalationPolicyService) GetPolicy(ctx context.Context, id int64) (*portal.EscalationPolicy, error) {
	tenantID := TenantFrom(ctx)

	var policy portal.EscalationPolicy
	err := s.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order(OrderByStepNumberAsc)
		}).
		First(&policy, id).Error
	if err != nil {
		return nil, HandleDBError(err, "escalation policy", id)
	}
	return &policy, nil
}

// ListPolicies 获取升级策略列表
func (s *EscalationPolicyService) ListPolicies(ctx context.Context, page *PaginationRequest) ([]portal.EscalationPolicy, int64, error) {
	tenantID := TenantFrom(ctx)
	page.AdjustPagination()

	db := s.db.WithContext(ctx).Model(&portal.EscalationPolicy{}).Where(fieldTenant, tenantID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, NewServerError("failed to count policies", err)
	}

	var policies []portal.EscalationPolicy
	err := db.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order(OrderByStepNumberAsc)
	}).
		Order(OrderByCreatedAtDesc).
		Offset(page.GetOffset()).Limit(page.Size).
		Find(&policies).Error
	if err != nil {
		return nil, 0, NewServerError("failed to list policies", err)
	}
	return policies, total, nil
}

// DeletePolicy 删除升级策略及其步骤
func (s *EscalationPolicyService) DeletePolicy(ctx context.Context, id int64) error {
	tenantID := TenantFrom(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where(fieldTenant, tenantID).Delete(&portal.EscalationPolicy{}, id)
		if result.Error != nil {
			return NewServerError("failed to delete policy", result.Error)
		}
		if result.RowsAffected == 0 {
			return NewNotFoundError("escalation policy", id)
		}
		if err := tx.Where(fieldTenant, tenantID).
			Where(fieldPolicyID, id).
			Delete(&portal.EscalationStep{}).Error; err != nil {
			return NewServerError("failed to delete policy steps", err)
		}
		return nil
	})
}

// AddStep 追加升级步骤，编号接在现有步骤之后
func (s *EscalationPolicyService) AddStep(ctx context.Context, policyID int64, req *StepRequest) (*portal.EscalationStep, error) {
	tenantID := TenantFrom(ctx)

	if err := validateStep(req); err != nil {
		return nil, err
	}

	var step portal.EscalationStep
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var policy portal.EscalationPolicy
		if err := tx.Where(fieldTenant, tenantID).First(&policy, policyID).Error; err != nil {
			return HandleDBError(err, "escalation policy", policyID)
		}

		var count int64
		if err := tx.Model(&portal.EscalationStep{}).
			Where(fieldTenant, tenantID).
			Where(fieldPolicyID, policyID).
			Count(&count).Error; err != nil {
			return NewServerError("failed to count policy steps", err)
		}

		step = portal.EscalationStep{
			TenantModel:  portal.TenantModel{TenantID: tenantID},
			PolicyID:     policyID,
			StepNumber:   int(count) + 1,
			NotifyType:   req.NotifyType,
			TargetID:     req.TargetID,
			DelayMinutes: req.DelayMinutes,
		}
		if err := tx.Create(&step).Error; err != nil {
			return NewServerError("failed to create policy step", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// GetExecution 获取升级执行详情
func (s *EscalationPolicyService) GetExecution(ctx context.Context, id int64) (*portal.EscalationExecution, error) {
	tenantID := TenantFrom(ctx)

	var execution portal.EscalationExecution
	err := s.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		First(&execution, id).Error
	if err != nil {
		return nil, HandleDBError(err, "escalation execution", id)
	}
	return &execution, nil
}

// ListExecutions 查询升级执行列表
//
// exhausted执行没有同步调用方等待，运维侧通过这里轮询告警.
func (s *EscalationPolicyService) ListExecutions(ctx context.Context, query *ExecutionQuery) ([]portal.EscalationExecution, int64, error) {
	tenantID := TenantFrom(ctx)
	query.AdjustPagination()

	db := s.db.WithContext(ctx).Model(&portal.EscalationExecution{}).Where(fieldTenant, tenantID)
	if query.Status != "" {
		db = db.Where(fieldStatusEq, query.Status)
	}
	if query.TriggerID != "" {
		db = db.Where("trigger_id = ?", query.TriggerID)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, NewServerError("failed to count executions", err)
	}

	var executions []portal.EscalationExecution
	err := db.Order(OrderByCreatedAtDesc).
		Offset(query.GetOffset()).Limit(query.Size).
		Find(&executions).Error
	if err != nil {
		return nil, 0, NewServerError("failed to list executions", err)
	}
	return executions, total, nil
}

// validateStep 校验步骤请求
func validateStep(req *StepRequest) error {
	switch req.NotifyType {
	case portal.NotifyTypeUser, portal.NotifyTypeSchedule, portal.NotifyTypeGroup:
	default:
		return NewBadRequestError(fmt.Sprintf("unknown notify type %q", req.NotifyType))
	}
	if req.DelayMinutes < 0 {
		return NewBadRequestError("delayMinutes must be >= 0")
	}
	return nil
}
