package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/models/portal"
	"github.com/asklokesh/FireLater-sub004/pkg/utils"
)

// EngineConfig 升级引擎配置
type EngineConfig struct {
	DelayUnit     time.Duration // 步骤延迟的时间单位，生产为分钟
	NotifyTimeout time.Duration // 单次通知外呼的超时
}

// 恢复扫描锁的持有时间
const recoverLockTTL = time.Minute

// DefaultEngineConfig 默认升级引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DelayUnit:     time.Minute,
		NotifyTimeout: 10 * time.Second,
	}
}

// EscalationEngine 升级引擎
//
// 每条执行至多持有一个在途定时器；next_deadline先落库再设定时器，
// 两者之间崩溃由启动时的恢复扫描补齐，保证重启后仍能推进.
// 确认与定时器触发的竞争通过状态条件更新裁决，输家变为无操作.
type EscalationEngine struct {
	db           *gorm.DB
	resolver     *RotationResolver
	notifier     Notifier
	redisHandler RedisHandlerInterface
	keyBuilder   KeyBuilderInterface
	logger       *zap.Logger
	config       EngineConfig

	mu        sync.Mutex
	timers    map[int64]*time.Timer
	isRunning bool
	nowFn     func() time.Time
}

// NewEscalationEngine 创建升级引擎实例
func NewEscalationEngine(db *gorm.DB, resolver *RotationResolver, notifier Notifier, redisHandler RedisHandlerInterface, keyBuilder KeyBuilderInterface, config EngineConfig, logger *zap.Logger) *EscalationEngine {
	if config.DelayUnit <= 0 {
		config.DelayUnit = time.Minute
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = 10 * time.Second
	}
	return &EscalationEngine{
		db:           db,
		resolver:     resolver,
		notifier:     notifier,
		redisHandler: redisHandler,
		keyBuilder:   keyBuilder,
		logger:       logger,
		config:       config,
		timers:       make(map[int64]*time.Timer),
		nowFn:        time.Now,
	}
}

// Start 启动引擎并执行恢复扫描
//
// 重启后为所有非终态执行重建定时器：next_deadline已过的立即触发，
// 未到的恢复等待；崩溃在通知中途的执行也会被重新推进.
func (e *EscalationEngine) Start() error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return nil
	}
	e.isRunning = true
	e.mu.Unlock()

	// 多实例部署时恢复扫描只允许一个实例执行，避免重复推进
	if e.redisHandler != nil && e.keyBuilder != nil {
		lockKey := e.keyBuilder.EngineRecoverLock()
		acquired, err := e.redisHandler.AcquireLock(lockKey, fmt.Sprintf("recover:%d", e.nowFn().UnixNano()), recoverLockTTL)
		if err != nil {
			return NewServerError("failed to acquire recovery lock", err)
		}
		if !acquired {
			e.logger.Info("Escalation recovery scan skipped, another instance holds the lock")
			return nil
		}
		defer e.redisHandler.Delete(lockKey)
	}

	e.logger.Info("Starting escalation engine recovery scan")

	var executions []portal.EscalationExecution
	err := e.db.
		Where("status IN ?", []portal.ExecutionStatus{
			portal.ExecutionStatusPending,
			portal.ExecutionStatusNotifying,
			portal.ExecutionStatusWaitingAck,
			portal.ExecutionStatusEscalating,
		}).
		Find(&executions).Error
	if err != nil {
		return NewServerError("failed to scan executions for recovery", err)
	}

	nowTime := e.nowFn()
	for i := range executions {
		execution := executions[i]
		switch execution.Status {
		case portal.ExecutionStatusWaitingAck:
			if execution.NextDeadline == nil {
				// 不应出现：落库与定时器设置同事务，兜底立即推进
				e.scheduleTimer(execution.ID, 0)
				continue
			}
			wait := execution.NextDeadline.Time().Sub(nowTime)
			if wait < 0 {
				wait = 0
			}
			e.scheduleTimer(execution.ID, wait)
		default:
			// pending/notifying/escalating：上次进程死在步骤触发中途，重新触发当前步骤
			executionID := execution.ID
			tenantID := execution.TenantID
			go func() {
				e.fireStep(WithTenant(context.Background(), tenantID), executionID)
			}()
		}
	}

	e.logger.Info("Escalation engine recovery scan finished", zap.Int("requeued", len(executions)))
	return nil
}

// Stop 停止引擎并取消全部在途定时器
func (e *EscalationEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isRunning {
		return
	}
	e.isRunning = false
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	e.logger.Info("Escalation engine stopped")
}

// Trigger 触发一次升级执行
//
// 空策略(无步骤)直接拒绝，避免创建永远无法推进的执行.
func (e *EscalationEngine) Trigger(ctx context.Context, policyID int64, triggerID string) (*portal.EscalationExecution, error) {
	tenantID := TenantFrom(ctx)

	policy, err := e.loadPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if len(policy.Steps) == 0 {
		return nil, NewInvalidStateError(fmt.Sprintf("escalation policy %d has no steps", policyID))
	}

	execution := portal.EscalationExecution{
		TenantModel:  portal.TenantModel{TenantID: tenantID},
		PolicyID:     policyID,
		TriggerID:    triggerID,
		CurrentStep:  1,
		CurrentCycle: 0,
		Status:       portal.ExecutionStatusPending,
		StartedAt:    portal.DeskTime(e.nowFn()),
	}
	if err := e.db.WithContext(ctx).Create(&execution).Error; err != nil {
		return nil, NewServerError("failed to create escalation execution", err)
	}

	e.logger.Info("Escalation triggered",
		zap.Int64("executionID", execution.ID),
		zap.Int64("policyID", policyID),
		zap.String("triggerID", triggerID))

	e.fireStep(ctx, execution.ID)

	var refreshed portal.EscalationExecution
	if err := e.db.WithContext(ctx).First(&refreshed, execution.ID).Error; err != nil {
		return &execution, nil
	}
	return &refreshed, nil
}

// Acknowledge 确认升级执行
//
// 终态重复确认是无操作而非错误；确认与在途定时器竞争时先到者生效.
func (e *EscalationEngine) Acknowledge(ctx context.Context, executionID int64, userID string) (*portal.EscalationExecution, error) {
	return e.finish(ctx, executionID, portal.ExecutionStatusAcknowledged, userID)
}

// ResolveExecution 告警自行恢复时关闭升级执行，同样幂等
func (e *EscalationEngine) ResolveExecution(ctx context.Context, executionID int64) (*portal.EscalationExecution, error) {
	return e.finish(ctx, executionID, portal.ExecutionStatusResolved, "")
}

// finish 将执行置为终态并取消在途定时器
func (e *EscalationEngine) finish(ctx context.Context, executionID int64, status portal.ExecutionStatus, userID string) (*portal.EscalationExecution, error) {
	tenantID := TenantFrom(ctx)

	var execution portal.EscalationExecution
	err := e.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		First(&execution, executionID).Error
	if err != nil {
		return nil, HandleDBError(err, "escalation execution", executionID)
	}

	if execution.Status.IsTerminal() {
		// 幂等：重复确认/恢复不报错也不改状态
		return &execution, nil
	}

	updates := map[string]interface{}{
		"status":        status,
		"next_deadline": nil,
	}
	if status == portal.ExecutionStatusAcknowledged {
		updates["acknowledged_at"] = portal.DeskTime(e.nowFn())
		updates["acknowledged_by"] = userID
	}

	result := e.db.WithContext(ctx).Model(&portal.EscalationExecution{}).
		Where(fieldID, executionID).
		Where("status NOT IN ?", []portal.ExecutionStatus{
			portal.ExecutionStatusAcknowledged,
			portal.ExecutionStatusResolved,
			portal.ExecutionStatusExhausted,
		}).
		Updates(updates)
	if result.Error != nil {
		return nil, NewServerError("failed to finish execution", result.Error)
	}

	e.cancelTimer(executionID)

	if result.RowsAffected > 0 {
		e.logger.Info("Escalation execution finished",
			zap.Int64("executionID", executionID),
			zap.String("status", string(status)),
			zap.String("by", userID))
	}

	var refreshed portal.EscalationExecution
	if err := e.db.WithContext(ctx).First(&refreshed, executionID).Error; err != nil {
		return nil, NewServerError("failed to reload execution", err)
	}
	return &refreshed, nil
}

// fireStep 触发执行的当前步骤
//
// 解析失败不会卡死链路：记一条failed通知日志后视同延迟已过，
// 立即推进到下一步骤.
func (e *EscalationEngine) fireStep(ctx context.Context, executionID int64) {
	execution, policy, err := e.loadExecution(ctx, executionID)
	if err != nil {
		e.logger.Error("Failed to load execution for step firing", zap.Int64("executionID", executionID), zap.Error(err))
		return
	}

	// 条件更新裁决与确认的竞争：已被确认/恢复的执行直接退出
	result := e.db.WithContext(ctx).Model(&portal.EscalationExecution{}).
		Where(fieldID, executionID).
		Where("status IN ?", []portal.ExecutionStatus{
			portal.ExecutionStatusPending,
			portal.ExecutionStatusNotifying,
			portal.ExecutionStatusEscalating,
		}).
		Update("status", portal.ExecutionStatusNotifying)
	if result.Error != nil {
		e.logger.Error("Failed to mark execution notifying", zap.Int64("executionID", executionID), zap.Error(result.Error))
		return
	}
	if result.RowsAffected == 0 {
		return
	}

	step := stepByNumber(policy, execution.CurrentStep)
	if step == nil {
		e.logger.Error("Execution points at missing step",
			zap.Int64("executionID", executionID),
			zap.Int("step", execution.CurrentStep))
		return
	}

	recipients, resolveErr := e.resolveRecipients(ctx, step)
	if resolveErr != nil {
		e.recordNotifyFailure(ctx, execution, step, resolveErr)
		e.logger.Warn("Escalation step failed to notify, advancing immediately",
			zap.Int64("executionID", executionID),
			zap.Int("step", step.StepNumber),
			zap.Error(resolveErr))
		// 视同延迟已过：落等待态后立即推进
		deadline := portal.DeskTime(e.nowFn())
		e.db.WithContext(ctx).Model(&portal.EscalationExecution{}).
			Where(fieldID, executionID).
			Where(fieldStatusEq, portal.ExecutionStatusNotifying).
			Updates(map[string]interface{}{
				"status":        portal.ExecutionStatusWaitingAck,
				"next_deadline": deadline,
			})
		e.advance(executionID)
		return
	}

	// 先落定时刻再设定时器，中间崩溃由恢复扫描补齐
	deadline := e.nowFn().Add(time.Duration(step.DelayMinutes) * e.config.DelayUnit)
	result = e.db.WithContext(ctx).Model(&portal.EscalationExecution{}).
		Where(fieldID, executionID).
		Where(fieldStatusEq, portal.ExecutionStatusNotifying).
		Updates(map[string]interface{}{
			"status":        portal.ExecutionStatusWaitingAck,
			"next_deadline": portal.DeskTime(deadline),
		})
	if result.Error != nil || result.RowsAffected == 0 {
		// 设置等待态失败(多半是已被确认)，不再通知
		return
	}

	// 通知器外呼fire-and-forget，慢投递不影响定时器
	notification := &Notification{
		ExecutionID: execution.ID,
		TriggerID:   execution.TriggerID,
		StepNumber:  step.StepNumber,
		NotifyType:  string(step.NotifyType),
		Recipients:  recipients,
		Content:     fmt.Sprintf("告警 %s 升级至步骤 %d，请及时确认", execution.TriggerID, step.StepNumber),
	}
	tenantID := execution.TenantID
	go func() {
		notifyCtx, cancel := context.WithTimeout(WithTenant(context.Background(), tenantID), e.config.NotifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(notifyCtx, notification); err != nil {
			e.logger.Warn("Notifier call failed",
				zap.Int64("executionID", executionID),
				zap.Int("step", step.StepNumber),
				zap.Error(err))
		}
	}()

	e.scheduleTimer(executionID, time.Until(deadline))
}

// advance 定时器到点后的推进：步骤+1，越界则进入下一轮或耗尽
func (e *EscalationEngine) advance(executionID int64) {
	e.cancelTimer(executionID)

	ctx := context.Background()
	var execution portal.EscalationExecution
	if err := e.db.First(&execution, executionID).Error; err != nil {
		e.logger.Error("Failed to load execution for advance", zap.Int64("executionID", executionID), zap.Error(err))
		return
	}
	if execution.Status.IsTerminal() {
		return
	}
	ctx = WithTenant(ctx, execution.TenantID)

	// 条件更新裁决与确认的竞争：确认先到则本次推进变为无操作
	result := e.db.WithContext(ctx).Model(&portal.EscalationExecution{}).
		Where(fieldID, executionID).
		Where(fieldStatusEq, portal.ExecutionStatusWaitingAck).
		Update("status", portal.ExecutionStatusEscalating)
	if result.Error != nil {
		e.logger.Error("Failed to mark execution escalating", zap.Int64("executionID", executionID), zap.Error(result.Error))
		return
	}
	if result.RowsAffected == 0 {
		return
	}

	policy, err := e.loadPolicy(ctx, execution.PolicyID)
	if err != nil {
		e.logger.Error("Failed to load policy for advance", zap.Int64("executionID", executionID), zap.Error(err))
		return
	}

	nextStep := execution.CurrentStep + 1
	nextCycle := execution.CurrentCycle
	if nextStep > len(policy.Steps) {
		nextCycle++
		// repeatCount是整体重复次数：repeatCount=1表示完整走两遍
		if nextCycle <= policy.RepeatCount {
			nextStep = 1
		} else {
			e.exhaust(ctx, &execution)
			return
		}
	}

	err = e.db.WithContext(ctx).Model(&portal.EscalationExecution{}).
		Where(fieldID, executionID).
		Updates(map[string]interface{}{
			"current_step":  nextStep,
			"current_cycle": nextCycle,
		}).Error
	if err != nil {
		e.logger.Error("Failed to advance execution step", zap.Int64("executionID", executionID), zap.Error(err))
		return
	}

	e.fireStep(ctx, executionID)
}

// exhaust 步骤耗尽：终态落库，等待运维侧通过执行查询发现
func (e *EscalationEngine) exhaust(ctx context.Context, execution *portal.EscalationExecution) {
	err := e.db.WithContext(ctx).Model(&portal.EscalationExecution{}).
		Where(fieldID, execution.ID).
		Where(fieldStatusEq, portal.ExecutionStatusEscalating).
		Updates(map[string]interface{}{
			"status":        portal.ExecutionStatusExhausted,
			"next_deadline": nil,
		}).Error
	if err != nil {
		e.logger.Error("Failed to mark execution exhausted", zap.Int64("executionID", execution.ID), zap.Error(err))
		return
	}
	e.logger.Warn("Escalation execution exhausted without acknowledgement",
		zap.Int64("executionID", execution.ID),
		zap.String("triggerID", execution.TriggerID),
		zap.Int64("policyID", execution.PolicyID))
}

// resolveRecipients 解析步骤的通知对象
func (e *EscalationEngine) resolveRecipients(ctx context.Context, step *portal.EscalationStep) ([]string, error) {
	switch step.NotifyType {
	case portal.NotifyTypeUser:
		return []string{step.TargetID}, nil

	case portal.NotifyTypeSchedule:
		scheduleID, err := strconv.ParseInt(step.TargetID, 10, 64)
		if err != nil {
			return nil, NewBadRequestError(fmt.Sprintf("invalid schedule target %q", step.TargetID))
		}
		resolved, err := e.resolver.Resolve(ctx, scheduleID, e.nowFn())
		if err != nil {
			return nil, err
		}
		return []string{resolved.UserID}, nil

	case portal.NotifyTypeGroup:
		groupID, err := strconv.ParseInt(step.TargetID, 10, 64)
		if err != nil {
			return nil, NewBadRequestError(fmt.Sprintf("invalid group target %q", step.TargetID))
		}
		var members []portal.OnCallGroupMember
		err = e.db.WithContext(ctx).
			Where(fieldTenant, TenantFrom(ctx)).
			Where(fieldGroupID, groupID).
			Find(&members).Error
		if err != nil {
			return nil, NewServerError("failed to load group members", err)
		}
		if len(members) == 0 {
			return nil, NewInvalidStateError(fmt.Sprintf("group %d has no members", groupID))
		}
		recipients := make([]string, 0, len(members))
		for _, m := range members {
			if !utils.StringInSlice(m.UserID, recipients) {
				recipients = append(recipients, m.UserID)
			}
		}
		return recipients, nil

	default:
		return nil, NewBadRequestError(fmt.Sprintf("unknown notify type %q", step.NotifyType))
	}
}

// recordNotifyFailure 解析失败落failed通知日志，供运维排查
func (e *EscalationEngine) recordNotifyFailure(ctx context.Context, execution *portal.EscalationExecution, step *portal.EscalationStep, cause error) {
	executionID := execution.ID
	log := portal.NotificationLog{
		TenantModel:  portal.TenantModel{TenantID: execution.TenantID},
		ExecutionID:  &executionID,
		StepNumber:   step.StepNumber,
		NotifyType:   string(step.NotifyType),
		Recipient:    step.TargetID,
		Status:       portal.NotificationStatusFailed,
		SendTime:     portal.DeskTime(e.nowFn()),
		ErrorMessage: cause.Error(),
	}
	if err := e.db.WithContext(ctx).Create(&log).Error; err != nil {
		e.logger.Error("Failed to record notification failure", zap.Int64("executionID", execution.ID), zap.Error(err))
	}
}

// scheduleTimer 为执行设置唯一在途定时器，旧定时器先取消
func (e *EscalationEngine) scheduleTimer(executionID int64, wait time.Duration) {
	if wait < 0 {
		wait = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isRunning {
		// 引擎未启动(如单测同步驱动)时不挂定时器，由调用方显式推进
		return
	}
	if timer, ok := e.timers[executionID]; ok {
		timer.Stop()
	}
	e.timers[executionID] = time.AfterFunc(wait, func() {
		e.advance(executionID)
	})
}

// cancelTimer 取消执行的在途定时器
func (e *EscalationEngine) cancelTimer(executionID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if timer, ok := e.timers[executionID]; ok {
		timer.Stop()
		delete(e.timers, executionID)
	}
}

// loadExecution 加载执行与其策略
func (e *EscalationEngine) loadExecution(ctx context.Context, executionID int64) (*portal.EscalationExecution, *portal.EscalationPolicy, error) {
	var execution portal.EscalationExecution
	if err := e.db.WithContext(ctx).First(&execution, executionID).Error; err != nil {
		return nil, nil, HandleDBError(err, "escalation execution", executionID)
	}
	policy, err := e.loadPolicy(WithTenant(ctx, execution.TenantID), execution.PolicyID)
	if err != nil {
		return nil, nil, err
	}
	return &execution, policy, nil
}

// loadPolicy 加载策略与有序步骤
func (e *EscalationEngine) loadPolicy(ctx context.Context, policyID int64) (*portal.EscalationPolicy, error) {
	var policy portal.EscalationPolicy
	err := e.db.WithContext(ctx).
		Where(fieldTenant, TenantFrom(ctx)).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order(OrderByStepNumberAsc)
		}).
		First(&policy, policyID).Error
	if err != nil {
		return nil, HandleDBError(err, "escalation policy", policyID)
	}
	return &policy, nil
}

// stepByNumber 取指定序号的步骤
func stepByNumber(policy *portal.EscalationPolicy, number int) *portal.EscalationStep {
	for i := range policy.Steps {
		if policy.Steps[i].StepNumber == number {
			return &policy.Steps[i]
		}
	}
	return nil
}
