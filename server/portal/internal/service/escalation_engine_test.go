package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/models/portal"
)

// recordingNotifier 记录每次外呼，供断言通知次序与收件人
type recordingNotifier struct {
	mu    sync.Mutex
	calls []Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, notification *Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, *notification)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func (n *recordingNotifier) stepSequence() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	steps := make([]int, 0, len(n.calls))
	for _, call := range n.calls {
		steps = append(steps, call.StepNumber)
	}
	return steps
}

func (n *recordingNotifier) lastRecipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.calls) == 0 {
		return nil
	}
	return n.calls[len(n.calls)-1].Recipients
}

type EscalationEngineTestSuite struct {
	suite.Suite
	db       *gorm.DB
	dbPath   string
	engine   *EscalationEngine
	notifier *recordingNotifier
	ctx      context.Context
}

func (s *EscalationEngineTestSuite) SetupTest() {
	s.dbPath = fmt.Sprintf("test_db_engine_%d.db", time.Now().UnixNano())
	var err error
	s.db, err = gorm.Open(sqlite.Open(s.dbPath), &gorm.Config{})
	require.NoError(s.T(), err)

	err = s.db.AutoMigrate(
		&portal.OnCallSchedule{},
		&portal.RotationParticipant{},
		&portal.Shift{},
		&portal.Override{},
		&portal.EscalationPolicy{},
		&portal.EscalationStep{},
		&portal.EscalationExecution{},
		&portal.OnCallGroup{},
		&portal.OnCallGroupMember{},
		&portal.NotificationLog{},
	)
	require.NoError(s.T(), err)

	logger := zap.NewNop()
	resolver := NewRotationResolver(s.db, nil, nil, logger)
	s.notifier = &recordingNotifier{}
	// 步骤延迟单位压缩到20ms，一个完整升级链路在百毫秒级跑完
	config := EngineConfig{DelayUnit: 20 * time.Millisecond, NotifyTimeout: time.Second}
	s.engine = NewEscalationEngine(s.db, resolver, s.notifier, nil, nil, config, logger)
	require.NoError(s.T(), s.engine.Start())
	s.ctx = context.Background()
}

func (s *EscalationEngineTestSuite) TearDownTest() {
	s.engine.Stop()
	sqlDB, err := s.db.DB()
	require.NoError(s.T(), err)
	require.NoError(s.T(), sqlDB.Close())
	require.NoError(s.T(), os.Remove(s.dbPath))
}

func TestEscalationEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EscalationEngineTestSuite))
}

func (s *EscalationEngineTestSuite) createPolicy(repeatCount int, steps ...portal.EscalationStep) *portal.EscalationPolicy {
	policy := portal.EscalationPolicy{
		TenantModel: portal.TenantModel{TenantID: DefaultTenant},
		Name:        "checkout-escalation",
		RepeatCount: repeatCount,
	}
	require.NoError(s.T(), s.db.Create(&policy).Error)
	for i := range steps {
		steps[i].TenantModel = portal.TenantModel{TenantID: DefaultTenant}
		steps[i].PolicyID = policy.ID
		require.NoError(s.T(), s.db.Create(&steps[i]).Error)
	}
	return &policy
}

func userStep(number int, userID string, delay int) portal.EscalationStep {
	return portal.EscalationStep{
		StepNumber:   number,
		NotifyType:   portal.NotifyTypeUser,
		TargetID:     userID,
		DelayMinutes: delay,
	}
}

func (s *EscalationEngineTestSuite) executionStatus(id int64) portal.ExecutionStatus {
	var execution portal.EscalationExecution
	require.NoError(s.T(), s.db.First(&execution, id).Error)
	return execution.Status
}

func (s *EscalationEngineTestSuite) TestTriggerRejectsPolicyWithoutSteps() {
	policy := s.createPolicy(0)

	_, err := s.engine.Trigger(s.ctx, policy.ID, "ALERT-1001")
	require.Error(s.T(), err)
	assert.True(s.T(), IsInvalidState(err))

	var executions int64
	require.NoError(s.T(), s.db.Model(&portal.EscalationExecution{}).Count(&executions).Error)
	assert.EqualValues(s.T(), 0, executions)
}

func (s *EscalationEngineTestSuite) TestUnacknowledgedEscalationRunsToExhaustion() {
	// repeatCount=1：两个步骤完整走两遍后耗尽
	policy := s.createPolicy(1,
		userStep(1, "ops-alice", 1),
		userStep(2, "ops-bob", 1),
	)

	execution, err := s.engine.Trigger(s.ctx, policy.ID, "ALERT-1002")
	require.NoError(s.T(), err)

	assert.Eventually(s.T(), func() bool {
		return s.executionStatus(execution.ID) == portal.ExecutionStatusExhausted
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(s.T(), []int{1, 2, 1, 2}, s.notifier.stepSequence())

	var final portal.EscalationExecution
	require.NoError(s.T(), s.db.First(&final, execution.ID).Error)
	assert.Equal(s.T(), 1, final.CurrentCycle)
	assert.Nil(s.T(), final.NextDeadline)
}

func (s *EscalationEngineTestSuite) TestAcknowledgeStopsEscalation() {
	policy := s.createPolicy(0, userStep(1, "ops-alice", 10))

	execution, err := s.engine.Trigger(s.ctx, policy.ID, "ALERT-1003")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.ExecutionStatusWaitingAck, execution.Status)

	acked, err := s.engine.Acknowledge(s.ctx, execution.ID, "ops-alice")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.ExecutionStatusAcknowledged, acked.Status)
	assert.Equal(s.T(), "ops-alice", acked.AcknowledgedBy)
	require.NotNil(s.T(), acked.AcknowledgedAt)
	assert.Nil(s.T(), acked.NextDeadline)

	// 原定时器到点(200ms)后不得再推进
	time.Sleep(400 * time.Millisecond)
	assert.Equal(s.T(), portal.ExecutionStatusAcknowledged, s.executionStatus(execution.ID))
	assert.Equal(s.T(), 1, s.notifier.count())
}

func (s *EscalationEngineTestSuite) TestAcknowledgeIsIdempotent() {
	policy := s.createPolicy(0, userStep(1, "ops-alice", 50))

	execution, err := s.engine.Trigger(s.ctx, policy.ID, "ALERT-1004")
	require.NoError(s.T(), err)

	first, err := s.engine.Acknowledge(s.ctx, execution.ID, "ops-alice")
	require.NoError(s.T(), err)

	// 重复确认是无操作：不报错、确认人不被覆盖
	second, err := s.engine.Acknowledge(s.ctx, execution.ID, "ops-bob")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.ExecutionStatusAcknowledged, second.Status)
	assert.Equal(s.T(), first.AcknowledgedBy, second.AcknowledgedBy)
}

func (s *EscalationEngineTestSuite) TestResolveExecutionClosesEscalation() {
	policy := s.createPolicy(0, userStep(1, "ops-alice", 50))

	execution, err := s.engine.Trigger(s.ctx, policy.ID, "ALERT-1005")
	require.NoError(s.T(), err)

	resolved, err := s.engine.ResolveExecution(s.ctx, execution.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.ExecutionStatusResolved, resolved.Status)
	assert.Empty(s.T(), resolved.AcknowledgedBy)
}

func (s *EscalationEngineTestSuite) TestResolutionFailureSkipsToNextStep() {
	// 步骤1指向无参与人的排班表，解析必然失败
	empty := portal.OnCallSchedule{
		TenantModel:   portal.TenantModel{TenantID: DefaultTenant},
		Name:          "empty-schedule",
		Timezone:      "UTC",
		RotationType:  portal.RotationTypeWeekly,
		HandoffTime:   "09:00",
		RotationStart: portal.DeskTime(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
	}
	require.NoError(s.T(), s.db.Create(&empty).Error)

	policy := s.createPolicy(0,
		portal.EscalationStep{
			StepNumber:   1,
			NotifyType:   portal.NotifyTypeSchedule,
			TargetID:     fmt.Sprintf("%d", empty.ID),
			DelayMinutes: 1,
		},
		userStep(2, "ops-bob", 100),
	)

	execution, err := s.engine.Trigger(s.ctx, policy.ID, "ALERT-1006")
	require.NoError(s.T(), err)

	// 跳过失败步骤，立即停在步骤2等待确认
	assert.Eventually(s.T(), func() bool {
		var reloaded portal.EscalationExecution
		if err := s.db.First(&reloaded, execution.ID).Error; err != nil {
			return false
		}
		return reloaded.Status == portal.ExecutionStatusWaitingAck && reloaded.CurrentStep == 2
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(s.T(), []int{2}, s.notifier.stepSequence())

	// 失败步骤留有failed通知日志
	var failed portal.NotificationLog
	require.NoError(s.T(), s.db.
		Where("status = ?", portal.NotificationStatusFailed).
		First(&failed).Error)
	assert.Equal(s.T(), 1, failed.StepNumber)
	require.NotNil(s.T(), failed.ExecutionID)
	assert.Equal(s.T(), execution.ID, *failed.ExecutionID)
	assert.NotEmpty(s.T(), failed.ErrorMessage)
}

func (s *EscalationEngineTestSuite) TestGroupStepNotifiesDeduplicatedMembers() {
	group := portal.OnCallGroup{
		TenantModel: portal.TenantModel{TenantID: DefaultTenant},
		Name:        "payments-sre",
	}
	require.NoError(s.T(), s.db.Create(&group).Error)
	for _, user := range []string{"dave", "erin", "dave"} {
		member := portal.OnCallGroupMember{
			TenantModel: portal.TenantModel{TenantID: DefaultTenant},
			GroupID:     group.ID,
			UserID:      user,
		}
		require.NoError(s.T(), s.db.Create(&member).Error)
	}

	policy := s.createPolicy(0, portal.EscalationStep{
		StepNumber:   1,
		NotifyType:   portal.NotifyTypeGroup,
		TargetID:     fmt.Sprintf("%d", group.ID),
		DelayMinutes: 100,
	})

	_, err := s.engine.Trigger(s.ctx, policy.ID, "ALERT-1007")
	require.NoError(s.T(), err)

	assert.Eventually(s.T(), func() bool {
		return s.notifier.count() == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(s.T(), []string{"dave", "erin"}, s.notifier.lastRecipients())
}

func (s *EscalationEngineTestSuite) TestStartRecoversInFlightExecutions() {
	policy := s.createPolicy(0, userStep(1, "ops-alice", 1))

	// 模拟崩溃遗留：一条等待确认且定时已过期，一条死在通知中途
	overdueDeadline := portal.DeskTime(time.Now().Add(-time.Minute))
	overdue := portal.EscalationExecution{
		TenantModel:  portal.TenantModel{TenantID: DefaultTenant},
		PolicyID:     policy.ID,
		TriggerID:    "ALERT-2001",
		CurrentStep:  1,
		CurrentCycle: 0,
		Status:       portal.ExecutionStatusWaitingAck,
		StartedAt:    portal.DeskTime(time.Now().Add(-2 * time.Minute)),
		NextDeadline: &overdueDeadline,
	}
	require.NoError(s.T(), s.db.Create(&overdue).Error)

	midNotify := portal.EscalationExecution{
		TenantModel:  portal.TenantModel{TenantID: DefaultTenant},
		PolicyID:     policy.ID,
		TriggerID:    "ALERT-2002",
		CurrentStep:  1,
		CurrentCycle: 0,
		Status:       portal.ExecutionStatusNotifying,
		StartedAt:    portal.DeskTime(time.Now().Add(-2 * time.Minute)),
	}
	require.NoError(s.T(), s.db.Create(&midNotify).Error)

	recovered := NewEscalationEngine(s.db, s.engine.resolver, s.notifier, nil, nil,
		EngineConfig{DelayUnit: 20 * time.Millisecond, NotifyTimeout: time.Second}, zap.NewNop())
	require.NoError(s.T(), recovered.Start())
	defer recovered.Stop()

	// 过期的等待确认被立即推进：单步骤repeat 0，推进即耗尽
	assert.Eventually(s.T(), func() bool {
		return s.executionStatus(overdue.ID) == portal.ExecutionStatusExhausted
	}, 3*time.Second, 10*time.Millisecond)

	// 通知中途的执行被重新触发当前步骤并进入等待确认
	assert.Eventually(s.T(), func() bool {
		return s.executionStatus(midNotify.ID) == portal.ExecutionStatusWaitingAck ||
			s.executionStatus(midNotify.ID) == portal.ExecutionStatusExhausted
	}, 3*time.Second, 10*time.Millisecond)
}
