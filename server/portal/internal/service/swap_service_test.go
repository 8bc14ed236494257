package service

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/models/portal"
)

type ShiftSwapServiceTestSuite struct {
	suite.Suite
	db       *gorm.DB
	dbPath   string
	service  *ShiftSwapService
	schedule *portal.OnCallSchedule
	ctx      context.Context
	now      time.Time
}

func (s *ShiftSwapServiceTestSuite) SetupTest() {
	s.dbPath = fmt.Sprintf("test_db_swap_%d.db", time.Now().UnixNano())
	var err error
	s.db, err = gorm.Open(sqlite.Open(s.dbPath), &gorm.Config{})
	require.NoError(s.T(), err)

	err = s.db.AutoMigrate(
		&portal.OnCallSchedule{},
		&portal.RotationParticipant{},
		&portal.Shift{},
		&portal.Override{},
		&portal.ShiftSwapRequest{},
		&portal.IDSequence{},
	)
	require.NoError(s.T(), err)

	logger := zap.NewNop()
	resolver := NewRotationResolver(s.db, nil, nil, logger)
	s.service = NewShiftSwapService(s.db, resolver, nil, nil, logger)

	// 固定当前时刻：2024-01-08(周一) 09:00，bob的值班周
	s.now = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	s.service.nowFn = func() time.Time { return s.now }
	s.ctx = context.Background()

	anchor := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	s.schedule = &portal.OnCallSchedule{
		TenantModel:    portal.TenantModel{TenantID: DefaultTenant},
		Name:           "payments-oncall",
		Timezone:       "UTC",
		RotationType:   portal.RotationTypeWeekly,
		HandoffTime:    "09:00",
		HandoffWeekday: 1,
		RotationStart:  portal.DeskTime(anchor),
	}
	require.NoError(s.T(), s.db.Create(s.schedule).Error)
	for i, user := range []string{"alice", "bob", "carol"} {
		participant := portal.RotationParticipant{
			TenantModel: portal.TenantModel{TenantID: DefaultTenant},
			ScheduleID:  s.schedule.ID,
			UserID:      user,
			Position:    i,
		}
		require.NoError(s.T(), s.db.Create(&participant).Error)
	}
}

func (s *ShiftSwapServiceTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	require.NoError(s.T(), err)
	require.NoError(s.T(), sqlDB.Close())
	require.NoError(s.T(), os.Remove(s.dbPath))
}

func TestShiftSwapServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ShiftSwapServiceTestSuite))
}

// bobWindow bob值班周内的一段班次窗口
func (s *ShiftSwapServiceTestSuite) bobWindow() (time.Time, time.Time) {
	return time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
}

func (s *ShiftSwapServiceTestSuite) createSwap(offeredTo string) *SwapDTO {
	start, end := s.bobWindow()
	swap, err := s.service.CreateSwap(s.ctx, &SwapCreateRequest{
		ScheduleID:      s.schedule.ID,
		OriginalStart:   portal.DeskTime(start),
		OriginalEnd:     portal.DeskTime(end),
		OfferedToUserID: offeredTo,
		Reason:          "family matter",
	}, "bob")
	require.NoError(s.T(), err)
	return swap
}

func (s *ShiftSwapServiceTestSuite) TestCreateSwapIssuesSequentialNumbers() {
	first := s.createSwap("")
	assert.Equal(s.T(), "SWAP-00001", first.SwapNumber)
	assert.Equal(s.T(), portal.SwapStatusPending, first.Status)
	assert.Equal(s.T(), "bob", first.RequesterID)

	second := s.createSwap("")
	assert.Equal(s.T(), "SWAP-00002", second.SwapNumber)
}

func (s *ShiftSwapServiceTestSuite) TestCreateSwapExpiryNeverPassesShiftStart() {
	start, _ := s.bobWindow()
	swap := s.createSwap("")
	// now+72h晚于班次开始，失效时刻收缩到班次开始
	assert.True(s.T(), swap.ExpiresAt.Time().Equal(start))
}

func (s *ShiftSwapServiceTestSuite) TestCreateSwapByNonOwnerIsForbidden() {
	start, end := s.bobWindow()
	_, err := s.service.CreateSwap(s.ctx, &SwapCreateRequest{
		ScheduleID:    s.schedule.ID,
		OriginalStart: portal.DeskTime(start),
		OriginalEnd:   portal.DeskTime(end),
	}, "alice")
	require.Error(s.T(), err)
	assert.True(s.T(), IsForbidden(err))
}

func (s *ShiftSwapServiceTestSuite) TestAcceptOpenSwapCreatesSwapShift() {
	swap := s.createSwap("")
	start, end := s.bobWindow()

	accepted, err := s.service.AcceptSwap(s.ctx, swap.ID, "carol")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.SwapStatusAccepted, accepted.Status)
	assert.Equal(s.T(), "carol", accepted.AccepterID)
	require.NotNil(s.T(), accepted.ReplacementStart)
	assert.True(s.T(), accepted.ReplacementStart.Time().Equal(start))

	// 替班窗口内who-is-on-call解析到接班人，来源为manual/swap班次层
	result, err := s.service.resolver.Resolve(s.ctx, s.schedule.ID, start.Add(6*time.Hour))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "carol", result.UserID)
	assert.Equal(s.T(), ResolveSourceManual, result.Source)

	// 窗口外不受影响
	result, err = s.service.resolver.Resolve(s.ctx, s.schedule.ID, end.Add(time.Hour))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "bob", result.UserID)
}

func (s *ShiftSwapServiceTestSuite) TestAcceptByRequesterIsForbidden() {
	swap := s.createSwap("")
	_, err := s.service.AcceptSwap(s.ctx, swap.ID, "bob")
	require.Error(s.T(), err)
	assert.True(s.T(), IsForbidden(err))
}

func (s *ShiftSwapServiceTestSuite) TestAcceptByNonParticipantIsForbidden() {
	swap := s.createSwap("")
	_, err := s.service.AcceptSwap(s.ctx, swap.ID, "mallory")
	require.Error(s.T(), err)
	assert.True(s.T(), IsForbidden(err))
}

func (s *ShiftSwapServiceTestSuite) TestTargetedSwapOnlyOffereeMayRespond() {
	swap := s.createSwap("carol")

	_, err := s.service.AcceptSwap(s.ctx, swap.ID, "alice")
	require.Error(s.T(), err)
	assert.True(s.T(), IsForbidden(err))

	accepted, err := s.service.AcceptSwap(s.ctx, swap.ID, "carol")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.SwapStatusAccepted, accepted.Status)
}

func (s *ShiftSwapServiceTestSuite) TestSecondAcceptGetsConflict() {
	swap := s.createSwap("")

	_, err := s.service.AcceptSwap(s.ctx, swap.ID, "carol")
	require.NoError(s.T(), err)

	_, err = s.service.AcceptSwap(s.ctx, swap.ID, "alice")
	require.Error(s.T(), err)
	assert.True(s.T(), IsConflict(err))

	// 恰好产生一条swap班次
	var shifts int64
	require.NoError(s.T(), s.db.Model(&portal.Shift{}).
		Where("origin = ?", portal.ShiftOriginSwap).Count(&shifts).Error)
	assert.EqualValues(s.T(), 1, shifts)
}

func (s *ShiftSwapServiceTestSuite) TestAcceptConflictingWindowLeavesPending() {
	swap := s.createSwap("")
	start, end := s.bobWindow()

	// 预置一条与替班窗口重叠的手工班次
	shift := portal.Shift{
		TenantModel: portal.TenantModel{TenantID: DefaultTenant},
		ScheduleID:  s.schedule.ID,
		UserID:      "alice",
		StartTime:   portal.DeskTime(start.Add(2 * time.Hour)),
		EndTime:     portal.DeskTime(end.Add(-2 * time.Hour)),
		Origin:      portal.ShiftOriginManual,
	}
	require.NoError(s.T(), s.db.Create(&shift).Error)

	_, err := s.service.AcceptSwap(s.ctx, swap.ID, "carol")
	require.Error(s.T(), err)
	assert.True(s.T(), IsConflict(err))

	// 无部分写入：申请保持pending，未新增swap班次
	reloaded, err := s.service.GetSwap(s.ctx, swap.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.SwapStatusPending, reloaded.Status)
	var swapShifts int64
	require.NoError(s.T(), s.db.Model(&portal.Shift{}).
		Where("origin = ?", portal.ShiftOriginSwap).Count(&swapShifts).Error)
	assert.EqualValues(s.T(), 0, swapShifts)
}

func (s *ShiftSwapServiceTestSuite) TestRejectSwap() {
	swap := s.createSwap("")

	rejected, err := s.service.RejectSwap(s.ctx, swap.ID, "carol")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.SwapStatusRejected, rejected.Status)
	assert.Equal(s.T(), "carol", rejected.AccepterID)

	// 拒绝不产生班次写入
	var shifts int64
	require.NoError(s.T(), s.db.Model(&portal.Shift{}).Count(&shifts).Error)
	assert.EqualValues(s.T(), 0, shifts)
}

func (s *ShiftSwapServiceTestSuite) TestCancelOnlyByRequester() {
	swap := s.createSwap("")

	_, err := s.service.CancelSwap(s.ctx, swap.ID, "carol")
	require.Error(s.T(), err)
	assert.True(s.T(), IsForbidden(err))

	cancelled, err := s.service.CancelSwap(s.ctx, swap.ID, "bob")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.SwapStatusCancelled, cancelled.Status)
}

func (s *ShiftSwapServiceTestSuite) TestRespondingToLapsedSwapExpiresIt() {
	swap := s.createSwap("")

	// 时钟拨过失效时刻
	s.now = swap.ExpiresAt.Time().Add(time.Minute)

	_, err := s.service.AcceptSwap(s.ctx, swap.ID, "carol")
	require.Error(s.T(), err)
	assert.True(s.T(), IsExpired(err))

	// 惰性失效已落库
	reloaded, err := s.service.GetSwap(s.ctx, swap.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.SwapStatusExpired, reloaded.Status)
}

func (s *ShiftSwapServiceTestSuite) TestRespondedSwapCannotBeResponded() {
	swap := s.createSwap("")
	_, err := s.service.RejectSwap(s.ctx, swap.ID, "carol")
	require.NoError(s.T(), err)

	_, err = s.service.AcceptSwap(s.ctx, swap.ID, "alice")
	require.Error(s.T(), err)
	assert.True(s.T(), IsConflict(err))
}

func (s *ShiftSwapServiceTestSuite) TestSweepExpired() {
	first := s.createSwap("")
	s.createSwap("")

	// 先接受一条，再把时钟拨过失效时刻
	_, err := s.service.AcceptSwap(s.ctx, first.ID, "carol")
	require.NoError(s.T(), err)
	start, _ := s.bobWindow()
	s.now = start.Add(time.Minute)

	swept, err := s.service.SweepExpired(s.ctx)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 1, swept)

	// accepted不受清扫影响
	reloaded, err := s.service.GetSwap(s.ctx, first.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.SwapStatusAccepted, reloaded.Status)
}

func (s *ShiftSwapServiceTestSuite) TestCompletedIsDerivedAfterReplacementEnds() {
	swap := s.createSwap("")
	_, err := s.service.AcceptSwap(s.ctx, swap.ID, "carol")
	require.NoError(s.T(), err)

	_, end := s.bobWindow()
	s.now = end.Add(time.Hour)

	reloaded, err := s.service.GetSwap(s.ctx, swap.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), portal.SwapStatusAccepted, reloaded.Status)
	assert.Equal(s.T(), portal.SwapStatusCompleted, reloaded.EffectiveStatus)

	// completed仍不可再响应
	_, err = s.service.CancelSwap(s.ctx, swap.ID, "bob")
	require.Error(s.T(), err)
	assert.True(s.T(), IsConflict(err))
}

// TestSweepExpiredIssuesSingleUpdate 清扫是一条跨租户的条件UPDATE
func TestSweepExpiredIssuesSingleUpdate(t *testing.T) {
	mockDb, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	dialector := mysql.New(mysql.Config{
		Conn:                      mockDb,
		SkipInitializeWithVersion: true,
	})
	db, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `shift_swap_requests` SET")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	service := NewShiftSwapService(db, nil, nil, nil, zap.NewNop())
	swept, err := service.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, swept)
	assert.NoError(t, mock.ExpectationsWereMet())
}
