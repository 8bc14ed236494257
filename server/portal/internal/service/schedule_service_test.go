package service

import (
	"context"
	"errors"
	"fmt"
	"os"
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

type ScheduleServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	dbPath  string
	service *ScheduleService
	ctx     context.Context
}

func (s *ScheduleServiceTestSuite) SetupTest() {
	s.dbPath = fmt.Sprintf("test_db_schedule_%d.db", time.Now().UnixNano())
	var err error
	s.db, err = gorm.Open(sqlite.Open(s.dbPath), &gorm.Config{})
	require.NoError(s.T(), err)

	err = s.db.AutoMigrate(
		&portal.OnCallSchedule{},
		&portal.RotationParticipant{},
		&portal.Shift{},
		&portal.Override{},
	)
	require.NoError(s.T(), err)

	s.service = NewScheduleService(s.db, nil, nil, zap.NewNop())
	s.ctx = context.Background()
}

func (s *ScheduleServiceTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	require.NoError(s.T(), err)
	require.NoError(s.T(), sqlDB.Close())
	require.NoError(s.T(), os.Remove(s.dbPath))
}

func TestScheduleServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ScheduleServiceTestSuite))
}

func (s *ScheduleServiceTestSuite) weeklyRequest() *ScheduleCreateRequest {
	return &ScheduleCreateRequest{
		Name:           "支付平台值班",
		ApplicationID:  101,
		Timezone:       "UTC",
		RotationType:   portal.RotationTypeWeekly,
		HandoffTime:    "09:00",
		HandoffWeekday: 1,
		RotationStart:  portal.DeskTime(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		Participants: []ParticipantRequest{
			{UserID: "alice", Position: 0},
			{UserID: "bob", Position: 1},
			{UserID: "carol", Position: 2},
		},
	}
}

func (s *ScheduleServiceTestSuite) mustCreate() *ScheduleDTO {
	dto, err := s.service.CreateSchedule(s.ctx, s.weeklyRequest(), "admin")
	require.NoError(s.T(), err)
	return dto
}

func (s *ScheduleServiceTestSuite) TestCreateScheduleReturnsOrderedParticipants() {
	dto := s.mustCreate()

	assert.Equal(s.T(), "支付平台值班", dto.Name)
	assert.Equal(s.T(), "admin", dto.CreatedBy)
	require.Len(s.T(), dto.Participants, 3)
	assert.Equal(s.T(), "alice", dto.Participants[0].UserID)
	assert.Equal(s.T(), "bob", dto.Participants[1].UserID)
	assert.Equal(s.T(), "carol", dto.Participants[2].UserID)
}

func (s *ScheduleServiceTestSuite) TestCreateScheduleValidation() {
	cases := []struct {
		name   string
		mutate func(req *ScheduleCreateRequest)
	}{
		{"未知轮换类型", func(req *ScheduleCreateRequest) { req.RotationType = "hourly" }},
		{"自定义轮换缺周期", func(req *ScheduleCreateRequest) {
			req.RotationType = portal.RotationTypeCustom
			req.PeriodDays = 0
		}},
		{"非法交接星期", func(req *ScheduleCreateRequest) { req.HandoffWeekday = 7 }},
		{"非法交接时刻", func(req *ScheduleCreateRequest) { req.HandoffTime = "9am" }},
		{"非法时区", func(req *ScheduleCreateRequest) { req.Timezone = "Mars/Olympus" }},
		{"顺位不连续", func(req *ScheduleCreateRequest) { req.Participants[2].Position = 5 }},
		{"顺位重复", func(req *ScheduleCreateRequest) { req.Participants[1].Position = 0 }},
	}

	for _, tc := range cases {
		req := s.weeklyRequest()
		tc.mutate(req)
		_, err := s.service.CreateSchedule(s.ctx, req, "admin")
		require.Error(s.T(), err, tc.name)
		var se *ServiceError
		require.True(s.T(), errors.As(err, &se), tc.name)
		assert.Equal(s.T(), ErrCodeBadRequest, se.Code, tc.name)
	}
}

func (s *ScheduleServiceTestSuite) TestAddParticipantShiftsPositions() {
	dto := s.mustCreate()

	// 插入顺位1，bob/carol整体后移
	added, err := s.service.AddParticipant(s.ctx, dto.ID, &ParticipantRequest{UserID: "dave", Position: 1})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, added.Position)

	participants, err := s.service.ListParticipants(s.ctx, dto.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), participants, 4)
	for i, expected := range []string{"alice", "dave", "bob", "carol"} {
		assert.Equal(s.T(), expected, participants[i].UserID)
		assert.Equal(s.T(), i, participants[i].Position)
	}
}

func (s *ScheduleServiceTestSuite) TestAddParticipantPositionOutOfRange() {
	dto := s.mustCreate()

	_, err := s.service.AddParticipant(s.ctx, dto.ID, &ParticipantRequest{UserID: "dave", Position: 5})
	require.Error(s.T(), err)
	var se *ServiceError
	require.True(s.T(), errors.As(err, &se))
	assert.Equal(s.T(), ErrCodeBadRequest, se.Code)
}

func (s *ScheduleServiceTestSuite) TestRemoveParticipantClosesGap() {
	dto := s.mustCreate()

	participants, err := s.service.ListParticipants(s.ctx, dto.ID)
	require.NoError(s.T(), err)

	// 移除中间的bob，carol顺位前移
	require.NoError(s.T(), s.service.RemoveParticipant(s.ctx, dto.ID, participants[1].ID))

	remaining, err := s.service.ListParticipants(s.ctx, dto.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), remaining, 2)
	assert.Equal(s.T(), "alice", remaining[0].UserID)
	assert.Equal(s.T(), 0, remaining[0].Position)
	assert.Equal(s.T(), "carol", remaining[1].UserID)
	assert.Equal(s.T(), 1, remaining[1].Position)
}

func (s *ScheduleServiceTestSuite) TestCreateManualShiftRejectsOverlap() {
	dto := s.mustCreate()
	start := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	_, err := s.service.CreateManualShift(s.ctx, dto.ID, &ShiftCreateRequest{
		UserID:    "bob",
		StartTime: portal.DeskTime(start),
		EndTime:   portal.DeskTime(end),
	})
	require.NoError(s.T(), err)

	// 窗口相交被拒绝
	_, err = s.service.CreateManualShift(s.ctx, dto.ID, &ShiftCreateRequest{
		UserID:    "carol",
		StartTime: portal.DeskTime(start.Add(12 * time.Hour)),
		EndTime:   portal.DeskTime(end.Add(12 * time.Hour)),
	})
	require.Error(s.T(), err)
	assert.True(s.T(), IsConflict(err))

	// 首尾相接(半开区间)不算重叠
	_, err = s.service.CreateManualShift(s.ctx, dto.ID, &ShiftCreateRequest{
		UserID:    "carol",
		StartTime: portal.DeskTime(end),
		EndTime:   portal.DeskTime(end.Add(24 * time.Hour)),
	})
	require.NoError(s.T(), err)
}

func (s *ScheduleServiceTestSuite) TestCreateOverrideAllowsOverlap() {
	dto := s.mustCreate()
	start := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	for _, user := range []string{"dave", "erin"} {
		_, err := s.service.CreateOverride(s.ctx, dto.ID, &OverrideCreateRequest{
			UserID:    user,
			StartTime: portal.DeskTime(start),
			EndTime:   portal.DeskTime(end),
			Reason:    "临时替班",
			CreatedBy: "admin",
		})
		require.NoError(s.T(), err)
	}

	overrides, err := s.service.ListOverrides(s.ctx, dto.ID)
	require.NoError(s.T(), err)
	assert.Len(s.T(), overrides, 2)
}

func (s *ScheduleServiceTestSuite) TestListShiftsFiltersByRange() {
	dto := s.mustCreate()
	base := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

	for day := 0; day < 3; day++ {
		start := base.AddDate(0, 0, day)
		_, err := s.service.CreateManualShift(s.ctx, dto.ID, &ShiftCreateRequest{
			UserID:    "bob",
			StartTime: portal.DeskTime(start),
			EndTime:   portal.DeskTime(start.Add(8 * time.Hour)),
		})
		require.NoError(s.T(), err)
	}

	shifts, err := s.service.ListShifts(s.ctx, dto.ID, &ShiftRangeQuery{
		StartDate: portal.DeskTime(base.AddDate(0, 0, 1)),
		EndDate:   portal.DeskTime(base.AddDate(0, 0, 2)),
	})
	require.NoError(s.T(), err)
	require.Len(s.T(), shifts, 1)
	assert.True(s.T(), shifts[0].StartTime.Time().Equal(base.AddDate(0, 0, 1)))
}

func (s *ScheduleServiceTestSuite) TestDeleteScheduleCascadesParticipants() {
	dto := s.mustCreate()

	require.NoError(s.T(), s.service.DeleteSchedule(s.ctx, dto.ID))

	_, err := s.service.GetSchedule(s.ctx, dto.ID)
	require.Error(s.T(), err)
	assert.True(s.T(), IsNotFound(err))

	var participants int64
	require.NoError(s.T(), s.db.Model(&portal.RotationParticipant{}).
		Where("schedule_id = ?", dto.ID).Count(&participants).Error)
	assert.EqualValues(s.T(), 0, participants)

	// 删除不存在的排班表报NotFound
	err = s.service.DeleteSchedule(s.ctx, dto.ID)
	require.Error(s.T(), err)
	assert.True(s.T(), IsNotFound(err))
}

func (s *ScheduleServiceTestSuite) TestListSchedulesPaginates() {
	for i := 0; i < 3; i++ {
		req := s.weeklyRequest()
		req.Name = fmt.Sprintf("schedule-%d", i)
		_, err := s.service.CreateSchedule(s.ctx, req, "admin")
		require.NoError(s.T(), err)
	}

	dtos, total, err := s.service.ListSchedules(s.ctx, &PaginationRequest{Page: 1, Size: 2})
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 3, total)
	assert.Len(s.T(), dtos, 2)
}

func (s *ScheduleServiceTestSuite) TestTenantCannotTouchForeignSchedule() {
	dto := s.mustCreate()

	foreign := WithTenant(s.ctx, "acme")
	_, err := s.service.GetSchedule(foreign, dto.ID)
	require.Error(s.T(), err)
	assert.True(s.T(), IsNotFound(err))

	err = s.service.DeleteSchedule(foreign, dto.ID)
	require.Error(s.T(), err)
	assert.True(s.T(), IsNotFound(err))
}
