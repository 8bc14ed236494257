package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/jinzhu/now"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/models/portal"
)

// RedisHandlerInterface 定义服务层用到的Redis操作
type RedisHandlerInterface interface {
	AcquireLock(key string, value string, expiry time.Duration) (bool, error)
	Get(key string) string
	SetWithExpireTime(key string, value string, expiry time.Duration)
	Delete(key string)
	ScanKeys(pattern string) ([]string, error)
}

// KeyBuilderInterface 定义服务层用到的Redis键构建操作
type KeyBuilderInterface interface {
	ResolveKey(scheduleID int64, unixMinute int64) string
	ResolvePattern(scheduleID int64) string
	SwapAcceptLockKey(scheduleID int64) string
	EngineRecoverLock() string
}

// ResolveResult 值班解析结果
//
// 每次解析都返回完整结果，三种来源互斥，调用方无需判空拼装.
type ResolveResult struct {
	ScheduleID   int64  `json:"scheduleId"`   // 排班表ID
	ScheduleName string `json:"scheduleName"` // 排班表名称
	UserID       string `json:"userId"`       // 值班人ID
	Source       string `json:"source"`       // 来源: rotation|override|manual
}

// 解析缓存有效期，覆盖/换班写入会主动失效
const resolveCacheTTL = time.Minute

// RotationResolver 值班解析服务
//
// 解析优先级：覆盖(last-write-wins) > manual/swap班次 > 轮换推导.
// 轮换边界按排班表时区的墙钟时间计算，再换算回绝对时刻比较.
type RotationResolver struct {
	db           *gorm.DB
	redisHandler RedisHandlerInterface
	keyBuilder   KeyBuilderInterface
	logger       *zap.Logger
}

// NewRotationResolver 创建值班解析服务实例.
// redisHandler可为nil，此时不启用解析缓存.
func NewRotationResolver(db *gorm.DB, redisHandler RedisHandlerInterface, keyBuilder KeyBuilderInterface, logger *zap.Logger) *RotationResolver {
	return &RotationResolver{
		db:           db,
		redisHandler: redisHandler,
		keyBuilder:   keyBuilder,
		logger:       logger,
	}
}

// Resolve 解析指定时刻的值班人
func (r *RotationResolver) Resolve(ctx context.Context, scheduleID int64, at time.Time) (*ResolveResult, error) {
	if cached := r.fromCache(scheduleID, at); cached != nil {
		return cached, nil
	}

	tenantID := TenantFrom(ctx)

	var schedule portal.OnCallSchedule
	err := r.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order(OrderByPositionAsc)
		}).
		First(&schedule, scheduleID).Error
	if err != nil {
		return nil, HandleDBError(err, "schedule", scheduleID)
	}

	result, err := r.resolveLoaded(ctx, &schedule, at)
	if err != nil {
		return nil, err
	}

	r.toCache(scheduleID, at, result)
	return result, nil
}

// ResolveByApplication 按应用解析当前值班人
func (r *RotationResolver) ResolveByApplication(ctx context.Context, applicationID int64, at time.Time) (*ResolveResult, error) {
	tenantID := TenantFrom(ctx)

	var schedule portal.OnCallSchedule
	err := r.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		Where(fieldApplicationID, applicationID).
		First(&schedule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("schedule for application", applicationID)
		}
		return nil, NewServerError("failed to load schedule by application", err)
	}

	return r.Resolve(ctx, schedule.ID, at)
}

// resolveLoaded 对已加载的排班表执行解析
func (r *RotationResolver) resolveLoaded(ctx context.Context, schedule *portal.OnCallSchedule, at time.Time) (*ResolveResult, error) {
	tenantID := TenantFrom(ctx)

	// 1. 覆盖层：取覆盖查询时刻、created_at最新的一条(同刻按插入序)
	var override portal.Override
	err := r.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		Where(fieldScheduleID, schedule.ID).
		Where(fieldCoversInstant, at, at).
		Order("created_at DESC, id DESC").
		First(&override).Error
	if err == nil {
		return &ResolveResult{
			ScheduleID:   schedule.ID,
			ScheduleName: schedule.Name,
			UserID:       override.UserID,
			Source:       ResolveSourceOverride,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewServerError("failed to query overrides", err)
	}

	// 2. 班次层：manual/swap来源的班次不重叠，命中即返回
	var shift portal.Shift
	err = r.db.WithContext(ctx).
		Where(fieldTenant, tenantID).
		Where(fieldScheduleID, schedule.ID).
		Where(fieldOriginIn, []portal.ShiftOrigin{portal.ShiftOriginManual, portal.ShiftOriginSwap}).
		Where(fieldCoversInstant, at, at).
		Order("start_time DESC, id DESC").
		First(&shift).Error
	if err == nil {
		return &ResolveResult{
			ScheduleID:   schedule.ID,
			ScheduleName: schedule.Name,
			UserID:       shift.UserID,
			Source:       ResolveSourceManual,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewServerError("failed to query shifts", err)
	}

	// 3. 轮换层：按周期推导
	userID, err := r.rotationUser(schedule, at)
	if err != nil {
		return nil, err
	}

	return &ResolveResult{
		ScheduleID:   schedule.ID,
		ScheduleName: schedule.Name,
		UserID:       userID,
		Source:       ResolveSourceRotation,
	}, nil
}

// rotationUser 计算轮换推导的值班人
//
// 周期序号按墙钟日期差做向下取整除法，锚点之前的时刻得到负序号，
// 仍能一致地落在循环轮换上.
func (r *RotationResolver) rotationUser(schedule *portal.OnCallSchedule, at time.Time) (string, error) {
	n := len(schedule.Participants)
	if n == 0 {
		return "", NewInvalidStateError("schedule has no participants")
	}

	loc, err := time.LoadLocation(schedule.Timezone)
	if err != nil || schedule.Timezone == "" {
		loc = time.UTC
	}

	handoffMinute := parseHandoffMinute(schedule.HandoffTime)
	periodDays := rotationPeriodDays(schedule)

	anchorLoc := schedule.RotationStart.Time().In(loc)
	tLoc := at.In(loc)

	// 参考日：weekly按交接星期对齐到锚点所在周的周起始日，
	// daily/custom直接用锚点的墙钟日期
	refDay := anchorLoc
	if schedule.RotationType == portal.RotationTypeWeekly {
		cfg := &now.Config{
			WeekStartDay: time.Weekday(schedule.HandoffWeekday),
			TimeLocation: loc,
		}
		refDay = cfg.With(anchorLoc).BeginningOfWeek()
	}

	// 同一边界序号函数分别作用于查询时刻与锚点时刻，差值即周期数，
	// 锚点时刻本身恒落在0号参与人的周期内
	index := boundaryIndex(refDay, tLoc, loc, handoffMinute, periodDays) -
		boundaryIndex(refDay, anchorLoc, loc, handoffMinute, periodDays)
	pos := ((index % n) + n) % n

	// Participants已按position升序加载
	return schedule.Participants[pos].UserID, nil
}

// boundaryIndex 计算墙钟时刻t相对参考日的交接周期序号.
// 当日尚未到交接时刻的按前一天计，再对周期天数做向下取整除法.
func boundaryIndex(refDay, t time.Time, loc *time.Location, handoffMinute, periodDays int) int {
	dayDelta := calendarDays(refDay, t, loc)
	if minuteOfDay(t) < handoffMinute {
		dayDelta--
	}
	return floorDiv(dayDelta, periodDays)
}

// rotationPeriodDays 返回轮换周期天数
func rotationPeriodDays(schedule *portal.OnCallSchedule) int {
	switch schedule.RotationType {
	case portal.RotationTypeWeekly:
		return 7
	case portal.RotationTypeCustom:
		if schedule.PeriodDays > 0 {
			return schedule.PeriodDays
		}
		return 1
	default:
		return 1
	}
}

// parseHandoffMinute 解析交接时刻为当日分钟数，非法值按00:00处理
func parseHandoffMinute(handoff string) int {
	if handoff == "" {
		return 0
	}
	t, err := time.Parse(handoffTimeLayout, handoff)
	if err != nil {
		return 0
	}
	return t.Hour()*60 + t.Minute()
}

// minuteOfDay 返回墙钟时刻的当日分钟数
func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// calendarDays 计算两个墙钟时刻之间的日历天数差(to - from)
// 用午夜差值取整，夏令时造成的23/25小时日不影响结果
func calendarDays(from, to time.Time, loc *time.Location) int {
	fromMid := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	toMid := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)
	return int(math.Round(toMid.Sub(fromMid).Hours() / 24))
}

// floorDiv 向下取整除法，负数周期序号用于锚点之前的时刻
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// fromCache 读取解析缓存
func (r *RotationResolver) fromCache(scheduleID int64, at time.Time) *ResolveResult {
	if r.redisHandler == nil || r.keyBuilder == nil {
		return nil
	}
	raw := r.redisHandler.Get(r.keyBuilder.ResolveKey(scheduleID, at.Unix()/60))
	if raw == "" {
		return nil
	}
	var result ResolveResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil
	}
	return &result
}

// toCache 写入解析缓存
func (r *RotationResolver) toCache(scheduleID int64, at time.Time, result *ResolveResult) {
	if r.redisHandler == nil || r.keyBuilder == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	r.redisHandler.SetWithExpireTime(r.keyBuilder.ResolveKey(scheduleID, at.Unix()/60), string(raw), resolveCacheTTL)
}

// invalidateResolveCache 失效某排班表的解析缓存，覆盖/换班写入后调用
func invalidateResolveCache(redisHandler RedisHandlerInterface, keyBuilder KeyBuilderInterface, scheduleID int64, logger *zap.Logger) {
	if redisHandler == nil || keyBuilder == nil {
		return
	}
	keys, err := redisHandler.ScanKeys(keyBuilder.ResolvePattern(scheduleID))
	if err != nil {
		if logger != nil {
			logger.Warn("Failed to scan resolve cache keys", zap.Int64("scheduleID", scheduleID), zap.Error(err))
		}
		return
	}
	for _, key := range keys {
		redisHandler.Delete(key)
	}
}
