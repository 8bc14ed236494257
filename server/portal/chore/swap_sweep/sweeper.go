package swap_sweep

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/pkg/redis"
	"github.com/asklokesh/FireLater-sub004/server/portal/internal/service"
)

// 清扫任务锁的持有时间，防止多实例同时清扫
const sweepLockTTL = 5 * time.Minute

// Sweeper 换班申请过期清扫器
//
// 把超过有效期仍pending的换班申请置为expired，跨租户执行；
// 通过Redis锁保证同一时刻只有一个实例在清扫.
type Sweeper struct {
	db           *gorm.DB
	redisHandler *redis.Handler
	keyBuilder   *redis.KeyBuilder
	logger       *zap.Logger
}

// NewSweeper 创建换班清扫器
func NewSweeper(db *gorm.DB, redisHandler *redis.Handler, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		db:           db,
		redisHandler: redisHandler,
		keyBuilder:   redis.NewKeyBuilder(redis.GlobalPrefix, ""),
		logger:       logger,
	}
}

// Run 执行一次过期清扫
func (s *Sweeper) Run(ctx context.Context) error {
	lockKey := s.keyBuilder.SwapSweepLock()
	acquired, err := s.redisHandler.AcquireLock(lockKey, fmt.Sprintf("%d", time.Now().UnixNano()), sweepLockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if !acquired {
		s.logger.Info("Swap sweep skipped, another instance holds the lock")
		return nil
	}
	defer s.redisHandler.Delete(lockKey)

	resolver := service.NewRotationResolver(s.db, s.redisHandler, s.keyBuilder, s.logger)
	swaps := service.NewShiftSwapService(s.db, resolver, s.redisHandler, s.keyBuilder, s.logger)

	expired, err := swaps.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep expired swaps: %w", err)
	}

	s.logger.Info("Swap sweep finished", zap.Int64("expired", expired))
	return nil
}
