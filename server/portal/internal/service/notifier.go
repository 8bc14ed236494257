package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/models/portal"
)

// Notification 一次升级通知的内容
type Notification struct {
	ExecutionID int64    // 升级执行ID
	TriggerID   string   // 外部告警引用
	StepNumber  int      // 升级步骤序号
	NotifyType  string   // 通知类型
	Recipients  []string // 接收人列表
	Content     string   // 通知内容
}

// Notifier 外部通知器接口
//
// 实际投递(邮件/短信/推送)由外部通知器完成，引擎对其调用是
// fire-and-forget：投递慢或失败不影响升级定时器.
type Notifier interface {
	Notify(ctx context.Context, notification *Notification) error
}

// LogNotifier 默认通知器实现
//
// 只把通知落到notification_log表供外部投递通道消费与审计，
// 本模块不做实际消息投递.
type LogNotifier struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewLogNotifier 创建默认通知器实例
func NewLogNotifier(db *gorm.DB, logger *zap.Logger) *LogNotifier {
	return &LogNotifier{db: db, logger: logger}
}

// Notify 记录通知日志
func (n *LogNotifier) Notify(ctx context.Context, notification *Notification) error {
	tenantID := TenantFrom(ctx)
	executionID := notification.ExecutionID

	for _, recipient := range notification.Recipients {
		log := portal.NotificationLog{
			TenantModel:  portal.TenantModel{TenantID: tenantID},
			ExecutionID:  &executionID,
			StepNumber:   notification.StepNumber,
			NotifyType:   notification.NotifyType,
			Recipient:    recipient,
			Content:      notification.Content,
			Status:       portal.NotificationStatusSent,
			SendTime:     portal.DeskTime(time.Now()),
		}
		if err := n.db.WithContext(ctx).Create(&log).Error; err != nil {
			return fmt.Errorf("failed to record notification: %w", err)
		}
	}

	n.logger.Info("Escalation notification recorded",
		zap.Int64("executionID", notification.ExecutionID),
		zap.Int("step", notification.StepNumber),
		zap.Strings("recipients", notification.Recipients))
	return nil
}
