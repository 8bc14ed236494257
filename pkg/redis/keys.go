package redis

import (
	"fmt"
)

// 全局前缀，用于区分不同环境或应用
const (
	GlobalPrefix = "firelater"
)

// 模块前缀
const (
	OnCallModule     = "oncall"
	EscalationModule = "escalation"
)

// 值班模块键模板
const (
	// 值班解析结果缓存键模板
	ResolveKeyTpl = "%s:%s:%s:resolve:%d:%d" // {global}:{module}:{version}:resolve:{schedule_id}:{unix_minute}

	// 换班接受互斥锁键模板
	SwapAcceptLockTpl = "%s:%s:%s:swap_lock:%d" // {global}:{module}:{version}:swap_lock:{schedule_id}

	// 换班过期清扫互斥锁键
	SwapSweepLockKey = "%s:%s:%s:swap_sweep_lock" // {global}:{module}:{version}:swap_sweep_lock

	// 升级引擎恢复扫描互斥锁键
	EngineRecoverLockKey = "%s:%s:%s:recover_lock" // {global}:{module}:{version}:recover_lock
)

// KeyBuilder 提供构建Redis键的方法
type KeyBuilder struct {
	globalPrefix string
	version      string
}

// NewKeyBuilder 创建一个新的KeyBuilder实例
func NewKeyBuilder(globalPrefix string, version string) *KeyBuilder {
	if globalPrefix == "" {
		globalPrefix = GlobalPrefix
	}
	if version == "" {
		version = "v1" // 默认版本
	}
	return &KeyBuilder{globalPrefix: globalPrefix, version: version}
}

// ResolveKey 构建值班解析缓存键，粒度为分钟.
func (kb *KeyBuilder) ResolveKey(scheduleID int64, unixMinute int64) string {
	return fmt.Sprintf(ResolveKeyTpl, kb.globalPrefix, OnCallModule, kb.version, scheduleID, unixMinute)
}

// ResolvePattern 生成用于清理某排班表解析缓存的模式.
func (kb *KeyBuilder) ResolvePattern(scheduleID int64) string {
	return fmt.Sprintf("%s:%s:%s:resolve:%d:*", kb.globalPrefix, OnCallModule, kb.version, scheduleID)
}

// SwapAcceptLockKey 构建换班接受互斥锁键，按排班表互斥.
func (kb *KeyBuilder) SwapAcceptLockKey(scheduleID int64) string {
	return fmt.Sprintf(SwapAcceptLockTpl, kb.globalPrefix, OnCallModule, kb.version, scheduleID)
}

// SwapSweepLock 构建换班清扫任务锁键.
func (kb *KeyBuilder) SwapSweepLock() string {
	return fmt.Sprintf(SwapSweepLockKey, kb.globalPrefix, OnCallModule, kb.version)
}

// EngineRecoverLock 构建升级引擎恢复扫描锁键.
func (kb *KeyBuilder) EngineRecoverLock() string {
	return fmt.Sprintf(EngineRecoverLockKey, kb.globalPrefix, EscalationModule, kb.version)
}
