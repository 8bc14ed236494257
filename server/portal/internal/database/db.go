package database

import (
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/asklokesh/FireLater-sub004/models/portal"
)

// 默认MySQL连接串
const DefaultMySQLDSN = "root:root@tcp(127.0.0.1:3306)/firelater?charset=utf8mb4&parseTime=True&loc=Local"

// OpenMySQL 打开MySQL连接
func OpenMySQL(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = DefaultMySQLDSN
	}
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}

// OpenSQLite 打开SQLite连接，本地开发与单测使用
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		path = "firelater.db"
	}
	return gorm.Open(sqlite.Open(path), &gorm.Config{})
}

// AutoMigrate 迁移值班与升级模块的全部数据表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&portal.OnCallSchedule{},
		&portal.RotationParticipant{},
		&portal.Shift{},
		&portal.Override{},
		&portal.ShiftSwapRequest{},
		&portal.IDSequence{},
		&portal.EscalationPolicy{},
		&portal.EscalationStep{},
		&portal.EscalationExecution{},
		&portal.OnCallGroup{},
		&portal.OnCallGroupMember{},
		&portal.NotificationLog{},
	)
}
