package db

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"valinemail/internal/models"
)

// Open connects to Postgres and migrates the comment schema.
func Open(dsn string, log *zap.SugaredLogger) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info("Database connection established")

	if err := conn.AutoMigrate(&models.Comment{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Info("Database migration completed")

	return conn, nil
}

// newGormLogger 让 gorm 的慢查询和错误日志也走 zap
func newGormLogger(log *zap.SugaredLogger) gormlogger.Interface {
	std, err := zap.NewStdLogAt(log.Desugar().Named("gorm"), zap.WarnLevel)
	if err != nil {
		return gormlogger.Default.LogMode(gormlogger.Warn)
	}
	return gormlogger.New(std, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
