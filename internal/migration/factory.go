package migration

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewMigratorFromGorm 复用 gorm 连接池创建迁移器，driver 取自 config.DatabaseConfig.Driver
func NewMigratorFromGorm(db *gorm.DB, driver string, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return NewMigrator(sqlDB, Config{DatabaseType: dbType}, logger)
}
