package database

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/totegamma/checkpoint/internal/infra/database/models"
)

// GormConfig returns the gorm settings shared by every dialector. SQL
// logging goes through the component logger.
func GormConfig(log zerolog.Logger) *gorm.Config {
	gormLogger := logger.New(
		&log, // io writer
		logger.Config{
			SlowThreshold:             300 * time.Millisecond, // Slow SQL threshold
			LogLevel:                  logger.Warn,            // Log level
			IgnoreRecordNotFoundError: true,                   // Ignore ErrRecordNotFound error for logger
			Colorful:                  false,
		},
	)

	return &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger,
	}
}

func NewPostgres(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), GormConfig(log))
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Timeline{},
		&models.Checkpoint{},
		&models.Revision{},
	)
}
