package database

import (
	"fmt"
	"jobstream/internal/config"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialect picks the gorm dialector for the configured driver.
func Dialect(cfg config.Database) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres", "":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Open connects to the database, retrying while it is not ready yet.
func Open(cfg config.Database, logLevel logger.LogLevel) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	var db *gorm.DB
	for i := 0; i < 5; i++ {
		db, err = gorm.Open(dialector, &gorm.Config{
			Logger: NewZerologGormLogger(log.Logger, logLevel),
		})
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("retry", i+1).Msg("database not ready, retrying in 3 seconds")
		time.Sleep(3 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Driver, err)
	}

	log.Info().Str("driver", cfg.Driver).Msg("database connection configured")
	return db, nil
}

// Migrate creates or updates the tables the setup repository needs.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

func Models() []any {
	return []any{&Job{}, &Store{}, &StoreMetaData{}, &Campaign{}, &CampaignMetaData{}}
}
