package bootstrap

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/voxen-labs/voxen/internal/models"
	"github.com/voxen-labs/voxen/pkg/config"
)

// Options controls database initialization behavior
type Options struct {
	// AutoMigrate whether to execute entity migration (default true)
	AutoMigrate bool
	// SeedNonProd whether to seed demo data in non-production environments
	SeedNonProd bool
}

// SetupDatabase unified entry: connect database -> migrate entities -> (non-production) seed
func SetupDatabase(cfg *config.Config, logWriter io.Writer, opts *Options) (*gorm.DB, error) {
	if opts == nil {
		opts = &Options{AutoMigrate: true, SeedNonProd: true}
	}

	db, err := openDB(cfg, logWriter)
	if err != nil {
		return nil, fmt.Errorf("init database failed: %w", err)
	}

	if opts.AutoMigrate {
		if err := RunMigrations(db); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	if opts.SeedNonProd && cfg.Mode != "production" {
		if err := (&SeedService{db: db}).SeedAll(); err != nil {
			return nil, fmt.Errorf("seed failed: %w", err)
		}
	}
	return db, nil
}

// openDB creates *gorm.DB according to the configured driver
func openDB(cfg *config.Config, logWriter io.Writer) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}

	gormCfg := &gorm.Config{}
	if logWriter != nil {
		gormCfg.Logger = gormlogger.New(
			log.New(logWriter, "", log.LstdFlags),
			gormlogger.Config{
				SlowThreshold: 200 * time.Millisecond,
				LogLevel:      gormlogger.Warn,
			},
		)
	}
	return gorm.Open(dialector, gormCfg)
}

// RunMigrations executes entity migration
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Call{},
		&models.TranscriptFragment{},
		&models.UserCredential{},
		&models.Agent{},
	)
}
