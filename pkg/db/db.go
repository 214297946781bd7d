package db

import (
	"sync"

	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/pkg/env"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	conn     *gorm.DB
	connOnce sync.Once
)

// Connection returns the process-wide database handle, opening it on
// first use according to PIPEWRIGHT_DATABASE_TYPE.
func Connection() *gorm.DB {
	connOnce.Do(func() {
		gdb, err := Open(env.Variables().DatabaseType, env.Variables().DatabaseDSN)
		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
		conn = gdb
	})

	return conn
}

// Open opens a gorm connection for the given database type.
func Open(databaseType, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch databaseType {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported database type: %s", databaseType)
	}

	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", databaseType)
	}

	return gdb, nil
}

// Migrate creates or updates the schema for every model.
func Migrate() error {
	return errors.Wrap(Connection().AutoMigrate(models.All...), "auto migrate")
}

// Ping verifies the database is reachable.
func Ping(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
