package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stream-queue-system/pkg/models"
)

// DB is the persistent store adapter. It wraps gorm and exposes plain CRUD
// for the four entities; business rules live in the services.
type DB struct {
	*gorm.DB
}

// Open connects to MySQL, configures the pool and migrates the schema.
func Open(host, port, user, password, dbname string) (*DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return New(db)
}

// New wraps an already-open gorm connection and migrates the schema. The
// TranslateError option must be set on the connection: vote idempotence
// depends on unique-index conflicts surfacing as gorm.ErrDuplicatedKey.
func New(db *gorm.DB) (*DB, error) {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Stream{},
		&models.Upvote{},
		&models.CurrentStream{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &DB{DB: db}, nil
}

// WithTx returns an adapter bound to the given transaction handle.
func (db *DB) WithTx(tx *gorm.DB) *DB {
	return &DB{DB: tx}
}
