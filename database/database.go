package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"societyapp/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	maxIdleConns    = 10
	maxOpenConns    = 10
	connMaxLifetime = time.Hour
)

// Database представляет подключение к базе данных
type Database struct {
	DB *gorm.DB
}

// Ping проверяет, что соединение с базой живо
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close закрывает подключение к базе данных
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Connect устанавливает соединение с базой данных. При неудаче делает
// cfg.DB.MaxRetries попыток с паузой cfg.DB.RetryDelay.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Database, error) {
	gormLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	open := func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger:         gormLogger,
			TranslateError: true,
		})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := connectWithRetry(ctx, cfg.DB.MaxRetries, cfg.DB.RetryDelay, open, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	// Настраиваем пул соединений
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пула соединений: %w", err)
	}
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	log.Info("database connected",
		zap.String("host", cfg.DB.Host),
		zap.String("name", cfg.DB.DBName),
	)
	return &Database{DB: db}, nil
}

func connectWithRetry(ctx context.Context, attempts int, delay time.Duration, open func() (*gorm.DB, error), log *zap.Logger) (*gorm.DB, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		db, err := open()
		if err == nil {
			return db, nil
		}
		lastErr = err
		log.Warn("database connection failed",
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if i == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("после %d попыток: %w", attempts, lastErr)
}

// RunMigrations применяет все SQL миграции. Отсутствие изменений не ошибка.
func RunMigrations(cfg *config.Config) error {
	return withMigrator(cfg, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	})
}

// RollbackMigration откатывает последнюю примененную миграцию
func RollbackMigration(cfg *config.Config) error {
	return withMigrator(cfg, func(m *migrate.Migrate) error {
		return m.Steps(-1)
	})
}

func withMigrator(cfg *config.Config, fn func(m *migrate.Migrate) error) error {
	m, err := migrate.New(cfg.DB.MigrationsPath, cfg.MigrationURL())
	if err != nil {
		return fmt.Errorf("ошибка создания миграции: %w", err)
	}
	defer m.Close()

	if err := fn(m); err != nil {
		return fmt.Errorf("ошибка выполнения миграций: %w", err)
	}
	return nil
}
