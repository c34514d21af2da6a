package db

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pulseboard/pulse/pkg/config"
	"github.com/pulseboard/pulse/pkg/logging"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// zapWriter adapts zap.Logger to logger.Writer interface
type zapWriter struct {
	logger *zap.Logger
}

func (w *zapWriter) Printf(format string, args ...interface{}) {
	w.logger.Sugar().Infof(format, args...)
}

// gooseLogger routes goose output through zap
type gooseLogger struct {
	logger *zap.SugaredLogger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatalf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Infof(format, v...)
}

// DB wraps GORM database connection
type DB struct {
	*gorm.DB
	migrationsDir string
}

// gormLogLevel maps the application log level onto gorm's, one step quieter
func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "DEBUG", "debug":
		return logger.Info
	case "INFO", "info":
		return logger.Warn
	case "WARN", "warn", "WARNING", "warning":
		return logger.Error
	case "ERROR", "error":
		return logger.Silent
	default:
		return logger.Warn
	}
}

// New creates a new database connection
func New(cfg *config.DatabaseConfig, logLevel string) (*DB, error) {
	gormLogger := logger.New(
		&zapWriter{logger: logging.WithComponent("gorm")},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogLevel(logLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// Enrichment issues several sub-queries per row, so keep the pool wide.
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.GetLogger().Info("Database connection established")

	return &DB{DB: db, migrationsDir: cfg.MigrationsDir}, nil
}

// Migrate applies pending schema migrations. Migrations are read from the
// configured directory when set, otherwise from the copies embedded in the
// binary.
func (d *DB) Migrate(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	dir := "migrations"
	if d.migrationsDir != "" {
		goose.SetBaseFS(nil)
		dir = d.migrationsDir
	} else {
		goose.SetBaseFS(embeddedMigrations)
	}
	goose.SetLogger(&gooseLogger{logger: logging.WithComponent("migrations").Sugar()})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, sqlDB, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logging.GetLogger().Info("Database schema up to date", zap.Int64("version", version))
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks database health
func (d *DB) Health(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
