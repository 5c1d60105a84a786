// Package v2 opens the notification datastore and keeps its schema current.
package v2

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

const defaultSQLiteFile = "notify.db"

// Config describes how to open the datastore.
type Config struct {
	Driver          string
	DataDir         string // sqlite: directory holding notify.db when Path is empty
	Path            string // sqlite: explicit database file
	DSN             string // mysql
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Debug           bool
	Logger          logger.Logger
}

// Manager owns the gorm connection.
type Manager struct {
	db     *gorm.DB
	driver string
	log    logger.Logger
}

// Models lists every entity managed by AutoMigrate, parents first.
func Models() []any {
	return []any{
		&entities.NotificationTemplate{},
		&entities.NotificationChannel{},
		&entities.Notification{},
		&entities.NotificationRecipient{},
		&entities.NotificationDelivery{},
		&entities.UserNotificationPreference{},
		&entities.DigestEntry{},
		&entities.AlertDefinition{},
		&entities.AlertHistory{},
	}
}

// Open selects the manager for cfg.Driver.
func Open(cfg Config) (*Manager, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return NewSQLiteManager(cfg)
	case DriverMySQL:
		return NewMySQLManager(cfg)
	default:
		return nil, errors.Newf("unsupported database driver %q", cfg.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// NewSQLiteManager opens (creating if needed) a SQLite database file.
func NewSQLiteManager(cfg Config) (*Manager, error) {
	path := cfg.Path
	if path == "" {
		path = filepath.Join(cfg.DataDir, defaultSQLiteFile)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Newf("failed to create database directory: %w", err).
				Component("datastore").
				Category(errors.CategorySystem).
				Context("path", dir).
				Build()
		}
	}

	dsn := path + "?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg))
	if err != nil {
		return nil, errors.Newf("failed to open sqlite database: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("path", path).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY under
	// concurrent dispatch.
	sqlDB.SetMaxOpenConns(1)

	return &Manager{db: db, driver: DriverSQLite, log: orDiscard(cfg.Logger)}, nil
}

// NewMySQLManager connects to MySQL. parseTime and UTC location are forced
// so timestamps round-trip as time.Time.
func NewMySQLManager(cfg Config) (*Manager, error) {
	parsed, err := mysqldriver.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errors.Newf("invalid mysql dsn: %w", err).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC

	db, err := gorm.Open(mysql.Open(parsed.FormatDSN()), gormConfig(cfg))
	if err != nil {
		return nil, errors.Newf("failed to connect to mysql: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("addr", parsed.Addr).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Manager{db: db, driver: DriverMySQL, log: orDiscard(cfg.Logger)}, nil
}

// NewFromDB wraps an existing gorm connection, mainly for tests.
func NewFromDB(db *gorm.DB, driver string) *Manager {
	return &Manager{db: db, driver: driver, log: logger.Discard()}
}

func gormConfig(cfg Config) *gorm.Config {
	level := gorm_logger.Silent
	if cfg.Debug {
		level = gorm_logger.Info
	}
	return &gorm.Config{
		Logger:  gorm_logger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func orDiscard(l logger.Logger) logger.Logger {
	if l == nil {
		return logger.Discard()
	}
	return l
}

// Initialize migrates the schema.
func (m *Manager) Initialize() error {
	start := time.Now()
	if err := m.db.AutoMigrate(Models()...); err != nil {
		return errors.Newf("failed to migrate schema: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("driver", m.driver).
			Build()
	}
	m.log.Info("datastore schema migrated",
		logger.String("driver", m.driver),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// DB returns the gorm handle.
func (m *Manager) DB() *gorm.DB { return m.db }

// Driver returns the active driver name.
func (m *Manager) Driver() string { return m.driver }

// IsMySQL reports whether the MySQL driver is active.
func (m *Manager) IsMySQL() bool { return m.driver == DriverMySQL }

// Ping checks connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
