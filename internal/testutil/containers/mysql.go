//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MySQLConfig configures the MySQL container.
type MySQLConfig struct {
	Image    string
	Database string
	Username string
	Password string
}

// DefaultMySQLConfig returns the settings used when NewMySQLContainer gets nil.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Image:    "mysql:8.0",
		Database: "notify_test",
		Username: "notify",
		Password: "notify",
	}
}

// MySQLContainer is a running MySQL server plus an admin connection.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	db        *sql.DB
	dsn       string
}

// NewMySQLContainer starts MySQL and waits until it answers queries.
func NewMySQLContainer(ctx context.Context, cfg *MySQLConfig) (*MySQLContainer, error) {
	c := DefaultMySQLConfig()
	if cfg != nil {
		c = *cfg
	}

	ctr, err := mysql.Run(ctx, c.Image,
		mysql.WithDatabase(c.Database),
		mysql.WithUsername(c.Username),
		mysql.WithPassword(c.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start mysql container: %w", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return nil, fmt.Errorf("failed to build mysql dsn: %w", err)
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	db.SetMaxOpenConns(5)

	m := &MySQLContainer{container: ctr, db: db, dsn: dsn}
	if err := m.HealthCheck(ctx); err != nil {
		_ = m.Terminate(context.Background())
		return nil, err
	}
	return m, nil
}

// GetDSN returns a go-sql-driver connection string for the test database.
func (c *MySQLContainer) GetDSN() string { return c.dsn }

// DB returns the shared admin connection. Tests must not close it.
func (c *MySQLContainer) DB() *sql.DB { return c.db }

// HealthCheck runs SELECT 1.
func (c *MySQLContainer) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("mysql health check failed: %w", err)
	}
	return nil
}

// Reset truncates tables with foreign key checks disabled.
func (c *MySQLContainer) Reset(ctx context.Context, tables []string) error {
	for _, t := range tables {
		if !tableNameRe.MatchString(t) {
			return fmt.Errorf("invalid table name %q", t)
		}
	}

	// FOREIGN_KEY_CHECKS is per session, so every statement must share one connection.
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve mysql connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return fmt.Errorf("failed to disable foreign key checks: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.WithoutCancel(ctx), "SET FOREIGN_KEY_CHECKS = 1") }()

	for _, t := range tables {
		if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE `"+t+"`"); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", t, err)
		}
	}
	return nil
}

// Terminate closes the connection and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate mysql container: %w", err)
	}
	return nil
}
