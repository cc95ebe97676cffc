package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Database     string        `mapstructure:"database"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

// Connect establishes a connection to PostgreSQL with pool settings applied
func Connect(config DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.Username, config.Password,
		config.Database, config.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.MaxLifetime > 0 {
		db.SetConnMaxLifetime(config.MaxLifetime)
	}

	return db, nil
}

// HealthCheck verifies database connectivity
func HealthCheck(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// SQLError wraps a database error with its operation and query
type SQLError struct {
	Query     string
	Args      []interface{}
	Err       error
	Operation string
}

// Error implements the error interface
func (e *SQLError) Error() string {
	return fmt.Sprintf("sql error in operation '%s': %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *SQLError) Unwrap() error {
	return e.Err
}

// WrapSQLError wraps a SQL error with additional context
func WrapSQLError(err error, operation, query string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	return &SQLError{
		Query:     query,
		Args:      args,
		Err:       err,
		Operation: operation,
	}
}

// IsNoRowsError checks if the error is a "no rows" error
func IsNoRowsError(err error) bool {
	return err == sql.ErrNoRows
}

// IsUniqueConstraintError checks if the error is a unique constraint violation
func IsUniqueConstraintError(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return string(pqErr.Code) == "23505" // unique_violation
	}
	return false
}
