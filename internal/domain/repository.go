package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Invoice snapshot operations
	SaveTransactions(ctx context.Context, tenantID string, txs []*Transaction) error
	GetTransaction(ctx context.Context, tenantID string, invoiceID string) (*Transaction, error)
	ListTransactions(ctx context.Context, tenantID string, since time.Time) ([]*Transaction, error)

	// Review rule operations
	SaveReviewRule(ctx context.Context, tenantID string, rule *ReviewRule) error
	GetReviewRule(ctx context.Context, tenantID string, ruleID string) (*ReviewRule, error)
	ListReviewRules(ctx context.Context, tenantID string) ([]*ReviewRule, error)
	DeleteReviewRule(ctx context.Context, tenantID string, ruleID string) error

	// Report results
	SaveReport(ctx context.Context, tenantID string, report *Report) error
	GetReport(ctx context.Context, tenantID string, reportID string) (*Report, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
