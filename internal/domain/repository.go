// Package domain defines the core interfaces and types for ScamShield.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Event operations
	SaveEvent(ctx context.Context, tenantID string, ev *Event) error
	GetEvent(ctx context.Context, tenantID string, eventID string) (*Event, error)

	// Rule definition operations
	SaveRuleDefinition(ctx context.Context, tenantID string, rule *RuleDefinition) error
	GetRuleDefinition(ctx context.Context, tenantID string, ruleID string) (*RuleDefinition, error)
	ListRuleDefinitions(ctx context.Context, tenantID string) ([]*RuleDefinition, error)
	DeleteRuleDefinition(ctx context.Context, tenantID string, ruleID string) error

	// Detection results
	SaveDetection(ctx context.Context, tenantID string, d *Detection) error
	GetDetection(ctx context.Context, tenantID string, detectionID string) (*Detection, error)

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

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"
