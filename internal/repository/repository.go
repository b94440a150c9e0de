// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/scamshield/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvent stores an event with tenant isolation.
func (r *SQLRepository) SaveEvent(ctx context.Context, tenantID string, ev *domain.Event) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}

	sender, err := json.Marshal(ev.Sender)
	if err != nil {
		return fmt.Errorf("failed to encode sender: %w", err)
	}
	reputation, err := json.Marshal(ev.Reputation)
	if err != nil {
		return fmt.Errorf("failed to encode reputation: %w", err)
	}
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO events (
			id, tenant_id, channel, text, display_domain, final_domain,
			sender, reputation, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, tenantID, ev.Channel, ev.Text, ev.DisplayDomain, ev.FinalDomain,
		string(sender), string(reputation), string(metadata), createdAt,
	)
	return err
}

// GetEvent retrieves an event by ID with tenant isolation.
func (r *SQLRepository) GetEvent(ctx context.Context, tenantID string, eventID string) (*domain.Event, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, channel, text, display_domain, final_domain,
			   sender, reputation, metadata, created_at
		FROM events
		WHERE tenant_id = ? AND id = ?
	`

	var ev domain.Event
	var sender, reputation string
	var display, final, metadata sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, eventID).Scan(
		&ev.ID, &ev.TenantID, &ev.Channel, &ev.Text, &display, &final,
		&sender, &reputation, &metadata, &ev.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ev.DisplayDomain = display.String
	ev.FinalDomain = final.String
	if err := json.Unmarshal([]byte(sender), &ev.Sender); err != nil {
		return nil, fmt.Errorf("failed to parse sender for event %s: %w", ev.ID, err)
	}
	if err := json.Unmarshal([]byte(reputation), &ev.Reputation); err != nil {
		return nil, fmt.Errorf("failed to parse reputation for event %s: %w", ev.ID, err)
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata for event %s: %w", ev.ID, err)
		}
	}

	return &ev, nil
}

// SaveRuleDefinition inserts or updates a rule. New rules are appended after
// the tenant's existing rules; updates keep their position.
func (r *SQLRepository) SaveRuleDefinition(ctx context.Context, tenantID string, rule *domain.RuleDefinition) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("%w: conditions: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_definitions (
			id, tenant_id, name, description, weight, hard_stop, conditions, enabled,
			position, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(position), -1) + 1 FROM rule_definitions WHERE tenant_id = ?),
			?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			weight = excluded.weight,
			hard_stop = excluded.hard_stop,
			conditions = excluded.conditions,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, rule.Weight,
		boolToInt(rule.HardStop), string(conditions), boolToInt(rule.Enabled),
		tenantID, now, now,
	)
	return err
}

const ruleColumns = `id, tenant_id, name, description, weight, hard_stop, conditions, enabled`

// GetRuleDefinition retrieves an enabled rule with tenant isolation.
func (r *SQLRepository) GetRuleDefinition(ctx context.Context, tenantID string, ruleID string) (*domain.RuleDefinition, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + `
		FROM rule_definitions
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	def, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return def, err
}

// ListRuleDefinitions retrieves all enabled rules for a tenant in load order.
func (r *SQLRepository) ListRuleDefinitions(ctx context.Context, tenantID string) ([]*domain.RuleDefinition, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + `
		FROM rule_definitions
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY position, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := []*domain.RuleDefinition{}
	for rows.Next() {
		def, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return defs, rows.Err()
}

// DeleteRuleDefinition soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DeleteRuleDefinition(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE rule_definitions
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.RuleDefinition, error) {
	var def domain.RuleDefinition
	var name, description sql.NullString
	var conditions string
	var hardStop, enabled int

	if err := row.Scan(
		&def.ID, &def.TenantID, &name, &description,
		&def.Weight, &hardStop, &conditions, &enabled,
	); err != nil {
		return nil, err
	}

	def.Name = name.String
	def.Description = description.String
	def.HardStop = hardStop == 1
	def.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(conditions), &def.Conditions); err != nil {
		return nil, fmt.Errorf("failed to parse conditions for rule %s: %w", def.ID, err)
	}

	return &def, nil
}

// SaveDetection stores a detection with tenant isolation.
func (r *SQLRepository) SaveDetection(ctx context.Context, tenantID string, d *domain.Detection) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	ruleHits, err := json.Marshal(d.RuleHits)
	if err != nil {
		return fmt.Errorf("failed to encode rule hits: %w", err)
	}
	actions, _ := json.Marshal(d.Actions)
	metadata, _ := json.Marshal(d.Metadata)

	var secondary sql.NullFloat64
	if d.SecondaryScore != nil {
		secondary = sql.NullFloat64{Float64: *d.SecondaryScore, Valid: true}
	}

	query := `
		INSERT INTO detections (
			id, tenant_id, event_id, score, tier, hard_stop, expert_score,
			secondary_score, blended, rule_hits, actions, summary, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		d.ID, tenantID, d.EventID, d.Score, string(d.Tier), boolToInt(d.HardStop), d.ExpertScore,
		secondary, boolToInt(d.Blended), string(ruleHits), string(actions), d.Summary,
		d.Timestamp, string(metadata),
	)
	return err
}

// GetDetection retrieves a detection by ID with tenant isolation.
func (r *SQLRepository) GetDetection(ctx context.Context, tenantID string, detectionID string) (*domain.Detection, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, event_id, score, tier, hard_stop, expert_score,
			   secondary_score, blended, rule_hits, actions, summary, timestamp, metadata
		FROM detections
		WHERE tenant_id = ? AND id = ?
	`

	var d domain.Detection
	var tier, ruleHits, actions, metadata string
	var hardStop, blended int
	var secondary sql.NullFloat64

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, detectionID).Scan(
		&d.ID, &d.TenantID, &d.EventID, &d.Score, &tier, &hardStop, &d.ExpertScore,
		&secondary, &blended, &ruleHits, &actions, &d.Summary, &d.Timestamp, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Tier = domain.Tier(tier)
	d.HardStop = hardStop == 1
	d.Blended = blended == 1
	if secondary.Valid {
		s := secondary.Float64
		d.SecondaryScore = &s
	}
	if err := json.Unmarshal([]byte(ruleHits), &d.RuleHits); err != nil {
		return nil, fmt.Errorf("failed to parse rule hits for detection %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &d.Actions); err != nil {
		return nil, fmt.Errorf("failed to parse actions for detection %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &d.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata for detection %s: %w", d.ID, err)
	}

	return &d, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
