package repository

// Schema definitions for the ScamShield database.
// Compatible with both SQLite and PostgreSQL.

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    channel TEXT NOT NULL,
    text TEXT NOT NULL,
    display_domain TEXT,
    final_domain TEXT,
    sender TEXT NOT NULL,
    reputation TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_events_created ON events(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_final_domain ON events(tenant_id, final_domain);
`

// schemaRuleDefinitions stores declarative rules. position preserves load order;
// deleted rules are kept with enabled = 0.
const schemaRuleDefinitions = `
CREATE TABLE IF NOT EXISTS rule_definitions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT,
    description TEXT,
    weight REAL NOT NULL,
    hard_stop INTEGER NOT NULL DEFAULT 0,
    conditions TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    position INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_rule_definitions_order ON rule_definitions(tenant_id, enabled, position);
`

const schemaDetections = `
CREATE TABLE IF NOT EXISTS detections (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    event_id TEXT NOT NULL,
    score REAL NOT NULL,
    tier TEXT NOT NULL,
    hard_stop INTEGER NOT NULL DEFAULT 0,
    expert_score REAL NOT NULL,
    secondary_score REAL,
    blended INTEGER NOT NULL DEFAULT 0,
    rule_hits TEXT NOT NULL,
    actions TEXT NOT NULL,
    summary TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detections_tenant ON detections(tenant_id);
CREATE INDEX IF NOT EXISTS idx_detections_event ON detections(tenant_id, event_id);
CREATE INDEX IF NOT EXISTS idx_detections_tier ON detections(tenant_id, tier);
CREATE INDEX IF NOT EXISTS idx_detections_timestamp ON detections(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEvents,
		schemaRuleDefinitions,
		schemaDetections,
	}
}
