package sqlite

const schema = `
-- Mapping schema ------------------------------------------------------------

CREATE TABLE IF NOT EXISTS entity_mappings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id TEXT NOT NULL,
    source_type TEXT NOT NULL,
    target_id TEXT NOT NULL,
    target_type TEXT NOT NULL,
    confidence REAL NOT NULL CHECK(confidence >= 0.0 AND confidence <= 1.0),
    mapping_source TEXT NOT NULL DEFAULT '',
    is_derived INTEGER NOT NULL DEFAULT 0,
    derivation_path TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires_at DATETIME NOT NULL,
    usage_count INTEGER NOT NULL DEFAULT 0,
    UNIQUE(source_id, source_type, target_id, target_type)
);

CREATE INDEX IF NOT EXISTS idx_mappings_source ON entity_mappings(source_id, source_type);
CREATE INDEX IF NOT EXISTS idx_mappings_target ON entity_mappings(target_id, target_type);
CREATE INDEX IF NOT EXISTS idx_mappings_expires ON entity_mappings(expires_at);

-- Metadata bag for mapping rows. Replaced wholesale on re-insert.
CREATE TABLE IF NOT EXISTS mapping_metadata (
    mapping_id INTEGER NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (mapping_id, key),
    FOREIGN KEY (mapping_id) REFERENCES entity_mappings(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS entity_type_config (
    source_type TEXT NOT NULL,
    target_type TEXT NOT NULL,
    ttl_days INTEGER NOT NULL DEFAULT 365,
    confidence_threshold REAL NOT NULL DEFAULT 0.0,
    PRIMARY KEY (source_type, target_type)
);

-- One row per UTC calendar day. Counters are only ever incremented in place.
CREATE TABLE IF NOT EXISTS cache_stats (
    date TEXT PRIMARY KEY,
    hits INTEGER NOT NULL DEFAULT 0,
    misses INTEGER NOT NULL DEFAULT 0,
    direct_lookups INTEGER NOT NULL DEFAULT 0,
    derived_lookups INTEGER NOT NULL DEFAULT 0,
    api_calls INTEGER NOT NULL DEFAULT 0,
    transitive_derivations INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transitive_job_log (
    job_id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    status TEXT NOT NULL DEFAULT 'running',
    mappings_processed INTEGER NOT NULL DEFAULT 0,
    new_mappings_created INTEGER NOT NULL DEFAULT 0,
    duration_seconds REAL NOT NULL DEFAULT 0
);

-- Metadata schema -----------------------------------------------------------

CREATE TABLE IF NOT EXISTS resource_metadata (
    resource_name TEXT PRIMARY KEY,
    resource_type TEXT NOT NULL,
    connection_info TEXT NOT NULL DEFAULT '{}',
    priority INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    last_sync DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ontology_coverage (
    resource_name TEXT NOT NULL,
    ontology_type TEXT NOT NULL,
    support_level TEXT NOT NULL DEFAULT 'none',
    entity_count INTEGER,
    PRIMARY KEY (resource_name, ontology_type),
    FOREIGN KEY (resource_name) REFERENCES resource_metadata(resource_name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS performance_metrics (
    resource_name TEXT NOT NULL,
    operation_type TEXT NOT NULL,
    source_type TEXT NOT NULL DEFAULT '',
    target_type TEXT NOT NULL DEFAULT '',
    avg_response_time_ms REAL NOT NULL DEFAULT 0,
    success_rate REAL NOT NULL DEFAULT 0 CHECK(success_rate >= 0.0 AND success_rate <= 1.0),
    sample_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (resource_name, operation_type, source_type, target_type),
    FOREIGN KEY (resource_name) REFERENCES resource_metadata(resource_name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS operation_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    resource_name TEXT NOT NULL,
    operation_type TEXT NOT NULL,
    source_type TEXT NOT NULL DEFAULT '',
    target_type TEXT NOT NULL DEFAULT '',
    query TEXT NOT NULL DEFAULT '',
    response_time_ms INTEGER,
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (resource_name) REFERENCES resource_metadata(resource_name) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_oplogs_resource ON operation_logs(resource_name);
CREATE INDEX IF NOT EXISTS idx_oplogs_created_at ON operation_logs(created_at);
`
