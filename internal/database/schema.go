package database

// Schema is applied idempotently at open. SQLite dialect; timestamps are
// stored as UTC ISO-8601 text.
const Schema = `
CREATE TABLE IF NOT EXISTS organizations (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE,
    settings TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    org_id TEXT NOT NULL,
    verified INTEGER NOT NULL DEFAULT 0,
    locked_until TEXT,
    failed_attempts INTEGER NOT NULL DEFAULT 0,
    account_status TEXT NOT NULL DEFAULT 'pending_review',
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS agent_channels (
    agent_id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    phone_number TEXT,
    phone_number_sid TEXT,
    whatsapp_sender_sid TEXT,
    whatsapp_status TEXT,
    email_address TEXT,
    voice_id TEXT,
    system_prompt TEXT,
    greeting TEXT,
    callback_url TEXT,
    blocked_channels TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    org_id TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE INDEX IF NOT EXISTS idx_agent_channels_org ON agent_channels(org_id);
CREATE INDEX IF NOT EXISTS idx_agent_channels_phone ON agent_channels(phone_number);
CREATE INDEX IF NOT EXISTS idx_agent_channels_email ON agent_channels(email_address);
CREATE INDEX IF NOT EXISTS idx_agent_channels_wa ON agent_channels(whatsapp_sender_sid);

CREATE TABLE IF NOT EXISTS agent_pool (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    max_agents INTEGER NOT NULL,
    active_agents INTEGER NOT NULL DEFAULT 0,
    CHECK (active_agents >= 0 AND active_agents <= max_agents)
);

INSERT OR IGNORE INTO agent_pool (id, max_agents, active_agents) VALUES (1, 50, 0);

CREATE TABLE IF NOT EXISTS whatsapp_pool (
    sender_sid TEXT PRIMARY KEY,
    phone_number TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'available',
    assigned_to_agent TEXT
);

CREATE TABLE IF NOT EXISTS number_pool (
    phone_number TEXT NOT NULL,
    country_code TEXT NOT NULL,
    capabilities TEXT NOT NULL DEFAULT 'sms,voice',
    is_default INTEGER NOT NULL DEFAULT 0,
    org_id TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    PRIMARY KEY (phone_number, org_id)
);

CREATE INDEX IF NOT EXISTS idx_number_pool_org ON number_pool(org_id);

CREATE TABLE IF NOT EXISTS agent_tokens (
    token_hash TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    revoked_at TEXT,
    last_used_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_agent_tokens_agent ON agent_tokens(agent_id);

CREATE TABLE IF NOT EXISTS org_tokens (
    token_hash TEXT PRIMARY KEY,
    org_id TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    revoked_at TEXT,
    last_used_at TEXT
);

CREATE TABLE IF NOT EXISTS usage_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id TEXT NOT NULL,
    action_type TEXT NOT NULL,
    channel TEXT NOT NULL,
    target_address TEXT NOT NULL,
    cost REAL NOT NULL DEFAULT 0,
    external_id TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    org_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_agent_time ON usage_logs(agent_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_org ON usage_logs(org_id);

CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL,
    target TEXT,
    details TEXT,
    prev_hash TEXT,
    row_hash TEXT NOT NULL,
    org_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dead_letters (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    org_id TEXT NOT NULL,
    channel TEXT NOT NULL,
    direction TEXT NOT NULL,
    reason TEXT NOT NULL,
    from_address TEXT,
    to_address TEXT,
    body TEXT,
    media_url TEXT,
    original_request TEXT,
    error_details TEXT,
    external_id TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    acknowledged_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_dead_letters_agent ON dead_letters(agent_id, status, created_at);

CREATE TABLE IF NOT EXISTS spending_limits (
    agent_id TEXT PRIMARY KEY,
    max_actions_per_minute INTEGER NOT NULL DEFAULT 0,
    max_actions_per_hour INTEGER NOT NULL DEFAULT 0,
    max_actions_per_day INTEGER NOT NULL DEFAULT 0,
    max_spend_per_day REAL NOT NULL DEFAULT 0,
    max_spend_per_month REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS billing_config (
    agent_id TEXT PRIMARY KEY,
    tier TEXT NOT NULL DEFAULT 'free',
    markup_percent REAL NOT NULL DEFAULT 0,
    billing_email TEXT
);

CREATE TABLE IF NOT EXISTS call_logs (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    call_sid TEXT NOT NULL,
    direction TEXT NOT NULL,
    from_address TEXT NOT NULL,
    to_address TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    duration_seconds INTEGER,
    transfer_to TEXT,
    ended_at TEXT,
    org_id TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE INDEX IF NOT EXISTS idx_call_logs_sid ON call_logs(call_sid);
CREATE INDEX IF NOT EXISTS idx_call_logs_agent ON call_logs(agent_id);

CREATE TABLE IF NOT EXISTS erasure_requests (
    id TEXT PRIMARY KEY,
    subject_identifier TEXT NOT NULL,
    identifier_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    tables_affected TEXT NOT NULL DEFAULT '',
    rows_deleted INTEGER NOT NULL DEFAULT 0,
    completed_at TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS dnc_list (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    phone_number TEXT,
    email_address TEXT,
    reason TEXT NOT NULL DEFAULT '',
    added_by TEXT NOT NULL DEFAULT '',
    added_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    org_id TEXT NOT NULL,
    CHECK ((phone_number IS NOT NULL) <> (email_address IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_dnc_phone ON dnc_list(phone_number, org_id);
CREATE INDEX IF NOT EXISTS idx_dnc_email ON dnc_list(email_address, org_id);

CREATE TABLE IF NOT EXISTS otp_codes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    contact_address TEXT NOT NULL,
    code_hash TEXT NOT NULL,
    expires_at TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    purpose TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE INDEX IF NOT EXISTS idx_otp_contact ON otp_codes(contact_address, purpose);

CREATE TABLE IF NOT EXISTS provider_credentials (
    org_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    secret TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
    PRIMARY KEY (org_id, provider)
);
`
