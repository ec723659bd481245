package database

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    phone_number TEXT NOT NULL UNIQUE,
    api_id INTEGER NOT NULL DEFAULT 0,
    api_hash TEXT NOT NULL DEFAULT '',
    is_active BOOLEAN NOT NULL DEFAULT true,
    session_status TEXT NOT NULL DEFAULT 'unknown',
    last_error TEXT NOT NULL DEFAULT '',
    pending_phone TEXT NOT NULL DEFAULT '',
    phone_code_hash TEXT NOT NULL DEFAULT '',
    session_blob BLOB,
    last_check_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    input_identifier TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT true,
    show_source BOOLEAN NOT NULL DEFAULT true,
    mode TEXT NOT NULL DEFAULT 'copy',
    channel_id INTEGER NOT NULL DEFAULT 0,
    access_hash INTEGER NOT NULL DEFAULT 0,
    username TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    invite_link TEXT NOT NULL DEFAULT '',
    is_private BOOLEAN NOT NULL DEFAULT false,
    last_message_id INTEGER NOT NULL DEFAULT 0,
    last_validated_at DATETIME,
    validation_status TEXT NOT NULL DEFAULT 'unknown',
    validation_error TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(account_id, input_identifier)
);

CREATE TABLE IF NOT EXISTS targets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    target_type TEXT NOT NULL DEFAULT 'telegram',
    account_id INTEGER REFERENCES accounts(id) ON DELETE CASCADE,
    channel_identifier TEXT NOT NULL DEFAULT '',
    email_address TEXT NOT NULL DEFAULT '',
    is_active BOOLEAN NOT NULL DEFAULT true,
    channel_id INTEGER NOT NULL DEFAULT 0,
    access_hash INTEGER NOT NULL DEFAULT 0,
    username TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    last_validated_at DATETIME,
    validation_status TEXT NOT NULL DEFAULT 'unknown',
    validation_error TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mappings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    target_id INTEGER NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
    is_active BOOLEAN NOT NULL DEFAULT true,
    delay_seconds INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(source_id, target_id)
);

CREATE TABLE IF NOT EXISTS deliveries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mapping_id INTEGER NOT NULL REFERENCES mappings(id) ON DELETE CASCADE,
    message_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(mapping_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_accounts_active ON accounts(is_active);
CREATE INDEX IF NOT EXISTS idx_sources_account ON sources(account_id);
CREATE INDEX IF NOT EXISTS idx_sources_active ON sources(is_active, validation_status);
CREATE INDEX IF NOT EXISTS idx_mappings_source ON mappings(source_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_mapping ON deliveries(mapping_id);
`
