package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1. The SQL is
// kept to the subset understood by both sqlite and postgres: booleans are
// INTEGER 0/1 and lists are JSON-encoded TEXT.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS tenants (
	id                         TEXT PRIMARY KEY,
	name                       TEXT NOT NULL DEFAULT '',
	sla_hours                  INTEGER NOT NULL,
	escalation_timeout_minutes INTEGER NOT NULL,
	created_at                 TIMESTAMP NOT NULL,
	updated_at                 TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id                    TEXT PRIMARY KEY,
	tenant_id             TEXT NOT NULL,
	email                 TEXT NOT NULL DEFAULT '',
	name                  TEXT NOT NULL DEFAULT '',
	role                  TEXT NOT NULL,
	managed_by            TEXT NOT NULL DEFAULT '',
	auto_response_enabled INTEGER NOT NULL DEFAULT 0,
	signature             TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMP NOT NULL,
	updated_at            TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_tenant ON users(tenant_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_one_upper_admin
	ON users(tenant_id) WHERE role = 'upper_admin';

CREATE TABLE IF NOT EXISTS communications (
	id                  TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	source              TEXT NOT NULL,
	direction           TEXT NOT NULL DEFAULT 'inbound',
	external_id         TEXT NOT NULL,
	account_id          TEXT NOT NULL DEFAULT '',
	folder              TEXT NOT NULL DEFAULT '',
	message_id          TEXT NOT NULL DEFAULT '',
	owner_user_id       TEXT NOT NULL,
	sender              TEXT NOT NULL DEFAULT '',
	recipient           TEXT NOT NULL DEFAULT '',
	subject             TEXT NOT NULL DEFAULT '',
	body                TEXT NOT NULL,
	snippet             TEXT NOT NULL DEFAULT '',
	sender_automated    INTEGER NOT NULL DEFAULT 0,
	received_at         TIMESTAMP NOT NULL,
	sla_due_date        TIMESTAMP NOT NULL,
	summary             TEXT NOT NULL DEFAULT '',
	urgency             TEXT NOT NULL DEFAULT '',
	sentiment           TEXT NOT NULL DEFAULT '',
	requires_response   INTEGER NOT NULL DEFAULT 0,
	response_reason     TEXT NOT NULL DEFAULT '',
	suggested_response  TEXT NOT NULL DEFAULT '',
	key_points          TEXT NOT NULL DEFAULT '[]',
	action_items        TEXT NOT NULL DEFAULT '[]',
	processed_at        TIMESTAMP,
	status              TEXT NOT NULL,
	has_auto_response   INTEGER NOT NULL DEFAULT 0,
	has_been_replied    INTEGER NOT NULL DEFAULT 0,
	auto_activation     TEXT NOT NULL DEFAULT '',
	awaiting_user_input INTEGER NOT NULL DEFAULT 0,
	replied_by          TEXT NOT NULL DEFAULT '',
	replied_at          TIMESTAMP,
	is_escalated        INTEGER NOT NULL DEFAULT 0,
	escalation_history  TEXT NOT NULL DEFAULT '[]',
	visible_to          TEXT NOT NULL DEFAULT '[]',
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL,
	UNIQUE (source, external_id)
);

CREATE INDEX IF NOT EXISTS idx_comm_tenant_received ON communications(tenant_id, received_at);
CREATE INDEX IF NOT EXISTS idx_comm_owner ON communications(owner_user_id);
CREATE INDEX IF NOT EXISTS idx_comm_escalation
	ON communications(tenant_id, is_escalated, has_been_replied, urgency);
CREATE INDEX IF NOT EXISTS idx_comm_unprocessed ON communications(processed_at);

CREATE TABLE IF NOT EXISTS notifications (
	id                       TEXT PRIMARY KEY,
	tenant_id                TEXT NOT NULL,
	recipient_user_id        TEXT NOT NULL,
	type                     TEXT NOT NULL,
	priority                 TEXT NOT NULL,
	related_communication_id TEXT NOT NULL DEFAULT '',
	title                    TEXT NOT NULL DEFAULT '',
	message                  TEXT NOT NULL DEFAULT '',
	is_read                  INTEGER NOT NULL DEFAULT 0,
	created_at               TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_user_id, is_read);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS sync_cursors (
	account_id     TEXT NOT NULL,
	folder         TEXT NOT NULL,
	last_synced_at TIMESTAMP NOT NULL,
	PRIMARY KEY (account_id, folder)
);

CREATE TABLE IF NOT EXISTS claims (
	claim_key  TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
