package postgres

// schemaCommon holds the statements shared by both schema variants.
// The embedding column differs: vector(N) typed when pgvector is
// installed, bytea otherwise.
const schemaCommon = `
CREATE TABLE IF NOT EXISTS archival_records (
	agent_id   TEXT NOT NULL,
	id         TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	turn_id    INTEGER NOT NULL DEFAULT 0,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	tags       JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agent_id, id)
);

CREATE INDEX IF NOT EXISTS idx_archive_agent_session
	ON archival_records(agent_id, session_id, turn_id);

CREATE INDEX IF NOT EXISTS idx_archive_agent_created
	ON archival_records(agent_id, created_at);

CREATE TABLE IF NOT EXISTS index_map (
	agent_id    TEXT NOT NULL,
	item_id     TEXT NOT NULL,
	internal_id INTEGER NOT NULL,
	deleted     BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agent_id, item_id)
);
`

// Schema is the bytea-embedding variant, applied when pgvector is not
// installed.
const Schema = `
CREATE TABLE IF NOT EXISTS recall_items (
	agent_id            TEXT NOT NULL,
	id                  TEXT NOT NULL,
	kind                TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	content             TEXT NOT NULL,
	confidence          DOUBLE PRECISION NOT NULL DEFAULT 0,
	importance          DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_active           BOOLEAN NOT NULL DEFAULT TRUE,
	valid_from          TIMESTAMPTZ NOT NULL DEFAULT now(),
	valid_to            TIMESTAMPTZ,
	last_used_at        TIMESTAMPTZ,
	last_confirmed_at   TIMESTAMPTZ,
	evidence_record_id  TEXT NOT NULL DEFAULT '',
	evidence_session_id TEXT NOT NULL DEFAULT '',
	evidence_turn_id    INTEGER NOT NULL DEFAULT 0,
	embedding           BYTEA,
	embedding_model     TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agent_id, id)
);

CREATE INDEX IF NOT EXISTS idx_recall_agent_active
	ON recall_items(agent_id, is_active);

CREATE INDEX IF NOT EXISTS idx_recall_agent_kind
	ON recall_items(agent_id, kind, is_active);
` + schemaCommon

// SchemaVector is the pgvector variant. The dimension is intentionally
// unconstrained (vector without a typmod) so one deployment can mix
// embedding models; cosine queries still work per-row.
const SchemaVector = `
CREATE TABLE IF NOT EXISTS recall_items (
	agent_id            TEXT NOT NULL,
	id                  TEXT NOT NULL,
	kind                TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	content             TEXT NOT NULL,
	confidence          DOUBLE PRECISION NOT NULL DEFAULT 0,
	importance          DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_active           BOOLEAN NOT NULL DEFAULT TRUE,
	valid_from          TIMESTAMPTZ NOT NULL DEFAULT now(),
	valid_to            TIMESTAMPTZ,
	last_used_at        TIMESTAMPTZ,
	last_confirmed_at   TIMESTAMPTZ,
	evidence_record_id  TEXT NOT NULL DEFAULT '',
	evidence_session_id TEXT NOT NULL DEFAULT '',
	evidence_turn_id    INTEGER NOT NULL DEFAULT 0,
	embedding           vector,
	embedding_model     TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agent_id, id)
);

CREATE INDEX IF NOT EXISTS idx_recall_agent_active
	ON recall_items(agent_id, is_active);

CREATE INDEX IF NOT EXISTS idx_recall_agent_kind
	ON recall_items(agent_id, kind, is_active);
` + schemaCommon
