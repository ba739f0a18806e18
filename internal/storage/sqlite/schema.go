package sqlite

// Schema creates the three tables of the layered memory store.
//
// recall_items is the authoritative hot tier; archival_records is the
// append-only cold tier; index_map is the durable mirror of similarity
// index placement (one live row per (agent_id, item_id), tombstoned
// via the deleted flag until compaction rewrites the set).
const Schema = `
CREATE TABLE IF NOT EXISTS recall_items (
	agent_id            TEXT    NOT NULL,
	id                  TEXT    NOT NULL,
	kind                TEXT    NOT NULL,
	title               TEXT    NOT NULL DEFAULT '',
	content             TEXT    NOT NULL,
	confidence          REAL    NOT NULL DEFAULT 0,
	importance          REAL    NOT NULL DEFAULT 0,
	is_active           INTEGER NOT NULL DEFAULT 1,
	valid_from          TIMESTAMP NOT NULL,
	valid_to            TIMESTAMP,
	last_used_at        TIMESTAMP,
	last_confirmed_at   TIMESTAMP,
	evidence_record_id  TEXT    NOT NULL DEFAULT '',
	evidence_session_id TEXT    NOT NULL DEFAULT '',
	evidence_turn_id    INTEGER NOT NULL DEFAULT 0,
	embedding           BLOB,
	embedding_model     TEXT    NOT NULL DEFAULT '',
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL,
	PRIMARY KEY (agent_id, id)
);

CREATE INDEX IF NOT EXISTS idx_recall_agent_active
	ON recall_items(agent_id, is_active);

CREATE INDEX IF NOT EXISTS idx_recall_agent_kind
	ON recall_items(agent_id, kind, is_active);

CREATE TABLE IF NOT EXISTS archival_records (
	agent_id   TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	session_id TEXT    NOT NULL DEFAULT '',
	turn_id    INTEGER NOT NULL DEFAULT 0,
	role       TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	tags       TEXT,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (agent_id, id)
);

CREATE INDEX IF NOT EXISTS idx_archive_agent_session
	ON archival_records(agent_id, session_id, turn_id);

CREATE INDEX IF NOT EXISTS idx_archive_agent_created
	ON archival_records(agent_id, created_at);

CREATE TABLE IF NOT EXISTS index_map (
	agent_id    TEXT    NOT NULL,
	item_id     TEXT    NOT NULL,
	internal_id INTEGER NOT NULL,
	deleted     INTEGER NOT NULL DEFAULT 0,
	updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (agent_id, item_id)
);
`
