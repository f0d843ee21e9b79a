package store

// schemaVersion is the ledger layout written by this build.
const schemaVersion = 1

var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL,
	input_digest     TEXT NOT NULL,
	allowed          INTEGER NOT NULL,
	golden_pass_rate REAL NOT NULL,
	failing_rules    INTEGER NOT NULL DEFAULT 0,
	recorded_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id);
`
