package state

import "database/sql"

func init() {
	registerMigration(migration{
		Version:     1,
		Description: "sessions and status history",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE sessions (
					name               TEXT PRIMARY KEY,
					project            TEXT NOT NULL DEFAULT '',
					status             TEXT,
					status_source      TEXT,
					attention_reason   TEXT,
					last_event         TEXT NOT NULL DEFAULT '',
					last_activity      INTEGER NOT NULL,
					last_status_change INTEGER,
					archived_at        INTEGER,
					created_at         INTEGER NOT NULL,
					updated_at         INTEGER NOT NULL,
					model              TEXT,
					cost_usd           REAL,
					context_usage      INTEGER,
					lines_added        INTEGER,
					lines_removed      INTEGER,
					worktree_path      TEXT,
					branch_name        TEXT
				);
				CREATE INDEX idx_sessions_last_activity ON sessions(last_activity);
				CREATE INDEX idx_sessions_archived_at ON sessions(archived_at);

				CREATE TABLE status_history (
					id               TEXT PRIMARY KEY,
					session_name     TEXT NOT NULL,
					status           TEXT NOT NULL,
					attention_reason TEXT,
					event            TEXT NOT NULL DEFAULT '',
					created_at       INTEGER NOT NULL
				);
				CREATE INDEX idx_status_history_session ON status_history(session_name, created_at);
				CREATE INDEX idx_status_history_created ON status_history(created_at);
			`)
			return err
		},
	})
}
