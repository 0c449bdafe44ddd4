// ABOUTME: Database schema definitions and migrations
// ABOUTME: Handles SQLite table creation and initialization
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS families (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS goals (
	id TEXT PRIMARY KEY,
	family_id TEXT NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'in_progress' CHECK(status IN ('in_progress', 'completed', 'abandoned')),
	due_date DATE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (family_id) REFERENCES families(id)
);

CREATE INDEX IF NOT EXISTS idx_goals_family_id ON goals(family_id);
CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status);

CREATE TABLE IF NOT EXISTS goal_assignees (
	goal_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (goal_id, user_id),
	FOREIGN KEY (goal_id) REFERENCES goals(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_goal_assignees_user ON goal_assignees(user_id);

CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL CHECK(kind IN ('weekly_review', 'monthly_review', 'quarterly_review', 'yearly_review')),
	family_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	period_start DATE NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (family_id) REFERENCES families(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_reviews_user_kind ON reviews(user_id, kind);
CREATE INDEX IF NOT EXISTS idx_reviews_completed ON reviews(completed);

CREATE TABLE IF NOT EXISTS calendar_credentials (
	user_id TEXT PRIMARY KEY,
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	token_expires_at DATETIME NOT NULL,
	calendar_id TEXT NOT NULL,
	calendar_name TEXT,
	account_email TEXT,
	sync_status TEXT NOT NULL DEFAULT 'active' CHECK(sync_status IN ('active', 'paused', 'error')),
	last_sync_at DATETIME,
	last_error TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS event_mappings (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	syncable_type TEXT NOT NULL CHECK(syncable_type IN ('goal', 'weekly_review', 'monthly_review', 'quarterly_review', 'yearly_review')),
	syncable_id TEXT NOT NULL,
	google_event_id TEXT NOT NULL,
	google_calendar_id TEXT NOT NULL,
	etag TEXT,
	last_synced_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(user_id, google_event_id),
	UNIQUE(user_id, syncable_type, syncable_id),
	FOREIGN KEY (user_id) REFERENCES calendar_credentials(user_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_event_mappings_user ON event_mappings(user_id);
CREATE INDEX IF NOT EXISTS idx_event_mappings_syncable ON event_mappings(syncable_type, syncable_id);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
