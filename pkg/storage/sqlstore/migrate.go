package sqlstore

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
)

// schemaVersion is recorded in the meta table after a successful migration.
const schemaVersion = "1"

// The DDL sticks to types both SQLite and PostgreSQL accept. Timestamps are
// unix nanoseconds, booleans are 0/1 and string sets are JSON arrays.
var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		started_at BIGINT NOT NULL,
		ended_at BIGINT,
		entities TEXT NOT NULL,
		files TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 0,
		consolidated INTEGER NOT NULL DEFAULT 0,
		closing_marker TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_started ON conversations(started_at)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		ts BIGINT NOT NULL,
		role TEXT NOT NULL,
		body TEXT NOT NULL,
		entities TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, position)`,
	`CREATE TABLE IF NOT EXISTS patterns (
		signature TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		category TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		observed_count INTEGER NOT NULL,
		examples TEXT NOT NULL,
		last_reinforced_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_patterns_category ON patterns(category)`,
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaV1 {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration v1: %w", err)
		}
	}

	query, args := s.builder().Insert(tableMeta).
		Columns("key", "value").
		Values("schema_version", schemaVersion).
		OnConflict(entsql.ConflictColumns("key"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}

// SchemaVersion returns the schema version recorded in the meta table.
func (s *Store) SchemaVersion(ctx context.Context) (string, error) {
	b := s.builder()
	query, args := b.Select("value").
		From(b.Table(tableMeta)).
		Where(entsql.EQ("key", "schema_version")).
		Query()

	var version string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&version); err != nil {
		return "", fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}
