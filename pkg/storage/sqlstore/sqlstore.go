// Package sqlstore implements storage.Driver over database/sql using ent's
// dialect-aware SQL builder. The sqlite and postgres packages open the
// connection and hand it to New with their dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/storage"
)

const (
	tableConversations = "conversations"
	tableMessages      = "messages"
	tablePatterns      = "patterns"
	tableMeta          = "meta"
)

var conversationColumns = []string{
	"id", "title", "started_at", "ended_at", "entities", "files",
	"outcome", "active", "consolidated", "closing_marker",
}

var messageColumns = []string{
	"id", "conversation_id", "position", "ts", "role", "body", "entities",
}

var patternColumns = []string{
	"signature", "id", "category", "confidence", "observed_count",
	"examples", "last_reinforced_at", "created_at",
}

// Store is a SQL-backed storage.Driver.
type Store struct {
	db      *sql.DB
	dialect string
}

// New wraps db and migrates the schema. dialect is one of ent's dialect
// names (dialect.SQLite, dialect.Postgres).
func New(ctx context.Context, db *sql.DB, dialect string) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect)
}

// LoadConversations implements storage.ConversationDriver.
func (s *Store) LoadConversations(ctx context.Context) ([]memory.Conversation, error) {
	b := s.builder()
	query, args := b.Select(conversationColumns...).
		From(b.Table(tableConversations)).
		OrderBy("started_at", "id").
		Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []memory.Conversation
	index := make(map[string]int)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		index[c.ID] = len(convs)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading conversations: %w", err)
	}

	query, args = b.Select(messageColumns...).
		From(b.Table(tableMessages)).
		OrderBy("conversation_id", "position").
		Query()

	mrows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer mrows.Close()

	for mrows.Next() {
		m, err := scanMessage(mrows)
		if err != nil {
			return nil, err
		}
		i, ok := index[m.ConversationID]
		if !ok {
			continue
		}
		convs[i].Messages = append(convs[i].Messages, m)
	}
	if err := mrows.Err(); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}

	return convs, nil
}

// SaveConversation implements storage.ConversationDriver.
func (s *Store) SaveConversation(ctx context.Context, conv *memory.Conversation, evicted ...string) error {
	if conv == nil {
		return errors.New("cannot save nil conversation")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if len(evicted) > 0 {
			if err := s.deleteConversations(ctx, tx, evicted); err != nil {
				return err
			}
		}
		return s.saveConversation(ctx, tx, conv)
	})
}

// RolloverConversation implements storage.ConversationDriver.
func (s *Store) RolloverConversation(ctx context.Context, ended, started *memory.Conversation, evicted ...string) error {
	if started == nil {
		return errors.New("cannot save nil conversation")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if ended != nil {
			if err := s.saveConversation(ctx, tx, ended); err != nil {
				return err
			}
		}
		if len(evicted) > 0 {
			if err := s.deleteConversations(ctx, tx, evicted); err != nil {
				return err
			}
		}
		return s.saveConversation(ctx, tx, started)
	})
}

func (s *Store) saveConversation(ctx context.Context, tx *sql.Tx, conv *memory.Conversation) error {
	if err := s.upsertConversation(ctx, tx, conv); err != nil {
		return err
	}

	query, args := s.builder().Delete(tableMessages).
		Where(entsql.EQ("conversation_id", conv.ID)).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clearing messages of %s: %w", conv.ID, err)
	}

	for i, m := range conv.Messages {
		if err := s.insertMessage(ctx, tx, i, m); err != nil {
			return err
		}
	}
	return nil
}

// AppendMessage implements storage.ConversationDriver.
func (s *Store) AppendMessage(ctx context.Context, conv *memory.Conversation, msg memory.Message) error {
	if conv == nil {
		return errors.New("cannot append to nil conversation")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		entities, err := encodeJSON(conv.Entities)
		if err != nil {
			return err
		}
		files, err := encodeJSON(conv.FilesTouched)
		if err != nil {
			return err
		}

		query, args := s.builder().Update(tableConversations).
			Set("entities", entities).
			Set("files", files).
			Set("outcome", string(conv.Outcome)).
			Where(entsql.EQ("id", conv.ID)).
			Query()
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("updating conversation %s: %w", conv.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return storage.NotFoundError{ID: conv.ID}
		}

		return s.insertMessage(ctx, tx, len(conv.Messages)-1, msg)
	})
}

// LoadPatterns implements storage.PatternDriver.
func (s *Store) LoadPatterns(ctx context.Context) ([]memory.Pattern, error) {
	b := s.builder()
	query, args := b.Select(patternColumns...).
		From(b.Table(tablePatterns)).
		OrderBy("signature").
		Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}
	defer rows.Close()

	var out []memory.Pattern
	for rows.Next() {
		var (
			p          memory.Pattern
			category   string
			examples   string
			reinforced int64
			created    int64
		)
		if err := rows.Scan(&p.Signature, &p.ID, &category, &p.Confidence, &p.ObservedCount, &examples, &reinforced, &created); err != nil {
			return nil, fmt.Errorf("scanning pattern: %w", err)
		}
		p.Category = memory.Category(category)
		if err := json.Unmarshal([]byte(examples), &p.Examples); err != nil {
			return nil, fmt.Errorf("decoding examples of %q: %w", p.Signature, err)
		}
		p.LastReinforcedAt = fromNanos(reinforced)
		p.CreatedAt = fromNanos(created)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading patterns: %w", err)
	}
	return out, nil
}

// PutPattern implements storage.PatternDriver.
func (s *Store) PutPattern(ctx context.Context, p *memory.Pattern) error {
	if p == nil {
		return errors.New("cannot store nil pattern")
	}

	examples, err := encodeJSON(p.Examples)
	if err != nil {
		return err
	}

	query, args := s.builder().Insert(tablePatterns).
		Columns(patternColumns...).
		Values(p.Signature, p.ID, string(p.Category), p.Confidence, p.ObservedCount,
			examples, toNanos(p.LastReinforcedAt), toNanos(p.CreatedAt)).
		OnConflict(entsql.ConflictColumns("signature"), entsql.ResolveWithNewValues()).
		Query()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("storing pattern %q: %w", p.Signature, err)
	}
	return nil
}

// DeletePatterns implements storage.PatternDriver.
func (s *Store) DeletePatterns(ctx context.Context, signatures ...string) error {
	if len(signatures) == 0 {
		return nil
	}

	query, args := s.builder().Delete(tablePatterns).
		Where(entsql.In("signature", anySlice(signatures)...)).
		Query()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting patterns: %w", err)
	}
	return nil
}

func (s *Store) upsertConversation(ctx context.Context, tx *sql.Tx, c *memory.Conversation) error {
	entities, err := encodeJSON(c.Entities)
	if err != nil {
		return err
	}
	files, err := encodeJSON(c.FilesTouched)
	if err != nil {
		return err
	}

	var ended any
	if c.EndedAt != nil {
		ended = toNanos(*c.EndedAt)
	}

	query, args := s.builder().Insert(tableConversations).
		Columns(conversationColumns...).
		Values(c.ID, c.Title, toNanos(c.StartedAt), ended, entities, files,
			string(c.Outcome), boolInt(c.Active), boolInt(c.Consolidated), c.ClosingMarker).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("storing conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) insertMessage(ctx context.Context, tx *sql.Tx, position int, m memory.Message) error {
	entities, err := encodeJSON(m.Entities)
	if err != nil {
		return err
	}

	query, args := s.builder().Insert(tableMessages).
		Columns(messageColumns...).
		Values(m.ID, m.ConversationID, position, toNanos(m.Timestamp), string(m.Role), m.Text, entities).
		Query()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("storing message %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) deleteConversations(ctx context.Context, tx *sql.Tx, ids []string) error {
	args := anySlice(ids)

	query, qargs := s.builder().Delete(tableMessages).
		Where(entsql.In("conversation_id", args...)).
		Query()
	if _, err := tx.ExecContext(ctx, query, qargs...); err != nil {
		return fmt.Errorf("deleting evicted messages: %w", err)
	}

	query, qargs = s.builder().Delete(tableConversations).
		Where(entsql.In("id", args...)).
		Query()
	if _, err := tx.ExecContext(ctx, query, qargs...); err != nil {
		return fmt.Errorf("deleting evicted conversations: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (memory.Conversation, error) {
	var (
		c            memory.Conversation
		started      int64
		ended        sql.NullInt64
		entities     string
		files        string
		outcome      string
		active       int
		consolidated int
	)
	if err := row.Scan(&c.ID, &c.Title, &started, &ended, &entities, &files,
		&outcome, &active, &consolidated, &c.ClosingMarker); err != nil {
		return c, fmt.Errorf("scanning conversation: %w", err)
	}

	c.StartedAt = fromNanos(started)
	if ended.Valid {
		t := fromNanos(ended.Int64)
		c.EndedAt = &t
	}
	if err := json.Unmarshal([]byte(entities), &c.Entities); err != nil {
		return c, fmt.Errorf("decoding entities of %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(files), &c.FilesTouched); err != nil {
		return c, fmt.Errorf("decoding files of %s: %w", c.ID, err)
	}
	c.Outcome = memory.Outcome(outcome)
	c.Active = active != 0
	c.Consolidated = consolidated != 0
	return c, nil
}

func scanMessage(row scanner) (memory.Message, error) {
	var (
		m        memory.Message
		position int
		ts       int64
		role     string
		entities string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &position, &ts, &role, &m.Text, &entities); err != nil {
		return m, fmt.Errorf("scanning message: %w", err)
	}
	m.Timestamp = fromNanos(ts)
	m.Role = memory.Role(role)
	if err := json.Unmarshal([]byte(entities), &m.Entities); err != nil {
		return m, fmt.Errorf("decoding entities of message %s: %w", m.ID, err)
	}
	return m, nil
}

func encodeJSON(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding list: %w", err)
	}
	return string(b), nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
