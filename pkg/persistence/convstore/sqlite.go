package convstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/InnNhi24/vibetune/pkg/model"
)

// SQLiteStore persists conversations and messages in a single sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

// SQLiteDSNForFile derives a DSN with the pragmas the store relies on.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path), nil
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL DEFAULT '',
			topic TEXT,
			title TEXT NOT NULL DEFAULT '',
			started_at_ms INTEGER NOT NULL,
			ended_at_ms INTEGER,
			message_count INTEGER NOT NULL DEFAULT 0,
			avg_prosody_score REAL NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			audio_url TEXT,
			retry_of_message_id TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at_ms INTEGER NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_conversation ON messages(conversation_id, created_at_ms);`,
		`CREATE INDEX IF NOT EXISTS conversations_by_profile ON conversations(profile_id, started_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertConversation(ctx context.Context, c model.Conversation) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("sqlite store: conversation id is empty")
	}
	// A confirmed topic is immutable here; the terminal wrapup update goes
	// through PatchConversation with TopicFinal set.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, profile_id, topic, title, started_at_ms, ended_at_ms, message_count, avg_prosody_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			profile_id = excluded.profile_id,
			topic = COALESCE(conversations.topic, excluded.topic),
			title = excluded.title,
			ended_at_ms = excluded.ended_at_ms,
			avg_prosody_score = excluded.avg_prosody_score`,
		c.ID, c.ProfileID, c.Topic, c.Title, c.StartedAt.UnixMilli(), msOrNil(c.EndedAt), c.MessageCount, c.AvgProsodyScore)
	return errors.Wrap(err, "sqlite store: upsert conversation")
}

func (s *SQLiteStore) UpsertMessage(ctx context.Context, m model.Message) error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("sqlite store: message id is empty")
	}
	if strings.TrimSpace(m.ConversationID) == "" {
		return errors.New("sqlite store: message conversation id is empty")
	}
	// Conflict-safe placeholder creation: the primary-key constraint makes
	// two concurrent inserts race-free, the loser's row is ignored.
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, profile_id, topic, title, started_at_ms)
		VALUES (?, '', NULL, ?, ?)`,
		m.ConversationID, PlaceholderTitle, time.Now().UnixMilli())
	if err != nil {
		return errors.Wrap(err, "sqlite store: ensure conversation")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, type, content, audio_url, retry_of_message_id, version, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			sender = excluded.sender,
			type = excluded.type,
			content = excluded.content,
			audio_url = excluded.audio_url,
			retry_of_message_id = excluded.retry_of_message_id,
			version = excluded.version`,
		m.ID, m.ConversationID, string(m.Sender), string(m.Type), m.Content, m.AudioURL, m.RetryOfMessageID, m.Version, m.CreatedAt.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "sqlite store: upsert message")
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations
		SET message_count = (SELECT COUNT(*) FROM messages WHERE conversation_id = ?)
		WHERE id = ?`,
		m.ConversationID, m.ConversationID)
	return errors.Wrap(err, "sqlite store: refresh message count")
}

func (s *SQLiteStore) PatchConversation(ctx context.Context, id string, patch ConversationPatch) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("sqlite store: conversation id is empty")
	}
	sets := []string{}
	args := []any{}
	if patch.Topic != nil {
		if patch.TopicFinal {
			sets = append(sets, "topic = ?")
			args = append(args, *patch.Topic)
		} else {
			// Topic is immutable once confirmed.
			sets = append(sets, "topic = COALESCE(topic, ?)")
			args = append(args, *patch.Topic)
		}
	}
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.EndedAt != nil {
		sets = append(sets, "ended_at_ms = ?")
		args = append(args, patch.EndedAt.UnixMilli())
	}
	if patch.AvgProsodyScore != nil {
		sets = append(sets, "avg_prosody_score = ?")
		args = append(args, *patch.AvgProsodyScore)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, "UPDATE conversations SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return errors.Wrap(err, "sqlite store: patch conversation")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("sqlite store: conversation id is empty")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return errors.Wrap(err, "sqlite store: delete messages")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return errors.Wrap(err, "sqlite store: delete conversation")
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, profile_id, topic, title, started_at_ms, ended_at_ms, message_count, avg_prosody_score
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: get conversation")
	}
	return c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, profileID string) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, topic, title, started_at_ms, ended_at_ms, message_count, avg_prosody_score
		FROM conversations WHERE profile_id = ? OR ? = '' ORDER BY started_at_ms DESC`,
		profileID, profileID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list conversations")
	}
	defer func() { _ = rows.Close() }()
	out := []model.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan conversation")
		}
		out = append(out, *c)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: list conversations")
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, type, content, audio_url, retry_of_message_id, version, created_at_ms
		FROM messages WHERE conversation_id = ? ORDER BY created_at_ms ASC, id ASC`, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list messages")
	}
	defer func() { _ = rows.Close() }()
	out := []model.Message{}
	for rows.Next() {
		var (
			m         model.Message
			sender    string
			typ       string
			createdMs int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &typ, &m.Content, &m.AudioURL, &m.RetryOfMessageID, &m.Version, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan message")
		}
		m.Sender = model.Sender(sender)
		m.Type = model.MessageType(typ)
		m.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: list messages")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		c         model.Conversation
		startedMs int64
		endedMs   sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.ProfileID, &c.Topic, &c.Title, &startedMs, &endedMs, &c.MessageCount, &c.AvgProsodyScore); err != nil {
		return nil, err
	}
	c.StartedAt = time.UnixMilli(startedMs)
	if endedMs.Valid {
		t := time.UnixMilli(endedMs.Int64)
		c.EndedAt = &t
	}
	return &c, nil
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
