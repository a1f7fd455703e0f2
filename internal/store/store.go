package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
)

// SQLiteStore implements domain.ConversationStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id                TEXT PRIMARY KEY,
		channel           TEXT NOT NULL,
		external_chat_id  TEXT NOT NULL,
		customer_name     TEXT DEFAULT '',
		customer_phone    TEXT DEFAULT '',
		customer_username TEXT DEFAULT '',
		assigned_agent    TEXT DEFAULT '',
		lead_id           TEXT DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'open',
		last_message_at   DATETIME,
		created_at        DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at        DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(channel, external_chat_id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_channel ON conversations(channel, last_message_at);

	CREATE TABLE IF NOT EXISTS messages (
		id                  TEXT PRIMARY KEY,
		conversation_id     TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		external_message_id TEXT DEFAULT '',
		channel             TEXT NOT NULL,
		direction           TEXT NOT NULL,
		sender_type         TEXT NOT NULL,
		sender_id           TEXT DEFAULT '',
		sender_name         TEXT DEFAULT '',
		sender_username     TEXT DEFAULT '',
		sender_phone        TEXT DEFAULT '',
		message_type        TEXT NOT NULL DEFAULT 'text',
		content             TEXT DEFAULT '',
		media_url           TEXT DEFAULT '',
		media_type          TEXT DEFAULT '',
		metadata            TEXT DEFAULT '',
		timestamp           DATETIME,
		status              TEXT NOT NULL DEFAULT 'received',
		created_at          DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// FindConversation looks up a conversation by its channel-scoped chat id.
func (s *SQLiteStore) FindConversation(ctx context.Context, channel, externalChatID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel, external_chat_id, customer_name, customer_phone, customer_username,
		        assigned_agent, lead_id, status, last_message_at, created_at, updated_at
		 FROM conversations WHERE channel = ? AND external_chat_id = ?`,
		strings.ToLower(channel), externalChatID,
	)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// FindOrCreateConversation returns the conversation for (channel, chat id),
// creating it when absent. The bool reports whether a new row was created.
// Blank participant fields on an existing row are filled in from the
// incoming data, so the first message with a name enriches the record.
func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, bool, error) {
	now := time.Now().UTC()
	id := conv.ID
	if id == "" {
		id = uuid.NewString()
	}
	channel := strings.ToLower(conv.Channel)

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations
		 (id, channel, external_chat_id, customer_name, customer_phone, customer_username, status, last_message_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, channel, conv.ExternalChatID,
		conv.CustomerName, conv.CustomerPhone, conv.CustomerUsername,
		domain.ConversationOpen, now, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("conversation upsert: %w", err)
	}
	affected, _ := res.RowsAffected()
	created := affected > 0

	existing, err := s.FindConversation(ctx, channel, conv.ExternalChatID)
	if err != nil {
		return nil, false, err
	}

	if !created {
		s.fillParticipant(ctx, existing, conv)
	}
	return existing, created, nil
}

// fillParticipant backfills customer fields the row does not have yet.
func (s *SQLiteStore) fillParticipant(ctx context.Context, existing, incoming *domain.Conversation) {
	name, phone, username := existing.CustomerName, existing.CustomerPhone, existing.CustomerUsername
	changed := false
	if name == "" && incoming.CustomerName != "" {
		name = incoming.CustomerName
		changed = true
	}
	if phone == "" && incoming.CustomerPhone != "" {
		phone = incoming.CustomerPhone
		changed = true
	}
	if username == "" && incoming.CustomerUsername != "" {
		username = incoming.CustomerUsername
		changed = true
	}
	if !changed {
		return
	}

	_, _ = s.db.ExecContext(ctx,
		`UPDATE conversations SET customer_name=?, customer_phone=?, customer_username=?, updated_at=? WHERE id=?`,
		name, phone, username, time.Now().UTC(), existing.ID,
	)
	existing.CustomerName, existing.CustomerPhone, existing.CustomerUsername = name, phone, username
}

// CreateMessage persists a message and bumps the conversation's activity
// timestamp. Missing id, status and timestamps are filled in.
func (s *SQLiteStore) CreateMessage(ctx context.Context, rec *domain.MessageRecord) error {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	if rec.Status == "" {
		rec.Status = domain.StatusReceived
	}

	var metadata string
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("metadata encode: %w", err)
		}
		metadata = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages
		 (id, conversation_id, external_message_id, channel, direction, sender_type,
		  sender_id, sender_name, sender_username, sender_phone,
		  message_type, content, media_url, media_type, metadata, timestamp, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ConversationID, rec.ExternalMessageID, strings.ToLower(rec.Channel),
		rec.Direction, rec.SenderType,
		rec.SenderID, rec.SenderName, rec.SenderUsername, rec.SenderPhone,
		rec.MessageType, rec.Content, rec.MediaURL, rec.MediaType,
		metadata, rec.Timestamp, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("message insert: %w", err)
	}

	_, _ = s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ?, updated_at = ? WHERE id = ?`,
		rec.Timestamp, now, rec.ConversationID,
	)
	return nil
}

// Conversations lists conversations newest-activity first.
func (s *SQLiteStore) Conversations(ctx context.Context, f domain.ConversationFilter) ([]domain.Conversation, error) {
	query := `SELECT id, channel, external_chat_id, customer_name, customer_phone, customer_username,
	                 assigned_agent, lead_id, status, last_message_at, created_at, updated_at
	          FROM conversations`
	var where []string
	var args []any
	if f.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, strings.ToLower(f.Channel))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_message_at DESC LIMIT ?"
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	if f.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// Messages lists messages. Conversation-scoped queries come back in
// chronological order for transcript rendering; global queries come back
// newest first.
func (s *SQLiteStore) Messages(ctx context.Context, f domain.MessageFilter) ([]domain.MessageRecord, error) {
	query := `SELECT id, conversation_id, external_message_id, channel, direction, sender_type,
	                 sender_id, sender_name, sender_username, sender_phone,
	                 message_type, content, media_url, media_type, metadata, timestamp, status, created_at
	          FROM messages`
	var where []string
	var args []any
	if f.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	if f.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, strings.ToLower(f.Channel))
	}
	if f.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, f.Direction)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.ConversationID != "" {
		query += " ORDER BY created_at ASC LIMIT ?"
	} else {
		query += " ORDER BY created_at DESC LIMIT ?"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	if f.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MarkRead flips one message to read status.
func (s *SQLiteStore) MarkRead(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE id = ?`, domain.StatusRead, messageID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// UnreadCount counts inbound messages nobody has read yet.
func (s *SQLiteStore) UnreadCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE direction = ? AND status != ?`,
		domain.DirectionIn, domain.StatusRead,
	).Scan(&count)
	return count, err
}

// ChannelStats aggregates conversation, message and unread counts per channel.
func (s *SQLiteStore) ChannelStats(ctx context.Context) ([]domain.ChannelStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.channel,
		        COUNT(DISTINCT c.id),
		        COUNT(m.id),
		        COALESCE(SUM(CASE WHEN m.direction = 'in' AND m.status != 'read' THEN 1 ELSE 0 END), 0)
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 GROUP BY c.channel
		 ORDER BY c.channel`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.ChannelStat
	for rows.Next() {
		var st domain.ChannelStat
		if err := rows.Scan(&st.Channel, &st.Conversations, &st.Messages, &st.Unread); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// AssignAgent records which agent owns the conversation.
func (s *SQLiteStore) AssignAgent(ctx context.Context, conversationID, agent string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET assigned_agent = ?, updated_at = ? WHERE id = ?`,
		agent, time.Now().UTC(), conversationID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

// AttachLead links a CRM lead to the conversation.
func (s *SQLiteStore) AttachLead(ctx context.Context, conversationID, leadID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET lead_id = ?, updated_at = ? WHERE id = ?`,
		leadID, time.Now().UTC(), conversationID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var lastMessageAt sql.NullTime
	err := row.Scan(&conv.ID, &conv.Channel, &conv.ExternalChatID,
		&conv.CustomerName, &conv.CustomerPhone, &conv.CustomerUsername,
		&conv.AssignedAgent, &conv.LeadID, &conv.Status,
		&lastMessageAt, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastMessageAt.Valid {
		conv.LastMessageAt = lastMessageAt.Time
	}
	return &conv, nil
}

func scanMessages(rows *sql.Rows) ([]domain.MessageRecord, error) {
	var msgs []domain.MessageRecord
	for rows.Next() {
		var m domain.MessageRecord
		var metadata sql.NullString
		var timestamp sql.NullTime
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ExternalMessageID, &m.Channel,
			&m.Direction, &m.SenderType,
			&m.SenderID, &m.SenderName, &m.SenderUsername, &m.SenderPhone,
			&m.MessageType, &m.Content, &m.MediaURL, &m.MediaType,
			&metadata, &timestamp, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			var meta map[string]any
			if err := json.Unmarshal([]byte(metadata.String), &meta); err == nil {
				m.Metadata = meta
			}
		}
		if timestamp.Valid {
			m.Timestamp = timestamp.Time
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
