package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withForeignKeys(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// withForeignKeys enables foreign keys through the DSN. The pragma is per
// connection, so every pooled connection has to open with it.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			settings TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			data TEXT,
			function_call TEXT,
			name TEXT,
			token_count INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			actions TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_conversation ON notifications(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			tool_arguments TEXT,
			function_call_id TEXT,
			notification_id TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			resolved_at DATETIME,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_conversation ON approvals(conversation_id, status)`,
		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Add new columns for existing DBs (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("conversations", "title", "ALTER TABLE conversations ADD COLUMN title TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation creates a new conversation, assigning an ID when empty.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if conv.ID == "" {
		conv.ID = "conv_" + uuid.New().String()[:8]
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt
	settings, err := json.Marshal(conv.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, settings, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, string(settings), conv.CreatedAt, conv.UpdatedAt)
	return err
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var settings string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, settings, created_at, updated_at FROM conversations WHERE id = ?`,
		id).Scan(&conv.ID, &conv.Title, &settings, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settings), &conv.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings for %s: %w", id, err)
	}
	return &conv, nil
}

// ListConversations lists conversations, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, settings, created_at, updated_at FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var settings string
		if err := rows.Scan(&conv.ID, &conv.Title, &settings, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(settings), &conv.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings for %s: %w", conv.ID, err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// UpdateConversationSettings replaces the settings of a conversation.
func (s *SQLiteStore) UpdateConversationSettings(ctx context.Context, id string, settings domain.ConversationSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET settings = ?, updated_at = ? WHERE id = ?`,
		string(raw), time.Now(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteConversation deletes a conversation and everything attached to it
// in one transaction.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"messages", "approvals", "notifications", "notes"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE conversation_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = "msg_" + uuid.New().String()[:8]
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	var functionCall sql.NullString
	if msg.FunctionCall != nil {
		raw, err := json.Marshal(msg.FunctionCall)
		if err != nil {
			return fmt.Errorf("failed to marshal function call: %w", err)
		}
		functionCall = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, data, function_call, name, token_count, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, nullRaw(msg.Data), functionCall,
		msg.Name, msg.TokenCount, nullRaw(msg.Metadata), msg.CreatedAt)
	return err
}

// CreateMessage creates a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	return insertMessage(ctx, s.db, msg)
}

// SaveTurn persists pending and assistant atomically.
func (s *SQLiteStore) SaveTurn(ctx context.Context, pending *domain.Message, assistant *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if pending != nil {
		if err := insertMessage(ctx, tx, pending); err != nil {
			return fmt.Errorf("failed to save pending message: %w", err)
		}
	}
	if assistant != nil {
		if err := insertMessage(ctx, tx, assistant); err != nil {
			return fmt.Errorf("failed to save assistant message: %w", err)
		}
	}
	return tx.Commit()
}

const messageColumns = `id, conversation_id, role, content, data, function_call, name, token_count, metadata, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*domain.Message, error) {
	var msg domain.Message
	var data, functionCall, name, metadata sql.NullString
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &data, &functionCall,
		&name, &msg.TokenCount, &metadata, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if data.Valid {
		msg.Data = json.RawMessage(data.String)
	}
	if functionCall.Valid {
		var fc domain.FunctionCall
		if err := json.Unmarshal([]byte(functionCall.String), &fc); err != nil {
			return nil, fmt.Errorf("failed to decode function call of %s: %w", msg.ID, err)
		}
		msg.FunctionCall = &fc
	}
	msg.Name = name.String
	if metadata.Valid {
		msg.Metadata = json.RawMessage(metadata.String)
	}
	return &msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

// ListMessages retrieves messages for a conversation, most recent first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? ORDER BY seq DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// DeleteMessage deletes a message by ID.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// CreateApproval creates a new approval request, assigning an ID when empty.
func (s *SQLiteStore) CreateApproval(ctx context.Context, ap *domain.ApprovalRequest) error {
	if ap.ID == "" {
		ap.ID = "ap_" + uuid.New().String()[:8]
	}
	if ap.CreatedAt.IsZero() {
		ap.CreatedAt = time.Now()
	}
	if ap.Status == "" {
		ap.Status = domain.ApprovalStatusPending
	}
	args, err := json.Marshal(ap.ToolArguments)
	if err != nil {
		return fmt.Errorf("failed to marshal tool arguments: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, conversation_id, tool_name, tool_arguments, function_call_id, notification_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ap.ID, ap.ConversationID, ap.ToolName, string(args), ap.FunctionCallID, ap.NotificationID, ap.Status, ap.CreatedAt)
	return err
}

const approvalColumns = `id, conversation_id, tool_name, tool_arguments, function_call_id, notification_id, status, created_at, resolved_at`

func scanApproval(row scanner) (*domain.ApprovalRequest, error) {
	var ap domain.ApprovalRequest
	var args, functionCallID, notificationID sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&ap.ID, &ap.ConversationID, &ap.ToolName, &args, &functionCallID,
		&notificationID, &ap.Status, &ap.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	if args.Valid && args.String != "" {
		if err := json.Unmarshal([]byte(args.String), &ap.ToolArguments); err != nil {
			return nil, fmt.Errorf("failed to decode tool arguments of %s: %w", ap.ID, err)
		}
	}
	ap.FunctionCallID = functionCallID.String
	ap.NotificationID = notificationID.String
	if resolvedAt.Valid {
		ap.ResolvedAt = &resolvedAt.Time
	}
	return &ap, nil
}

// GetApproval retrieves an approval request by ID.
func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	ap, err := scanApproval(s.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ap, err
}

// ListApprovals lists a conversation's approvals, optionally filtered by status.
func (s *SQLiteStore) ListApprovals(ctx context.Context, conversationID string, status domain.ApprovalStatus) ([]domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE conversation_id = ?`
	args := []any{conversationID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []domain.ApprovalRequest
	for rows.Next() {
		ap, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, *ap)
	}
	return approvals, rows.Err()
}

// SetApprovalNotification links an approval request to its notification.
func (s *SQLiteStore) SetApprovalNotification(ctx context.Context, id, notificationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET notification_id = ? WHERE id = ?`, notificationID, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ResolveApproval transitions a pending approval to status.
func (s *SQLiteStore) ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		status, time.Now(), id, domain.ApprovalStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateNotification creates a new notification, assigning an ID when empty.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = "ntf_" + uuid.New().String()[:8]
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Status == "" {
		n.Status = domain.NotificationStatusActive
	}
	actions, err := json.Marshal(n.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, conversation_id, kind, title, body, actions, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ConversationID, n.Kind, n.Title, n.Body, string(actions), n.Status, n.CreatedAt)
	return err
}

const notificationColumns = `id, conversation_id, kind, title, body, actions, status, created_at`

func scanNotification(row scanner) (*domain.Notification, error) {
	var n domain.Notification
	var actions sql.NullString
	if err := row.Scan(&n.ID, &n.ConversationID, &n.Kind, &n.Title, &n.Body, &actions, &n.Status, &n.CreatedAt); err != nil {
		return nil, err
	}
	if actions.Valid && actions.String != "" {
		if err := json.Unmarshal([]byte(actions.String), &n.Actions); err != nil {
			return nil, fmt.Errorf("failed to decode actions of %s: %w", n.ID, err)
		}
	}
	return &n, nil
}

// GetNotification retrieves a notification by ID.
func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}

// ListNotifications lists a conversation's notifications, oldest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, conversationID string, activeOnly bool) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE conversation_id = ?`
	args := []any{conversationID}
	if activeOnly {
		query += ` AND status = ?`
		args = append(args, domain.NotificationStatusActive)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// SupersedeNotification marks a notification as superseded.
func (s *SQLiteStore) SupersedeNotification(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE id = ?`, domain.NotificationStatusSuperseded, id)
	return err
}

// CreateNote saves a note, assigning an ID when empty.
func (s *SQLiteStore) CreateNote(ctx context.Context, note *domain.Note) error {
	if note.ID == "" {
		note.ID = "note_" + uuid.New().String()[:8]
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, conversation_id, text, created_at) VALUES (?, ?, ?, ?)`,
		note.ID, note.ConversationID, note.Text, note.CreatedAt)
	return err
}

// ListNotes lists the latest limit notes of a conversation, oldest first.
func (s *SQLiteStore) ListNotes(ctx context.Context, conversationID string, limit int) ([]domain.Note, error) {
	query := `SELECT id, conversation_id, text, created_at FROM notes WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		var note domain.Note
		if err := rows.Scan(&note.ID, &note.ConversationID, &note.Text, &note.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(notes)
	return notes, nil
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
