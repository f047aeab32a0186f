package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/RichardoC/alfred/internal/models"
)

// ErrNotFound is returned when a conversation or message does not exist.
var ErrNotFound = errors.New("not found")

type Database struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens the store and applies the schema. driver is "sqlite3" or
// "postgres".
func New(driver, dsn string) (*Database, error) {
	schema, ok := schemaFor(driver)
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if driver == "sqlite3" {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		// One writer at a time; also keeps ":memory:" on a single database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db, now: now}, nil
}

// sqliteDSN turns on foreign key enforcement for every connection, which
// sqlite leaves off by default.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the connection.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (d *Database) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	ts := d.now()
	conv := &models.Conversation{Title: title, CreatedAt: ts, UpdatedAt: ts}

	query := d.db.Rebind(`
        INSERT INTO conversations (title, created_at, updated_at)
        VALUES (?, ?, ?)
        RETURNING id`)

	if err := d.db.QueryRowxContext(ctx, query, title, ts, ts).Scan(&conv.ID); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (d *Database) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	query := d.db.Rebind(`
        SELECT id, title, created_at, updated_at
        FROM conversations
        WHERE id = ?`)

	var conv models.Conversation
	if err := d.db.GetContext(ctx, &conv, query, id); err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// GetConversationDetail returns the conversation with its messages in
// chronological order.
func (d *Database) GetConversationDetail(ctx context.Context, id int64) (*models.ConversationDetail, error) {
	conv, err := d.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := d.GetConversationHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ConversationDetail{Conversation: *conv, Messages: history}, nil
}

// ListConversations returns every conversation, most recently updated first.
func (d *Database) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	query := `
        SELECT id, title, created_at, updated_at
        FROM conversations
        ORDER BY updated_at DESC, id DESC`

	conversations := make([]models.Conversation, 0)
	if err := d.db.SelectContext(ctx, &conversations, query); err != nil {
		return []models.Conversation{}, err
	}
	return conversations, nil
}

func (d *Database) UpdateConversationTitle(ctx context.Context, id int64, title string) (*models.Conversation, error) {
	query := d.db.Rebind("UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?")

	res, err := d.db.ExecContext(ctx, query, title, d.now(), id)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return d.GetConversation(ctx, id)
}

// DeleteConversation removes the conversation and its messages.
func (d *Database) DeleteConversation(ctx context.Context, id int64) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM messages WHERE conversation_id = ?"), id); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM conversations WHERE id = ?"), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// ResolveConversation returns the conversation identified by id, creating a
// new one titled title when id is nil or does not resolve.
func (d *Database) ResolveConversation(ctx context.Context, id *int64, title string) (*models.Conversation, error) {
	if id != nil && *id != 0 {
		conv, err := d.GetConversation(ctx, *id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return d.CreateConversation(ctx, title)
}

// SaveMessage appends msg to its conversation, filling in ID and CreatedAt.
// The existence check and the insert share a transaction; the foreign key
// backs it up against a concurrent delete.
func (d *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := conversationExists(ctx, tx, msg.ConvID); err != nil {
		return err
	}

	createdAt := d.now()
	query := tx.Rebind(`
        INSERT INTO messages (conversation_id, role, content, created_at)
        VALUES (?, ?, ?, ?)
        RETURNING id`)

	var id int64
	if err := tx.QueryRowxContext(ctx, query, msg.ConvID, msg.Role, msg.Content, createdAt).Scan(&id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	msg.ID = id
	msg.CreatedAt = createdAt
	return nil
}

func (d *Database) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	query := d.db.Rebind(`
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE id = ?`)

	var msg models.Message
	if err := d.db.GetContext(ctx, &msg, query, id); err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

// GetConversationHistory returns a conversation's messages, oldest first.
func (d *Database) GetConversationHistory(ctx context.Context, conversationID int64) ([]models.Message, error) {
	query := d.db.Rebind(`
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, id ASC`)

	messages := make([]models.Message, 0)
	if err := d.db.SelectContext(ctx, &messages, query, conversationID); err != nil {
		return []models.Message{}, err
	}
	return messages, nil
}

// MessageFilter narrows ListMessages. A nil ConversationID lists all messages.
type MessageFilter struct {
	ConversationID *int64
}

// ListMessages returns messages newest first.
func (d *Database) ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error) {
	query := `
        SELECT id, conversation_id, role, content, created_at
        FROM messages`
	var args []any
	if filter.ConversationID != nil {
		query += " WHERE conversation_id = ?"
		args = append(args, *filter.ConversationID)
	}
	query += " ORDER BY created_at DESC, id DESC"

	messages := make([]models.Message, 0)
	if err := d.db.SelectContext(ctx, &messages, d.db.Rebind(query), args...); err != nil {
		return []models.Message{}, err
	}
	return messages, nil
}

// UpdateMessage overwrites the conversation, role and content of msg.ID.
func (d *Database) UpdateMessage(ctx context.Context, msg *models.Message) error {
	if err := conversationExists(ctx, d.db, msg.ConvID); err != nil {
		return err
	}

	query := d.db.Rebind("UPDATE messages SET conversation_id = ?, role = ?, content = ? WHERE id = ?")
	res, err := d.db.ExecContext(ctx, query, msg.ConvID, msg.Role, msg.Content, msg.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	updated, err := d.GetMessage(ctx, msg.ID)
	if err != nil {
		return err
	}
	*msg = *updated
	return nil
}

func (d *Database) DeleteMessage(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, d.db.Rebind("DELETE FROM messages WHERE id = ?"), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func conversationExists(ctx context.Context, q queryer, id int64) error {
	var one int
	err := sqlx.GetContext(ctx, q, &one, q.Rebind("SELECT 1 FROM conversations WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("conversation %d: %w", id, ErrNotFound)
		}
		return err
	}
	return nil
}
