package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite" // SQLite driver
)

// ErrConversationNotFound indicates an unknown conversation id, or one
// owned by a different user.
var ErrConversationNotFound = errors.New("conversation not found")

// Config configures the SQLite store.
type Config struct {
	// Path is the SQLite database file. ":memory:" is accepted for
	// tests.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once

	// now is swapped in tests.
	now func() time.Time
}

// Open opens the database, applies the schema, and returns the store.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS openrouter_tokens (
		username TEXT PRIMARY KEY REFERENCES users(username),
		token TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(username);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle. Idempotent.
func (s *Store) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})
	return closeErr
}

// CreateUser registers a user with a bcrypt-hashed password.
func (s *Store) CreateUser(ctx context.Context, username, password string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET password_hash = excluded.password_hash
	`, username, string(hash), s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// VerifyPassword checks a login attempt. Unknown users report invalid
// credentials, not an error.
func (s *Store) VerifyPassword(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load user: %w", err)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// SaveToken stores or replaces the user's OpenRouter token.
func (s *Store) SaveToken(ctx context.Context, username, token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO openrouter_tokens (username, token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			token = excluded.token,
			updated_at = excluded.updated_at
	`, username, token, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// ClearToken removes the user's stored token.
func (s *Store) ClearToken(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM openrouter_tokens WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// ResolveCredential returns the user's stored token, or empty when
// none is stored. Absence is a normal outcome.
func (s *Store) ResolveCredential(ctx context.Context, username string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM openrouter_tokens WHERE username = ?`, username).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

// Turn is one stored chat message.
type Turn struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// CreateConversation starts an empty conversation for the user and
// returns its id.
func (s *Store) CreateConversation(ctx context.Context, username string) (string, error) {
	id := uuid.NewString()
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, username, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, id, username, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return id, nil
}

// PersistTurn appends a user message and the assistant's answer to a
// conversation in one transaction.
func (s *Store) PersistTurn(ctx context.Context, username, conversationID, question, answer string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT username FROM conversations WHERE id = ?`, conversationID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != username) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	now := s.now()
	for _, turn := range []Turn{
		{Role: "user", Content: question},
		{Role: "assistant", Content: answer},
	} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, uuid.NewString(), conversationID, turn.Role, turn.Content, now.Unix())
		if err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now.Unix(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return tx.Commit()
}

// History returns a conversation's turns in insertion order.
func (s *Store) History(ctx context.Context, username, conversationID string) ([]Turn, error) {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT username FROM conversations WHERE id = ?`, conversationID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != username) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM messages
		WHERE conversation_id = ?
		ORDER BY rowid
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var created int64
		if err := rows.Scan(&t.Role, &t.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		t.CreatedAt = time.Unix(created, 0)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return turns, nil
}

// Prune deletes conversations not updated since the cutoff, along with
// their messages, and reports how many conversations were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM messages WHERE conversation_id IN (
			SELECT id FROM conversations WHERE updated_at < ?
		)
	`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune messages: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE updated_at < ?`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune conversations: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(deleted), nil
}
