package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/lib/pq"                 // Postgres driver
	"github.com/mattn/go-sqlite3"       // SQLite driver
	"github.com/pliu/nowchat/internal/models"
	"github.com/pliu/nowchat/internal/store"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

var _ store.Store = (*SQLStore)(nil)

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	if driverName == "sqlite3" && strings.Contains(dataSourceName, ":memory:") {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driverName, err)
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) isPostgres() bool {
	return s.driverName == "postgres" || s.driverName == "pgx"
}

func (s *SQLStore) createTables() error {
	// Simplified for brevity, ideally use migrations
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (from_id, to_id, created_at);
	`

	if s.isPostgres() {
		// Adjust for Postgres syntax
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMPTZ")
	}

	// One statement per Exec; the pgx driver rejects batches over the extended protocol.
	for _, stmt := range strings.Split(query, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.isPostgres() {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, username, name, email FROM users ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	query := s.rebind("SELECT id, username, name, email FROM users WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.Name, &u.Email)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) (int64, error) {
	query := s.rebind("INSERT INTO users (username, name, email) VALUES (?, ?, ?) RETURNING id")
	err := s.db.QueryRowContext(ctx, query, user.Username, user.Name, user.Email).Scan(&user.ID)
	if err != nil {
		return 0, translate(err)
	}
	return 1, nil
}

func (s *SQLStore) UpdateUser(ctx context.Context, user *models.User) (int64, error) {
	query := s.rebind("UPDATE users SET username = ?, name = ?, email = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, query, user.Username, user.Name, user.Email, user.ID)
	if err != nil {
		return 0, translate(err)
	}
	return result.RowsAffected()
}

func (s *SQLStore) DeleteUser(ctx context.Context, id int64) (int64, error) {
	query := s.rebind("DELETE FROM users WHERE id = ?")
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, translate(err)
	}
	return result.RowsAffected()
}

func (s *SQLStore) SaveMessage(ctx context.Context, msg *models.Message) (int64, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	query := s.rebind("INSERT INTO messages (from_id, to_id, body, created_at) VALUES (?, ?, ?, ?) RETURNING id")
	err := s.db.QueryRowContext(ctx, query, msg.FromID, msg.ToID, msg.Body, msg.CreatedAt).Scan(&msg.ID)
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	return 1, nil
}

// GetChatMessages returns the conversation between a and b in either
// direction, oldest first.
func (s *SQLStore) GetChatMessages(ctx context.Context, a, b string) ([]models.Message, error) {
	query := s.rebind(`
		SELECT id, from_id, to_id, body, created_at
		FROM messages
		WHERE (from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)
		ORDER BY created_at ASC, id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("get chat messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.FromID, &m.ToID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get chat messages: %w", err)
	}
	return messages, nil
}
