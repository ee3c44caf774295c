package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect captures the few places where Postgres and SQLite disagree. Queries
// use $N placeholders in ascending first-appearance order so both drivers bind
// them positionally.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) driverName() string {
	if d == SQLite {
		return "sqlite3"
	}
	return "pgx"
}

// LockClause is appended to the SELECT that reads the conversation row inside a
// write transaction. SQLite takes the database write lock at BEGIN instead.
func (d Dialect) LockClause() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

type Database struct {
	Conn    *sql.DB
	Dialect Dialect
}

func NewDatabase(dialect Dialect, dsn string) (*Database, error) {
	if dialect == SQLite {
		var err error
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if dialect == Postgres {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(25)
		conn.SetConnMaxLifetime(5 * time.Minute)
	} else {
		conn.SetMaxOpenConns(8)
	}
	return &Database{Conn: conn, Dialect: dialect}, nil
}

// sqliteDSN turns a file path into a DSN with WAL, a busy timeout and
// BEGIN IMMEDIATE transactions, so concurrent writers queue instead of failing.
func sqliteDSN(path string) (string, error) {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("error creating database directory: %w", err)
	}
	return "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", nil
}

func (d *Database) Ping(ctx context.Context) error {
	return d.Conn.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

func (d *Database) AutoMigrate() error {
	queries := postgresSchema
	if d.Dialect == SQLite {
		queries = sqliteSchema
	}

	for _, query := range queries {
		_, err := d.Conn.Exec(query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            display_name VARCHAR(100) NOT NULL DEFAULT '',
            avatar_ref TEXT NOT NULL DEFAULT '',
            password VARCHAR(255) NOT NULL,
            is_moderator BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

	`CREATE TABLE IF NOT EXISTS conversations (
            id TEXT PRIMARY KEY,
            user_a_id TEXT NOT NULL,
            user_b_id TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            last_message_id TEXT,
            last_message_preview TEXT NOT NULL DEFAULT '',
            last_message_at TIMESTAMPTZ,
            last_seq BIGINT NOT NULL DEFAULT 0,
            sort_key BIGINT NOT NULL,
            unread_a INT NOT NULL DEFAULT 0 CHECK (unread_a >= 0),
            unread_b INT NOT NULL DEFAULT 0 CHECK (unread_b >= 0),
            archived_a BOOLEAN NOT NULL DEFAULT FALSE,
            archived_b BOOLEAN NOT NULL DEFAULT FALSE,
            last_read_seq_a BIGINT NOT NULL DEFAULT 0,
            last_read_seq_b BIGINT NOT NULL DEFAULT 0,
            last_read_at_a TIMESTAMPTZ,
            last_read_at_b TIMESTAMPTZ,
            version BIGINT NOT NULL DEFAULT 0,
            CHECK (user_a_id < user_b_id),
            UNIQUE (user_a_id, user_b_id)
        )`,

	`CREATE INDEX IF NOT EXISTS idx_conversations_user_a ON conversations (user_a_id, sort_key DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user_b ON conversations (user_b_id, sort_key DESC)`,

	`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            conversation_id TEXT NOT NULL REFERENCES conversations(id),
            seq BIGINT NOT NULL,
            sender_id TEXT NOT NULL,
            recipient_id TEXT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            media_ref TEXT,
            reply_to_id TEXT,
            created_at TIMESTAMPTZ NOT NULL,
            edited_at TIMESTAMPTZ,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            read_at TIMESTAMPTZ,
            deleted_at TIMESTAMPTZ,
            deleted_by TEXT,
            UNIQUE (conversation_id, seq)
        )`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			avatar_ref TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL,
			is_moderator BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

	`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_a_id TEXT NOT NULL,
			user_b_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_message_id TEXT,
			last_message_preview TEXT NOT NULL DEFAULT '',
			last_message_at DATETIME,
			last_seq INTEGER NOT NULL DEFAULT 0,
			sort_key INTEGER NOT NULL,
			unread_a INTEGER NOT NULL DEFAULT 0 CHECK (unread_a >= 0),
			unread_b INTEGER NOT NULL DEFAULT 0 CHECK (unread_b >= 0),
			archived_a BOOLEAN NOT NULL DEFAULT FALSE,
			archived_b BOOLEAN NOT NULL DEFAULT FALSE,
			last_read_seq_a INTEGER NOT NULL DEFAULT 0,
			last_read_seq_b INTEGER NOT NULL DEFAULT 0,
			last_read_at_a DATETIME,
			last_read_at_b DATETIME,
			version INTEGER NOT NULL DEFAULT 0,
			CHECK (user_a_id < user_b_id),
			UNIQUE (user_a_id, user_b_id)
		)`,

	`CREATE INDEX IF NOT EXISTS idx_conversations_user_a ON conversations (user_a_id, sort_key DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user_b ON conversations (user_b_id, sort_key DESC)`,

	`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			seq INTEGER NOT NULL,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			media_ref TEXT,
			reply_to_id TEXT,
			created_at DATETIME NOT NULL,
			edited_at DATETIME,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			read_at DATETIME,
			deleted_at DATETIME,
			deleted_by TEXT,
			UNIQUE (conversation_id, seq)
		)`,
}
