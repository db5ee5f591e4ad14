package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/middleware"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist
	ErrNotFound = errors.New("not found")
	// ErrDefaultPreset is returned when deleting the default preset
	ErrDefaultPreset = errors.New("default preset cannot be deleted")
	// ErrUnknownPreset is returned when settings link a preset that does not exist
	ErrUnknownPreset = errors.New("preset does not exist")
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store is the relational store shared by the bot and the admin backend
type Store struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// Open connects to the database named by cfg.URL. postgres:// and
// postgresql:// URLs use lib/pq; anything else is treated as a sqlite path.
func Open(cfg *config.DatabaseConfig, metrics *middleware.Metrics, logger *logrus.Logger) (*Store, error) {
	driver, dsn, d, err := parseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	if d == dialectSQLite {
		if dir := filepath.Dir(sqlitePath(dsn)); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if d == dialectSQLite {
		// Writers serialize on the file; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.WithField("driver", driver).Info("Connected to database")

	return &Store{
		db:      db,
		dialect: d,
		now:     time.Now,
		metrics: metrics,
		logger:  logger,
	}, nil
}

func parseURL(raw string) (driver, dsn string, d dialect, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", 0, errors.New("database url is empty")
	}

	scheme, rest, hasScheme := strings.Cut(raw, "://")
	if !hasScheme {
		return "sqlite", raw + sqlitePragmas, dialectSQLite, nil
	}

	// Strip SQLAlchemy-style driver suffixes such as postgresql+asyncpg.
	base, _, _ := strings.Cut(scheme, "+")
	switch base {
	case "postgres", "postgresql":
		return "postgres", base + "://" + rest, dialectPostgres, nil
	case "sqlite", "file":
		// sqlite:///./rel.db and sqlite:////abs.db are SQLAlchemy spellings
		path := rest
		if strings.HasPrefix(path, "/./") || strings.HasPrefix(path, "//") {
			path = path[1:]
		}
		if path == "" {
			return "", "", 0, fmt.Errorf("sqlite url %q has no path", raw)
		}
		return "sqlite", path + sqlitePragmas, dialectSQLite, nil
	default:
		return "", "", 0, fmt.Errorf("unsupported database url scheme: %s", scheme)
	}
}

const sqlitePragmas = "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

func sqlitePath(dsn string) string {
	path, _, _ := strings.Cut(dsn, "?")
	return path
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema when missing
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	s.logger.Info("Database schema is up to date")
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		telegram_chat_id BIGINT NOT NULL UNIQUE,
		chat_type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		telegram_user_id BIGINT NOT NULL UNIQUE,
		username TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		is_bot BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS presets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_tokens INTEGER NOT NULL DEFAULT 0,
		tone TEXT NOT NULL DEFAULT '',
		verbosity TEXT NOT NULL DEFAULT '',
		emotional_intensity INTEGER NOT NULL DEFAULT 0,
		system_prompt_override TEXT NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_settings (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL UNIQUE REFERENCES chats(id) ON DELETE CASCADE,
		preset_id TEXT REFERENCES presets(id) ON DELETE SET NULL,
		auto_reply_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		reply_on_mention_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		temporary_preset_until BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		user_id TEXT REFERENCES users(id) ON DELETE SET NULL,
		telegram_message_id BIGINT NOT NULL,
		message_type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		is_from_bot BOOLEAN NOT NULL DEFAULT FALSE,
		is_reply BOOLEAN NOT NULL DEFAULT FALSE,
		reply_to_message_id TEXT REFERENCES messages(id) ON DELETE SET NULL,
		message_hash TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)`,
	`CREATE TABLE IF NOT EXISTS admin_actions (
		id TEXT PRIMARY KEY,
		action_type TEXT NOT NULL,
		target_type TEXT NOT NULL DEFAULT '',
		target_id TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL
	)`,
}

// rebind rewrites ? placeholders to $n for Postgres
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// like returns the case-insensitive match operator of the dialect
func (s *Store) like() string {
	if s.dialect == dialectPostgres {
		return "ILIKE"
	}
	return "LIKE"
}

func (s *Store) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	s.metrics.RecordStorageOperation(operation, status, time.Since(start))
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) stamp() int64 {
	return s.now().UnixNano()
}

func fromStamp(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullStamp(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	t := fromStamp(ni.Int64)
	return &t
}
