package configstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteTimeLayout is fixed width so created_at sorts as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and migrates it.
// An empty dsn uses ~/.embedchat/configs.db.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		dir := filepath.Join(home, ".embedchat")
		if err := os.MkdirAll(dir, storeDirMode); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		dsn = filepath.Join(dir, "configs.db")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS assistant_configs (
			config_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			owner_id TEXT NOT NULL DEFAULT '',
			api_key TEXT NOT NULL,
			assistant_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assistant_configs_owner ON assistant_configs(owner_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (AssistantConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT config_id, name, owner_id, api_key, assistant_id, created_at
		 FROM assistant_configs WHERE config_id = ?`, id)

	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AssistantConfig{}, ErrNotFound
		}
		return AssistantConfig{}, s.wrap("get config", err)
	}
	return cfg, nil
}

func (s *SQLiteStore) Put(ctx context.Context, cfg AssistantConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assistant_configs (config_id, name, owner_id, api_key, assistant_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(config_id) DO UPDATE SET
			name = excluded.name,
			owner_id = excluded.owner_id,
			api_key = excluded.api_key,
			assistant_id = excluded.assistant_id,
			created_at = excluded.created_at`,
		cfg.ID, cfg.Name, cfg.OwnerID, cfg.APIKey, cfg.AssistantID, cfg.CreatedAt.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return s.wrap("save config", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assistant_configs WHERE config_id = ?`, id)
	if err != nil {
		return s.wrap("delete config", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap("delete config", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]AssistantConfig, error) {
	query := `SELECT config_id, name, owner_id, api_key, assistant_id, created_at FROM assistant_configs`
	var args []any
	if opts.OwnerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, opts.OwnerID)
	}
	query += ` ORDER BY created_at, config_id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("list configs", err)
	}
	defer rows.Close()

	out := make([]AssistantConfig, 0)
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.wrap("ping", s.db.PingContext(ctx))
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "database is closed") {
		return ErrStorageClosed
	}
	return fmt.Errorf("%s: %w", op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (AssistantConfig, error) {
	var (
		cfg       AssistantConfig
		createdAt string
	)
	if err := row.Scan(&cfg.ID, &cfg.Name, &cfg.OwnerID, &cfg.APIKey, &cfg.AssistantID, &createdAt); err != nil {
		return AssistantConfig{}, err
	}
	t, err := time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		return AssistantConfig{}, fmt.Errorf("parse created_at: %w", err)
	}
	cfg.CreatedAt = t
	return cfg, nil
}
