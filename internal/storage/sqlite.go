//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps the full ticker record as a JSON document (the schedule
// is a closed variant that would be awkward as columns) plus an enabled
// column for the one predicate the orchestrator queries by.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutTicker(ctx context.Context, t ticker.Ticker) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tickers(id, enabled, doc) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET enabled=excluded.enabled, doc=excluded.doc`,
		t.ID, boolInt(t.Enabled), string(doc),
	)
	return err
}

func (s *sqliteStore) GetTicker(ctx context.Context, id string) (ticker.Ticker, bool, error) {
	if s == nil || s.db == nil {
		return ticker.Ticker{}, false, ErrDisabled
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM tickers WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ticker.Ticker{}, false, nil
	}
	if err != nil {
		return ticker.Ticker{}, false, err
	}
	var t ticker.Ticker
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return ticker.Ticker{}, false, err
	}
	return t, true, nil
}

func (s *sqliteStore) DeleteTicker(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tickers WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListTickers(ctx context.Context, f Filter) ([]ticker.Ticker, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT doc FROM tickers ORDER BY id`
	if f.EnabledOnly {
		q = `SELECT doc FROM tickers WHERE enabled = 1 ORDER BY id`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ticker.Ticker
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t ticker.Ticker
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			s.log.Warn("skipping undecodable ticker row", logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetFlag(ctx context.Context, key string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT value FROM flags WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (s *sqliteStore) SetFlag(ctx context.Context, key string, v bool) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flags(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, boolInt(v),
	)
	return err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
