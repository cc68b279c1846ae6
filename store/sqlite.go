package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ollama/replagent/session"
)

// SQLite is a Store keeping each session as its XML document in a SQLite
// database.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLite) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		xml BLOB NOT NULL,
		events INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		modified_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_modified ON sessions(modified_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLite) Create(ctx context.Context, sess *session.Session) (string, error) {
	bts, err := session.Marshal(sess)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UnixNano()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, xml, events, created_at, modified_at) VALUES (?, ?, ?, ?, ?)`,
		id, bts, len(sess.Events), now, now,
	); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	return id, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*session.Session, error) {
	var bts []byte
	err := s.db.QueryRowContext(ctx, `SELECT xml FROM sessions WHERE id = ?`, id).Scan(&bts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	sess, err := session.Unmarshal(bts)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLite) Put(ctx context.Context, id string, sess *session.Session) error {
	bts, err := session.Marshal(sess)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET xml = ?, events = ?, modified_at = ? WHERE id = ?`,
		bts, len(sess.Events), time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return expectOne(res)
}

func (s *SQLite) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, events, created_at, modified_at FROM sessions ORDER BY modified_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		var info Info
		var created, modified int64
		if err := rows.Scan(&info.ID, &info.Events, &created, &modified); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		info.CreatedAt = time.Unix(0, created)
		info.ModifiedAt = time.Unix(0, modified)
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return expectOne(res)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return ErrNotFound
	}
	return nil
}
