package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/playground/internal/storage"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements storage.KV and storage.ShareStore backed by a
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ storage.KV         = (*SQLiteStore)(nil)
	_ storage.ShareStore = (*SQLiteStore)(nil)
)

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: every ":memory:" connection is its own database, and
	// a single writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key, value string) error {
	return s.PutMany(ctx, map[string]string{key: value})
}

func (s *SQLiteStore) PutMany(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for key, value := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now,
		)
		if err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateShare(ctx context.Context, rec *storage.ShareRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("share id is required")
	}
	files, err := json.Marshal(rec.Snapshot.Files)
	if err != nil {
		return fmt.Errorf("marshaling files: %w", err)
	}
	rec.CreatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shares (id, files, entry_file, created_at) VALUES (?, ?, ?, ?)`,
		rec.ID, string(files), rec.Snapshot.EntryFile, rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting share: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetShare(ctx context.Context, id string) (*storage.ShareRecord, error) {
	var rec storage.ShareRecord
	var files, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, files, entry_file, created_at FROM shares WHERE id = ?`, id,
	).Scan(&rec.ID, &files, &rec.Snapshot.EntryFile, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrShareNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying share: %w", err)
	}

	if err := json.Unmarshal([]byte(files), &rec.Snapshot.Files); err != nil {
		return nil, fmt.Errorf("unmarshaling share files: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &rec, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
