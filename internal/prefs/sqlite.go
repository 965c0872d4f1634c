package prefs

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS device_prefs (
		device_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (device_id, key)
	);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, device, key string) (string, bool, error) {
	if device == "" {
		return "", false, ErrEmptyDevice
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM device_prefs WHERE device_id = ? AND key = ?`,
		device, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, device, key, value string) error {
	if device == "" {
		return ErrEmptyDevice
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_prefs (device_id, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(device_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, device, key, value)
	return err
}

func (s *SQLiteStore) Remove(ctx context.Context, device, key string) error {
	if device == "" {
		return ErrEmptyDevice
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM device_prefs WHERE device_id = ? AND key = ?`,
		device, key,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
