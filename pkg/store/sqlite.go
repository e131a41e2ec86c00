package store

import (
	"database/sql"
	"errors"
	"fmt"

	// Register the SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (namespace, key)
)`

// SQLite denotes a backend persisting key-value pairs in a SQLite database file
type SQLite struct {
	path string
}

// NewSQLite instantiates a new SQLite backend for the database at path
func NewSQLite(path string) *SQLite {
	return &SQLite{
		path: path,
	}
}

// Open opens the database and starts a transaction scoped to the session
func (s *SQLite) Open(namespace string) (Session, error) {
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database `%s`: %w", s.path, err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteSession{
		db:        db,
		tx:        tx,
		namespace: namespace,
	}, nil
}

type sqliteSession struct {
	db        *sql.DB
	tx        *sql.Tx
	namespace string
	failed    bool
}

func (s *sqliteSession) Get(key string) (string, bool, error) {
	if s.tx == nil {
		return "", false, ErrClosed
	}

	var value string
	err := s.tx.QueryRow(`SELECT value FROM kv WHERE namespace = ? AND key = ?`, s.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return value, true, nil
}

func (s *sqliteSession) Put(key, value string) error {
	if s.tx == nil {
		return ErrClosed
	}

	if _, err := s.tx.Exec(`INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`, s.namespace, key, value); err != nil {
		s.failed = true
		return err
	}

	return nil
}

func (s *sqliteSession) Clear() error {
	if s.tx == nil {
		return ErrClosed
	}

	if _, err := s.tx.Exec(`DELETE FROM kv WHERE namespace = ?`, s.namespace); err != nil {
		s.failed = true
		return err
	}

	return nil
}

// Close commits all changes of the session (or rolls them back if any write
// failed) and closes the database
func (s *sqliteSession) Close() (err error) {
	if s.tx == nil {
		return ErrClosed
	}
	defer func() {
		if cerr := s.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.tx = nil
	}()

	if s.failed {
		return s.tx.Rollback()
	}
	if err = s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}
