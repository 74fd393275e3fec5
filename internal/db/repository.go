package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Repository stores opaque blobs by key inside one namespace. It is the
// durable medium behind the replica store and the operation queue.
type Repository struct {
	db        *sql.DB
	namespace string

	// Prepared statements are cached per query string.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a Repository scoped to namespace.
func NewRepository(db *sql.DB, namespace string) *Repository {
	return &Repository{db: db, namespace: namespace}
}

// Namespace returns the namespace the repository writes into.
func (r *Repository) Namespace() string {
	return r.namespace
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// Get returns the blob stored under key. ok is false when the key is absent.
func (r *Repository) Get(key string) (data []byte, ok bool, err error) {
	stmt, err := r.PrepareStmt(`SELECT data FROM replica_blobs WHERE namespace = ? AND key = ?`)
	if err != nil {
		return nil, false, err
	}

	err = stmt.QueryRow(r.namespace, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s: %w", r.namespace, key, err)
	}
	return data, true, nil
}

// SetMany writes every blob in one transaction: either all keys are updated
// or none are.
func (r *Repository) SetMany(blobs map[string][]byte) error {
	if len(blobs) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	query := `
	INSERT INTO replica_blobs (namespace, key, data, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(namespace, key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	for key, data := range blobs {
		if data == nil {
			data = []byte{}
		}
		if _, err := tx.Exec(query, r.namespace, key, data, now); err != nil {
			return fmt.Errorf("failed to write %s/%s: %w", r.namespace, key, err)
		}
	}

	return tx.Commit()
}

// DeleteMany removes the given keys in one transaction.
func (r *Repository) DeleteMany(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.Exec(`DELETE FROM replica_blobs WHERE namespace = ? AND key = ?`, r.namespace, key); err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", r.namespace, key, err)
		}
	}

	return tx.Commit()
}

// Keys lists the keys present in the namespace.
func (r *Repository) Keys() ([]string, error) {
	rows, err := r.db.Query(`SELECT key FROM replica_blobs WHERE namespace = ? ORDER BY key`, r.namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
