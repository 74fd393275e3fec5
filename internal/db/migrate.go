package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
)

// Migration is one applied schema version as recorded in schema_migrations.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// Migrator applies V<version>__<description>.up.sql / .down.sql scripts
// from a directory of an fs.FS. Applied scripts must not change: Up refuses
// to run when a recorded checksum no longer matches its script.
type Migrator struct {
	db   *sql.DB
	fsys fs.FS
	dir  string
}

// NewMigrator returns a Migrator reading scripts from dir inside fsys.
func NewMigrator(db *sql.DB, fsys fs.FS, dir string) *Migrator {
	return &Migrator{db: db, fsys: fsys, dir: dir}
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY CHECK(version > 0),
	applied_at  INTEGER NOT NULL,
	description TEXT NOT NULL,
	checksum    TEXT NOT NULL CHECK(length(checksum) = 64)
);`

// Initialize creates the bookkeeping table.
func (m *Migrator) Initialize() error {
	if _, err := m.db.Exec(createMigrationsTable); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "create schema_migrations", err)
	}
	return nil
}

// CurrentVersion returns the highest applied version, 0 when none.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrPersistence, "read schema version", err)
	}
	return version, nil
}

// GetAppliedMigrations returns the applied versions in ascending order.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query(`SELECT version, applied_at, description, checksum
		FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "list migrations", err)
	}
	defer rows.Close()

	var out []Migration
	for rows.Next() {
		var (
			mig Migration
			at  int64
		)
		if err := rows.Scan(&mig.Version, &at, &mig.Description, &mig.Checksum); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrPersistence, "scan migration", err)
		}
		mig.AppliedAt = time.Unix(at, 0)
		out = append(out, mig)
	}
	return out, rows.Err()
}

// script is one versioned migration found on disk.
type script struct {
	version     int
	description string
	up, down    string // file names, down may be empty
}

func (s script) read(fsys fs.FS, dir, name string) ([]byte, string, error) {
	body, err := fs.ReadFile(fsys, path.Join(dir, name))
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(body)
	return body, hex.EncodeToString(sum[:]), nil
}

// parseName splits "V3__add_index.up.sql" into 3, "add_index", "up".
func parseName(name string) (version int, description, direction string, ok bool) {
	for _, dir := range []string{"up", "down"} {
		suffix := "." + dir + ".sql"
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		head, desc, found := strings.Cut(strings.TrimSuffix(name, suffix), "__")
		if !found || desc == "" || !strings.HasPrefix(head, "V") {
			return 0, "", "", false
		}
		v, err := strconv.Atoi(head[1:])
		if err != nil || v <= 0 {
			return 0, "", "", false
		}
		return v, desc, dir, true
	}
	return 0, "", "", false
}

// scripts lists the migrations in dir, ordered by version. Files that do not
// follow the naming scheme are ignored.
func (m *Migrator) scripts() ([]script, error) {
	entries, err := fs.ReadDir(m.fsys, m.dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "read migrations directory", err)
	}

	byVersion := make(map[int]*script)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, desc, direction, ok := parseName(entry.Name())
		if !ok {
			continue
		}
		s := byVersion[version]
		if s == nil {
			s = &script{version: version, description: desc}
			byVersion[version] = s
		}
		if direction == "up" {
			s.up = entry.Name()
		} else {
			s.down = entry.Name()
		}
	}

	out := make([]script, 0, len(byVersion))
	for _, s := range byVersion {
		if s.up != "" {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// inTx runs fn in a transaction and commits when it succeeds.
func (m *Migrator) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Up applies every pending migration, each in its own transaction.
func (m *Migrator) Up() error {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return err
	}
	recorded := make(map[int]string, len(applied))
	for _, mig := range applied {
		recorded[mig.Version] = mig.Checksum
	}

	scripts, err := m.scripts()
	if err != nil {
		return err
	}

	for _, s := range scripts {
		body, checksum, err := s.read(m.fsys, m.dir, s.up)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, fmt.Sprintf("read migration V%d", s.version), err)
		}
		if prev, ok := recorded[s.version]; ok {
			if prev != checksum {
				return apperrors.Newf(apperrors.ErrPersistence,
					"migration V%d changed after it was applied", s.version)
			}
			continue
		}

		err = m.inTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at, description, checksum)
				VALUES (?, ?, ?, ?)`, s.version, time.Now().Unix(), s.description, checksum)
			return err
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, fmt.Sprintf("apply migration V%d", s.version), err)
		}
		logging.Debug("Applied migration", map[string]interface{}{
			"version":     s.version,
			"description": s.description,
		})
	}
	return nil
}

// Down rolls back the latest applied migration using its .down.sql script.
func (m *Migrator) Down() error {
	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}
	if current == 0 {
		return apperrors.New(apperrors.ErrValidation, "no migrations to roll back")
	}

	scripts, err := m.scripts()
	if err != nil {
		return err
	}
	var target *script
	for i := range scripts {
		if scripts[i].version == current {
			target = &scripts[i]
		}
	}
	if target == nil || target.down == "" {
		return apperrors.Newf(apperrors.ErrNotFound, "no rollback script for version %d", current)
	}

	body, _, err := target.read(m.fsys, m.dir, target.down)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "read rollback script", err)
	}
	err = m.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(string(body)); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = ?`, current)
		return err
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, fmt.Sprintf("roll back migration V%d", current), err)
	}
	return nil
}
