package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps the raw *sql.DB used for the four composite-key
// relations and the *gorm.DB used for sys_param/user, matching the
// teacher's own split between backend/database (raw SQL) and
// backend/repository (gorm).
type Store struct {
	db   *sql.DB
	gdb  *gorm.DB
	path string

	// writeMu serializes writers across the raw-SQL relations; SQLite
	// in WAL mode already allows concurrent readers (spec.md §5).
	writeMu sync.Mutex
}

// Open opens (creating if absent) the SQLite database at path and
// tunes it for a single-writer/many-reader workload.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	gdb, err := gorm.Open(sqlite.Dialector{Conn: db}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: gorm open: %w", err)
	}

	return &Store{db: db, gdb: gdb, path: path}, nil
}

// Migrate creates every table and index if absent, and the gorm-backed
// sys_param/user relations via AutoMigrate.
func (s *Store) Migrate() error {
	for _, stmt := range ddlStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	if err := s.gdb.AutoMigrate(&SysParam{}, &User{}); err != nil {
		return fmt.Errorf("store: gorm automigrate: %w", err)
	}
	return nil
}

// CloseSafe closes the underlying database connection, tolerating a
// nil Store.
func (s *Store) CloseSafe() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
