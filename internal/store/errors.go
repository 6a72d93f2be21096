package store

import (
	"errors"
	"fmt"
	"strings"
)

// ConflictError reports a primary-key collision on meter_entry
// (spec.md §7 StoreConflict). Callers re-roll the nonce and retry.
type ConflictError struct {
	NodeUUID     string
	WhenStartRaw int64
	Nonce        string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: primary key conflict for (%s, %d, %s)", e.NodeUUID, e.WhenStartRaw, e.Nonce)
}

// isUniqueConstraintErr detects a SQLite UNIQUE/PRIMARY KEY violation
// from modernc.org/sqlite's error text. The driver does not export a
// typed sentinel, so this matches the constraint-violation message it
// is documented to produce.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "primary key")
}

// wrapStoreErr wraps any other store failure (spec.md §7 StoreError).
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("store: %s: %w", op, err)
}

var errNotFound = errors.New("store: not found")
