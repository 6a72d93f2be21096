package store

import (
	"database/sql"
	"errors"
)

// WriteMeterEntry inserts one meter_entry row. A primary-key collision
// is reported as *ConflictError so the caller can re-roll the nonce
// (spec.md I1).
func (s *Store) WriteMeterEntry(e MeterEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO meter_entry
			(node_uuid, when_start_raw, when_start_raw_nonce, when_start, duration, entry_type, entry_value, meter_value, rec_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.NodeUUID, e.WhenStartRaw, e.Nonce, e.WhenStart, e.Duration, string(e.EntryType), e.EntryValue, e.MeterValue, string(e.RecStatus),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return &ConflictError{NodeUUID: e.NodeUUID, WhenStartRaw: e.WhenStartRaw, Nonce: e.Nonce}
		}
		return wrapStoreErr("write meter_entry", err)
	}
	return nil
}

// MeterEntryUpdate carries the selective-update columns for
// UpdateMeterEntry; nil fields are left unchanged, matching
// meter_db.py's update_meter_entry parameter shape.
type MeterEntryUpdate struct {
	WhenStart  *int64
	Duration   *int64
	EntryType  *EntryType
	EntryValue *int64
	MeterValue *int64
	RecStatus  *RecStatus
}

// UpdateMeterEntry applies a selective update to one row identified by
// its full primary key.
func (s *Store) UpdateMeterEntry(nodeUUID string, whenStartRaw int64, nonce string, u MeterEntryUpdate) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	set := ""
	args := make([]any, 0, 6)
	add := func(col string, val any) {
		if set != "" {
			set += ", "
		}
		set += col + " = ?"
		args = append(args, val)
	}

	if u.WhenStart != nil {
		add("when_start", *u.WhenStart)
	}
	if u.Duration != nil {
		add("duration", *u.Duration)
	}
	if u.EntryType != nil {
		add("entry_type", string(*u.EntryType))
	}
	if u.EntryValue != nil {
		add("entry_value", *u.EntryValue)
	}
	if u.MeterValue != nil {
		add("meter_value", *u.MeterValue)
	}
	if u.RecStatus != nil {
		add("rec_status", string(*u.RecStatus))
	}
	if set == "" {
		return nil
	}

	args = append(args, nodeUUID, whenStartRaw, nonce)
	_, err := s.db.Exec(
		"UPDATE meter_entry SET "+set+" WHERE node_uuid = ? AND when_start_raw = ? AND when_start_raw_nonce = ?",
		args...,
	)
	return wrapStoreErr("update meter_entry", err)
}

// UpdateMeterEntriesInRange soft-deletes (or otherwise retags) every
// entry for node_uuid within [from, to] matching entryType (if
// non-nil) and recStatus (if non-nil).
func (s *Store) UpdateMeterEntriesInRange(nodeUUID string, from, to int64, entryType *EntryType, recStatus *RecStatus, newRecStatus RecStatus) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := "UPDATE meter_entry SET rec_status = ? WHERE node_uuid = ? AND when_start >= ? AND when_start <= ?"
	args := []any{string(newRecStatus), nodeUUID, from, to}

	if entryType != nil {
		query += " AND entry_type = ?"
		args = append(args, string(*entryType))
	}
	if recStatus != nil {
		query += " AND rec_status = ?"
		args = append(args, string(*recStatus))
	}

	_, err := s.db.Exec(query, args...)
	return wrapStoreErr("update meter_entry range", err)
}

func scanMeterEntry(row *sql.Rows) (MeterEntry, error) {
	var e MeterEntry
	var entryType, recStatus string
	err := row.Scan(&e.NodeUUID, &e.WhenStartRaw, &e.Nonce, &e.WhenStart, &e.Duration, &entryType, &e.EntryValue, &e.MeterValue, &recStatus)
	e.EntryType = EntryType(entryType)
	e.RecStatus = RecStatus(recStatus)
	return e, err
}

const meterEntryColumns = "node_uuid, when_start_raw, when_start_raw_nonce, when_start, duration, entry_type, entry_value, meter_value, rec_status"

// MeterEntryFilter parameterizes GetMeterEntries. A nil pointer means
// "no constraint on this field", matching meter_db.py's optional
// keyword arguments.
type MeterEntryFilter struct {
	NodeUUID  *string
	EntryType *EntryType
	RecStatus *RecStatus
	TimeFrom  *int64
	TimeTo    *int64
	Limit     *int
}

// GetMeterEntries returns entries matching filter, newest when_start
// first.
func (s *Store) GetMeterEntries(filter MeterEntryFilter) ([]MeterEntry, error) {
	query := "SELECT " + meterEntryColumns + " FROM meter_entry"
	var args []any
	var clauses []string

	if filter.NodeUUID != nil {
		clauses = append(clauses, "node_uuid = ?")
		args = append(args, *filter.NodeUUID)
	}
	if filter.EntryType != nil {
		clauses = append(clauses, "entry_type = ?")
		args = append(args, string(*filter.EntryType))
	}
	if filter.RecStatus != nil {
		clauses = append(clauses, "rec_status = ?")
		args = append(args, string(*filter.RecStatus))
	}
	if filter.TimeFrom != nil {
		clauses = append(clauses, "when_start >= ?")
		args = append(args, *filter.TimeFrom)
	}
	if filter.TimeTo != nil {
		clauses = append(clauses, "when_start <= ?")
		args = append(args, *filter.TimeTo)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE "
		} else {
			query += " AND "
		}
		query += c
	}
	query += " ORDER BY when_start DESC"
	if filter.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapStoreErr("get meter entries", err)
	}
	defer rows.Close()

	var out []MeterEntry
	for rows.Next() {
		e, err := scanMeterEntry(rows)
		if err != nil {
			return nil, wrapStoreErr("scan meter entry", err)
		}
		out = append(out, e)
	}
	return out, wrapStoreErr("iterate meter entries", rows.Err())
}

// entryKinds maps the observed/synthetic pairing used by
// get_entry/get_first_mup/get_last_mup/get_first_rebase/get_last_rebase
// in meter_db.py: MUP queries consider both MUP and MUPS, rebase
// queries consider both MREB and MREBS.
func entryKinds(isRebase bool) (EntryType, EntryType) {
	if isRebase {
		return EntryMeterRebase, EntryMeterRebaseSynth
	}
	return EntryMeterUpdate, EntryMeterUpdateSynth
}

// getEntry is the shared implementation behind GetFirstMUP, GetLastMUP,
// GetFirstRebase and GetLastRebase: the NORM entry of the requested
// kind with the smallest (isFirst) or largest when_start in
// [from, to].
func (s *Store) getEntry(nodeUUID string, isRebase, isFirst bool, from, to *int64) (*MeterEntry, error) {
	kindA, kindB := entryKinds(isRebase)
	minMax := "MIN"
	order := "ASC"
	if !isFirst {
		minMax = "MAX"
		order = "DESC"
	}

	match := "node_uuid = ? AND entry_type IN (?, ?) AND rec_status = ?"
	matchArgs := []any{nodeUUID, string(kindA), string(kindB), string(RecNormal)}
	inner := "SELECT " + minMax + "(when_start) FROM meter_entry WHERE " + match
	args := append([]any{}, matchArgs...)

	if from != nil {
		inner += " AND when_start >= ?"
		args = append(args, *from)
	}
	if to != nil {
		inner += " AND when_start <= ?"
		args = append(args, *to)
	}

	query := "SELECT " + meterEntryColumns + " FROM meter_entry WHERE " + match + " AND when_start = (" + inner + ") ORDER BY when_start " + order + " LIMIT 1"

	rows, err := s.db.Query(query, append(matchArgs, args...)...)
	if err != nil {
		return nil, wrapStoreErr("get entry", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, wrapStoreErr("get entry", rows.Err())
	}
	e, err := scanMeterEntry(rows)
	if err != nil {
		return nil, wrapStoreErr("scan entry", err)
	}
	return &e, nil
}

func (s *Store) GetFirstMUP(nodeUUID string, from, to *int64) (*MeterEntry, error) {
	return s.getEntry(nodeUUID, false, true, from, to)
}

func (s *Store) GetLastMUP(nodeUUID string, from, to *int64) (*MeterEntry, error) {
	return s.getEntry(nodeUUID, false, false, from, to)
}

func (s *Store) GetFirstRebase(nodeUUID string, from, to *int64) (*MeterEntry, error) {
	return s.getEntry(nodeUUID, true, true, from, to)
}

func (s *Store) GetLastRebase(nodeUUID string, from, to *int64) (*MeterEntry, error) {
	return s.getEntry(nodeUUID, true, false, from, to)
}

// IsNotFound reports whether err indicates an absent entry rather than
// a store failure.
func IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}
