package store

const gatewaySnapshotColumns = "gateway_uuid, when_received, network_id, gateway_id, when_booted, free_ram, gateway_time, log_level, tx_power, rec_status"

// WriteGatewaySnapshot inserts one gateway_snapshot row.
func (s *Store) WriteGatewaySnapshot(g GatewaySnapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO gateway_snapshot (`+gatewaySnapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.GatewayUUID, g.WhenReceived, g.NetworkID, g.GatewayID, g.WhenBooted, g.FreeRAM, g.GatewayTime, g.LogLevel, g.TxPower, string(g.RecStatus),
	)
	return wrapStoreErr("write gateway_snapshot", err)
}

// GatewaySnapshotFilter parameterizes GetGatewaySnapshots.
type GatewaySnapshotFilter struct {
	GatewayUUID *string
	TimeFrom    *int64
	TimeTo      *int64
	Limit       *int
}

// GetGatewaySnapshots returns snapshots matching filter, most recent
// when_received first.
func (s *Store) GetGatewaySnapshots(filter GatewaySnapshotFilter) ([]GatewaySnapshot, error) {
	query := "SELECT " + gatewaySnapshotColumns + " FROM gateway_snapshot"
	var args []any
	var clauses []string

	if filter.GatewayUUID != nil {
		clauses = append(clauses, "gateway_uuid = ?")
		args = append(args, *filter.GatewayUUID)
	}
	if filter.TimeFrom != nil {
		clauses = append(clauses, "when_received >= ?")
		args = append(args, *filter.TimeFrom)
	}
	if filter.TimeTo != nil {
		clauses = append(clauses, "when_received <= ?")
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
	query += " ORDER BY when_received DESC"
	if filter.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapStoreErr("get gateway snapshots", err)
	}
	defer rows.Close()

	var out []GatewaySnapshot
	for rows.Next() {
		var g GatewaySnapshot
		var recStatus string
		if err := rows.Scan(&g.GatewayUUID, &g.WhenReceived, &g.NetworkID, &g.GatewayID, &g.WhenBooted, &g.FreeRAM, &g.GatewayTime, &g.LogLevel, &g.TxPower, &recStatus); err != nil {
			return nil, wrapStoreErr("scan gateway snapshot", err)
		}
		g.RecStatus = RecStatus(recStatus)
		out = append(out, g)
	}
	return out, wrapStoreErr("iterate gateway snapshots", rows.Err())
}

// GetLastGatewaySnapshot returns the most recently received snapshot
// for gatewayUUID, used to seed the cachedSnap on link reconnect.
func (s *Store) GetLastGatewaySnapshot(gatewayUUID string) (*GatewaySnapshot, error) {
	limit := 1
	rows, err := s.GetGatewaySnapshots(GatewaySnapshotFilter{GatewayUUID: &gatewayUUID, Limit: &limit})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
