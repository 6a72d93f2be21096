package store

const nodeSnapshotColumns = `node_uuid, when_received, network_id, node_id, gateway_id, batt_voltage_mv,
	up_time, sleep_time, free_ram, when_last_seen, last_clock_drift, meter_interval,
	meter_impulses_per_kwh, last_meter_entry_finish, last_meter_value, last_rms_current,
	puck_led_rate, puck_led_time, last_rssi_at_gateway, rec_status`

// WriteNodeSnapshot inserts one node_snapshot row.
func (s *Store) WriteNodeSnapshot(n NodeSnapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO node_snapshot (`+nodeSnapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.NodeUUID, n.WhenReceived, n.NetworkID, n.NodeID, n.GatewayID, n.BattVoltageMV,
		n.UpTime, n.SleepTime, n.FreeRAM, n.WhenLastSeen, n.LastClockDrift, n.MeterInterval,
		n.MeterImpulsesPerKWh, n.LastMeterEntryFinish, n.LastMeterValue, n.LastRMSCurrent,
		n.PuckLEDRate, n.PuckLEDTime, n.LastRSSIAtGateway, string(n.RecStatus),
	)
	return wrapStoreErr("write node_snapshot", err)
}

// NodeSnapshotFilter parameterizes GetNodeSnapshots.
type NodeSnapshotFilter struct {
	NodeUUID *string
	TimeFrom *int64
	TimeTo   *int64
	Limit    *int
}

func scanNodeSnapshot(rows interface {
	Scan(dest ...any) error
}) (NodeSnapshot, error) {
	var n NodeSnapshot
	var recStatus string
	err := rows.Scan(&n.NodeUUID, &n.WhenReceived, &n.NetworkID, &n.NodeID, &n.GatewayID, &n.BattVoltageMV,
		&n.UpTime, &n.SleepTime, &n.FreeRAM, &n.WhenLastSeen, &n.LastClockDrift, &n.MeterInterval,
		&n.MeterImpulsesPerKWh, &n.LastMeterEntryFinish, &n.LastMeterValue, &n.LastRMSCurrent,
		&n.PuckLEDRate, &n.PuckLEDTime, &n.LastRSSIAtGateway, &recStatus)
	n.RecStatus = RecStatus(recStatus)
	return n, err
}

// GetNodeSnapshots returns snapshots matching filter, most recent
// when_received first.
func (s *Store) GetNodeSnapshots(filter NodeSnapshotFilter) ([]NodeSnapshot, error) {
	query := "SELECT " + nodeSnapshotColumns + " FROM node_snapshot"
	var args []any
	var clauses []string

	if filter.NodeUUID != nil {
		clauses = append(clauses, "node_uuid = ?")
		args = append(args, *filter.NodeUUID)
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
		return nil, wrapStoreErr("get node snapshots", err)
	}
	defer rows.Close()

	var out []NodeSnapshot
	for rows.Next() {
		n, err := scanNodeSnapshot(rows)
		if err != nil {
			return nil, wrapStoreErr("scan node snapshot", err)
		}
		out = append(out, n)
	}
	return out, wrapStoreErr("iterate node snapshots", rows.Err())
}

// GetLastNodeSnapshot returns the most recently received snapshot for
// nodeUUID, used by the device manager to seed node state on startup.
func (s *Store) GetLastNodeSnapshot(nodeUUID string) (*NodeSnapshot, error) {
	limit := 1
	rows, err := s.GetNodeSnapshots(NodeSnapshotFilter{NodeUUID: &nodeUUID, Limit: &limit})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
