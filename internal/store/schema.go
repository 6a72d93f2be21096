package store

// ddlStatements creates the four core relations and their indexes.
// Composite-key tables are WITHOUT ROWID, per original_source's
// meter_db.py and spec.md §6.
var ddlStatements = []string{
	`CREATE TABLE IF NOT EXISTS meter_entry (
		node_uuid TEXT NOT NULL,
		when_start_raw INTEGER NOT NULL,
		when_start_raw_nonce TEXT NOT NULL,
		when_start INTEGER NOT NULL,
		duration INTEGER NOT NULL,
		entry_type TEXT NOT NULL,
		entry_value INTEGER NOT NULL,
		meter_value INTEGER NOT NULL,
		rec_status TEXT NOT NULL,
		PRIMARY KEY (node_uuid, when_start_raw, when_start_raw_nonce)
	) WITHOUT ROWID`,
	`CREATE INDEX IF NOT EXISTS idx_meter_entry_node_uuid ON meter_entry (node_uuid)`,
	`CREATE INDEX IF NOT EXISTS idx_meter_entry_when_start ON meter_entry (when_start)`,
	`CREATE INDEX IF NOT EXISTS idx_meter_entry_entry_type ON meter_entry (entry_type)`,
	`CREATE INDEX IF NOT EXISTS idx_meter_entry_rec_status ON meter_entry (rec_status)`,

	`CREATE TABLE IF NOT EXISTS gateway_snapshot (
		gateway_uuid TEXT NOT NULL,
		when_received INTEGER NOT NULL,
		network_id TEXT NOT NULL,
		gateway_id INTEGER NOT NULL,
		when_booted INTEGER NOT NULL,
		free_ram INTEGER NOT NULL,
		gateway_time INTEGER NOT NULL,
		log_level TEXT NOT NULL,
		tx_power INTEGER NOT NULL,
		rec_status TEXT NOT NULL,
		PRIMARY KEY (gateway_uuid, when_received)
	) WITHOUT ROWID`,
	`CREATE INDEX IF NOT EXISTS idx_gateway_snapshot_uuid ON gateway_snapshot (gateway_uuid)`,
	`CREATE INDEX IF NOT EXISTS idx_gateway_snapshot_when_received ON gateway_snapshot (when_received)`,
	`CREATE INDEX IF NOT EXISTS idx_gateway_snapshot_rec_status ON gateway_snapshot (rec_status)`,

	`CREATE TABLE IF NOT EXISTS node_snapshot (
		node_uuid TEXT NOT NULL,
		when_received INTEGER NOT NULL,
		network_id TEXT NOT NULL,
		node_id INTEGER NOT NULL,
		gateway_id INTEGER NOT NULL,
		batt_voltage_mv INTEGER NOT NULL,
		up_time INTEGER NOT NULL,
		sleep_time INTEGER NOT NULL,
		free_ram INTEGER NOT NULL,
		when_last_seen INTEGER NOT NULL,
		last_clock_drift INTEGER NOT NULL,
		meter_interval INTEGER NOT NULL,
		meter_impulses_per_kwh INTEGER NOT NULL,
		last_meter_entry_finish INTEGER NOT NULL,
		last_meter_value INTEGER NOT NULL,
		last_rms_current REAL NOT NULL,
		puck_led_rate INTEGER NOT NULL,
		puck_led_time INTEGER NOT NULL,
		last_rssi_at_gateway INTEGER NOT NULL,
		rec_status TEXT NOT NULL,
		PRIMARY KEY (node_uuid, when_received)
	) WITHOUT ROWID`,
	`CREATE INDEX IF NOT EXISTS idx_node_snapshot_uuid ON node_snapshot (node_uuid)`,
	`CREATE INDEX IF NOT EXISTS idx_node_snapshot_when_received ON node_snapshot (when_received)`,
	`CREATE INDEX IF NOT EXISTS idx_node_snapshot_network_id ON node_snapshot (network_id)`,
	`CREATE INDEX IF NOT EXISTS idx_node_snapshot_rec_status ON node_snapshot (rec_status)`,

	`CREATE TABLE IF NOT EXISTS node_event (
		event_id INTEGER PRIMARY KEY,
		node_uuid TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_node_event_node_uuid ON node_event (node_uuid)`,
	`CREATE INDEX IF NOT EXISTS idx_node_event_timestamp ON node_event (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_node_event_event_type ON node_event (event_type)`,
}
