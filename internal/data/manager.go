package data

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/leehonan/meterman-server/internal/eventlog"
	"github.com/leehonan/meterman-server/internal/store"
)

// Manager is the narrow set of repository-shaped operations over
// *store.Store that the device manager and HTTP API call into,
// matching MeterDataManager's role in original_source (a thin
// mediator between the protocol/HTTP layers and meter_db.py).
type Manager struct {
	store    *store.Store
	evlog    *eventlog.Logger
	logger   *zap.Logger
}

// New wraps st. evlog may be nil when EventFile.write_event_file is
// disabled.
func New(st *store.Store, evlog *eventlog.Logger, logger *zap.Logger) *Manager {
	return &Manager{store: st, evlog: evlog, logger: logger}
}

// ProcGatewaySnapshot persists a GWSNAP frame and, if the event log is
// enabled and not meter-only, appends an evidence line.
func (m *Manager) ProcGatewaySnapshot(in GatewaySnapshotInput) error {
	err := m.store.WriteGatewaySnapshot(store.GatewaySnapshot{
		GatewayUUID:  in.GatewayUUID,
		WhenReceived: in.WhenReceived,
		NetworkID:    in.NetworkID,
		GatewayID:    in.GatewayID,
		WhenBooted:   in.WhenBooted,
		FreeRAM:      in.FreeRAM,
		GatewayTime:  in.GatewayTime,
		LogLevel:     in.LogLevel,
		TxPower:      in.TxPower,
		RecStatus:    store.RecNormal,
	})
	if err != nil {
		return fmt.Errorf("data: proc gateway snapshot: %w", err)
	}
	if m.evlog != nil && !m.evlog.MeterOnly() {
		m.evlog.GatewaySnapshot(in.GatewayUUID, in.WhenReceived, in.NetworkID, in.GatewayID, in.WhenBooted, in.FreeRAM, in.GatewayTime, in.LogLevel, in.TxPower)
	}
	return nil
}

// ProcNodeSnapshot persists one NOSNAP detail record.
func (m *Manager) ProcNodeSnapshot(in NodeSnapshotInput) error {
	err := m.store.WriteNodeSnapshot(store.NodeSnapshot{
		NodeUUID:             in.NodeUUID,
		WhenReceived:         in.WhenReceived,
		NetworkID:            in.NetworkID,
		NodeID:               in.NodeID,
		GatewayID:            in.GatewayID,
		BattVoltageMV:        in.BattVoltageMV,
		UpTime:               in.UpTime,
		SleepTime:            in.SleepTime,
		FreeRAM:              in.FreeRAM,
		WhenLastSeen:         in.WhenLastSeen,
		LastClockDrift:       in.LastClockDrift,
		MeterInterval:        in.MeterInterval,
		MeterImpulsesPerKWh:  in.MeterImpulsesPerKWh,
		LastMeterEntryFinish: in.LastMeterEntryFinish,
		LastMeterValue:       in.LastMeterValue,
		LastRMSCurrent:       in.LastRMSCurrent,
		PuckLEDRate:          in.PuckLEDRate,
		PuckLEDTime:          in.PuckLEDTime,
		LastRSSIAtGateway:    in.LastRSSIAtGateway,
		RecStatus:            store.RecNormal,
	})
	if err != nil {
		return fmt.Errorf("data: proc node snapshot: %w", err)
	}
	if m.evlog != nil && !m.evlog.MeterOnly() {
		m.evlog.NodeSnapshot(in.NodeUUID, in.WhenReceived, in.NetworkID, in.NodeID, in.GatewayID, in.BattVoltageMV,
			in.UpTime, in.SleepTime, in.FreeRAM, in.WhenLastSeen, in.LastClockDrift, in.MeterInterval,
			in.MeterImpulsesPerKWh, in.LastMeterEntryFinish, in.LastMeterValue, in.LastRMSCurrent,
			in.PuckLEDRate, in.PuckLEDTime, in.LastRSSIAtGateway)
	}
	return nil
}

// ProcNodeEvent appends one row to the node_event log.
func (m *Manager) ProcNodeEvent(nodeUUID string, timestamp int64, eventType store.NodeEventType, details string) error {
	_, err := m.store.WriteNodeEvent(store.NodeEvent{
		NodeUUID:  nodeUUID,
		Timestamp: timestamp,
		EventType: eventType,
		Details:   details,
	})
	if err != nil {
		return fmt.Errorf("data: proc node event: %w", err)
	}
	return nil
}

// writeWithNonce inserts build(nonce) repeatedly, re-rolling the
// nonce on a *store.ConflictError up to maxNonceRetries times
// (spec.md I1).
func (m *Manager) writeWithNonce(build func(nonce string) store.MeterEntry) error {
	var lastErr error
	for attempt := 0; attempt < maxNonceRetries; attempt++ {
		entry := build(generateNonce())
		err := m.store.WriteMeterEntry(entry)
		if err == nil {
			return nil
		}
		var conflict *store.ConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("data: exhausted nonce retries: %w", lastErr)
}

// ProcMeterUpdate writes one MUP row per entry (spec.md §4.4
// proc_meter_update).
func (m *Manager) ProcMeterUpdate(nodeUUID string, entries []MeterUpdateEntry) error {
	for _, e := range entries {
		err := m.writeWithNonce(func(nonce string) store.MeterEntry {
			return store.MeterEntry{
				NodeUUID:     nodeUUID,
				WhenStartRaw: e.WhenStart,
				Nonce:        nonce,
				WhenStart:    e.WhenStart,
				Duration:     e.IntervalLength,
				EntryType:    store.EntryMeterUpdate,
				EntryValue:   e.EntryValue,
				MeterValue:   e.MeterValue,
				RecStatus:    store.RecNormal,
			}
		})
		if err != nil {
			return fmt.Errorf("data: proc meter update: %w", err)
		}
		if m.evlog != nil {
			m.evlog.MeterUpdate(nodeUUID, e.WhenStart, "", e.WhenStart, string(store.EntryMeterUpdate), e.EntryValue, e.IntervalLength, e.MeterValue, string(store.RecNormal))
		}
	}
	return nil
}

// ProcMeterRebase writes one MREB row (spec.md §4.4 proc_meter_rebase).
func (m *Manager) ProcMeterRebase(nodeUUID string, entryTimestamp, meterValue int64) error {
	err := m.writeWithNonce(func(nonce string) store.MeterEntry {
		return store.MeterEntry{
			NodeUUID:     nodeUUID,
			WhenStartRaw: entryTimestamp,
			Nonce:        nonce,
			WhenStart:    entryTimestamp,
			Duration:     0,
			EntryType:    store.EntryMeterRebase,
			EntryValue:   0,
			MeterValue:   meterValue,
			RecStatus:    store.RecNormal,
		}
	})
	if err != nil {
		return fmt.Errorf("data: proc meter rebase: %w", err)
	}
	if m.evlog != nil {
		m.evlog.MeterRebase(entryTimestamp, "", entryTimestamp, string(store.EntryMeterRebase), meterValue, string(store.RecNormal))
	}
	return nil
}

// DeleteMeterEntriesInRange soft-deletes entries in [from, to],
// optionally filtered to one entryType and/or source recStatus
// (spec.md §4.4 delete_meter_entries_in_range).
func (m *Manager) DeleteMeterEntriesInRange(nodeUUID string, from, to int64, entryType *store.EntryType, recStatus *store.RecStatus) error {
	err := m.store.UpdateMeterEntriesInRange(nodeUUID, from, to, entryType, recStatus, store.RecDeleted)
	if err != nil {
		return fmt.Errorf("data: delete meter entries in range: %w", err)
	}
	return nil
}

// GetMeterEntries is a thin pass-through to the store, exposed here so
// callers only need to import internal/data.
func (m *Manager) GetMeterEntries(filter store.MeterEntryFilter) ([]store.MeterEntry, error) {
	return m.store.GetMeterEntries(filter)
}

// GetGatewaySnapshots is a thin pass-through to the store.
func (m *Manager) GetGatewaySnapshots(filter store.GatewaySnapshotFilter) ([]store.GatewaySnapshot, error) {
	return m.store.GetGatewaySnapshots(filter)
}

// GetNodeSnapshots is a thin pass-through to the store.
func (m *Manager) GetNodeSnapshots(filter store.NodeSnapshotFilter) ([]store.NodeSnapshot, error) {
	return m.store.GetNodeSnapshots(filter)
}

// GetNodeEvents is a thin pass-through to the store.
func (m *Manager) GetNodeEvents(filter store.NodeEventFilter) ([]store.NodeEvent, error) {
	return m.store.GetNodeEvents(filter)
}
