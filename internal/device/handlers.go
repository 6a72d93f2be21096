package device

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/leehonan/meterman-server/internal/codec"
	"github.com/leehonan/meterman-server/internal/data"
	"github.com/leehonan/meterman-server/internal/store"
)

// handleMeterUpdate reconstructs the meter-update payload carried by
// MUP_/MUPC and forwards it to the data manager, translating
// proc_meter_update (original_source/meterman/meter_device_manager.py:79-115).
//
// isIRMS selects the MUPC (with spot_rms_current) variant. The Python
// source appends the reconstructed entry twice when isIRMS is true
// (lines 101-103) — a confirmed bug; this emits each entry exactly
// once regardless of variant, per the corrected design.
func handleMeterUpdate(isIRMS bool) handlerFunc {
	return func(m *Manager, gatewayUUID string, f *codec.Frame) error {
		nodeID := f.Header.Int64("node_id")
		whenStart := f.Header.Int64("last_entry_finish_time") + 1 // fencepost preserved as-is
		meterValue := f.Header.Int64("last_entry_meter_value")

		uuid := nodeUUID(f.Provenance.NetworkID, nodeID)
		m.ensureNode(uuid, nodeID, gatewayUUID)

		if len(f.Details) == 0 {
			m.logger.Info("empty meter update", zap.String("node_uuid", uuid))
			return nil
		}

		entries := make([]data.MeterUpdateEntry, 0, len(f.Details))
		var lastRMS float64
		for _, d := range f.Details {
			intervalLength := d.Int64("entry_interval_length")
			entryValue := d.Int64("entry_value")

			whenStart += intervalLength
			meterValue += entryValue

			entries = append(entries, data.MeterUpdateEntry{
				WhenStart:      whenStart,
				EntryValue:     entryValue,
				IntervalLength: intervalLength,
				MeterValue:     meterValue,
			})
			if isIRMS {
				lastRMS = d.Float64("spot_rms_current")
			}
		}

		last := entries[len(entries)-1]
		m.updateNodeMeterState(uuid, last.WhenStart, last.MeterValue, isIRMS, lastRMS)

		return m.data.ProcMeterUpdate(uuid, entries)
	}
}

func (m *Manager) updateNodeMeterState(uuid string, whenStart, meterValue int64, isIRMS bool, rms float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[uuid]
	if !ok {
		return
	}
	n.LastMeterEntryFinish = whenStart
	n.LastMeterValue = meterValue
	if isIRMS {
		n.LastRMSCurrent = rms
	}
}

// handleMeterRebase forwards (node_uuid, entry_timestamp, meter_value)
// to the data manager, translating proc_meter_rebase
// (original_source/meterman/meter_device_manager.py:118-128).
func handleMeterRebase(m *Manager, gatewayUUID string, f *codec.Frame) error {
	nodeID := f.Header.Int64("node_id")
	ts := f.Header.Int64("entry_timestamp")
	meterValue := f.Header.Int64("meter_value")

	uuid := nodeUUID(f.Provenance.NetworkID, nodeID)
	m.ensureNode(uuid, nodeID, gatewayUUID)
	m.updateNodeMeterState(uuid, ts, meterValue, false, 0)

	return m.data.ProcMeterRebase(uuid, ts, meterValue)
}

// handleGatewaySnapshot forwards a GWSNAP frame to the data manager,
// translating proc_gateway_snapshot.
func handleGatewaySnapshot(m *Manager, gatewayUUID string, f *codec.Frame) error {
	return m.data.ProcGatewaySnapshot(data.GatewaySnapshotInput{
		GatewayUUID:  gatewayUUID,
		WhenReceived: f.Provenance.WhenReceived.Unix(),
		NetworkID:    f.Provenance.NetworkID,
		GatewayID:    f.Header.Int64("gateway_id"),
		WhenBooted:   f.Header.Int64("when_booted"),
		FreeRAM:      f.Header.Int64("free_ram"),
		GatewayTime:  f.Header.Int64("gateway_time"),
		LogLevel:     f.Header.String("log_level"),
		TxPower:      f.Header.Int64("tx_power"),
	})
}

// handleNodeSnapshot forwards each NOSNAP detail record to the data
// manager, translating proc_node_snapshot.
func handleNodeSnapshot(m *Manager, gatewayUUID string, f *codec.Frame) error {
	if len(f.Details) == 0 {
		m.logger.Info("got 0 node snapshots")
		return nil
	}

	for _, d := range f.Details {
		nodeID := d.Int64("node_id")
		uuid := nodeUUID(f.Provenance.NetworkID, nodeID)
		m.ensureNode(uuid, nodeID, gatewayUUID)

		err := m.data.ProcNodeSnapshot(data.NodeSnapshotInput{
			NodeUUID:             uuid,
			WhenReceived:         f.Provenance.WhenReceived.Unix(),
			NetworkID:            f.Provenance.NetworkID,
			NodeID:               nodeID,
			GatewayID:            mustGatewayNumericID(gatewayUUID),
			BattVoltageMV:        d.Int64("batt_voltage"),
			UpTime:               d.Int64("up_time"),
			SleepTime:            d.Int64("sleep_time"),
			FreeRAM:              d.Int64("free_ram"),
			WhenLastSeen:         d.Int64("when_last_seen"),
			LastClockDrift:       d.Int64("last_clock_drift"),
			MeterInterval:        d.Int64("meter_interval"),
			MeterImpulsesPerKWh:  d.Int64("meter_impulses_per_kwh"),
			LastMeterEntryFinish: d.Int64("last_meter_entry_finish"),
			LastMeterValue:       d.Int64("last_meter_value"),
			LastRMSCurrent:       d.Float64("last_rms_current"),
			PuckLEDRate:          d.Int64("puck_led_rate"),
			PuckLEDTime:          d.Int64("puck_led_time"),
			LastRSSIAtGateway:    d.Int64("last_rssi_at_gateway"),
		})
		if err != nil {
			return fmt.Errorf("device: node snapshot for %s: %w", uuid, err)
		}
	}
	return nil
}

// handleNodeDark records a DARK node event, translating proc_node_dark.
func handleNodeDark(m *Manager, gatewayUUID string, f *codec.Frame) error {
	nodeID := f.Header.Int64("node_id")
	lastSeen := f.Header.Int64("last_seen")
	uuid := nodeUUID(f.Provenance.NetworkID, nodeID)
	m.ensureNode(uuid, nodeID, gatewayUUID)

	details := fmt.Sprintf("last seen at: %d", lastSeen)
	if err := m.data.ProcNodeEvent(uuid, f.Provenance.WhenReceived.Unix(), store.EventDark, details); err != nil {
		return err
	}

	if m.notifier != nil {
		if err := m.notifier.Notify(fmt.Sprintf("node %s went dark, %s", uuid, details)); err != nil {
			m.logger.Warn("sms notify failed", zap.String("node_uuid", uuid), zap.Error(err))
		}
	}
	return nil
}

// handleGeneralPurposeMessage records a BOOT node event when the
// payload begins with "BOOT"; otherwise logs and drops, translating
// proc_gp_msg.
func handleGeneralPurposeMessage(m *Manager, gatewayUUID string, f *codec.Frame) error {
	nodeID := f.Header.Int64("node_id")
	message := f.Header.String("message")
	uuid := nodeUUID(f.Provenance.NetworkID, nodeID)
	m.ensureNode(uuid, nodeID, gatewayUUID)

	if len(message) >= 4 && message[:4] == "BOOT" {
		return m.data.ProcNodeEvent(uuid, f.Provenance.WhenReceived.Unix(), store.EventBoot, message)
	}
	m.logger.Info("dropped general-purpose message", zap.String("message", message))
	return nil
}

// mustGatewayNumericID extracts the numeric gateway_id suffix from a
// "<network_id>.<gateway_id>" UUID.
func mustGatewayNumericID(gatewayUUID string) int64 {
	for i := len(gatewayUUID) - 1; i >= 0; i-- {
		if gatewayUUID[i] == '.' {
			if v, err := strconv.ParseInt(gatewayUUID[i+1:], 10, 64); err == nil {
				return v
			}
			break
		}
	}
	return 0
}
