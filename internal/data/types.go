// Package data implements the consumption algorithm and write paths
// over the persistent meter relations (spec.md §4.4), sitting between
// the device manager and the store.
package data

import "github.com/leehonan/meterman-server/internal/store"

// MeterUpdateEntry is one reconstructed or caller-supplied reading,
// matching the dict shape original_source passes around between
// meter_device_manager.py and meter_data_manager.py.
type MeterUpdateEntry struct {
	WhenStart      int64
	EntryValue     int64
	IntervalLength int64
	MeterValue     int64
}

// ConsumptionResult is the outcome of GetMeterConsumption: the
// computed watt-hour delta plus a breakdown string for diagnostics,
// matching meter_data_manager.py's calc_breakdown.
type ConsumptionResult struct {
	MeterConsumption int64
	CalcBreakdown    string
}

// GatewaySnapshotInput carries the fields of a GWSNAP frame destined
// for persistence.
type GatewaySnapshotInput struct {
	GatewayUUID  string
	WhenReceived int64
	NetworkID    string
	GatewayID    int64
	WhenBooted   int64
	FreeRAM      int64
	GatewayTime  int64
	LogLevel     string
	TxPower      int64
}

// NodeSnapshotInput carries the fields of a NOSNAP detail record
// destined for persistence.
type NodeSnapshotInput struct {
	NodeUUID             string
	WhenReceived         int64
	NetworkID            string
	NodeID               int64
	GatewayID            int64
	BattVoltageMV        int64
	UpTime               int64
	SleepTime            int64
	FreeRAM              int64
	WhenLastSeen         int64
	LastClockDrift       int64
	MeterInterval        int64
	MeterImpulsesPerKWh  int64
	LastMeterEntryFinish int64
	LastMeterValue       int64
	LastRMSCurrent       float64
	PuckLEDRate          int64
	PuckLEDTime          int64
	LastRSSIAtGateway    int64
}

// entryTypePtr and recStatusPtr are small helpers so callers building
// store.MeterEntryFilter/MeterEntryUpdate values don't need to spell
// out address-of-literal boilerplate at every call site.
func entryTypePtr(t store.EntryType) *store.EntryType { return &t }
func recStatusPtr(r store.RecStatus) *store.RecStatus { return &r }
