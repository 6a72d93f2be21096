// Package device implements the device manager (spec.md §4.3): it
// drains each gateway link's inbound buffer, dispatches decoded frames
// to per-type handlers, and drives the cadenced control traffic and
// simulated-meter generation.
package device

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leehonan/meterman-server/internal/codec"
	"github.com/leehonan/meterman-server/internal/data"
	"github.com/leehonan/meterman-server/internal/link"
)

const (
	// GatewayTimeSyncIntervalSecs is how often a gateway's clock is
	// re-synced (spec.md §4.3.c).
	GatewayTimeSyncIntervalSecs = 600
	// NodeUpdateIntervalSecs is how often gateway/node snapshots are
	// polled (spec.md §4.3.c).
	NodeUpdateIntervalSecs = 900

	tickInterval = 500 * time.Millisecond
)

// handlerFunc processes one drained frame for one gateway. Errors are
// recovered and logged by dispatchOne, never propagated to the tick
// loop (spec.md: "a handler that raises MUST NOT halt the dispatch
// loop").
type handlerFunc func(m *Manager, gatewayUUID string, f *codec.Frame) error

// Notifier is the narrow interface internal/sms.TelstraNotifier
// satisfies, kept local so this package never imports a carrier SDK
// directly.
type Notifier interface {
	Notify(messageText string) error
}

// GatewayHandle is the device manager's per-gateway bookkeeping,
// analogous to the dict entry under self.gateways[gateway_uuid] in
// original_source/meterman/meter_device_manager.py.
type GatewayHandle struct {
	Link *link.Link

	lastDrain      link.Key
	clockSyncTimer *time.Timer
	snapPollTimer  *time.Timer
}

// NodeRecord is the in-memory state the device manager keeps per node,
// independent of what has been persisted (spec.md §4.3).
type NodeRecord struct {
	NodeUUID             string
	NodeID               int64
	GatewayUUID          string
	LastMeterEntryFinish int64
	LastMeterValue       int64
	LastRMSCurrent       float64
}

// Manager owns every gateway link and node record, and the dispatch
// loop that drains and processes them.
type Manager struct {
	mu        sync.RWMutex
	gateways  map[string]*GatewayHandle
	nodes     map[string]*NodeRecord
	simMeters map[string][]*link.SimMeter // keyed by gateway UUID

	data     *data.Manager
	logger   *zap.Logger
	dispatch map[codec.MessageType]handlerFunc
	notifier Notifier
}

// New constructs a Manager wired to dataMgr for persistence.
func New(dataMgr *data.Manager, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		gateways:  make(map[string]*GatewayHandle),
		nodes:     make(map[string]*NodeRecord),
		simMeters: make(map[string][]*link.SimMeter),
		data:      dataMgr,
		logger:    logger,
	}
	m.dispatch = map[codec.MessageType]handlerFunc{
		codec.MUPNoIRMS:   handleMeterUpdate(false),
		codec.MUPWithIRMS: handleMeterUpdate(true),
		codec.MREB:        handleMeterRebase,
		codec.GWSnap:      handleGatewaySnapshot,
		codec.NOSnap:      handleNodeSnapshot,
		codec.NDark:       handleNodeDark,
		codec.GPMsg:       handleGeneralPurposeMessage,
	}
	return m
}

// SetNotifier wires an SMS (or other) notifier to be called when a
// node transitions to DARK, supplementing proc_node_dark with the
// out-of-band alert telstrasms.py existed to send.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// AddGateway registers a gateway link under management.
func (m *Manager) AddGateway(l *link.Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateways[l.GatewayUUID] = &GatewayHandle{
		Link:           l,
		clockSyncTimer: time.NewTimer(GatewayTimeSyncIntervalSecs * time.Second),
		snapPollTimer:  time.NewTimer(NodeUpdateIntervalSecs * time.Second),
	}
}

// AddSimMeter registers a simulated meter that is ticked through
// gatewayUUID's link (spec.md §4.3.d / §4.2.d).
func (m *Manager) AddSimMeter(gatewayUUID string, sim *link.SimMeter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simMeters[gatewayUUID] = append(m.simMeters[gatewayUUID], sim)
}

// nodeUUID matches get_node_uuid(network_id, node_id).
func nodeUUID(networkID string, nodeID int64) string {
	return networkID + "." + formatNodeID(nodeID)
}

// ensureNode registers a node record if not already known, matching
// ensure_node_exists.
func (m *Manager) ensureNode(uuid string, nodeID int64, gatewayUUID string) *NodeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[uuid]
	if !ok {
		n = &NodeRecord{NodeUUID: uuid, NodeID: nodeID, GatewayUUID: gatewayUUID}
		m.nodes[uuid] = n
	}
	return n
}

// Run drives the 500ms control loop until ctx is cancelled, matching
// PollingService.pollNode's ticker+select shape.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick performs one drain/dispatch/cadence/simulate pass over every
// registered gateway (spec.md §4.3.a-d).
func (m *Manager) tick() {
	m.mu.RLock()
	handles := make([]*GatewayHandle, 0, len(m.gateways))
	for _, gw := range m.gateways {
		handles = append(handles, gw)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, gw := range handles {
		m.drainAndDispatch(gw)
		m.runCadence(gw, now)
		m.tickSimMeters(gw, now)
	}
}

// drainAndDispatch implements spec.md §4.3.a-b.
func (m *Manager) drainAndDispatch(gw *GatewayHandle) {
	entries, newMark := gw.Link.Buffer.Drain(gw.lastDrain)
	gw.lastDrain = newMark

	for _, e := range entries {
		m.dispatchOne(gw.Link.GatewayUUID, e.Frame)
	}
}

// dispatchOne calls the handler for f.Type, recovering any panic so a
// single bad frame cannot halt the loop.
func (m *Manager) dispatchOne(gatewayUUID string, f *codec.Frame) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler fault",
				zap.String("gateway_uuid", gatewayUUID),
				zap.String("message_type", string(f.Type)),
				zap.Any("panic", r))
		}
	}()

	h, ok := m.dispatch[f.Type]
	if !ok {
		m.logger.Warn("unknown message type", zap.String("message_type", string(f.Type)))
		return
	}
	if err := h(m, gatewayUUID, f); err != nil {
		m.logger.Error("handler error",
			zap.String("gateway_uuid", gatewayUUID),
			zap.String("message_type", string(f.Type)),
			zap.Error(err))
	}
}
