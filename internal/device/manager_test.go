package device

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/leehonan/meterman-server/internal/codec"
	"github.com/leehonan/meterman-server/internal/data"
	"github.com/leehonan/meterman-server/internal/link"
	"github.com/leehonan/meterman-server/internal/store"
)

type pipeTransport struct{ net.Conn }

func newTestLink(t *testing.T) *link.Link {
	t.Helper()
	serverSide, gatewaySide := net.Pipe()
	t.Cleanup(func() { gatewaySide.Close() })
	return link.New("0.0.1.1", "1", pipeTransport{serverSide}, nil)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	if err := st.Migrate(); err != nil {
		t.Fatalf("store.Migrate failed: %v", err)
	}
	t.Cleanup(func() { st.CloseSafe() })

	dataMgr := data.New(st, nil, nil)
	return New(dataMgr, zap.NewNop())
}

func mupFrame(isIRMS bool, lastFinish, lastValue int64, entries int) *codec.Frame {
	h := codec.NewRecord()
	h.SetInt("node_id", 7)
	h.SetInt("last_entry_finish_time", lastFinish)
	h.SetInt("last_entry_meter_value", lastValue)

	details := make([]codec.Record, 0, entries)
	for i := 0; i < entries; i++ {
		d := codec.NewRecord()
		d.SetInt("entry_interval_length", 900)
		d.SetInt("entry_value", 10)
		if isIRMS {
			d.SetFloat("spot_rms_current", 1.5)
		}
		details = append(details, d)
	}

	mt := codec.MUPNoIRMS
	if isIRMS {
		mt = codec.MUPWithIRMS
	}
	return &codec.Frame{
		Type:       mt,
		Header:     h,
		Details:    details,
		Provenance: codec.Provenance{WhenReceived: time.Now(), NetworkID: "0.0.1.1", GatewayUUID: "0.0.1.1.1", GatewayID: "1"},
	}
}

// Dispatching a decoded MUP_ frame persists one MUP entry per detail.
func TestDispatchMeterUpdate(t *testing.T) {
	m := newTestManager(t)
	l := newTestLink(t)
	m.AddGateway(l)

	f := mupFrame(false, 1000, 5000, 3)
	m.dispatchOne(l.GatewayUUID, f)

	uuid := nodeUUID("0.0.1.1", 7)
	normal := store.RecNormal
	entries, err := m.data.GetMeterEntries(store.MeterEntryFilter{NodeUUID: &uuid, RecStatus: &normal})
	if err != nil {
		t.Fatalf("GetMeterEntries failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 persisted MUP entries, got %d", len(entries))
	}
}

// MUPC carries spot_rms_current per detail but must still persist each
// entry exactly once, not twice (the corrected Python bug).
func TestDispatchMeterUpdateWithIRMSEmitsOnce(t *testing.T) {
	m := newTestManager(t)
	l := newTestLink(t)
	m.AddGateway(l)

	f := mupFrame(true, 2000, 9000, 4)
	m.dispatchOne(l.GatewayUUID, f)

	uuid := nodeUUID("0.0.1.1", 7)
	normal := store.RecNormal
	entries, err := m.data.GetMeterEntries(store.MeterEntryFilter{NodeUUID: &uuid, RecStatus: &normal})
	if err != nil {
		t.Fatalf("GetMeterEntries failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 persisted MUP entries (one per detail), got %d", len(entries))
	}

	m.mu.RLock()
	rms := m.nodes[uuid].LastRMSCurrent
	m.mu.RUnlock()
	if rms != 1.5 {
		t.Fatalf("expected last RMS current 1.5, got %v", rms)
	}
}

// A handler fault (panic) must be recovered and must not prevent
// subsequently dispatched frames from being processed.
func TestDispatchOneRecoversHandlerPanic(t *testing.T) {
	m := newTestManager(t)
	l := newTestLink(t)
	m.AddGateway(l)

	const boom codec.MessageType = "BOOM"
	m.dispatch[boom] = func(m *Manager, gatewayUUID string, f *codec.Frame) error {
		panic("handler exploded")
	}

	m.dispatchOne(l.GatewayUUID, &codec.Frame{Type: boom, Header: codec.NewRecord()})

	f := mupFrame(false, 100, 1000, 1)
	m.dispatchOne(l.GatewayUUID, f)

	uuid := nodeUUID("0.0.1.1", 7)
	normal := store.RecNormal
	entries, err := m.data.GetMeterEntries(store.MeterEntryFilter{NodeUUID: &uuid, RecStatus: &normal})
	if err != nil {
		t.Fatalf("GetMeterEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the frame dispatched after the panic to still be persisted, got %d entries", len(entries))
	}
}

// An unknown message type is logged and dropped, not fatal.
func TestDispatchOneUnknownTypeIsDropped(t *testing.T) {
	m := newTestManager(t)
	l := newTestLink(t)
	m.AddGateway(l)

	m.dispatchOne(l.GatewayUUID, &codec.Frame{Type: "NOPE", Header: codec.NewRecord()})
}

// runCadence only fires once its timer has actually elapsed, and resets
// afterward rather than firing on every tick.
func TestRunCadenceFiresOnceOnSchedule(t *testing.T) {
	m := newTestManager(t)
	l := newTestLink(t)
	m.AddGateway(l)

	m.mu.RLock()
	gw := m.gateways[l.GatewayUUID]
	m.mu.RUnlock()

	// Force an immediate fire without waiting the real interval.
	gw.clockSyncTimer.Stop()
	gw.clockSyncTimer.Reset(time.Millisecond)
	gw.snapPollTimer.Stop()
	gw.snapPollTimer.Reset(time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	m.runCadence(gw, time.Now())

	select {
	case <-gw.clockSyncTimer.C:
		t.Fatal("clockSyncTimer should have been drained by runCadence")
	default:
	}
}

// Simulated meters are injected into the link's inbound buffer and
// drained/dispatched on the following pass, never twice for one Due
// window.
func TestTickSimMetersInjectsAndDispatchesOnce(t *testing.T) {
	m := newTestManager(t)
	l := newTestLink(t)
	m.AddGateway(l)

	sim := link.NewSimMeter(link.SimMeterConfig{
		NetworkID:     "0.0.1.1",
		GatewayID:     "1",
		NodeID:        "9",
		Interval:      900,
		StartValue:    100,
		ReadMin:       1,
		ReadMax:       1,
		MaxMsgEntries: 2,
	})
	m.AddSimMeter(l.GatewayUUID, sim)

	now := time.Now()
	m.mu.RLock()
	gw := m.gateways[l.GatewayUUID]
	m.mu.RUnlock()

	m.tickSimMeters(gw, now)
	if gw.Link.Buffer.Len() != 1 {
		t.Fatalf("expected 1 buffered sim frame, got %d", gw.Link.Buffer.Len())
	}

	m.tickSimMeters(gw, now)
	if gw.Link.Buffer.Len() != 1 {
		t.Fatalf("expected sim meter not due again immediately, buffer len = %d", gw.Link.Buffer.Len())
	}

	m.drainAndDispatch(gw)

	uuid := nodeUUID("0.0.1.1", 9)
	normal := store.RecNormal
	entries, err := m.data.GetMeterEntries(store.MeterEntryFilter{NodeUUID: &uuid, RecStatus: &normal})
	if err != nil {
		t.Fatalf("GetMeterEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 persisted entry from the simulated meter, got %d", len(entries))
	}
}
