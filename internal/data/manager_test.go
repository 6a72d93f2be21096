package data

import (
	"path/filepath"
	"testing"

	"github.com/leehonan/meterman-server/internal/store"
)

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
	return New(st, nil, nil)
}

// P4: consumption with no rebase treats the first MUP as the baseline.
func TestConsumptionNoRebase(t *testing.T) {
	m := newTestManager(t)
	const node = "node-1"
	const v, k, n = int64(1000), int64(10), 5

	for i := int64(0); i < n; i++ {
		if err := m.ProcMeterUpdate(node, []MeterUpdateEntry{{
			WhenStart: 100 + i, EntryValue: k, IntervalLength: 900, MeterValue: v + i*k,
		}}); err != nil {
			t.Fatalf("ProcMeterUpdate failed: %v", err)
		}
	}

	res, err := m.GetMeterConsumption(node, nil, nil)
	if err != nil {
		t.Fatalf("GetMeterConsumption failed: %v", err)
	}
	// No-rebase consumption is last_mup.meter_value - first_mup.meter_value;
	// the first entry's value is the baseline that is subtracted out,
	// leaving (n-1) increments of k.
	want := (n - 1) * k
	if res.MeterConsumption != want {
		t.Fatalf("expected consumption %d, got %d (%s)", want, res.MeterConsumption, res.CalcBreakdown)
	}
}

// P5: a single rebase up front makes the authoritative delta to the
// last MUP the whole of consumption.
func TestConsumptionSingleRebaseUpFront(t *testing.T) {
	m := newTestManager(t)
	const node = "node-1"
	const v, delta = int64(1000), int64(50)

	if err := m.ProcMeterRebase(node, 100, v); err != nil {
		t.Fatalf("ProcMeterRebase failed: %v", err)
	}
	for i := int64(0); i < 3; i++ {
		if err := m.ProcMeterUpdate(node, []MeterUpdateEntry{{
			WhenStart: 200 + i, EntryValue: 1, IntervalLength: 900, MeterValue: v + (i+1)*(delta/3),
		}}); err != nil {
			t.Fatalf("ProcMeterUpdate failed: %v", err)
		}
	}
	// Final entry lands exactly on v+delta.
	if err := m.ProcMeterUpdate(node, []MeterUpdateEntry{{WhenStart: 210, EntryValue: 1, IntervalLength: 900, MeterValue: v + delta}}); err != nil {
		t.Fatalf("ProcMeterUpdate failed: %v", err)
	}

	res, err := m.GetMeterConsumption(node, nil, nil)
	if err != nil {
		t.Fatalf("GetMeterConsumption failed: %v", err)
	}
	if res.MeterConsumption != delta {
		t.Fatalf("expected consumption %d, got %d (%s)", delta, res.MeterConsumption, res.CalcBreakdown)
	}
}

// P6: a single rebase at the end replaces the observed trailing delta
// with the authoritative one.
func TestConsumptionSingleRebaseAtEnd(t *testing.T) {
	m := newTestManager(t)
	const node = "node-1"
	const v, a, b = int64(1000), int64(40), int64(60)

	if err := m.ProcMeterUpdate(node, []MeterUpdateEntry{
		{WhenStart: 100, EntryValue: 1, IntervalLength: 900, MeterValue: v + 1},
		{WhenStart: 200, EntryValue: 1, IntervalLength: 900, MeterValue: v + a},
	}); err != nil {
		t.Fatalf("ProcMeterUpdate failed: %v", err)
	}
	if err := m.ProcMeterRebase(node, 300, v+b); err != nil {
		t.Fatalf("ProcMeterRebase failed: %v", err)
	}

	res, err := m.GetMeterConsumption(node, nil, nil)
	if err != nil {
		t.Fatalf("GetMeterConsumption failed: %v", err)
	}
	want := b - 1
	if res.MeterConsumption != want {
		t.Fatalf("expected consumption %d, got %d (%s)", want, res.MeterConsumption, res.CalcBreakdown)
	}
}

// P7: two rebases straddled by MUPs sum three legs of consumption.
func TestConsumptionMultipleRebases(t *testing.T) {
	m := newTestManager(t)
	const node = "node-1"
	const firstMUP, mupBeforeM1, m1, m2, lastMUP = int64(1000), int64(1020), int64(2000), int64(3000), int64(3100)

	if err := m.ProcMeterUpdate(node, []MeterUpdateEntry{
		{WhenStart: 100, EntryValue: 1, IntervalLength: 900, MeterValue: firstMUP},
		{WhenStart: 150, EntryValue: 1, IntervalLength: 900, MeterValue: mupBeforeM1},
	}); err != nil {
		t.Fatalf("ProcMeterUpdate failed: %v", err)
	}
	if err := m.ProcMeterRebase(node, 200, m1); err != nil {
		t.Fatalf("ProcMeterRebase (m1) failed: %v", err)
	}
	if err := m.ProcMeterRebase(node, 300, m2); err != nil {
		t.Fatalf("ProcMeterRebase (m2) failed: %v", err)
	}
	if err := m.ProcMeterUpdate(node, []MeterUpdateEntry{
		{WhenStart: 400, EntryValue: 1, IntervalLength: 900, MeterValue: lastMUP},
	}); err != nil {
		t.Fatalf("ProcMeterUpdate (trailing) failed: %v", err)
	}

	res, err := m.GetMeterConsumption(node, nil, nil)
	if err != nil {
		t.Fatalf("GetMeterConsumption failed: %v", err)
	}
	want := (m2 - m1) + (lastMUP - m2) + (mupBeforeM1 - firstMUP)
	if res.MeterConsumption != want {
		t.Fatalf("expected consumption %d, got %d (%s)", want, res.MeterConsumption, res.CalcBreakdown)
	}
}

// P8: soft-deleting twice over the same range is idempotent.
func TestDeleteMeterEntriesInRangeIdempotent(t *testing.T) {
	m := newTestManager(t)
	const node = "node-1"

	if err := m.ProcMeterUpdate(node, []MeterUpdateEntry{
		{WhenStart: 100, EntryValue: 1, IntervalLength: 900, MeterValue: 1001},
	}); err != nil {
		t.Fatalf("ProcMeterUpdate failed: %v", err)
	}

	mup := entryTypePtr(store.EntryMeterUpdate)
	if err := m.DeleteMeterEntriesInRange(node, 0, 1000, mup, nil); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}
	if err := m.DeleteMeterEntriesInRange(node, 0, 1000, mup, nil); err != nil {
		t.Fatalf("second delete failed: %v", err)
	}

	deleted := store.RecDeleted
	entries, err := m.GetMeterEntries(store.MeterEntryFilter{NodeUUID: strPtrData(node), RecStatus: &deleted})
	if err != nil {
		t.Fatalf("GetMeterEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 deleted entry, got %d", len(entries))
	}
}

// P9: after a lift, every later NORM entry's meter_value strictly
// increases.
func TestUpsertLiftMonotonicity(t *testing.T) {
	m := newTestManager(t)
	const node = "node-1"

	// Seed later observed entries that will need lifting.
	if err := m.ProcMeterUpdate(node, []MeterUpdateEntry{
		{WhenStart: 500, EntryValue: 5, IntervalLength: 900, MeterValue: 50},
		{WhenStart: 600, EntryValue: 5, IntervalLength: 900, MeterValue: 55},
	}); err != nil {
		t.Fatalf("seed ProcMeterUpdate failed: %v", err)
	}

	synth := []MeterUpdateEntry{
		{WhenStart: 100, EntryValue: 10, IntervalLength: 900, MeterValue: 1000},
		{WhenStart: 200, EntryValue: 10, IntervalLength: 900, MeterValue: 1010},
	}
	if err := m.UpsertSynthMeterUpdates(node, 0, 300, synth, true, true); err != nil {
		t.Fatalf("UpsertSynthMeterUpdates failed: %v", err)
	}

	// Walk the last synthetic entry and every NORM entry after it. The
	// MREBS written by rebaseFirst shares the first entry's when_start
	// and meter_value, so it is not part of the lifted sequence.
	normal := store.RecNormal
	liftFrom := synth[len(synth)-1].WhenStart
	entries, err := m.GetMeterEntries(store.MeterEntryFilter{NodeUUID: strPtrData(node), RecStatus: &normal, TimeFrom: &liftFrom})
	if err != nil {
		t.Fatalf("GetMeterEntries failed: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected NORM entries after lift")
	}

	// entries is newest-when_start-first; walk oldest-to-newest.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].MeterValue <= entries[i-1].MeterValue {
			t.Fatalf("expected strictly increasing meter_value, got %d then %d at index %d", entries[i-1].MeterValue, entries[i].MeterValue, i)
		}
	}
}

// P13: consumption on a node with zero or one entry is zero.
func TestConsumptionZeroOrOneEntry(t *testing.T) {
	m := newTestManager(t)

	res, err := m.GetMeterConsumption("empty-node", nil, nil)
	if err != nil {
		t.Fatalf("GetMeterConsumption (zero entries) failed: %v", err)
	}
	if res.MeterConsumption != 0 {
		t.Fatalf("expected 0 consumption with zero entries, got %d", res.MeterConsumption)
	}

	const node = "one-entry-node"
	if err := m.ProcMeterUpdate(node, []MeterUpdateEntry{
		{WhenStart: 100, EntryValue: 1, IntervalLength: 900, MeterValue: 500},
	}); err != nil {
		t.Fatalf("ProcMeterUpdate failed: %v", err)
	}
	res, err = m.GetMeterConsumption(node, nil, nil)
	if err != nil {
		t.Fatalf("GetMeterConsumption (one entry) failed: %v", err)
	}
	if res.MeterConsumption != 0 {
		t.Fatalf("expected 0 consumption with one entry, got %d", res.MeterConsumption)
	}
}

func strPtrData(s string) *string { return &s }
