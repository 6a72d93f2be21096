package data

import (
	"fmt"

	"github.com/leehonan/meterman-server/internal/store"
)

// UpsertSynthMeterUpdates replaces observed entries in
// [overwriteFrom, overwriteTo] with a caller-supplied synthetic
// series, translating upsert_synth_meter_updates
// (original_source/meterman/meter_data_manager.py:178-198).
//
// entries must be non-empty and sorted by WhenStart ascending.
func (m *Manager) UpsertSynthMeterUpdates(nodeUUID string, overwriteFrom, overwriteTo int64, entries []MeterUpdateEntry, rebaseFirst, liftLater bool) error {
	if len(entries) == 0 {
		return fmt.Errorf("data: upsert synth meter updates: entries must be non-empty")
	}

	mup := entryTypePtr(store.EntryMeterUpdate)
	if err := m.DeleteMeterEntriesInRange(nodeUUID, overwriteFrom, overwriteTo, mup, nil); err != nil {
		return err
	}
	mups := entryTypePtr(store.EntryMeterUpdateSynth)
	if err := m.DeleteMeterEntriesInRange(nodeUUID, overwriteFrom, overwriteTo, mups, nil); err != nil {
		return err
	}

	if rebaseFirst {
		first := entries[0]
		err := m.writeWithNonce(func(nonce string) store.MeterEntry {
			return store.MeterEntry{
				NodeUUID:     nodeUUID,
				WhenStartRaw: first.WhenStart,
				Nonce:        nonce,
				WhenStart:    first.WhenStart,
				Duration:     0,
				EntryType:    store.EntryMeterRebaseSynth,
				EntryValue:   0,
				MeterValue:   first.MeterValue,
				RecStatus:    store.RecNormal,
			}
		})
		if err != nil {
			return fmt.Errorf("data: upsert synth meter updates: rebase: %w", err)
		}
	}

	for _, e := range entries {
		err := m.writeWithNonce(func(nonce string) store.MeterEntry {
			return store.MeterEntry{
				NodeUUID:     nodeUUID,
				WhenStartRaw: e.WhenStart,
				Nonce:        nonce,
				WhenStart:    e.WhenStart,
				Duration:     e.IntervalLength,
				EntryType:    store.EntryMeterUpdateSynth,
				EntryValue:   e.EntryValue,
				MeterValue:   e.MeterValue,
				RecStatus:    store.RecNormal,
			}
		})
		if err != nil {
			return fmt.Errorf("data: upsert synth meter updates: entry at %d: %w", e.WhenStart, err)
		}
	}

	if liftLater {
		last := entries[len(entries)-1]
		running := last.MeterValue
		timeFrom := last.WhenStart + 1
		normal := store.RecNormal

		later, err := m.store.GetMeterEntries(store.MeterEntryFilter{
			NodeUUID:  &nodeUUID,
			RecStatus: &normal,
			TimeFrom:  &timeFrom,
		})
		if err != nil {
			return fmt.Errorf("data: upsert synth meter updates: lift: %w", err)
		}
		// GetMeterEntries orders newest-first; the lift must walk
		// earliest-to-latest so `running` accumulates in when_start order.
		for i, j := 0, len(later)-1; i < j; i, j = i+1, j-1 {
			later[i], later[j] = later[j], later[i]
		}

		for _, e := range later {
			running += e.EntryValue
			newMeterValue := running
			err := m.store.UpdateMeterEntry(e.NodeUUID, e.WhenStartRaw, e.Nonce, store.MeterEntryUpdate{
				MeterValue: &newMeterValue,
			})
			if err != nil {
				return fmt.Errorf("data: upsert synth meter updates: lift entry at %d: %w", e.WhenStart, err)
			}
		}
	}

	return nil
}
