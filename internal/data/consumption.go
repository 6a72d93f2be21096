package data

import (
	"fmt"

	"github.com/leehonan/meterman-server/internal/store"
)

// GetMeterConsumption computes the watt-hour delta for nodeUUID over
// [timeFrom, timeTo] (either bound nil for unbounded), translating
// meter_data_manager.py's get_meter_consumption line for line
// (original_source/meterman/meter_data_manager.py:88-146).
//
// Rebase entries within the window are authoritative for the
// consumption between them; observed MUP reads fill in the tails
// before the first rebase and after the last.
func (m *Manager) GetMeterConsumption(nodeUUID string, timeFrom, timeTo *int64) (*ConsumptionResult, error) {
	firstMUP, err := m.store.GetFirstMUP(nodeUUID, timeFrom, timeTo)
	if err != nil && !store.IsNotFound(err) {
		return nil, fmt.Errorf("data: get meter consumption: %w", err)
	}
	lastMUP, err := m.store.GetLastMUP(nodeUUID, timeFrom, timeTo)
	if err != nil && !store.IsNotFound(err) {
		return nil, fmt.Errorf("data: get meter consumption: %w", err)
	}

	abort := firstMUP == nil || lastMUP == nil

	firstRebase, err := m.store.GetFirstRebase(nodeUUID, timeFrom, timeTo)
	if err != nil && !store.IsNotFound(err) {
		return nil, fmt.Errorf("data: get meter consumption: %w", err)
	}

	var mupBeforeFirstRebase, lastRebase *store.MeterEntry
	if !abort && firstRebase != nil {
		upperBound := firstRebase.WhenStart - 1
		mupBeforeFirstRebase, err = m.store.GetLastMUP(nodeUUID, timeFrom, &upperBound)
		if err != nil && !store.IsNotFound(err) {
			return nil, fmt.Errorf("data: get meter consumption: %w", err)
		}

		lastRebase, err = m.store.GetLastRebase(nodeUUID, timeFrom, timeTo)
		if err != nil && !store.IsNotFound(err) {
			return nil, fmt.Errorf("data: get meter consumption: %w", err)
		}
		// A single rebase in the window: last_rebase is the same row as
		// first_rebase, treat it as absent (spec.md §4.4).
		if lastRebase != nil && lastRebase.WhenStart == firstRebase.WhenStart {
			lastRebase = nil
		}
	}

	var consumption int64

	switch {
	case !abort && firstRebase == nil:
		// No rebases: the whole window is observed consumption.
		consumption = lastMUP.MeterValue - firstMUP.MeterValue
		abort = true

	case !abort && mupBeforeFirstRebase != nil && firstMUP.WhenStart < firstRebase.WhenStart:
		consumption = mupBeforeFirstRebase.MeterValue - firstMUP.MeterValue
	}

	if !abort && lastRebase != nil {
		consumption += lastRebase.MeterValue - firstRebase.MeterValue
		if lastMUP.WhenStart >= lastRebase.WhenStart {
			consumption += lastMUP.MeterValue - lastRebase.MeterValue
		}
	} else if !abort && firstRebase != nil && lastMUP.WhenStart >= firstRebase.WhenStart {
		consumption += lastMUP.MeterValue - firstRebase.MeterValue
	} else if !abort && firstRebase != nil && lastMUP.WhenStart <= firstRebase.WhenStart {
		consumption += firstRebase.MeterValue - lastMUP.MeterValue
	}

	breakdown := fmt.Sprintf("%d Wh given first_mup_entry=%s, mup_entry_before_first_rebase=%s, first_rebase_entry=%s, last_rebase_entry=%s, last_mup_entry=%s.",
		consumption,
		meterValueOrNil(firstMUP), meterValueOrNil(mupBeforeFirstRebase), meterValueOrNil(firstRebase),
		meterValueOrNil(lastRebase), meterValueOrNil(lastMUP))

	return &ConsumptionResult{MeterConsumption: consumption, CalcBreakdown: breakdown}, nil
}

func meterValueOrNil(e *store.MeterEntry) string {
	if e == nil {
		return "None"
	}
	return fmt.Sprintf("%d", e.MeterValue)
}
