package device

import "time"

// tickSimMeters generates any due simulated-meter frames for gw and
// dispatches them exactly as if they had arrived over the transport,
// translating the sim_meters loop of proc_device_messages
// (original_source/meterman/meter_device_manager.py:220-235).
func (m *Manager) tickSimMeters(gw *GatewayHandle, now time.Time) {
	m.mu.RLock()
	sims := m.simMeters[gw.Link.GatewayUUID]
	m.mu.RUnlock()

	for _, sim := range sims {
		f := sim.Generate(now)
		if f == nil {
			continue
		}
		gw.Link.InjectLocal(now, f)
	}
}
