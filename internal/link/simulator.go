package link

import (
	"math/rand/v2"
	"time"

	"github.com/leehonan/meterman-server/internal/codec"
)

// SimMeterConfig describes one [SimMeter<n>] configuration section.
type SimMeterConfig struct {
	NetworkID      string
	GatewayID      string
	NodeID         string
	Interval       int
	StartValue     int64
	ReadMin        int64
	ReadMax        int64
	MaxMsgEntries  int
}

// SimMeter generates simulated MUP_ frames on a cadence, grounded on
// meter_device_manager.py's sim_meters loop. It is driven by the
// device manager's tick, not the link's own loop (§4.3.d places
// simulation logic alongside dispatch, not transport).
type SimMeter struct {
	cfg SimMeterConfig

	value          int64
	currentMsgStart time.Time
	started        bool
}

// NewSimMeter constructs a simulator for one configured node.
func NewSimMeter(cfg SimMeterConfig) *SimMeter {
	return &SimMeter{cfg: cfg, value: cfg.StartValue}
}

// NodeUUID is network_id + "." + node_id.
func (s *SimMeter) NodeUUID() string {
	return s.cfg.NetworkID + "." + s.cfg.NodeID
}

func (s *SimMeter) messageInterval() time.Duration {
	return time.Duration(s.cfg.MaxMsgEntries*s.cfg.Interval) * time.Second
}

// Due reports whether it is time to synthesize the next message.
func (s *SimMeter) Due(now time.Time) bool {
	if !s.started {
		return true
	}
	return now.Sub(s.currentMsgStart) >= s.messageInterval()
}

// Generate builds the next synthetic MUP_ frame if Due, advancing
// internal state. Returns nil if not due.
func (s *SimMeter) Generate(now time.Time) *codec.Frame {
	if !s.Due(now) {
		return nil
	}

	if !s.started {
		s.currentMsgStart = now.Add(-s.messageInterval())
		s.started = true
	}

	header := codec.NewRecord()
	header.SetString("node_id", s.cfg.NodeID)
	header.SetInt("last_entry_finish_time", s.currentMsgStart.Unix())
	header.SetInt("last_entry_meter_value", s.value)

	details := make([]codec.Record, 0, s.cfg.MaxMsgEntries-1)
	for i := 0; i < s.cfg.MaxMsgEntries-1; i++ {
		entryValue := s.cfg.ReadMin
		if s.cfg.ReadMax > s.cfg.ReadMin {
			entryValue += int64(rand.IntN(int(s.cfg.ReadMax-s.cfg.ReadMin) + 1))
		}
		s.value += entryValue

		d := codec.NewRecord()
		d.SetInt("entry_interval_length", int64(s.cfg.Interval))
		d.SetInt("entry_value", entryValue)
		details = append(details, d)
	}

	s.currentMsgStart = now

	return &codec.Frame{
		Type:    codec.MUPNoIRMS,
		Header:  header,
		Details: details,
	}
}
