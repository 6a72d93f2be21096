package device

import (
	"fmt"

	"github.com/leehonan/meterman-server/internal/codec"
)

// resolveNode returns the gateway handle and NodeRecord a control frame
// for nodeUUID should be forwarded through, or an error if the node is
// unknown.
func (m *Manager) resolveNode(nodeUUID string) (*GatewayHandle, *NodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[nodeUUID]
	if !ok {
		return nil, nil, fmt.Errorf("device: unknown node %q", nodeUUID)
	}
	gw, ok := m.gateways[n.GatewayUUID]
	if !ok {
		return nil, nil, fmt.Errorf("device: node %q has no registered gateway %q", nodeUUID, n.GatewayUUID)
	}
	return gw, n, nil
}

// SetNodeMeterValue enqueues SMVAL, translating set_node_meter_value
// (original_source/meterman/meter_device_manager.py:267-269).
func (m *Manager) SetNodeMeterValue(nodeUUID string, newMeterValue int64) error {
	gw, n, err := m.resolveNode(nodeUUID)
	if err != nil {
		return err
	}
	h := codec.NewRecord()
	h.SetString("node_id", formatNodeID(n.NodeID))
	h.SetInt("new_meter_value", newMeterValue)
	return gw.Link.Enqueue(&codec.Frame{Type: codec.SMVal, Header: h})
}

// SetNodeMeterInterval enqueues SMINT, translating
// set_node_meter_interval (original_source/meterman/meter_device_manager.py:272-274).
func (m *Manager) SetNodeMeterInterval(nodeUUID string, newInterval int64) error {
	gw, n, err := m.resolveNode(nodeUUID)
	if err != nil {
		return err
	}
	h := codec.NewRecord()
	h.SetString("node_id", formatNodeID(n.NodeID))
	h.SetInt("new_interval", newInterval)
	return gw.Link.Enqueue(&codec.Frame{Type: codec.SMInt, Header: h})
}

// SetNodePuckLED enqueues SPLED, translating set_node_puck_led
// (original_source/meterman/meter_device_manager.py:277-279).
func (m *Manager) SetNodePuckLED(nodeUUID string, newLEDRate, newLEDTime int64) error {
	gw, n, err := m.resolveNode(nodeUUID)
	if err != nil {
		return err
	}
	h := codec.NewRecord()
	h.SetString("node_id", formatNodeID(n.NodeID))
	h.SetInt("new_led_rate", newLEDRate)
	h.SetInt("new_led_time", newLEDTime)
	return gw.Link.Enqueue(&codec.Frame{Type: codec.SPLed, Header: h})
}

// SetNodeGatewayInstTempRate enqueues SGITR, translating
// set_node_gw_inst_tmp_rate (original_source/meterman/meter_device_manager.py:262-264).
func (m *Manager) SetNodeGatewayInstTempRate(nodeUUID string, pollRate, pollPeriod int64) error {
	gw, n, err := m.resolveNode(nodeUUID)
	if err != nil {
		return err
	}
	h := codec.NewRecord()
	h.SetString("node_id", formatNodeID(n.NodeID))
	h.SetInt("tmp_poll_rate", pollRate)
	h.SetInt("tmp_poll_period", pollPeriod)
	return gw.Link.Enqueue(&codec.Frame{Type: codec.SGITR, Header: h})
}
