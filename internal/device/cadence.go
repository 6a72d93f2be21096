package device

import (
	"time"

	"go.uber.org/zap"

	"github.com/leehonan/meterman-server/internal/codec"
)

// runCadence enqueues the two periodic control frames (spec.md
// §4.3.c) using independent per-gateway timers reset after firing,
// rather than counting loop iterations (spec.md §9 design note).
func (m *Manager) runCadence(gw *GatewayHandle, now time.Time) {
	select {
	case <-gw.clockSyncTimer.C:
		reply := &codec.Frame{Type: codec.STIME, Header: codec.NewRecord()}
		reply.Header.SetInt("epoch", now.Unix())
		if err := gw.Link.Enqueue(reply); err != nil {
			m.logger.Warn("failed to enqueue scheduled STIME", zap.Error(err))
		}
		gw.clockSyncTimer.Reset(GatewayTimeSyncIntervalSecs * time.Second)
	default:
	}

	select {
	case <-gw.snapPollTimer.C:
		gwSnapReq := &codec.Frame{Type: codec.GGWSnap, Header: codec.NewRecord()}
		if err := gw.Link.Enqueue(gwSnapReq); err != nil {
			m.logger.Warn("failed to enqueue GGWSNAP", zap.Error(err))
		}

		nodeSnapReq := &codec.Frame{Type: codec.GNOSnap, Header: codec.NewRecord()}
		nodeSnapReq.Header.SetInt("node_id", allNodesID)
		if err := gw.Link.Enqueue(nodeSnapReq); err != nil {
			m.logger.Warn("failed to enqueue GNOSNAP", zap.Error(err))
		}

		gw.snapPollTimer.Reset(NodeUpdateIntervalSecs * time.Second)
	default:
	}
}

// allNodesID is the node_id value of GNOSNAP requesting every node's
// snapshot (spec.md §4.1).
const allNodesID = 254
