// Package link implements the per-gateway link worker (spec.md §4.2):
// it owns one byte-stream connection to a gateway, frames inbound and
// outbound traffic through internal/codec, and maintains the inbound
// buffer and outbound queue that the device manager drains and feeds.
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leehonan/meterman-server/internal/codec"
)

// State is a link's transport lifecycle state.
type State int

const (
	StateInit State = iota
	StateUp
	StateDark
)

func (s State) String() string {
	switch s {
	case StateUp:
		return "UP"
	case StateDark:
		return "DARK"
	default:
		return "INIT"
	}
}

// Transport is the byte-stream abstraction a Link reads/writes. In
// production it is a go.bug.st/serial.Port; tests use an in-memory
// pipe. SetReadTimeout is optional (asserted at runtime against
// readTimeoutSetter) so fakes without it still satisfy the interface.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

type readTimeoutSetter interface {
	SetReadTimeout(time.Duration) error
}

const (
	tickInterval     = 500 * time.Millisecond
	purgeEveryTicks  = 30
	purgeHorizon     = 600 * time.Second
	defaultReadWait  = 200 * time.Millisecond
	maxBufferEntries = 20000
)

// Link owns one gateway's byte-stream connection.
type Link struct {
	GatewayUUID string
	GatewayID   string
	NetworkID   string

	logger    *zap.Logger
	transport Transport
	reader    *bufio.Reader

	mu          sync.Mutex
	outbound    []string
	lastSeen    time.Time
	state       State
	cachedSnap  *codec.Frame
	tickCount   int

	Buffer *Buffer
}

// New constructs a Link. transport must already be open.
func New(networkID, gatewayID string, transport Transport, logger *zap.Logger) *Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Link{
		GatewayUUID: networkID + "." + gatewayID,
		GatewayID:   gatewayID,
		NetworkID:   networkID,
		logger:      logger.With(zap.String("gateway_uuid", networkID+"."+gatewayID)),
		transport:   transport,
		reader:      bufio.NewReader(transport),
		state:       StateInit,
		Buffer:      NewBuffer(maxBufferEntries),
	}
	return l
}

// State returns the link's current transport state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastSeen returns the time of the most recent valid inbound frame.
func (l *Link) LastSeen() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeen
}

// CachedSnapshot returns the most recent GWSNAP frame seen on this
// link, if any.
func (l *Link) CachedSnapshot() (*codec.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cachedSnap == nil {
		return nil, false
	}
	f := *l.cachedSnap
	return &f, true
}

// Enqueue encodes f and appends it to the outbound queue. Safe for
// concurrent producers (spec.md §5: "many producers, one consumer").
func (l *Link) Enqueue(f *codec.Frame) error {
	line, err := codec.EncodeLine(f)
	if err != nil {
		return fmt.Errorf("link: encode outbound frame: %w", err)
	}
	l.mu.Lock()
	l.outbound = append(l.outbound, line+"\r\n")
	l.mu.Unlock()
	return nil
}

// InjectLocal appends a frame directly to the inbound buffer without
// going over the transport, stamping provenance as if it had arrived
// from this link. Used by the simulated-meter generator (spec.md
// §4.2.d), which builds a frame locally and "dispatches as if it had
// been received".
func (l *Link) InjectLocal(now time.Time, f *codec.Frame) Key {
	f.Provenance = l.provenance(now)
	return l.Buffer.Append(now, f)
}

func (l *Link) provenance(now time.Time) codec.Provenance {
	return codec.Provenance{
		WhenReceived: now,
		GatewayUUID:  l.GatewayUUID,
		GatewayID:    l.GatewayID,
		NetworkID:    l.NetworkID,
	}
}

// Run drives the tick loop until ctx is cancelled, per spec.md §4.2.
func (l *Link) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return l.transport.Close()
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Link) tick() {
	l.readOne()
	l.writeOne()

	l.mu.Lock()
	l.tickCount++
	due := l.tickCount >= purgeEveryTicks
	if due {
		l.tickCount = 0
	}
	l.mu.Unlock()

	if due {
		l.Buffer.Purge(time.Now(), purgeHorizon)
	}
}

func (l *Link) readOne() {
	if ts, ok := l.transport.(readTimeoutSetter); ok {
		_ = ts.SetReadTimeout(defaultReadWait)
	}

	line, err := l.reader.ReadString('\n')
	if err != nil {
		if line == "" {
			// Timeout or no data available yet: empty tick, not an error.
			if isTimeout(err) {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Debug("link read", zap.Error(err))
			return
		}
		// Fall through: partial line with trailing error still worth
		// attempting to parse.
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "G>S:") {
		return
	}

	now := time.Now()
	f, err := codec.DecodeLine(line, l.provenance(now))
	if err != nil {
		l.logger.Debug("malformed frame", zap.Error(err), zap.String("line", line))
		return
	}

	l.mu.Lock()
	l.lastSeen = now
	l.state = StateUp
	l.mu.Unlock()

	if l.handleInline(f, now) {
		return
	}

	l.Buffer.Append(now, f)
}

// handleInline processes the well-known types handled by the worker
// itself before buffering (spec.md §4.2): GTIME gets an immediate
// STIME reply; STIME_ACK/STIME_NACK are consumed silently; GWSNAP
// updates the cached gateway fields but is still buffered for the
// device manager, so it returns false.
func (l *Link) handleInline(f *codec.Frame, now time.Time) bool {
	switch f.Type {
	case codec.GTIME:
		reply := &codec.Frame{Type: codec.STIME, Header: codec.NewRecord()}
		reply.Header.SetInt("epoch", now.Unix())
		if err := l.Enqueue(reply); err != nil {
			l.logger.Warn("failed to enqueue STIME reply", zap.Error(err))
		}
		return true
	case codec.STIMEAck, codec.STIMENack:
		return true
	case codec.GWSnap:
		l.mu.Lock()
		snap := *f
		l.cachedSnap = &snap
		l.mu.Unlock()
		return false
	default:
		return false
	}
}

func (l *Link) writeOne() {
	l.mu.Lock()
	if len(l.outbound) == 0 {
		l.mu.Unlock()
		return
	}
	line := l.outbound[0]
	l.outbound = l.outbound[1:]
	l.mu.Unlock()

	if _, err := l.transport.Write([]byte(line)); err != nil {
		l.logger.Warn("link write failed, frame dropped for this tick", zap.Error(err))
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
