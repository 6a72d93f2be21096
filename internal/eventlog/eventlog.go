// Package eventlog provides an optional, append-only evidence log of
// device traffic, independent of the application's operational zap
// logger (spec.md §6 EventFile, original_source's ev_logger).
package eventlog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger appends one line per logged event to a dedicated file, using
// its own zap core so its volume and rotation never compete with the
// operational logger configured in main.go.
type Logger struct {
	zl        *zap.Logger
	meterOnly bool
}

// Options configures a file-backed event logger. MeterOnly restricts
// logging to meter reads/rebases, matching EventFile.meter_only in the
// INI config; callers check it before calling GatewaySnapshot/
// NodeSnapshot since the logger itself logs unconditionally.
type Options struct {
	Path      string
	MeterOnly bool
}

// New builds a Logger writing plain lines to opts.Path.
func New(opts Options) (*Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = ""
	cfg.LevelKey = ""
	cfg.CallerKey = ""
	cfg.NameKey = ""
	encoder := zapcore.NewConsoleEncoder(cfg)

	sink, _, err := zap.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", opts.Path, err)
	}

	core := zapcore.NewCore(encoder, sink, zapcore.InfoLevel)
	return &Logger{zl: zap.New(core), meterOnly: opts.MeterOnly}, nil
}

// MeterOnly reports whether this logger was configured to log only
// meter reads/rebases, suppressing gateway/node snapshot lines.
func (l *Logger) MeterOnly() bool {
	return l != nil && l.meterOnly
}

func (l *Logger) record(line string) {
	if l == nil {
		return
	}
	l.zl.Info(line)
}

// GatewaySnapshot logs a GWSNAP evidence line.
func (l *Logger) GatewaySnapshot(gatewayUUID string, whenReceived int64, networkID string, gatewayID, whenBooted, freeRAM, gatewayTime int64, logLevel string, txPower int64) {
	l.record(fmt.Sprintf("GWSNAP,%s,%d,%s,%d,%d,%d,%d,%s,%d", gatewayUUID, whenReceived, networkID, gatewayID, whenBooted, freeRAM, gatewayTime, logLevel, txPower))
}

// NodeSnapshot logs a NODESNAP evidence line.
func (l *Logger) NodeSnapshot(nodeUUID string, whenReceived int64, networkID string, nodeID, gatewayID, battVoltageMV, upTime, sleepTime, freeRAM, whenLastSeen, lastClockDrift, meterInterval, meterImpulsesPerKWh, lastMeterEntryFinish, lastMeterValue int64, lastRMSCurrent float64, puckLEDRate, puckLEDTime, lastRSSIAtGateway int64) {
	l.record(fmt.Sprintf("NODESNAP,%s,%d,%s,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%g,%d,%d,%d",
		nodeUUID, whenReceived, networkID, nodeID, gatewayID, battVoltageMV, upTime, sleepTime, freeRAM, whenLastSeen,
		lastClockDrift, meterInterval, meterImpulsesPerKWh, lastMeterEntryFinish, lastMeterValue, lastRMSCurrent,
		puckLEDRate, puckLEDTime, lastRSSIAtGateway))
}

// MeterUpdate logs an MTRUPDATE evidence line for one reconstructed entry.
func (l *Logger) MeterUpdate(nodeUUID string, whenStartRaw int64, nonce string, whenStart int64, entryType string, entryValue, duration, meterValue int64, recStatus string) {
	l.record(fmt.Sprintf("MTRUPDATE,%s,%d,%s,%d,%s,%d,%d,%d,%s", nodeUUID, whenStartRaw, nonce, whenStart, entryType, entryValue, duration, meterValue, recStatus))
}

// MeterRebase logs an MTRREBASE evidence line.
func (l *Logger) MeterRebase(whenStartRaw int64, nonce string, whenStart int64, entryType string, meterValue int64, recStatus string) {
	l.record(fmt.Sprintf("MTRREBASE,%d,%s,%d,%s,%d,%s", whenStartRaw, nonce, whenStart, entryType, meterValue, recStatus))
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.zl.Sync()
}
