package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

const sampleConfig = `[App]
home_path = /srv/meterman
log_file = meterman.log
db_file = meterman.db
log_level = DEBUG

[EventFile]
write_event_file = true
event_file = meterman_events.log
meter_only = false

[RestApi]
run_rest_api = true
flask_port = 5000
user = admin
password = secret
access_lan_only = true

[Gateway1]
network_id = 0.0
gateway_id = 1
label = shed
serial_port = /dev/ttyUSB0
serial_baud = 9600

[Gateway2]
network_id = 0.0
gateway_id = 2
label = roof
serial_port = /dev/ttyUSB1
serial_baud = 9600

[SimMeter1]
network_id = 0.0
gateway_id = 1
node_id = 9
interval = 900
start_val = 1000
read_min = 1
read_max = 5
max_msg_entries = 10
`

func TestLoadParsesAllSections(t *testing.T) {
	path := writeTempConfig(t, "meterman.ini", sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.LogLevel != "DEBUG" {
		t.Fatalf("expected log_level DEBUG, got %q", cfg.App.LogLevel)
	}
	if !cfg.EventFile.WriteEventFile || cfg.EventFile.MeterOnly {
		t.Fatalf("unexpected EventFile: %+v", cfg.EventFile)
	}
	if cfg.RestApi.FlaskPort != 5000 || cfg.RestApi.User != "admin" {
		t.Fatalf("unexpected RestApi: %+v", cfg.RestApi)
	}
	if len(cfg.Gateways) != 2 {
		t.Fatalf("expected 2 gateways, got %d", len(cfg.Gateways))
	}
	if len(cfg.SimMeters) != 1 {
		t.Fatalf("expected 1 sim meter, got %d", len(cfg.SimMeters))
	}
	if cfg.SimMeters[0].NodeID != "9" || cfg.SimMeters[0].MaxMsgEntries != 10 {
		t.Fatalf("unexpected SimMeter: %+v", cfg.SimMeters[0])
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	minimal := `[Gateway1]
network_id = 0.0
gateway_id = 1
serial_port = /dev/ttyUSB0
serial_baud = 9600
`
	path := writeTempConfig(t, "minimal.ini", minimal)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.LogLevel != "INFO" {
		t.Fatalf("expected default log_level INFO, got %q", cfg.App.LogLevel)
	}
	if cfg.RestApi.FlaskPort != 5000 {
		t.Fatalf("expected default flask_port 5000, got %d", cfg.RestApi.FlaskPort)
	}
	if !cfg.RestApi.AccessLanOnly {
		t.Fatal("expected default access_lan_only true")
	}
}

func TestLoadRequiresAtLeastOneGateway(t *testing.T) {
	noGateways := `[App]
log_level = INFO
`
	path := writeTempConfig(t, "nogateway.ini", noGateways)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when no [Gateway<n>] section is present")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/path/does/not/exist.ini"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
