// Package config loads the INI-style configuration file (spec.md §6):
// a single [App]/[EventFile]/[RestApi] set plus one or more numbered
// [Gateway<n>] and [SimMeter<n>] sections, with live reload via
// fsnotify, the way backend/config loads and validates its own
// YAML file.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// App mirrors the [App] section.
type App struct {
	HomePath string `mapstructure:"home_path"`
	TempPath string `mapstructure:"temp_path"`
	LogFile  string `mapstructure:"log_file"`
	DBFile   string `mapstructure:"db_file"`
	LogLevel string `mapstructure:"log_level"`
}

// EventFile mirrors the [EventFile] section.
type EventFile struct {
	WriteEventFile bool   `mapstructure:"write_event_file"`
	EventFile      string `mapstructure:"event_file"`
	MeterOnly      bool   `mapstructure:"meter_only"`
}

// RestApi mirrors the [RestApi] section.
type RestApi struct {
	RunRestApi    bool   `mapstructure:"run_rest_api"`
	FlaskPort     int    `mapstructure:"flask_port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	AccessLanOnly bool   `mapstructure:"access_lan_only"`
}

// Gateway mirrors one [Gateway<n>] section.
type Gateway struct {
	NetworkID  string `mapstructure:"network_id"`
	GatewayID  string `mapstructure:"gateway_id"`
	Label      string `mapstructure:"label"`
	SerialPort string `mapstructure:"serial_port"`
	SerialBaud int    `mapstructure:"serial_baud"`
}

// SimMeter mirrors one [SimMeter<n>] section.
type SimMeter struct {
	NetworkID     string `mapstructure:"network_id"`
	GatewayID     string `mapstructure:"gateway_id"`
	NodeID        string `mapstructure:"node_id"`
	Interval      int    `mapstructure:"interval"`
	StartVal      int64  `mapstructure:"start_val"`
	ReadMin       int64  `mapstructure:"read_min"`
	ReadMax       int64  `mapstructure:"read_max"`
	MaxMsgEntries int    `mapstructure:"max_msg_entries"`
}

// SMS mirrors the [SMS] section, supplementing spec.md's EXTERNAL
// INTERFACES with the DARK-node alert telstrasms.py sent
// (original_source/meterman/telstrasms.py).
type SMS struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	ToNumber     string `mapstructure:"to_number"`
}

// Config is the fully-loaded configuration file.
type Config struct {
	App       App
	EventFile EventFile
	RestApi   RestApi
	SMS       SMS
	Gateways  []Gateway
	SimMeters []SimMeter
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.home_path", ".")
	v.SetDefault("app.temp_path", os.TempDir())
	v.SetDefault("app.log_file", "meterman.log")
	v.SetDefault("app.db_file", "meterman.db")
	v.SetDefault("app.log_level", "INFO")

	v.SetDefault("eventfile.write_event_file", false)
	v.SetDefault("eventfile.event_file", "meterman_events.log")
	v.SetDefault("eventfile.meter_only", false)

	v.SetDefault("restapi.run_rest_api", true)
	v.SetDefault("restapi.flask_port", 5000)
	v.SetDefault("restapi.user", "admin")
	v.SetDefault("restapi.password", "change-me")
	v.SetDefault("restapi.access_lan_only", true)

	v.SetDefault("sms.enabled", false)
}

// Load reads path as an INI file, applying defaults for anything
// unset, and discovers every numbered [Gateway<n>]/[SimMeter<n>]
// section.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	if err := v.UnmarshalKey("app", &cfg.App); err != nil {
		return nil, fmt.Errorf("config: [App]: %w", err)
	}
	if err := v.UnmarshalKey("eventfile", &cfg.EventFile); err != nil {
		return nil, fmt.Errorf("config: [EventFile]: %w", err)
	}
	if err := v.UnmarshalKey("restapi", &cfg.RestApi); err != nil {
		return nil, fmt.Errorf("config: [RestApi]: %w", err)
	}
	if err := v.UnmarshalKey("sms", &cfg.SMS); err != nil {
		return nil, fmt.Errorf("config: [SMS]: %w", err)
	}

	sections := make([]string, 0)
	for key := range v.AllSettings() {
		sections = append(sections, key)
	}
	sort.Strings(sections)

	for _, key := range sections {
		switch {
		case hasNumberedPrefix(key, "gateway"):
			var gw Gateway
			if err := v.UnmarshalKey(key, &gw); err != nil {
				return nil, fmt.Errorf("config: [%s]: %w", key, err)
			}
			cfg.Gateways = append(cfg.Gateways, gw)
		case hasNumberedPrefix(key, "simmeter"):
			var sm SimMeter
			if err := v.UnmarshalKey(key, &sm); err != nil {
				return nil, fmt.Errorf("config: [%s]: %w", key, err)
			}
			cfg.SimMeters = append(cfg.SimMeters, sm)
		}
	}

	if len(cfg.Gateways) == 0 {
		return nil, fmt.Errorf("config: at least one [Gateway<n>] section is required")
	}

	return cfg, nil
}

// hasNumberedPrefix reports whether key is prefix followed by one or
// more ASCII digits (viper lower-cases section names, so "Gateway1"
// arrives as "gateway1").
func hasNumberedPrefix(key, prefix string) bool {
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	suffix := key[len(prefix):]
	if suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Watcher reloads Config from path whenever the file changes on disk,
// pushing the new value onto Reload, the way the teacher's main.go
// would restart services on a changed config rather than silently
// running stale settings — generalized into a reusable fsnotify-backed
// watcher since the teacher's own config.Load doesn't hot-reload.
type Watcher struct {
	path   string
	Reload chan *Config
	errs   chan error
}

// Watch starts watching path for changes and returns a Watcher whose
// Reload channel receives a freshly-loaded Config on every write.
// Callers should drain Reload; failed reloads are sent to Errors
// instead and the prior config keeps running.
func Watch(path string) (*Watcher, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	w := &Watcher{
		path:   path,
		Reload: make(chan *Config, 1),
		errs:   make(chan error, 1),
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			select {
			case w.errs <- err:
			default:
			}
			return
		}
		select {
		case w.Reload <- cfg:
		default:
			<-w.Reload
			w.Reload <- cfg
		}
	})
	v.WatchConfig()

	return w, nil
}

// Errors returns the channel that receives reload failures.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}
