// Package config loads the poller's YAML configuration, grounded on the
// teacher's internal/config/config.go: nested per-concern structs, a
// defaultConfig() baseline merged under whatever the file overrides, and a
// Diff() helper for describing what a runtime reload would change.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the poller's full runtime configuration.
type Config struct {
	Registrar RegistrarConfig `yaml:"registrar"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
	SMS       SMSConfig       `yaml:"sms"`
	Push      PushConfig      `yaml:"push"`
	Ops       OpsConfig       `yaml:"ops"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// RegistrarConfig configures the Registrar Client (spec.md §4.2, §6).
type RegistrarConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Term              string  `yaml:"term"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// SchedulerConfig holds the Adaptive Scheduler's tunable parameters
// (spec.md §4.5 — all defaults are configurable).
type SchedulerConfig struct {
	MaxRuntime               time.Duration `yaml:"max_runtime"`
	BaseInterval             time.Duration `yaml:"base_interval"`
	FastInterval             time.Duration `yaml:"fast_interval"`
	SlowInterval             time.Duration `yaml:"slow_interval"`
	OpenCourseInterval       time.Duration `yaml:"open_course_interval"`
	RecentlyChangedThreshold int           `yaml:"recently_changed_threshold"`
	FetchConcurrency         int           `yaml:"fetch_concurrency"`
	TickFailureSleep         time.Duration `yaml:"tick_failure_sleep"`
}

// StoreConfig selects and configures the Store Gateway backend.
type StoreConfig struct {
	// Backend is one of "memory", "redis", "badger".
	Backend string       `yaml:"backend"`
	Redis   RedisConfig  `yaml:"redis"`
	Badger  BadgerConfig `yaml:"badger"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BadgerConfig struct {
	Path string `yaml:"path"`
}

// SMSConfig configures the SMS Gateway client. APIKey is resolved from
// secrets, not from this file (spec.md §6: "requires a preconfigured API
// key supplied via secret").
type SMSConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// PushConfig configures the optional Web Push channel.
type PushConfig struct {
	Enabled bool   `yaml:"enabled"`
	Subject string `yaml:"subject"`
}

// OpsConfig configures the operator-facing HTTP surface
// (/healthz, /metrics, /ws).
type OpsConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	WebsocketPath     string        `yaml:"websocket_path"`
	MaxWebsocketConns int           `yaml:"max_websocket_conns"`
	RateLimitRPS      int           `yaml:"rate_limit_rps"`
	StatusFilePath    string        `yaml:"status_file_path"`
	WatchdogPoll      time.Duration `yaml:"watchdog_poll_interval"`
	WatchdogMaxRSSMB  int           `yaml:"watchdog_max_rss_mb"`
	WatchdogMaxCPUPct float64       `yaml:"watchdog_max_cpu_percent"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// LogConfig configures the zerolog-based logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads and parses a YAML config file, applying defaults for any
// field the file does not set.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the default config if
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Registrar: RegistrarConfig{
			BaseURL:           "https://oscar.gatech.edu/pls/bprod/bwckschd.p_disp_detail_sched",
			Term:              "202508",
			RequestsPerSecond: 20,
			Burst:             10,
		},
		Scheduler: SchedulerConfig{
			MaxRuntime:               780 * time.Second,
			BaseInterval:             15 * time.Second,
			FastInterval:             5 * time.Second,
			SlowInterval:             20 * time.Second,
			OpenCourseInterval:       30 * time.Second,
			RecentlyChangedThreshold: 5,
			FetchConcurrency:         50,
			TickFailureSleep:         5 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
			Badger:  BadgerConfig{Path: filepath.Join(defaultStateDir(), "poller", "badger")},
		},
		Push: PushConfig{Enabled: false},
		Ops: OpsConfig{
			ListenAddr:        "127.0.0.1:8090",
			WebsocketPath:     "/ws",
			MaxWebsocketConns: 100,
			RateLimitRPS:      20,
			StatusFilePath:    filepath.Join(defaultStateDir(), "poller", "status.json"),
			WatchdogPoll:      10 * time.Second,
			WatchdogMaxRSSMB:  512,
			WatchdogMaxCPUPct: 85,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "reapergt-poller",
		},
		Log: LogConfig{Level: "info"},
	}
}

func defaultStateDir() string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state")
}

// Diff compares two configs and returns human-readable descriptions of
// what changed, for logging a safe runtime reload.
func Diff(old, new *Config) []string {
	var changes []string

	if old.Scheduler != new.Scheduler {
		changes = append(changes, fmt.Sprintf("scheduler: %+v -> %+v", old.Scheduler, new.Scheduler))
	}
	if old.Registrar != new.Registrar {
		changes = append(changes, fmt.Sprintf("registrar: %+v -> %+v", old.Registrar, new.Registrar))
	}
	if old.Store.Backend != new.Store.Backend {
		changes = append(changes, fmt.Sprintf("store.backend: %s -> %s", old.Store.Backend, new.Store.Backend))
	}
	if old.Push != new.Push {
		changes = append(changes, fmt.Sprintf("push: %+v -> %+v", old.Push, new.Push))
	}
	if old.Log != new.Log {
		changes = append(changes, fmt.Sprintf("log: %+v -> %+v", old.Log, new.Log))
	}

	return changes
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(dir, "reapergt-poller", "config.yaml")
}
