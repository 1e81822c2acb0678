// Package config loads the pagebaker YAML configuration.
//
// Loading runs in a fixed order: .env files, read, ${VAR} expansion, unmarshal,
// normalization of enumerations, defaults, validation.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
)

// CurrentVersion is the only supported configuration version.
const CurrentVersion = "1"

// Config is the complete pagebaker configuration.
type Config struct {
	Version    string           `yaml:"version"`
	Output     OutputConfig     `yaml:"output"`
	Bakery     BakeryConfig     `yaml:"bakery"`
	Site       SiteConfig       `yaml:"site"`
	Store      StoreConfig      `yaml:"store"`
	Queue      QueueConfig      `yaml:"queue"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// OutputConfig is where baked files go.
type OutputConfig struct {
	Directory string `yaml:"directory"`
	// StateDir holds artifact fingerprints; empty means "<directory>/.pagebaker".
	StateDir string `yaml:"state_dir,omitempty"`
}

// BakeryConfig lists the buildable views.
type BakeryConfig struct {
	Views           []string `yaml:"views"`
	RelativizeLinks bool     `yaml:"relativize_links"`
}

// SiteConfig configures the serving path pages are rendered through.
type SiteConfig struct {
	// Host is sent as the Host header of render requests.
	Host     string      `yaml:"host"`
	Template string      `yaml:"template,omitempty"`
	Sites    []SiteEntry `yaml:"sites"`
}

// SiteEntry is one hostname served by the CMS.
type SiteEntry struct {
	Name     string `yaml:"name"`
	Hostname string `yaml:"hostname"`
	Title    string `yaml:"title"`
	Default  bool   `yaml:"default,omitempty"`
}

// StoreConfig locates the page database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig selects how page events reach the bake sequence.
type QueueConfig struct {
	Mode    QueueMode   `yaml:"mode"`
	Workers int         `yaml:"workers"`
	Size    int         `yaml:"size"`
	Retry   RetryConfig `yaml:"retry"`
	NATS    NATSConfig  `yaml:"nats"`
}

// RetryConfig is the worker retry policy.
type RetryConfig struct {
	Backoff      RetryBackoffMode `yaml:"backoff"`
	InitialDelay string           `yaml:"initial_delay"`
	MaxDelay     string           `yaml:"max_delay"`
	MaxRetries   int              `yaml:"max_retries"`
}

// NATSConfig configures the JetStream queue.
type NATSConfig struct {
	URL        string `yaml:"url"`
	Stream     string `yaml:"stream"`
	Subject    string `yaml:"subject"`
	Durable    string `yaml:"durable"`
	MaxDeliver int    `yaml:"max_deliver"`
	AckWait    string `yaml:"ack_wait"`
}

// DaemonConfig configures the long-running process.
type DaemonConfig struct {
	Listen string `yaml:"listen"`
	// RebuildSchedule is a cron expression for full rebuilds; empty disables them.
	RebuildSchedule string `yaml:"rebuild_schedule,omitempty"`
	EventStorePath  string `yaml:"eventstore_path"`
	// JournalRetention is how many of the most recent runs the event store keeps.
	JournalRetention int `yaml:"journal_retention"`
}

// MonitoringConfig represents monitoring and observability configuration
type MonitoringConfig struct {
	Metrics MonitoringMetrics `yaml:"metrics"`
	Health  MonitoringHealth  `yaml:"health"`
	Logging MonitoringLogging `yaml:"logging"`
}

type MonitoringMetrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MonitoringHealth struct {
	Path string `yaml:"path"`
}

type MonitoringLogging struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Load reads, normalizes, defaults and validates the configuration at configPath.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		slog.Debug("No .env file loaded", "err", err)
	}

	// #nosec G304 -- config path is chosen by the operator
	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ferrors.ConfigError("configuration file not found").WithContext("path", configPath).Build()
	}
	if err != nil {
		return nil, ferrors.ConfigError("read configuration file").WithCause(err).WithContext("path", configPath).Build()
	}
	return Parse(data)
}

// Parse runs the load pipeline on raw YAML.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, ferrors.ConfigError("parse configuration").WithCause(err).Build()
	}
	if cfg.Version != CurrentVersion {
		return nil, ferrors.ConfigError("unsupported configuration version").
			WithContext("version", cfg.Version).
			WithContext("expected", CurrentVersion).
			Build()
	}

	for _, w := range Normalize(&cfg) {
		slog.Warn("Config normalization", "warning", w)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.NewError(ferrors.CategoryAlreadyExists, "configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).
			Build()
	}

	example := Example()
	data, err := yaml.Marshal(&example)
	if err != nil {
		return ferrors.InternalError("marshal example configuration").WithCause(err).Build()
	}
	// #nosec G306 -- config file may be shared with operators
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return ferrors.FileSystemError("write configuration file").WithCause(err).WithContext("path", configPath).Build()
	}
	return nil
}

// Example returns the configuration written by Init.
func Example() Config {
	return Config{
		Version: CurrentVersion,
		Output:  OutputConfig{Directory: "./public"},
		Bakery:  BakeryConfig{Views: []string{"page", "post"}},
		Site: SiteConfig{
			Host: "www.example.org",
			Sites: []SiteEntry{
				{Name: "main", Hostname: "www.example.org", Title: "Example", Default: true},
			},
		},
		Store: StoreConfig{Path: "./pagebaker.db"},
		Queue: QueueConfig{
			Mode:    QueueModeLocal,
			Workers: 2,
			Size:    100,
			Retry:   RetryConfig{Backoff: RetryBackoffLinear, InitialDelay: "1s", MaxDelay: "30s", MaxRetries: 2},
			NATS:    NATSConfig{URL: "${NATS_URL}"},
		},
		Daemon: DaemonConfig{
			Listen:          ":8090",
			RebuildSchedule: "0 3 * * *",
			EventStorePath:  "./pagebaker-events.db",
		},
		Monitoring: MonitoringConfig{
			Metrics: MonitoringMetrics{Enabled: true, Path: "/metrics"},
			Health:  MonitoringHealth{Path: "/healthz"},
			Logging: MonitoringLogging{Level: LogLevelInfo, Format: LogFormatText},
		},
	}
}
