package config

// DefaultApplier fills unset values of one configuration section.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config)
	Domain() string
}

type outputDefaults struct{}

func (outputDefaults) Domain() string { return "output" }
func (outputDefaults) ApplyDefaults(cfg *Config) {
	if cfg.Output.Directory == "" {
		cfg.Output.Directory = "./public"
	}
}

type storeDefaults struct{}

func (storeDefaults) Domain() string { return "store" }
func (storeDefaults) ApplyDefaults(cfg *Config) {
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./pagebaker.db"
	}
}

type siteDefaults struct{}

func (siteDefaults) Domain() string { return "site" }
func (siteDefaults) ApplyDefaults(cfg *Config) {
	if cfg.Site.Host == "" && len(cfg.Site.Sites) > 0 {
		cfg.Site.Host = cfg.Site.Sites[0].Hostname
		for _, s := range cfg.Site.Sites {
			if s.Default {
				cfg.Site.Host = s.Hostname
				break
			}
		}
	}
	if cfg.Site.Host == "" {
		cfg.Site.Host = "localhost"
	}
	if len(cfg.Site.Sites) == 0 {
		cfg.Site.Sites = []SiteEntry{{Name: "default", Hostname: cfg.Site.Host, Default: true}}
	}
}

type queueDefaults struct{}

func (queueDefaults) Domain() string { return "queue" }
func (queueDefaults) ApplyDefaults(cfg *Config) {
	q := &cfg.Queue
	if q.Mode == "" {
		q.Mode = QueueModeSync
	}
	if q.Workers <= 0 {
		q.Workers = 2
	}
	if q.Size <= 0 {
		q.Size = 100
	}
	if q.Retry.Backoff == "" {
		q.Retry.Backoff = RetryBackoffLinear
	}
	if q.Retry.InitialDelay == "" {
		q.Retry.InitialDelay = "1s"
	}
	if q.Retry.MaxDelay == "" {
		q.Retry.MaxDelay = "30s"
	}
	if q.Retry.MaxRetries < 0 {
		q.Retry.MaxRetries = 0
	}
	if q.NATS.URL == "" {
		q.NATS.URL = "nats://127.0.0.1:4222"
	}
	if q.NATS.Stream == "" {
		q.NATS.Stream = "PAGEBAKER"
	}
	if q.NATS.Subject == "" {
		q.NATS.Subject = "pagebaker.pages"
	}
	if q.NATS.Durable == "" {
		q.NATS.Durable = "pagebaker-workers"
	}
	if q.NATS.MaxDeliver <= 0 {
		q.NATS.MaxDeliver = 5
	}
	if q.NATS.AckWait == "" {
		q.NATS.AckWait = "1m"
	}
}

type daemonDefaults struct{}

func (daemonDefaults) Domain() string { return "daemon" }
func (daemonDefaults) ApplyDefaults(cfg *Config) {
	if cfg.Daemon.Listen == "" {
		cfg.Daemon.Listen = ":8090"
	}
	if cfg.Daemon.EventStorePath == "" {
		cfg.Daemon.EventStorePath = "./pagebaker-events.db"
	}
	if cfg.Daemon.JournalRetention == 0 {
		cfg.Daemon.JournalRetention = 1000
	}
}

type monitoringDefaults struct{}

func (monitoringDefaults) Domain() string { return "monitoring" }
func (monitoringDefaults) ApplyDefaults(cfg *Config) {
	m := &cfg.Monitoring
	if m.Metrics.Path == "" {
		m.Metrics.Path = "/metrics"
	}
	if m.Health.Path == "" {
		m.Health.Path = "/healthz"
	}
	if m.Logging.Level == "" {
		m.Logging.Level = LogLevelInfo
	}
	if m.Logging.Format == "" {
		m.Logging.Format = LogFormatText
	}
}

var defaultAppliers = []DefaultApplier{
	outputDefaults{},
	storeDefaults{},
	siteDefaults{},
	queueDefaults{},
	daemonDefaults{},
	monitoringDefaults{},
}

// ApplyDefaults runs every section's defaults.
func ApplyDefaults(cfg *Config) {
	for _, a := range defaultAppliers {
		a.ApplyDefaults(cfg)
	}
}
