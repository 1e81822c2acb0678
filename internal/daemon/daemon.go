// Package daemon runs pagebaker as a long-lived service: it receives page
// lifecycle hooks over HTTP, bakes synchronously or through a queue, rebuilds
// on a schedule and reloads its view list when the config file changes.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
	"git.home.luguber.info/inful/pagebaker/internal/config"
	"git.home.luguber.info/inful/pagebaker/internal/events"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
	"git.home.luguber.info/inful/pagebaker/internal/metrics"
	"git.home.luguber.info/inful/pagebaker/internal/queue"
	"git.home.luguber.info/inful/pagebaker/internal/retry"
	"git.home.luguber.info/inful/pagebaker/internal/services"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// shutdownTimeout bounds Stop when Run's context is canceled.
const shutdownTimeout = 30 * time.Second

// Options are the daemon's process-level settings.
type Options struct {
	// ConfigPath enables the config watcher when set.
	ConfigPath string
	// LogLevel is updated on config reload when set.
	LogLevel *slog.LevelVar
}

// Daemon represents the main daemon service
type Daemon struct {
	mu        sync.RWMutex
	config    *config.Config
	opts      Options
	status    atomic.Value // Status
	startTime time.Time

	pipeline   *Pipeline
	registry   *prom.Registry
	queue      queue.Queue
	scheduler  *Scheduler
	watcher    *ConfigWatcher
	activity   *Activity
	unsubEvent func()
	services   *services.Orchestrator

	httpServer *http.Server
	listener   net.Listener
	errors     *ferrors.HTTPErrorAdapter
}

// New wires the pipeline and the optional scheduler and watcher. Nothing
// runs until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, ferrors.ConfigError("configuration is required").Build()
	}

	d := &Daemon{
		config:   cfg,
		opts:     opts,
		activity: newActivity(),
		errors:   ferrors.NewHTTPErrorAdapter(slog.Default()),
	}
	d.status.Store(StatusStopped)

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Monitoring.Metrics.Enabled {
		d.registry = metrics.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(d.registry)
	}

	p, err := NewPipeline(ctx, cfg, recorder)
	if err != nil {
		return nil, err
	}
	d.pipeline = p

	if cfg.Daemon.RebuildSchedule != "" {
		d.scheduler, err = NewScheduler(p.Baker.Build)
		if err != nil {
			_ = p.Close()
			return nil, ferrors.DaemonError("create scheduler").WithCause(err).Build()
		}
	}

	if opts.ConfigPath != "" {
		d.watcher, err = NewConfigWatcher(opts.ConfigPath, d.ReloadConfig)
		if err != nil {
			_ = p.Close()
			return nil, ferrors.DaemonError("create config watcher").WithCause(err).Build()
		}
	}

	d.httpServer = &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

// Pipeline returns the baking stack.
func (d *Daemon) Pipeline() *Pipeline { return d.pipeline }

// GetStatus returns the current lifecycle state.
func (d *Daemon) GetStatus() Status { return d.status.Load().(Status) }

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Addr returns the bound HTTP address once started.
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Start brings up the queue, the activity subscriber, the scheduler, the
// config watcher and finally the HTTP listener.
func (d *Daemon) Start(ctx context.Context) error {
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	cfg := d.GetConfig()

	d.services = services.NewOrchestrator()
	for _, svc := range d.managedServices(cfg) {
		if err := d.services.Register(svc); err != nil {
			d.status.Store(StatusError)
			return err
		}
	}
	if err := d.services.StartAll(ctx); err != nil {
		d.status.Store(StatusError)
		return err
	}

	d.status.Store(StatusRunning)
	slog.InfoContext(ctx, "Daemon started",
		"addr", d.Addr(),
		"queue_mode", string(cfg.Queue.Mode),
		"views", d.pipeline.Binder.Views())
	return nil
}

func (d *Daemon) managedServices(cfg *config.Config) []services.ManagedService {
	svcs := []services.ManagedService{
		services.Func{
			ServiceName: "queue",
			StartFunc:   func(ctx context.Context) error { return d.startQueue(ctx, cfg) },
			StopFunc: func(ctx context.Context) error {
				if d.queue == nil {
					return nil
				}
				return d.queue.Stop(ctx)
			},
		},
		services.Func{
			ServiceName: "activity",
			StartFunc: func(ctx context.Context) error {
				ch, unsub := events.Subscribe[events.PageEvent](d.pipeline.Bus, 64)
				d.unsubEvent = unsub
				go d.activity.run(ctx, ch)
				return nil
			},
			StopFunc: func(context.Context) error {
				d.unsubEvent()
				return nil
			},
		},
	}
	httpDeps := []string{"queue", "activity"}

	if d.scheduler != nil {
		svcs = append(svcs, services.Func{
			ServiceName: "scheduler",
			DependsOn:   []string{"queue"},
			StartFunc: func(ctx context.Context) error {
				id, err := d.scheduler.ScheduleRebuild(ctx, cfg.Daemon.RebuildSchedule)
				if err != nil {
					return err
				}
				d.scheduler.Start(ctx)
				slog.InfoContext(ctx, "Rebuild scheduled", "cron", cfg.Daemon.RebuildSchedule, "job_id", id)
				return nil
			},
			StopFunc: d.scheduler.Stop,
		})
		httpDeps = append(httpDeps, "scheduler")
	}

	if d.watcher != nil {
		svcs = append(svcs, services.Func{
			ServiceName: "config-watcher",
			StartFunc: func(ctx context.Context) error {
				if err := d.watcher.Start(ctx); err != nil {
					slog.WarnContext(ctx, "Config watcher not started", logfields.Error(err))
				}
				return nil
			},
			StopFunc: d.watcher.Stop,
		})
	}

	return append(svcs, services.Func{
		ServiceName: "http",
		DependsOn:   httpDeps,
		StartFunc: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.Daemon.Listen)
			if err != nil {
				return ferrors.DaemonError("listen").WithCause(err).WithContext("addr", cfg.Daemon.Listen).Fatal().Build()
			}
			d.listener = ln
			go func() {
				if err := d.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("HTTP server stopped", logfields.Error(err))
				}
			}()
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			if err := d.httpServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			return nil
		},
	})
}

func (d *Daemon) startQueue(ctx context.Context, cfg *config.Config) error {
	initial, maxDelay, ackWait := cfg.Queue.Durations()
	policy := retry.NewPolicy(retry.Mode(cfg.Queue.Retry.Backoff), initial, maxDelay, cfg.Queue.Retry.MaxRetries)

	var q queue.Queue
	switch cfg.Queue.Mode {
	case config.QueueModeSync:
		return nil
	case config.QueueModeLocal:
		q = queue.NewLocal(cfg.Queue.Size, cfg.Queue.Workers, d.pipeline.Dispatcher,
			queue.WithRetryPolicy(policy),
			queue.WithMetrics(d.pipeline.Recorder))
	case config.QueueModeNATS:
		n := cfg.Queue.NATS
		nq, err := queue.NewNATS(ctx, queue.NATSConfig{
			URL:        n.URL,
			Stream:     n.Stream,
			Subject:    n.Subject,
			Durable:    n.Durable,
			MaxDeliver: n.MaxDeliver,
			AckWait:    ackWait,
		}, d.pipeline.Dispatcher, policy, d.pipeline.Recorder)
		if err != nil {
			return err
		}
		q = nq
	default:
		return ferrors.ConfigError("unknown queue mode").WithContext("mode", cfg.Queue.Mode).Build()
	}

	if err := q.Start(ctx); err != nil {
		return err
	}
	d.queue = q
	d.pipeline.Dispatcher.SetEnqueuer(q)
	return nil
}

// Stop shuts the services down in reverse start order and closes the stores.
func (d *Daemon) Stop(ctx context.Context) error {
	d.status.Store(StatusStopping)
	var errs []error
	if d.services != nil {
		errs = append(errs, d.services.StopAll(ctx))
	}
	errs = append(errs, d.pipeline.Close())

	d.status.Store(StatusStopped)
	slog.InfoContext(ctx, "Daemon stopped")
	return errors.Join(errs...)
}

// Run starts the daemon and blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		_ = d.Stop(context.WithoutCancel(ctx))
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return d.Stop(stopCtx)
}

// TriggerBuild runs a full build of views, or of the configured views when empty.
func (d *Daemon) TriggerBuild(ctx context.Context, views []string) (*bake.Report, error) {
	return d.pipeline.Baker.Build(ctx, bake.TriggerBuild, views)
}

// ReloadConfig applies the hot-swappable parts of cfg: the buildable view
// list and the log level. Other changes need a restart.
func (d *Daemon) ReloadConfig(ctx context.Context, cfg *config.Config) error {
	d.mu.Lock()
	old := d.config
	d.config = cfg
	d.mu.Unlock()

	if !slices.Equal(old.Bakery.Views, cfg.Bakery.Views) {
		d.pipeline.Binder.SetViews(cfg.Bakery.Views)
		slog.InfoContext(ctx, "Buildable views changed", "views", d.pipeline.Binder.Views())
	}
	if d.opts.LogLevel != nil {
		d.opts.LogLevel.Set(cfg.Monitoring.Logging.Level.SlogLevel())
	}

	if old.Daemon.Listen != cfg.Daemon.Listen ||
		old.Store.Path != cfg.Store.Path ||
		old.Output.Directory != cfg.Output.Directory ||
		old.Queue.Mode != cfg.Queue.Mode ||
		old.Daemon.RebuildSchedule != cfg.Daemon.RebuildSchedule {
		slog.WarnContext(ctx, "Configuration changes detected that require a restart to take effect")
	}
	return nil
}

// QueueLength reports pending messages for the local queue, or -1.
func (d *Daemon) QueueLength() int {
	if l, ok := d.queue.(*queue.Local); ok {
		return l.Length()
	}
	return -1
}
