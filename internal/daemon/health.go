package daemon

import (
	"context"
	"net/http"
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/services"
	"git.home.luguber.info/inful/pagebaker/internal/version"
)

// HealthStatus represents the overall health of the daemon
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Views     []string               `json:"views"`
	Activity  ActivitySnapshot       `json:"activity"`
	Services  []services.ServiceInfo `json:"services,omitempty"`
	Checks    []HealthCheck          `json:"checks"`
}

// PerformHealthChecks runs every check. Any failing check degrades the
// overall status; a daemon that is not running is unhealthy.
func (d *Daemon) PerformHealthChecks(r *http.Request) *HealthResponse {
	checks := []HealthCheck{
		timed("daemon_status", d.checkDaemon),
		timed("page_store", func() (HealthStatus, string) { return checkDB(r.Context(), d.pipeline.Store.Ping) }),
		timed("event_store", func() (HealthStatus, string) { return checkDB(r.Context(), d.pipeline.Events.Ping) }),
		timed("queue", d.checkQueue),
	}

	overall := HealthStatusHealthy
	for _, c := range checks {
		if c.Status != HealthStatusHealthy && overall == HealthStatusHealthy {
			overall = HealthStatusDegraded
		}
	}
	if d.GetStatus() != StatusRunning {
		overall = HealthStatusUnhealthy
	}

	var svcs []services.ServiceInfo
	if d.services != nil {
		svcs = d.services.Info()
	}

	uptime := ""
	if !d.startTime.IsZero() {
		uptime = time.Since(d.startTime).Round(time.Second).String()
	}
	return &HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    uptime,
		Version:   version.Version,
		Views:     d.pipeline.Binder.Views(),
		Activity:  d.activity.Snapshot(),
		Services:  svcs,
		Checks:    checks,
	}
}

func timed(name string, check func() (HealthStatus, string)) HealthCheck {
	start := time.Now()
	status, msg := check()
	return HealthCheck{Name: name, Status: status, Message: msg, Duration: time.Since(start)}
}

func (d *Daemon) checkDaemon() (HealthStatus, string) {
	switch s := d.GetStatus(); s {
	case StatusRunning:
		return HealthStatusHealthy, "Daemon is running normally"
	case StatusStarting:
		return HealthStatusDegraded, "Daemon is still starting up"
	default:
		return HealthStatusUnhealthy, "Daemon is " + string(s)
	}
}

func checkDB(ctx context.Context, ping func(context.Context) error) (HealthStatus, string) {
	if err := ping(ctx); err != nil {
		return HealthStatusUnhealthy, err.Error()
	}
	return HealthStatusHealthy, ""
}

func (d *Daemon) checkQueue() (HealthStatus, string) {
	cfg := d.GetConfig()
	if d.queue == nil {
		return HealthStatusHealthy, "synchronous"
	}
	if n := d.QueueLength(); n >= 0 && n >= cfg.Queue.Size {
		return HealthStatusDegraded, "queue is full"
	}
	return HealthStatusHealthy, string(cfg.Queue.Mode)
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := d.PerformHealthChecks(r)
	status := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
