// Package services starts and stops the daemon's long-running components in
// dependency order.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
)

// ServiceStatus represents the current state of a service.
type ServiceStatus string

const (
	StatusNotStarted ServiceStatus = "not_started"
	StatusRunning    ServiceStatus = "running"
	StatusStopped    ServiceStatus = "stopped"
	StatusFailed     ServiceStatus = "failed"
)

// ManagedService defines the interface for services managed by the orchestrator.
type ManagedService interface {
	Name() string
	// Start must not block; ctx stays valid for the life of the service.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Dependencies returns the names of services this service depends on.
	Dependencies() []string
}

// Func adapts a pair of functions to ManagedService. A nil Stop is a no-op.
type Func struct {
	ServiceName string
	DependsOn   []string
	StartFunc   func(ctx context.Context) error
	StopFunc    func(ctx context.Context) error
}

func (f Func) Name() string           { return f.ServiceName }
func (f Func) Dependencies() []string { return f.DependsOn }

func (f Func) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}

// ServiceInfo contains metadata about a managed service.
type ServiceInfo struct {
	Name         string        `json:"name"`
	Status       ServiceStatus `json:"status"`
	Dependencies []string      `json:"dependencies,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

// Orchestrator manages the lifecycle of multiple services with dependency resolution.
type Orchestrator struct {
	mu         sync.RWMutex
	services   map[string]ManagedService
	status     map[string]ServiceStatus
	startedAt  map[string]time.Time
	lastErrors map[string]error

	stopTimeout time.Duration
}

// NewOrchestrator creates an empty orchestrator.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		services:    make(map[string]ManagedService),
		status:      make(map[string]ServiceStatus),
		startedAt:   make(map[string]time.Time),
		lastErrors:  make(map[string]error),
		stopTimeout: 10 * time.Second,
	}
}

// WithStopTimeout bounds each service's Stop.
func (o *Orchestrator) WithStopTimeout(d time.Duration) *Orchestrator {
	o.stopTimeout = d
	return o
}

// Register adds a service.
func (o *Orchestrator) Register(service ManagedService) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := service.Name()
	if name == "" {
		return ferrors.ValidationError("service name cannot be empty").Build()
	}
	if _, exists := o.services[name]; exists {
		return ferrors.NewError(ferrors.CategoryAlreadyExists, "service already registered").
			WithContext("service", name).
			Build()
	}
	o.services[name] = service
	o.status[name] = StatusNotStarted
	slog.Debug("Service registered", "service", name, "dependencies", service.Dependencies())
	return nil
}

// StartAll starts all services in dependency order. On failure the services
// already started are stopped again.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, err := o.startOrder()
	if err != nil {
		return ferrors.InternalError("failed to calculate service start order").WithCause(err).Build()
	}
	slog.InfoContext(ctx, "Starting services", "order", order)

	for i, name := range order {
		start := time.Now()
		if err := o.services[name].Start(ctx); err != nil {
			o.status[name] = StatusFailed
			o.lastErrors[name] = err
			o.stopLocked(context.WithoutCancel(ctx), reversed(order[:i]))
			return ferrors.DaemonError("failed to start service").
				WithCause(err).
				WithContext("service", name).
				Build()
		}
		o.status[name] = StatusRunning
		o.startedAt[name] = start
		o.lastErrors[name] = nil
		slog.DebugContext(ctx, "Service started", "service", name, "duration", time.Since(start))
	}
	return nil
}

// StopAll stops running services in reverse dependency order and returns
// every stop error.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, err := o.startOrder()
	if err != nil {
		return ferrors.InternalError("failed to calculate service stop order").WithCause(err).Build()
	}
	return o.stopLocked(ctx, reversed(order))
}

func (o *Orchestrator) stopLocked(ctx context.Context, names []string) error {
	var errs []error
	for _, name := range names {
		if o.status[name] != StatusRunning {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, o.stopTimeout)
		err := o.services[name].Stop(stopCtx)
		cancel()
		if err != nil {
			o.status[name] = StatusFailed
			o.lastErrors[name] = err
			slog.ErrorContext(ctx, "Error stopping service", "service", name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		o.status[name] = StatusStopped
		slog.DebugContext(ctx, "Service stopped", "service", name)
	}
	return errors.Join(errs...)
}

// Info returns the state of every service, sorted by name.
func (o *Orchestrator) Info() []ServiceInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()

	infos := make([]ServiceInfo, 0, len(o.services))
	for name, svc := range o.services {
		info := ServiceInfo{Name: name, Status: o.status[name], Dependencies: svc.Dependencies()}
		if t, ok := o.startedAt[name]; ok {
			info.StartedAt = &t
		}
		if err := o.lastErrors[name]; err != nil {
			info.LastError = err.Error()
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b ServiceInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// startOrder is a topological sort over the services, visiting names in
// sorted order so the result is stable.
func (o *Orchestrator) startOrder() ([]string, error) {
	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	var order []string

	var visit func(string) error
	visit = func(name string) error {
		if visiting[name] {
			return fmt.Errorf("circular dependency detected involving service: %s", name)
		}
		if visited[name] {
			return nil
		}
		svc, exists := o.services[name]
		if !exists {
			return fmt.Errorf("service not found: %s", name)
		}
		visiting[name] = true
		for _, dep := range svc.Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(o.services))
	for name := range o.services {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func reversed(names []string) []string {
	out := slices.Clone(names)
	slices.Reverse(out)
	return out
}
