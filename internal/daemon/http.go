package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/content"
	"git.home.luguber.info/inful/pagebaker/internal/events"
	"git.home.luguber.info/inful/pagebaker/internal/eventstore"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/metrics"
)

// maxBodyBytes caps hook and build request bodies.
const maxBodyBytes = 64 << 10

// HookRequest identifies the page a lifecycle hook is about.
type HookRequest struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// HookResponse acknowledges a hook.
type HookResponse struct {
	Status string `json:"status"`
	Page   string `json:"page"`
	Queued bool   `json:"queued"`
}

// BuildRequest selects views for a full build; empty means all configured views.
type BuildRequest struct {
	Views []string `json:"views"`
}

// RunEvent is one journal event in a run detail response.
type RunEvent struct {
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Payload   eventstore.Payload `json:"payload"`
}

// RunDetail is the response of GET /runs/{id}.
type RunDetail struct {
	Summary  *eventstore.RunSummary `json:"summary,omitempty"`
	Finished bool                   `json:"finished"`
	Events   []RunEvent             `json:"events"`
}

// Handler returns the daemon's HTTP routes wrapped in request logging.
func (d *Daemon) Handler() http.Handler {
	cfg := d.GetConfig()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hooks/publish", d.handlePublish)
	mux.HandleFunc("POST /hooks/unpublish", d.handleUnpublish)
	mux.HandleFunc("POST /builds", d.handleBuild)
	mux.HandleFunc("GET /runs", d.handleRuns)
	mux.HandleFunc("GET /runs/{id}", d.handleRun)
	mux.HandleFunc("GET "+cfg.Monitoring.Health.Path, d.handleHealth)
	if d.registry != nil {
		mux.Handle("GET "+cfg.Monitoring.Metrics.Path, metrics.HTTPHandler(d.registry))
	}
	return NewLoggingMiddleware().Handler(mux)
}

func (d *Daemon) handlePublish(w http.ResponseWriter, r *http.Request) {
	key, err := decodeHook(r)
	if err != nil {
		d.errors.WriteErrorResponse(w, r, err)
		return
	}
	d.hook(w, r, key, events.PagePublished{Key: key, PublishedAt: time.Now()})
}

func (d *Daemon) handleUnpublish(w http.ResponseWriter, r *http.Request) {
	key, err := decodeHook(r)
	if err != nil {
		d.errors.WriteErrorResponse(w, r, err)
		return
	}
	d.hook(w, r, key, events.PageUnpublished{Key: key, UnpublishedAt: time.Now()})
}

// hook publishes evt on the bus. In synchronous mode the bake has finished,
// and any failure is reported, by the time Publish returns.
func (d *Daemon) hook(w http.ResponseWriter, r *http.Request, key content.Key, evt events.PageEvent) {
	if err := d.pipeline.Bus.Publish(r.Context(), evt); err != nil {
		d.errors.WriteErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, HookResponse{
		Status: "accepted",
		Page:   key.String(),
		Queued: d.pipeline.Dispatcher.Queued(),
	})
}

func decodeHook(r *http.Request) (content.Key, error) {
	var req HookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return content.Key{}, ferrors.ValidationError("invalid hook body").WithCause(err).Build()
	}
	if req.Type == "" || req.ID <= 0 {
		return content.Key{}, ferrors.ValidationError("hook requires type and a positive id").
			WithContext("type", req.Type).
			WithContext("id", req.ID).
			Build()
	}
	return content.Key{Type: req.Type, ID: req.ID}, nil
}

func (d *Daemon) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		d.errors.WriteErrorResponse(w, r, ferrors.ValidationError("invalid build body").WithCause(err).Build())
		return
	}
	report, err := d.TriggerBuild(r.Context(), req.Views)
	if err != nil {
		d.errors.WriteErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (d *Daemon) handleRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.pipeline.Runs.History())
}

func (d *Daemon) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	evts, err := d.pipeline.Events.GetByRunID(r.Context(), id)
	if err != nil {
		d.errors.WriteErrorResponse(w, r, err)
		return
	}
	if len(evts) == 0 {
		d.errors.WriteErrorResponse(w, r, ferrors.NotFoundError("run not found").WithContext("run_id", id).Build())
		return
	}

	detail := RunDetail{Events: make([]RunEvent, 0, len(evts))}
	if s, ok := d.pipeline.Runs.Get(id); ok {
		detail.Summary = &s
	}
	for _, e := range evts {
		detail.Finished = detail.Finished || e.Terminal()
		p, err := eventstore.DecodePayload(e)
		if err != nil {
			slog.WarnContext(r.Context(), "Skipping undecodable journal event", "event_id", e.ID)
			continue
		}
		detail.Events = append(detail.Events, RunEvent{Type: e.Type, Timestamp: e.At, Payload: p})
	}
	writeJSON(w, http.StatusOK, detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
