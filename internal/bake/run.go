package bake

import (
	"time"

	"github.com/google/uuid"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerPublish   Trigger = "publish"
	TriggerUnpublish Trigger = "unpublish"
	TriggerBuild     Trigger = "build"
	TriggerSchedule  Trigger = "schedule"
)

// Run is the state of one bake run. Every triggering event gets its own Run, so
// concurrent runs never suppress each other's builds.
type Run struct {
	ID      string
	Trigger Trigger
	Started time.Time
	Gate    *Gate
}

// NewRun starts a run with a fresh gate.
func NewRun(trigger Trigger) *Run {
	return &Run{
		ID:      uuid.NewString(),
		Trigger: trigger,
		Started: time.Now(),
		Gate:    NewGate(),
	}
}
