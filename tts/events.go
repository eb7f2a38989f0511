package tts

import "fmt"

// Event is a status notification posted to an EventSink.
type Event interface {
	Topic() string
}

// EngineEventKind is the state change reported by an EngineEvent.
type EngineEventKind string

const (
	EngineStarting       EngineEventKind = "STARTING"
	EngineStartNoRuntime EngineEventKind = "START_NO_RUNTIME"
	EngineStartNoModel   EngineEventKind = "START_NO_MODEL"
	EngineStartDisabled  EngineEventKind = "START_DISABLED"
	EngineStartCrashed   EngineEventKind = "START_CRASHED"
	EngineStarted        EngineEventKind = "STARTED"
	EngineCrashed        EngineEventKind = "CRASHED"
	EngineStopped        EngineEventKind = "STOPPED"
)

// EngineEvent reports an engine lifecycle change.
type EngineEvent struct {
	Kind   EngineEventKind `json:"kind"`
	Engine string          `json:"engine"`
	Error  string          `json:"error,omitempty"`
}

// Topic implements Event.
func (EngineEvent) Topic() string { return "engine" }

func (e EngineEvent) String() string {
	return fmt.Sprintf("engine %s %s", e.Engine, e.Kind)
}

// ProcessEventKind is the state change reported by a ProcessEvent.
type ProcessEventKind string

const (
	ProcessSpawned ProcessEventKind = "SPAWNED"
	ProcessDied    ProcessEventKind = "DIED"
	ProcessCrashed ProcessEventKind = "CRASHED"
)

// ProcessEvent reports a worker process lifecycle change.
type ProcessEvent struct {
	Kind  ProcessEventKind `json:"kind"`
	Model string           `json:"model"`
	PID   int              `json:"pid"`
}

// Topic implements Event.
func (ProcessEvent) Topic() string { return "process" }

func (e ProcessEvent) String() string {
	return fmt.Sprintf("process pid:%d model:%s %s", e.PID, e.Model, e.Kind)
}

// DiscardEvents is an EventSink that drops everything.
var DiscardEvents EventSink = discardSink{}

type discardSink struct{}

func (discardSink) Post(Event) {}
