package botfleet

import "time"

// Phase is a worker's lifecycle phase.
type Phase string

const (
	PhaseCreated  Phase = "created"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseStopped  Phase = "stopped"
	PhaseRemoving Phase = "removing"
	PhaseRemoved  Phase = "removed"
	PhaseUnknown  Phase = "unknown"
)

// Kind selects the chat platform a worker connects to.
type Kind string

const (
	KindDiscord  Kind = "discord"
	KindTelegram Kind = "telegram"
	KindSlack    Kind = "slack"
	KindCustom   Kind = "custom"
)

// StatusEvent is the public representation of a settled phase change.
// PreviousPhase is empty for the event emitted when a worker is created.
// No internal package imports, so it is safe to use from outside the module.
type StatusEvent struct {
	Name          string
	PreviousPhase Phase
	NewPhase      Phase
	Timestamp     time.Time
}
