package botfleet

import "time"

// Phase is the lifecycle state of a worker.
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

// Kind is the chat protocol a worker speaks.
type Kind string

const (
	KindDiscord  Kind = "discord"
	KindTelegram Kind = "telegram"
	KindSlack    Kind = "slack"
	KindCustom   Kind = "custom"
)

// Worker is one chat-bot worker as reported by the server.
type Worker struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Kind           Kind           `json:"kind"`
	Phase          Phase          `json:"phase"`
	Config         map[string]any `json:"config"`
	CreatedAt      time.Time      `json:"created_at"`
	LastObservedAt *time.Time     `json:"last_observed_at,omitempty"`
	Port           int            `json:"port,omitempty"`
	Stats          *ResourceStats `json:"stats,omitempty"`
}

// ResourceStats is a point-in-time resource snapshot of a running worker.
type ResourceStats struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryBytes   uint64    `json:"memory_bytes"`
	MemoryLimit   uint64    `json:"memory_limit"`
	NetworkRxByte uint64    `json:"network_rx_bytes"`
	NetworkTxByte uint64    `json:"network_tx_bytes"`
	ReadAt        time.Time `json:"read_at"`
}

// CreateRequest is the input for Create.
type CreateRequest struct {
	Name   string         `json:"name"`
	Kind   Kind           `json:"kind"`
	Config map[string]any `json:"config"`
}

// StatusEvent announces a settled phase change. PreviousPhase is empty for
// the event emitted when a worker is first created.
type StatusEvent struct {
	ID            string    `json:"-"`
	Name          string    `json:"name"`
	PreviousPhase Phase     `json:"previous_phase,omitempty"`
	NewPhase      Phase     `json:"new_phase"`
	Timestamp     time.Time `json:"timestamp"`
}

// Health is the response from the health endpoint.
type Health struct {
	Status  string `json:"status"`
	Runtime string `json:"runtime"`
	Workers int    `json:"workers"`
	Version string `json:"version"`
	Uptime  int64  `json:"uptime_seconds"`
}

type actionResponse struct {
	Message string  `json:"message"`
	Worker  *Worker `json:"worker,omitempty"`
}
