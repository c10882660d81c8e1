package model

import "time"

// StatusEvent announces one settled phase change of a worker. PreviousPhase is
// empty for the event emitted when a worker is first created.
type StatusEvent struct {
	Name          string    `json:"name"`
	PreviousPhase Phase     `json:"previous_phase,omitempty"`
	NewPhase      Phase     `json:"new_phase"`
	Timestamp     time.Time `json:"timestamp"`
}
