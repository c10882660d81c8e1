package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Kind is the chat protocol a worker speaks.
type Kind string

const (
	KindDiscord  Kind = "discord"
	KindTelegram Kind = "telegram"
	KindSlack    Kind = "slack"
	KindCustom   Kind = "custom"
)

// Kinds is the closed set of supported worker kinds.
var Kinds = []Kind{KindDiscord, KindTelegram, KindSlack, KindCustom}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// RequiresToken reports whether workers of this kind cannot run without a
// platform token in their config.
func (k Kind) RequiresToken() bool {
	return k == KindDiscord || k == KindTelegram || k == KindSlack
}

// Worker is one chat-bot worker and the container that runs it.
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

// ResourceStats is a point-in-time resource snapshot of a running container.
type ResourceStats struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryBytes   uint64    `json:"memory_bytes"`
	MemoryLimit   uint64    `json:"memory_limit"`
	NetworkRxByte uint64    `json:"network_rx_bytes"`
	NetworkTxByte uint64    `json:"network_tx_bytes"`
	ReadAt        time.Time `json:"read_at"`
}

// MaxNameLen bounds worker names so the derived container name stays well
// under Docker's limits.
const MaxNameLen = 63

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName checks that a worker name is usable as a container name suffix.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("name exceeds maximum length of %d characters", MaxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("name %q must be lowercase alphanumerics, '-' or '_' and start with a letter or digit", name)
	}
	return nil
}

// CloneConfig returns a deep copy of a worker config blob. Nested maps and
// slices are copied so the result shares no mutable state with cfg.
func CloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneConfig(t)
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = cloneValue(t[i])
		}
		return s
	case []string:
		return append([]string(nil), t...)
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return v
	}
}

// Clone returns a copy of w that shares no mutable state with it.
func (w Worker) Clone() Worker {
	out := w
	out.Config = CloneConfig(w.Config)
	if w.LastObservedAt != nil {
		t := *w.LastObservedAt
		out.LastObservedAt = &t
	}
	if w.Stats != nil {
		s := *w.Stats
		out.Stats = &s
	}
	return out
}
