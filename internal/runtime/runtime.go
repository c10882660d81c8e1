// Package runtime is the narrow capability surface botfleet needs from a
// container engine: list, create, start, stop, restart, remove, stats and logs.
//
// Client implementations classify engine failures into ErrNotFound,
// ErrUnreachable and ErrPermissionDenied so callers can branch with errors.Is
// without knowing which engine is underneath.
package runtime

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ashita-ai/botfleet/internal/model"
)

var (
	// ErrNotFound is returned when the addressed container does not exist.
	ErrNotFound = errors.New("runtime: container not found")

	// ErrUnreachable is returned when the engine cannot be contacted.
	ErrUnreachable = errors.New("runtime: engine unreachable")

	// ErrPermissionDenied is returned when the engine refuses the call.
	ErrPermissionDenied = errors.New("runtime: permission denied")
)

// Container engine states as reported in ContainerSummary.State.
const (
	StateCreated    = "created"
	StateRunning    = "running"
	StateRestarting = "restarting"
	StatePaused     = "paused"
	StateExited     = "exited"
	StateDead       = "dead"
	StateRemoving   = "removing"
)

// Labels stamped on every container botfleet creates.
const (
	LabelManaged = "botfleet.managed"
	LabelKind    = "botfleet.kind"
	LabelPort    = "botfleet.port"
	LabelName    = "botfleet.name"
)

// ContainerSummary is one entry of a container listing.
type ContainerSummary struct {
	ID      string
	Name    string // without the leading slash Docker reports
	Image   string
	State   string
	Status  string // human readable, e.g. "Up 3 minutes"
	Labels  map[string]string
	Created time.Time
}

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name       string
	Image      string
	Cmd        []string
	Env        []string
	WorkingDir string
	Binds      []string
	Labels     map[string]string
	Port       int // exposed and published on the same host port; 0 = none
}

// ListFilter narrows ListContainers. Zero values match everything.
type ListFilter struct {
	NamePrefix string
	Labels     map[string]string
}

// Client is the container engine capability surface.
// Implementations must be safe for concurrent use.
type Client interface {
	Ping(ctx context.Context) error
	ListContainers(ctx context.Context, filter ListFilter) ([]ContainerSummary, error)
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Stats(ctx context.Context, id string) (model.ResourceStats, error)

	// Logs returns the last tail lines of combined stdout/stderr. The caller
	// must close the returned reader.
	Logs(ctx context.Context, id string, tail int) (io.ReadCloser, error)
}
