package testutil

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/runtime"
)

// Runtime operation names accepted by FakeRuntime hooks and counters.
const (
	OpPing    = "ping"
	OpList    = "list"
	OpCreate  = "create"
	OpStart   = "start"
	OpStop    = "stop"
	OpRestart = "restart"
	OpRemove  = "remove"
	OpStats   = "stats"
	OpLogs    = "logs"
)

// FakeContainer is one container held by FakeRuntime.
type FakeContainer struct {
	ID     string
	Name   string
	Image  string
	State  string
	Labels map[string]string
	Env    []string
	Port   int
}

// Hook runs before an operation touches FakeRuntime state. A non-nil error
// is returned from the operation as is. Hooks may block; they receive the
// caller's context so deadline tests can wait on ctx.Done.
type Hook func(ctx context.Context, op, id string) error

// FakeRuntime is an in-memory runtime.Client. Safe for concurrent use.
type FakeRuntime struct {
	mu          sync.Mutex
	containers  map[string]*FakeContainer // by ID
	nextID      int
	errs        map[string]error
	hook        Hook
	unreachable bool
	calls       map[string]int
	logLines    []string
}

var _ runtime.Client = (*FakeRuntime)(nil)

// NewFakeRuntime returns an empty FakeRuntime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: make(map[string]*FakeContainer),
		errs:       make(map[string]error),
		calls:      make(map[string]int),
	}
}

// SetError makes every call of op fail with err until cleared with a nil err.
func (f *FakeRuntime) SetError(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// SetHook installs h for every operation. A nil h removes it.
func (f *FakeRuntime) SetHook(h Hook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = h
}

// SetUnreachable makes every operation fail with runtime.ErrUnreachable.
func (f *FakeRuntime) SetUnreachable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable = v
}

// SetLogs sets the lines returned by Logs.
func (f *FakeRuntime) SetLogs(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logLines = append([]string(nil), lines...)
}

// Calls returns how many times op was invoked, including failed calls.
func (f *FakeRuntime) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// AddContainer inserts a container out of band, as if another client had
// created it, and returns its ID.
func (f *FakeRuntime) AddContainer(name, state string, labels map[string]string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.newContainerLocked(name)
	c.State = state
	for k, v := range labels {
		c.Labels[k] = v
	}
	return c.ID
}

// SetState changes a container's state out of band, e.g. to simulate a crash.
func (f *FakeRuntime) SetState(name, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.byNameLocked(name); c != nil {
		c.State = state
	}
}

// DeleteContainer removes a container out of band.
func (f *FakeRuntime) DeleteContainer(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.byNameLocked(name); c != nil {
		delete(f.containers, c.ID)
	}
}

// Container returns a copy of the named container.
func (f *FakeRuntime) Container(name string) (FakeContainer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byNameLocked(name)
	if c == nil {
		return FakeContainer{}, false
	}
	out := *c
	return out, true
}

// Len returns the number of containers.
func (f *FakeRuntime) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// Ping implements runtime.Client.
func (f *FakeRuntime) Ping(ctx context.Context) error {
	return f.enter(ctx, OpPing, "")
}

// ListContainers implements runtime.Client.
func (f *FakeRuntime) ListContainers(ctx context.Context, filter runtime.ListFilter) ([]runtime.ContainerSummary, error) {
	if err := f.enter(ctx, OpList, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runtime.ContainerSummary
	for _, c := range f.containers {
		if !strings.HasPrefix(c.Name, filter.NamePrefix) || !matchLabels(c.Labels, filter.Labels) {
			continue
		}
		labels := make(map[string]string, len(c.Labels))
		for k, v := range c.Labels {
			labels[k] = v
		}
		out = append(out, runtime.ContainerSummary{
			ID:     c.ID,
			Name:   c.Name,
			Image:  c.Image,
			State:  c.State,
			Labels: labels,
		})
	}
	slices.SortFunc(out, func(a, b runtime.ContainerSummary) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// CreateContainer implements runtime.Client.
func (f *FakeRuntime) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	if err := f.enter(ctx, OpCreate, spec.Name); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byNameLocked(spec.Name) != nil {
		return "", fmt.Errorf("fake: create %s: name in use", spec.Name)
	}
	c := f.newContainerLocked(spec.Name)
	c.Image = spec.Image
	c.State = runtime.StateCreated
	c.Env = append([]string(nil), spec.Env...)
	c.Port = spec.Port
	for k, v := range spec.Labels {
		c.Labels[k] = v
	}
	return c.ID, nil
}

// Start implements runtime.Client.
func (f *FakeRuntime) Start(ctx context.Context, id string) error {
	return f.setState(ctx, OpStart, id, runtime.StateRunning)
}

// Stop implements runtime.Client.
func (f *FakeRuntime) Stop(ctx context.Context, id string) error {
	return f.setState(ctx, OpStop, id, runtime.StateExited)
}

// Restart implements runtime.Client.
func (f *FakeRuntime) Restart(ctx context.Context, id string) error {
	return f.setState(ctx, OpRestart, id, runtime.StateRunning)
}

// Remove implements runtime.Client.
func (f *FakeRuntime) Remove(ctx context.Context, id string) error {
	if err := f.enter(ctx, OpRemove, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookupLocked(id)
	if c == nil {
		return fmt.Errorf("%w: %s", runtime.ErrNotFound, id)
	}
	delete(f.containers, c.ID)
	return nil
}

// Stats implements runtime.Client. Running containers report fixed figures.
func (f *FakeRuntime) Stats(ctx context.Context, id string) (model.ResourceStats, error) {
	if err := f.enter(ctx, OpStats, id); err != nil {
		return model.ResourceStats{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookupLocked(id)
	if c == nil {
		return model.ResourceStats{}, fmt.Errorf("%w: %s", runtime.ErrNotFound, id)
	}
	if c.State != runtime.StateRunning {
		return model.ResourceStats{ReadAt: time.Now().UTC()}, nil
	}
	return model.ResourceStats{
		CPUPercent:  1.5,
		MemoryBytes: 32 << 20,
		MemoryLimit: 512 << 20,
		ReadAt:      time.Now().UTC(),
	}, nil
}

// Logs implements runtime.Client.
func (f *FakeRuntime) Logs(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	if err := f.enter(ctx, OpLogs, id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupLocked(id) == nil {
		return nil, fmt.Errorf("%w: %s", runtime.ErrNotFound, id)
	}
	lines := f.logLines
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return io.NopCloser(strings.NewReader(b.String())), nil
}

func (f *FakeRuntime) setState(ctx context.Context, op, id, state string) error {
	if err := f.enter(ctx, op, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookupLocked(id)
	if c == nil {
		return fmt.Errorf("%w: %s", runtime.ErrNotFound, id)
	}
	c.State = state
	return nil
}

// enter counts the call, runs the hook outside the lock, then applies the
// unreachable flag and injected errors.
func (f *FakeRuntime) enter(ctx context.Context, op, id string) error {
	f.mu.Lock()
	f.calls[op]++
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op, id); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable {
		return fmt.Errorf("%w: fake engine offline", runtime.ErrUnreachable)
	}
	return f.errs[op]
}

func (f *FakeRuntime) newContainerLocked(name string) *FakeContainer {
	f.nextID++
	c := &FakeContainer{
		ID:     "c" + strconv.Itoa(f.nextID),
		Name:   name,
		Labels: make(map[string]string),
	}
	f.containers[c.ID] = c
	return c
}

// lookupLocked resolves a container by ID or by name, as Docker does.
func (f *FakeRuntime) lookupLocked(ref string) *FakeContainer {
	if c, ok := f.containers[ref]; ok {
		return c
	}
	return f.byNameLocked(ref)
}

func (f *FakeRuntime) byNameLocked(name string) *FakeContainer {
	for _, c := range f.containers {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func matchLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
