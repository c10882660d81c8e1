package workers_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/registry"
	"github.com/ashita-ai/botfleet/internal/service/workers"
	"github.com/ashita-ai/botfleet/internal/testutil"
)

const prefix = "botfleet-"

type recorder struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (r *recorder) Publish(_ context.Context, ev model.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) transitions() [][2]model.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]model.Phase, len(r.events))
	for i, ev := range r.events {
		out[i] = [2]model.Phase{ev.PreviousPhase, ev.NewPhase}
	}
	return out
}

type fixture struct {
	svc    *workers.Service
	rt     *testutil.FakeRuntime
	reg    *registry.Registry
	events *recorder
}

func newFixture(t *testing.T, opts ...func(*workers.Config)) fixture {
	t.Helper()
	cfg := workers.Config{
		ContainerPrefix: prefix,
		PortRangeStart:  3001,
		PortRangeEnd:    3999,
		RuntimeTimeout:  time.Second,
		Catalog:         workers.DefaultCatalog("", t.TempDir()),
	}
	for _, fn := range opts {
		fn(&cfg)
	}
	f := fixture{
		rt:     testutil.NewFakeRuntime(),
		reg:    registry.New(),
		events: &recorder{},
	}
	f.svc = workers.New(f.reg, f.rt, f.events, cfg, testutil.TestLogger())
	return f
}

func (f fixture) create(t *testing.T, name string) model.Worker {
	t.Helper()
	w, err := f.svc.Create(context.Background(), name, model.KindCustom, map[string]any{"greeting": "hi"})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return w
}

func (f fixture) phase(t *testing.T, name string) model.Phase {
	t.Helper()
	w, err := f.reg.Get(name)
	if err != nil {
		t.Fatalf("get %s: %v", name, err)
	}
	return w.Phase
}
