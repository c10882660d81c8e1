package workers_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/runtime"
	"github.com/ashita-ai/botfleet/internal/service/workers"
	"github.com/ashita-ai/botfleet/internal/testutil"
)

func TestLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.svc.Create(ctx, "bot-a", model.KindDiscord, map[string]any{"token": "t"})
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCreated, w.Phase)
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, 3001, w.Port)

	w, err = f.svc.Start(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseRunning, w.Phase)

	w, err = f.svc.Stop(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseStopped, w.Phase)

	require.NoError(t, f.svc.Remove(ctx, "bot-a"))
	_, err = f.svc.Get(ctx, "bot-a")
	assert.ErrorIs(t, err, workers.ErrNotFound)
	assert.Zero(t, f.rt.Len())

	assert.Equal(t, [][2]model.Phase{
		{"", model.PhaseCreated},
		{model.PhaseCreated, model.PhaseRunning},
		{model.PhaseRunning, model.PhaseStopped},
		{model.PhaseStopped, model.PhaseRemoved},
	}, f.events.transitions())
}

func TestCreateContainerSpec(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), "bot-a", model.KindTelegram, map[string]any{
		"token":  "secret",
		"prefix": "?",
		"owner":  "ops",
	})
	require.NoError(t, err)

	c, ok := f.rt.Container(prefix + "bot-a")
	require.True(t, ok)
	assert.Equal(t, workers.DefaultImage, c.Image)
	assert.Equal(t, 3001, c.Port)
	assert.Equal(t, "true", c.Labels[runtime.LabelManaged])
	assert.Equal(t, "telegram", c.Labels[runtime.LabelKind])
	assert.Equal(t, "3001", c.Labels[runtime.LabelPort])
	assert.Contains(t, c.Env, "BOT_TYPE=telegram")
	assert.Contains(t, c.Env, "BOT_TOKEN=secret")
	assert.Contains(t, c.Env, "BOT_PREFIX=?")
	assert.Contains(t, c.Env, "BOT_CONFIG_OWNER=ops")
	assert.Contains(t, c.Env, "BOT_PORT=3001")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "", model.KindCustom, nil)
	assert.ErrorIs(t, err, workers.ErrValidation)

	_, err = f.svc.Create(ctx, "Bad Name", model.KindCustom, nil)
	assert.ErrorIs(t, err, workers.ErrValidation)

	_, err = f.svc.Create(ctx, "a", model.Kind("irc"), nil)
	assert.ErrorIs(t, err, workers.ErrValidation)

	_, err = f.svc.Create(ctx, "a", model.KindDiscord, map[string]any{})
	assert.ErrorIs(t, err, workers.ErrValidation, "discord needs a token")

	assert.Zero(t, f.rt.Calls(testutil.OpCreate))
	assert.Zero(t, f.reg.Len())
}

func TestCreateDuplicateName(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	_, err := f.svc.Create(context.Background(), "a", model.KindCustom, nil)
	assert.ErrorIs(t, err, workers.ErrConflict)
	assert.Equal(t, 1, f.rt.Calls(testutil.OpCreate))
}

func TestCreateRuntimeFailureEvictsReservation(t *testing.T) {
	f := newFixture(t)
	f.rt.SetUnreachable(true)

	_, err := f.svc.Create(context.Background(), "a", model.KindCustom, nil)
	assert.ErrorIs(t, err, workers.ErrRuntimeUnavailable)
	assert.Zero(t, f.reg.Len())
	assert.Empty(t, f.events.transitions())

	f.rt.SetUnreachable(false)
	w := f.create(t, "a")
	assert.Equal(t, 3001, w.Port, "failed reservation released its port")
}

func TestCreatePortsExhausted(t *testing.T) {
	f := newFixture(t, func(c *workers.Config) { c.PortRangeEnd = c.PortRangeStart })
	f.create(t, "a")
	_, err := f.svc.Create(context.Background(), "b", model.KindCustom, nil)
	assert.ErrorIs(t, err, workers.ErrConflict)
}

func TestStartMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), "missing")
	assert.ErrorIs(t, err, workers.ErrNotFound)
}

func TestConcurrentStartsExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")

	release := make(chan struct{})
	f.rt.SetHook(func(ctx context.Context, op, _ string) error {
		if op == testutil.OpStart {
			<-release
		}
		return nil
	})

	const n = 8
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := f.svc.Start(context.Background(), "a")
			results <- err
		}()
	}

	// Every caller but the one blocked in the runtime fails fast.
	for i := 0; i < n-1; i++ {
		assert.ErrorIs(t, <-results, workers.ErrConflict)
	}
	close(release)
	assert.NoError(t, <-results)

	assert.Equal(t, model.PhaseRunning, f.phase(t, "a"))
	assert.Equal(t, 1, f.rt.Calls(testutil.OpStart))
}

func TestStartFailureRevertsPhase(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	f.rt.SetError(testutil.OpStart, fmt.Errorf("%w: socket closed", runtime.ErrUnreachable))

	_, err := f.svc.Start(context.Background(), "a")
	assert.ErrorIs(t, err, workers.ErrRuntimeUnavailable)
	assert.Equal(t, model.PhaseCreated, f.phase(t, "a"))
	assert.Len(t, f.events.transitions(), 1, "only the create event")

	f.rt.SetError(testutil.OpStart, nil)
	_, err = f.svc.Start(context.Background(), "a")
	assert.NoError(t, err, "token was released")
}

func TestStartTimeoutRevertsPhase(t *testing.T) {
	f := newFixture(t, func(c *workers.Config) { c.RuntimeTimeout = 20 * time.Millisecond })
	f.create(t, "a")
	f.rt.SetHook(func(ctx context.Context, op, _ string) error {
		if op == testutil.OpStart {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	_, err := f.svc.Start(context.Background(), "a")
	assert.ErrorIs(t, err, workers.ErrTimeout)
	assert.Equal(t, model.PhaseCreated, f.phase(t, "a"))
}

func TestStopFromCreatedIsConflict(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	_, err := f.svc.Stop(context.Background(), "a")
	assert.ErrorIs(t, err, workers.ErrConflict)
	assert.Zero(t, f.rt.Calls(testutil.OpStop))
	assert.Equal(t, model.PhaseCreated, f.phase(t, "a"))
}

func TestStopFailureRevertsToRunning(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	_, err := f.svc.Start(context.Background(), "a")
	require.NoError(t, err)

	f.rt.SetError(testutil.OpStop, errors.New("engine hiccup"))
	_, err = f.svc.Stop(context.Background(), "a")
	assert.ErrorIs(t, err, workers.ErrRuntimeUnavailable)
	assert.Equal(t, model.PhaseRunning, f.phase(t, "a"))
}

func TestRestartNeverObservesStopped(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	_, err := f.svc.Start(context.Background(), "a")
	require.NoError(t, err)

	var during model.Phase
	f.rt.SetHook(func(_ context.Context, op, _ string) error {
		if op == testutil.OpRestart {
			w, _ := f.reg.Get("a")
			during = w.Phase
		}
		return nil
	})

	w, err := f.svc.Restart(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseRunning, w.Phase)
	assert.Equal(t, model.PhaseStarting, during)
	assert.Equal(t, 1, f.rt.Calls(testutil.OpRestart))
	assert.Zero(t, f.rt.Calls(testutil.OpStop))

	got := f.events.transitions()
	assert.Equal(t, [2]model.Phase{model.PhaseRunning, model.PhaseRunning}, got[len(got)-1])
}

func TestRestartFromCreatedIsConflict(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	_, err := f.svc.Restart(context.Background(), "a")
	assert.ErrorIs(t, err, workers.ErrConflict)
}

func TestRemoveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.svc.Remove(ctx, "never-existed"))

	f.create(t, "a")
	_, err := f.svc.Start(ctx, "a")
	require.NoError(t, err)
	f.rt.DeleteContainer(prefix + "a")

	assert.NoError(t, f.svc.Remove(ctx, "a"), "container already gone is success")
	_, err = f.svc.Get(ctx, "a")
	assert.ErrorIs(t, err, workers.ErrNotFound)
	assert.NoError(t, f.svc.Remove(ctx, "a"))
}

func TestRemoveStopsRunningContainer(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	_, err := f.svc.Start(context.Background(), "a")
	require.NoError(t, err)

	require.NoError(t, f.svc.Remove(context.Background(), "a"))
	assert.Equal(t, 1, f.rt.Calls(testutil.OpStop))
	assert.Equal(t, 1, f.rt.Calls(testutil.OpRemove))
}

func TestRemoveFailureReverts(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	f.rt.SetError(testutil.OpRemove, fmt.Errorf("%w: denied", runtime.ErrPermissionDenied))

	err := f.svc.Remove(context.Background(), "a")
	assert.ErrorIs(t, err, workers.ErrRuntimeUnavailable)
	assert.Equal(t, model.PhaseCreated, f.phase(t, "a"))
}

func TestRemoveWhileBusyIsConflict(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.rt.SetHook(func(_ context.Context, op, _ string) error {
		if op == testutil.OpStart {
			close(entered)
			<-release
		}
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Start(context.Background(), "a")
		done <- err
	}()
	<-entered
	assert.ErrorIs(t, f.svc.Remove(context.Background(), "a"), workers.ErrConflict)
	close(release)
	require.NoError(t, <-done)
}

func TestListRoundTrip(t *testing.T) {
	f := newFixture(t)
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), fmt.Sprintf("w%02d", i), model.KindCustom, map[string]any{
				"index":  float64(i),
				"nested": map[string]any{"tags": []any{"x", "y"}},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list := f.svc.List(context.Background())
	require.Len(t, list, n)
	ports := make(map[int]bool)
	for _, w := range list {
		var i int
		_, err := fmt.Sscanf(w.Name, "w%02d", &i)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"index":  float64(i),
			"nested": map[string]any{"tags": []any{"x", "y"}},
		}, w.Config)
		assert.False(t, ports[w.Port], "duplicate port %d", w.Port)
		ports[w.Port] = true
	}
}

func TestCallerCannotAliasConfig(t *testing.T) {
	f := newFixture(t)
	cfg := map[string]any{"greeting": "hi"}
	_, err := f.svc.Create(context.Background(), "a", model.KindCustom, cfg)
	require.NoError(t, err)
	cfg["greeting"] = "changed"

	w, err := f.svc.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "hi", w.Config["greeting"])
}

func TestListEnrichesRunningWorkers(t *testing.T) {
	f := newFixture(t)
	f.create(t, "a")
	f.create(t, "b")
	_, err := f.svc.Start(context.Background(), "a")
	require.NoError(t, err)

	list := f.svc.List(context.Background())
	require.Len(t, list, 2)
	require.NotNil(t, list[0].Stats)
	assert.Positive(t, list[0].Stats.MemoryBytes)
	assert.Nil(t, list[1].Stats)

	// Stats failures degrade to records without stats.
	f.rt.SetError(testutil.OpStats, errors.New("stats broken"))
	list = f.svc.List(context.Background())
	require.Len(t, list, 2)
	assert.Nil(t, list[0].Stats)
}

func TestLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Logs(ctx, "missing", 10)
	assert.ErrorIs(t, err, workers.ErrNotFound)

	f.create(t, "a")
	lines := make([]string, 150)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	f.rt.SetLogs(lines...)

	rc, err := f.svc.Logs(ctx, "a", 0)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, workers.DefaultLogTail, strings.Count(string(b), "\n"))
	assert.True(t, strings.HasPrefix(string(b), "line 50\n"), "default tail keeps the newest lines")

	f.rt.DeleteContainer(prefix + "a")
	_, err = f.svc.Logs(ctx, "a", 10)
	assert.ErrorIs(t, err, workers.ErrRuntimeUnavailable)
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.Ping(context.Background()))
	f.rt.SetUnreachable(true)
	assert.ErrorIs(t, f.svc.Ping(context.Background()), workers.ErrRuntimeUnavailable)
}

func TestPhaseSequenceIsValidPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []model.Phase
	record := func() {
		if w, err := f.reg.Get("a"); err == nil {
			mu.Lock()
			seen = append(seen, w.Phase)
			mu.Unlock()
		}
	}
	f.rt.SetHook(func(_ context.Context, _, _ string) error {
		record()
		return nil
	})

	f.create(t, "a")
	record()
	ops := []func() error{
		func() error { _, err := f.svc.Start(ctx, "a"); return err },
		func() error { _, err := f.svc.Start(ctx, "a"); return err },
		func() error { _, err := f.svc.Restart(ctx, "a"); return err },
		func() error { _, err := f.svc.Stop(ctx, "a"); return err },
		func() error { _, err := f.svc.Stop(ctx, "a"); return err },
		func() error { _, err := f.svc.Restart(ctx, "a"); return err },
		func() error { _, err := f.svc.Stop(ctx, "a"); return err },
		func() error { return f.svc.Remove(ctx, "a") },
	}
	for _, op := range ops {
		_ = op()
		record()
	}

	require.NotEmpty(t, seen)
	assert.Equal(t, model.PhaseCreated, seen[0])
	assert.True(t, model.ValidPath(seen), "phase path %v", seen)
}
