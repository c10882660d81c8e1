package reconcile_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/registry"
	"github.com/ashita-ai/botfleet/internal/runtime"
	"github.com/ashita-ai/botfleet/internal/service/reconcile"
	"github.com/ashita-ai/botfleet/internal/testutil"
)

func TestDockerAdoptsOutOfBandContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Docker integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	itPrefix := fmt.Sprintf("botfleet-it%d-", time.Now().UnixNano()%1_000_000)
	tc, err := testutil.StartIdleContainer(ctx, itPrefix+"stray", map[string]string{
		runtime.LabelManaged: "true",
		runtime.LabelKind:    string(model.KindSlack),
	})
	require.NoError(t, err)
	defer tc.Terminate()

	docker, err := runtime.NewDocker(runtime.DockerConfig{})
	require.NoError(t, err)
	defer func() { _ = docker.Close() }()

	reg := registry.New()
	rec := reconcile.New(reg, docker, nil, reconcile.Config{ContainerPrefix: itPrefix}, testutil.TestLogger())

	res, err := rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Adopted)

	w, err := reg.Get("stray")
	require.NoError(t, err)
	assert.Equal(t, model.KindSlack, w.Kind)
	assert.Equal(t, model.PhaseUnknown, w.Phase)
	assert.NotEmpty(t, w.ID)

	_, err = rec.Sync(ctx)
	require.NoError(t, err)
	w, err = reg.Get("stray")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseRunning, w.Phase)

	stats, err := docker.Stats(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, stats.ReadAt.IsZero())
}
