// Package testutil provides shared test infrastructure: an in-memory
// runtime.Client for unit tests and helpers that start real containers
// through testcontainers-go for integration tests.
//
// Integration tests should skip when no Docker provider is available:
//
//	func TestDockerAdoption(t *testing.T) {
//	    testcontainers.SkipIfProviderIsNotHealthy(t)
//	    c, err := testutil.StartIdleContainer(ctx, "botfleet-oob", labels)
//	    ...
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// IdleImage is the image used for containers that only need to exist.
const IdleImage = "alpine:3.20"

// TestContainer wraps a testcontainers container.
type TestContainer struct {
	Container testcontainers.Container
	Name      string
}

// StartIdleContainer starts a long-sleeping container with the given name and
// labels, outside of any botfleet control path.
func StartIdleContainer(ctx context.Context, name string, labels map[string]string) (*TestContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:      IdleImage,
		Name:       name,
		Labels:     labels,
		Cmd:        []string{"sh", "-c", "echo ready; sleep 600"},
		WaitingFor: wait.ForLog("ready").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start container %s: %w", name, err)
	}
	return &TestContainer{Container: container, Name: name}, nil
}

// Terminate stops and removes the container. Errors are ignored because the
// system under test may already have removed it.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
