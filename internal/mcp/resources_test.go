package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/botfleet/internal/model"
)

func TestParseWorkerURI(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		want      string
		wantError bool
	}{
		{name: "simple", uri: "botfleet://workers/echo", want: "echo"},
		{name: "with underscore", uri: "botfleet://workers/echo_2", want: "echo_2"},
		{name: "empty name", uri: "botfleet://workers/", wantError: true},
		{name: "nested path", uri: "botfleet://workers/a/b", wantError: true},
		{name: "wrong scheme", uri: "other://workers/a", wantError: true},
		{name: "empty", uri: "", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWorkerURI(tt.uri)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadResources(t *testing.T) {
	f := newFixture(t)
	f.create(t, "echo")
	ctx := context.Background()

	contents, err := f.srv.handleFleet(ctx, mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcplib.TextResourceContents).Text
	var list []model.Worker
	require.NoError(t, json.Unmarshal([]byte(text), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "echo", list[0].Name)

	req := mcplib.ReadResourceRequest{}
	req.Params.URI = "botfleet://workers/echo"
	contents, err = f.srv.handleWorker(ctx, req)
	require.NoError(t, err)
	var w model.Worker
	require.NoError(t, json.Unmarshal([]byte(contents[0].(mcplib.TextResourceContents).Text), &w))
	assert.Equal(t, model.PhaseCreated, w.Phase)

	req.Params.URI = "botfleet://workers/ghost"
	_, err = f.srv.handleWorker(ctx, req)
	assert.Error(t, err)
}
