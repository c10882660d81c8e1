package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	fleetURI          = "botfleet://workers"
	workerURIPrefix   = "botfleet://workers/"
	workerURITemplate = "botfleet://workers/{name}"
)

func (s *Server) registerResources() {
	// botfleet://workers lists the whole fleet.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			fleetURI,
			"Fleet",
			mcplib.WithResourceDescription("Every worker with its current phase"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleFleet,
	)

	// botfleet://workers/{name} reads one worker.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			workerURITemplate,
			"Worker",
			mcplib.WithTemplateDescription("A single worker by name"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleWorker,
	)
}

func (s *Server) handleFleet(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.workers.List(ctx), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal fleet: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      fleetURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleWorker(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	name, err := parseWorkerURI(uri)
	if err != nil {
		return nil, err
	}
	w, err := s.workers.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("mcp: worker %s: %w", name, err)
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal worker: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseWorkerURI extracts the worker name from botfleet://workers/{name}.
func parseWorkerURI(uri string) (string, error) {
	name, ok := strings.CutPrefix(uri, workerURIPrefix)
	if !ok {
		return "", fmt.Errorf("mcp: invalid worker URI: %s", uri)
	}
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("mcp: invalid worker name in URI: %s", uri)
	}
	return name, nil
}
