package mcp

import (
	"context"
	"io"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/service/workers"
)

// maxLogBytes bounds the log text returned by fleet_logs.
const maxLogBytes = 256 << 10

func nameArg() mcplib.ToolOption {
	return mcplib.WithString("name",
		mcplib.Description("Worker name (lowercase letters, digits, '-' and '_')"),
		mcplib.Required(),
	)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("fleet_list",
			mcplib.WithDescription("List every chat-bot worker with its phase, port and, for running workers, a resource snapshot."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleList,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("fleet_get",
			mcplib.WithDescription("Show one worker."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			nameArg(),
		),
		s.handleGet,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("fleet_create",
			mcplib.WithDescription(`Create a worker container. The worker starts in phase "created"; call fleet_start to run it.

Kinds discord, telegram and slack require config.token.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			nameArg(),
			mcplib.WithString("kind",
				mcplib.Description("Worker kind"),
				mcplib.Required(),
				mcplib.Enum(string(model.KindDiscord), string(model.KindTelegram), string(model.KindSlack), string(model.KindCustom)),
			),
			mcplib.WithObject("config",
				mcplib.Description("Kind-specific configuration (token, prefix and free-form keys)"),
			),
		),
		s.handleCreate,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("fleet_start",
			mcplib.WithDescription("Start a created or stopped worker."),
			mcplib.WithOpenWorldHintAnnotation(false),
			nameArg(),
		),
		s.lifecycle(s.workers.Start),
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("fleet_stop",
			mcplib.WithDescription("Stop a running worker."),
			mcplib.WithOpenWorldHintAnnotation(false),
			nameArg(),
		),
		s.lifecycle(s.workers.Stop),
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("fleet_restart",
			mcplib.WithDescription("Restart a running or stopped worker."),
			mcplib.WithOpenWorldHintAnnotation(false),
			nameArg(),
		),
		s.lifecycle(s.workers.Restart),
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("fleet_remove",
			mcplib.WithDescription("Stop and remove a worker and its container. Removing an unknown worker succeeds."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			nameArg(),
		),
		s.handleRemove,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("fleet_logs",
			mcplib.WithDescription("Return the most recent timestamped log lines of a worker."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			nameArg(),
			mcplib.WithNumber("tail",
				mcplib.Description("Number of lines from the end"),
				mcplib.Min(1),
				mcplib.Max(10000),
				mcplib.DefaultNumber(workers.DefaultLogTail),
			),
		),
		s.handleLogs,
	)
}

func (s *Server) handleList(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	list := s.workers.List(ctx)
	return jsonResult(map[string]any{
		"workers": list,
		"total":   len(list),
	})
}

func (s *Server) handleGet(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	w, err := s.workers.Get(ctx, name)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(w)
}

func (s *Server) handleCreate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	kind, err := request.RequireString("kind")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	var config map[string]any
	if raw, ok := request.GetArguments()["config"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return errorResult("config must be an object"), nil
		}
		config = m
	}

	w, err := s.workers.Create(ctx, name, model.Kind(kind), config)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(w)
}

func (s *Server) lifecycle(op func(context.Context, string) (model.Worker, error)) func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		w, err := op(ctx, name)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return jsonResult(w)
	}
}

func (s *Server) handleRemove(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if err := s.workers.Remove(ctx, name); err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(map[string]any{"name": name, "status": "removed"})
}

func (s *Server) handleLogs(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	tail := request.GetInt("tail", workers.DefaultLogTail)

	rc, err := s.workers.Logs(ctx, name, tail)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	defer func() { _ = rc.Close() }()

	var sb strings.Builder
	if _, err := io.Copy(&sb, io.LimitReader(rc, maxLogBytes)); err != nil {
		s.logger.Warn("mcp: read logs", "name", name, "error", err)
		return errorResult("failed to read logs: " + err.Error()), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: sb.String()},
		},
	}, nil
}
