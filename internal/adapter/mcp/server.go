// Package mcp exposes the tool registry over the Model Context Protocol.
// Clients (editors, agent runtimes) connect over stdio and drive browser
// sessions through the registered tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"pagelens/internal/adapter/tool"
	"pagelens/internal/domain"
)

// serverInstructions is surfaced to MCP clients during initialization.
const serverInstructions = `Drives real browser sessions. Call the browser tool with a session key of
your choice; the first action creates the session, later actions reuse it.
Mutating actions return a fresh page map whose ref="N" handles feed click,
type, press_keys and scroll. Refs expire on every new map; on STALE_REF
fetch a new map with page_map. Release sessions you are done with.`

// Config holds MCP server identity settings.
type Config struct {
	Name    string
	Version string
}

// Server bridges the tool registry onto an MCP stdio endpoint.
type Server struct {
	mcp      *mcpserver.MCPServer
	registry *tool.Registry
	logger   *slog.Logger
}

// NewServer creates an MCP server and registers every tool from the
// registry. Tool schemas pass through verbatim so clients see the same
// action enum the registry validates against.
func NewServer(cfg Config, registry *tool.Registry, logger *slog.Logger) *Server {
	name := cfg.Name
	if name == "" {
		name = "pagelens"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcp: mcpserver.NewMCPServer(name, version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithInstructions(serverInstructions),
			mcpserver.WithRecovery(),
		),
		registry: registry,
		logger:   logger,
	}

	for _, t := range registry.List() {
		s.mcp.AddTool(toMCPTool(t), s.handler(t))
		logger.Debug("mcp tool registered", "tool", t.Name)
	}
	logger.Info("mcp server ready", "name", name, "tools", len(registry.List()))

	return s
}

// ServeStdio serves MCP over stdin/stdout until the context is canceled or
// stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn))

	s.logger.Info("mcp serving on stdio")
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

// toMCPTool converts a domain tool definition to the wire representation.
func toMCPTool(t domain.Tool) mcpgo.Tool {
	schema := t.Schema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type": "object"}`)
	}
	return mcpgo.NewToolWithRawSchema(t.Name, t.Description, schema)
}

// handler adapts a domain tool's Execute to the MCP call convention. Tool
// failures travel as error results, not protocol errors, so clients can read
// the taxonomy code and retry hint.
func (s *Server) handler(t domain.Tool) mcpserver.ToolHandlerFunc {
	execute := t.Execute
	name := t.Name

	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := json.Marshal(req.Params.Arguments)
		if err != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		s.logger.Debug("mcp tool call", "tool", name)

		res, err := execute(ctx, args)
		if err != nil {
			s.logger.Warn("mcp tool call failed", "tool", name, "error", err)
			return mcpgo.NewToolResultError(err.Error()), nil
		}
		if res == nil {
			return mcpgo.NewToolResultText(""), nil
		}

		if res.IsError {
			return mcpgo.NewToolResultError(formatError(res)), nil
		}
		return mcpgo.NewToolResultText(res.Content), nil
	}
}

// formatError prefixes the taxonomy code so clients without structured
// result support can still branch on it.
func formatError(res *domain.ToolResult) string {
	if res.Code == "" {
		return res.Content
	}
	return fmt.Sprintf("[%s] %s", res.Code, res.Content)
}
