package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPTransport selects the connection mechanism for an external MCP server.
type MCPTransport string

const (
	// MCPTransportStdio spawns a subprocess and communicates over
	// stdin/stdout.
	MCPTransportStdio MCPTransport = "stdio"

	// MCPTransportStreamableHTTP communicates via the MCP Streamable HTTP
	// protocol.
	MCPTransportStreamableHTTP MCPTransport = "streamable-http"
)

// MCPServerConfig describes one external MCP server whose tools should join
// the router's namespace.
type MCPServerConfig struct {
	Name      string
	Transport MCPTransport
	Command   string
	URL       string
	Env       map[string]string
}

// MCPBridge connects to external MCP servers and registers their tools on a
// Router. Imported tools share the flat namespace with built-ins, so a
// server exposing a colliding name fails the import.
type MCPBridge struct {
	client   *mcpsdk.Client
	sessions []*mcpsdk.ClientSession
}

// NewMCPBridge creates a bridge with no connections.
func NewMCPBridge() *MCPBridge {
	return &MCPBridge{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "coda-tools", Version: "1.0.0"},
			nil,
		),
	}
}

// Import connects to the server described by cfg, discovers its tools, and
// registers each on r. The returned tools dispatch through the live session.
func (b *MCPBridge) Import(ctx context.Context, r *Router, cfg MCPServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: mcp server config must have a name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case MCPTransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return fmt.Errorf("tools: mcp stdio server %q requires a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case MCPTransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: mcp streamable-http server %q requires a URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("tools: unknown mcp transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect mcp server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			session.Close()
			return fmt.Errorf("tools: list tools of mcp server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	for _, mcpTool := range discovered {
		t := Tool{
			Name:        mcpTool.Name,
			Category:    "mcp:" + cfg.Name,
			Description: mcpTool.Description,
			Parameters:  schemaToMap(mcpTool.InputSchema),
			Fn:          mcpToolFunc(session, mcpTool.Name),
		}
		if err := r.Register(t); err != nil {
			session.Close()
			return fmt.Errorf("tools: import mcp server %q: %w", cfg.Name, err)
		}
	}

	b.sessions = append(b.sessions, session)
	return nil
}

// mcpToolFunc builds the router Func dispatching to one remote tool.
func mcpToolFunc(session *mcpsdk.ClientSession, name string) Func {
	return func(ctx context.Context, args map[string]any) (string, error) {
		result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      name,
			Arguments: args,
		})
		if err != nil {
			return "", err
		}

		var sb strings.Builder
		for _, c := range result.Content {
			if tc, ok := c.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		if result.IsError {
			return "", fmt.Errorf("%s", sb.String())
		}
		return sb.String(), nil
	}
}

// Close shuts down every server session.
func (b *MCPBridge) Close() error {
	var firstErr error
	for _, s := range b.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.sessions = nil
	return firstErr
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
