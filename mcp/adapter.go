// Package mcp exposes tools from Model Context Protocol servers as
// engine tools, so a call can reach out to an MCP server's tools the
// same way it reaches locally defined ones.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plumehq/plume/llm"
)

// Client wraps an MCP client session for use with the engine.
type Client struct {
	mcpClient *mcp.Client
	session   *mcp.ClientSession
	timeout   time.Duration
}

// Option configures the MCP client.
type Option func(*clientConfig)

type clientConfig struct {
	timeout time.Duration
}

// WithTimeout sets the timeout for tool execution.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// NewStdioClient creates an MCP client that communicates via stdio
// with a subprocess.
//
// Example:
//
//	client, err := mcp.NewStdioClient(ctx, "./my-mcp-server", nil)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	tools, err := client.Tools(ctx)
func NewStdioClient(ctx context.Context, command string, args []string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mcpClient := mcp.NewClient(&mcp.Implementation{
		Name:    "plume",
		Version: "0.1.0",
	}, nil)

	cmd := exec.Command(command, args...)
	transport := &mcp.CommandTransport{
		Command: cmd,
	}

	session, err := mcpClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server: %w", err)
	}

	return &Client{
		mcpClient: mcpClient,
		session:   session,
		timeout:   cfg.timeout,
	}, nil
}

// Tools returns all tools from the MCP server as engine tools.
//
// Example:
//
//	tools, err := client.Tools(ctx)
//	if err != nil {
//	    return err
//	}
//
//	resp, err := engine.Call(ctx, "Use the tools to help",
//	    llm.WithModel("gpt-5-mini"),
//	    llm.WithTools(tools...),
//	)
func (c *Client) Tools(ctx context.Context) ([]llm.Tool, error) {
	result, err := c.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("listing MCP tools: %w", err)
	}

	tools := make([]llm.Tool, 0, len(result.Tools))
	for i := range result.Tools {
		tools = append(tools, &mcpToolWrapper{
			client:  c,
			mcpTool: result.Tools[i],
		})
	}

	return tools, nil
}

// Close closes the MCP client connection.
func (c *Client) Close() error {
	return c.session.Close()
}

// mcpToolWrapper adapts an MCP tool to the llm.Tool interface.
type mcpToolWrapper struct {
	client  *Client
	mcpTool *mcp.Tool
}

func (t *mcpToolWrapper) Name() string {
	return t.mcpTool.Name
}

func (t *mcpToolWrapper) Description() string {
	return t.mcpTool.Description
}

func (t *mcpToolWrapper) Parameters() *jsonschema.Schema {
	if t.mcpTool.InputSchema == nil {
		return &jsonschema.Schema{Type: "object"}
	}

	// The SDK carries its own schema type; round-trip through JSON to
	// get the shape the engine's tool definitions expect.
	schemaBytes, err := json.Marshal(t.mcpTool.InputSchema)
	if err != nil {
		return &jsonschema.Schema{Type: "object"}
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return &jsonschema.Schema{Type: "object"}
	}

	return &schema
}

func (t *mcpToolWrapper) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, t.client.timeout)
	defer cancel()

	var arguments map[string]any
	if err := json.Unmarshal(args, &arguments); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}

	result, err := t.client.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.mcpTool.Name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("calling MCP tool: %w", err)
	}

	combined := processToolResult(result.Content)

	if result.IsError {
		return nil, fmt.Errorf("MCP tool error: %s", combined)
	}

	return combined, nil
}

// processToolResult extracts text content from an MCP tool result.
// Multiple content items are joined with newlines; non-text content
// (images, resources) is represented as descriptive text.
func processToolResult(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch item := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, item.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[Image: %s, %d bytes]", item.MIMEType, len(item.Data)))
		case *mcp.EmbeddedResource:
			if item.Resource != nil {
				parts = append(parts, fmt.Sprintf("[Resource: %s]", item.Resource.URI))
			} else {
				parts = append(parts, "[Resource: embedded]")
			}
		}
	}
	return strings.Join(parts, "\n")
}

// ToolsFromMCP is a convenience function to get tools from an MCP
// server in one call.
//
// Example:
//
//	tools, cleanup, err := mcp.ToolsFromMCP(ctx, "./my-mcp-server", nil)
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
//	resp, err := engine.Call(ctx, "Help me",
//	    llm.WithModel("gpt-5-mini"),
//	    llm.WithTools(tools...),
//	)
func ToolsFromMCP(ctx context.Context, command string, args []string, opts ...Option) ([]llm.Tool, func() error, error) {
	mcpClient, err := NewStdioClient(ctx, command, args, opts...)
	if err != nil {
		return nil, nil, err
	}

	tools, err := mcpClient.Tools(ctx)
	if err != nil {
		_ = mcpClient.Close()
		return nil, nil, err
	}

	return tools, mcpClient.Close, nil
}
