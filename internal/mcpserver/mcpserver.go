// Package mcpserver exposes the tool registry over the Model Context
// Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stellarlinkco/kbyg/internal/tools"
)

const ServerName = "kbyg"

// New builds an MCP server with one MCP tool per registered tool. Calls
// go through d so validation, logging and metrics match the HTTP surface.
func New(d *tools.Dispatcher, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	for _, t := range d.Registry().List() {
		name := t.Name
		server.AddTool(&mcp.Tool{
			Name:        name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args, err := tools.ParseArgs(req.Params.Arguments)
			if err != nil {
				return errorResult(err.Error()), nil
			}
			return Result(d.Call(ctx, name, args)), nil
		})
	}
	return server
}

// Result converts an envelope to MCP content.
func Result(resp tools.Response) *mcp.CallToolResult {
	text, isError := Text(resp)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

// Text renders an envelope as the single text block MCP clients show.
func Text(resp tools.Response) (string, bool) {
	if !resp.Success {
		return "Error: " + resp.Error, true
	}
	b, err := json.MarshalIndent(resp.Data, "", "  ")
	if err != nil {
		return "Error: encode result: " + err.Error(), true
	}
	return string(b), false
}

func errorResult(msg string) *mcp.CallToolResult {
	return Result(tools.Response{Success: false, Error: msg})
}

// StreamableHandler serves the streamable HTTP transport.
func StreamableHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

// SSEHandler serves the legacy SSE transport.
func SSEHandler(server *mcp.Server) http.Handler {
	return mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

// RunStdio serves MCP over stdin/stdout until ctx is done or the peer
// disconnects.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	log.Printf("[mcp] serving on stdio")
	return server.Run(ctx, &mcp.StdioTransport{})
}
