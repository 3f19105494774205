// Package mcp serves the orchestrator's agent tools over the Model Context
// Protocol: JSON-RPC 2.0 messages, one JSON object per line, on stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// InitializeResult answers the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
}

// ServerInfo identifies the server in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities advertises the optional features the server supports.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability signals tool support. The tool list never changes at runtime.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ListToolsResult answers tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams are the params of tools/call. Arguments are decoded by the tool.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CallToolResult answers tools/call. Tool failures are reported with
// IsError set rather than as JSON-RPC errors.
type CallToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ToolContent is one content block of a tool result. Only "text" is produced.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Server dispatches MCP requests to a Toolbox.
type Server struct {
	tools   *Toolbox
	version string
	logger  zerolog.Logger
}

// NewServer creates an MCP server for tools.
func NewServer(tools *Toolbox, version string, logger zerolog.Logger) *Server {
	return &Server{
		tools:   tools,
		version: version,
		logger:  logger.With().Str("component", "mcp").Logger(),
	}
}

// Serve handles one client connection until it disconnects or ctx ends.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.PlainObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(s.handle))
	s.logger.Info().Int("tools", len(s.tools.Definitions())).Msg("MCP server ready")

	select {
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case <-conn.DisconnectNotify():
		s.logger.Info().Msg("MCP client disconnected")
		return nil
	}
}

func (s *Server) handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case "initialize":
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "bootstrap-orchestrator", Version: s.version},
			Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
		}, nil
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return ListToolsResult{Tools: s.tools.Definitions()}, nil
	case "tools/call":
		return s.callTool(ctx, req)
	}
	if req.Notif {
		return nil, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "Method not found: " + req.Method}
}

func (s *Server) callTool(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "Invalid params"}
	}
	var params CallToolParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "Invalid params"}
	}
	if !s.tools.Has(params.Name) {
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInvalidParams,
			Message: fmt.Sprintf("Tool %q not found. Available tools: %s", params.Name, s.tools.Names()),
		}
	}

	log := s.logger.With().Str("tool", params.Name).Logger()
	log.Info().Msg("tool called")

	result, err := s.tools.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		log.Warn().Err(err).Msg("tool failed")
		return CallToolResult{
			Content: []ToolContent{{Type: "text", Text: fmt.Sprintf("Error executing tool %s: %v", params.Name, err)}},
			IsError: true,
		}, nil
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s result: %w", params.Name, err)
	}
	return CallToolResult{Content: []ToolContent{{Type: "text", Text: string(text)}}}, nil
}

// Stdio joins a reader and a writer into the connection Serve expects.
// Closing it closes neither.
func Stdio(in io.Reader, out io.Writer) io.ReadWriteCloser {
	return stdio{Reader: in, Writer: out}
}

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }
