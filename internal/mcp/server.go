package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/tidwall/gjson"
)

// ErrInputRead marks a failure of the input stream itself. It ends Serve.
var ErrInputRead = errors.New("failed to read input")

// ToolInvoker is the bridge between tools/call and the tool implementations
type ToolInvoker interface {
	// Tools returns the catalog in the order it is advertised
	Tools() []Tool
	// CallTool runs a tool. args is nil when the request carried no arguments.
	// A Fault is a protocol error; tool failures are reported in the result.
	CallTool(name string, args json.RawMessage) (*ToolsCallResult, *Fault)
}

// outcome is what a method handler produces on success
type outcome struct {
	result        any
	notifications []*Notification
}

type methodHandler func(s *Server, msg *Message) (*outcome, *Fault)

type methodSpec struct {
	requiresID bool
	handle     methodHandler
}

// methods is the dispatch table. Lookup is an exact string match.
var methods = map[string]methodSpec{
	"initialize": {requiresID: true, handle: (*Server).handleInitialize},
	"tools/list": {requiresID: true, handle: (*Server).handleToolsList},
	"tools/call": {requiresID: true, handle: (*Server).handleToolsCall},
	"ping":       {requiresID: true, handle: (*Server).handlePing},
}

// clientNotifications are accepted without a response when sent without an id
var clientNotifications = map[string]bool{
	"notifications/initialized": true,
	"notifications/cancelled":   true,
}

// Server represents an MCP server speaking newline-delimited JSON-RPC
type Server struct {
	transport   *Transport
	tools       ToolInvoker
	serverInfo  ServerInfo
	logger      *slog.Logger
	initialized bool
}

// NewServer creates a new MCP server
func NewServer(reader io.Reader, writer io.Writer, tools ToolInvoker) *Server {
	return &Server{
		transport:  NewTransport(reader, writer),
		tools:      tools,
		serverInfo: ServerInfo{Name: "codex-tools-mcp", Version: "dev"},
		logger:     slog.New(slog.DiscardHandler),
	}
}

// SetServerInfo sets the server identification info
func (s *Server) SetServerInfo(name, version string) {
	s.serverInfo = ServerInfo{Name: name, Version: version}
}

// SetLogger sets the logger used for diagnostics. It must not write to stdout.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Initialized reports whether an initialize handshake has completed
func (s *Server) Initialized() bool {
	return s.initialized
}

// HandleOne reads and handles a single line. It returns io.EOF at end of
// input and an error wrapping ErrInputRead when the stream fails.
func (s *Server) HandleOne() error {
	line, err := s.transport.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: %w", ErrInputRead, err)
	}
	return s.handleLine(line)
}

// handleLine decodes one line and routes it. A panic while handling the
// line is returned as an error so the loop keeps running.
func (s *Server) handleLine(line []byte) (err error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling message: %v", r)
		}
	}()
	s.logger.Debug("stdin", "line", string(line))

	msg, err := DecodeLine(line)
	if err != nil {
		if errors.Is(err, ErrNotAnObject) {
			s.logger.Warn("received non-object message")
			return s.sendFault(nil, NewInvalidRequestError("Request must be a JSON object"))
		}
		s.logger.Warn("malformed JSON from client", "error", err)
		return s.sendFault(nil, NewParseError("Parse error: "+err.Error()))
	}

	return s.dispatch(msg)
}

// dispatch routes a decoded message through the method table
func (s *Server) dispatch(msg *Message) error {
	if !msg.HasMethod {
		return s.sendFault(msg.ID, NewInvalidRequestError("Invalid Request: missing method"))
	}

	spec, ok := methods[msg.Method]
	if !ok {
		if !msg.HasID() && clientNotifications[msg.Method] {
			s.logger.Debug("client notification", "method", msg.Method)
			return nil
		}
		s.logger.Warn("unknown method", "method", msg.Method)
		return s.sendFault(msg.ID, NewMethodNotFoundError("Unknown method: "+msg.Method))
	}

	if spec.requiresID && !msg.HasID() {
		return s.sendFault(nil, NewInvalidRequestError(msg.Method+" must include an id"))
	}

	s.logger.Debug("dispatching method", "method", msg.Method)
	out, fault := spec.handle(s, msg)
	if fault != nil {
		return s.sendFault(msg.ID, fault)
	}

	if err := s.sendResult(msg.ID, out.result); err != nil {
		return err
	}
	for _, n := range out.notifications {
		if err := s.transport.WriteMessage(n); err != nil {
			return fmt.Errorf("write %s: %w", n.Method, err)
		}
	}
	return nil
}

// handleInitialize handles the initialize request
func (s *Server) handleInitialize(msg *Message) (*outcome, *Fault) {
	if !msg.ParamsIsObject() {
		return nil, NewInvalidParamsError("initialize params must be object")
	}

	client := gjson.GetBytes(msg.Params, "clientInfo")
	s.logger.Info("initialize",
		"client", client.Get("name").String(),
		"client_version", client.Get("version").String(),
		"requested_protocol", gjson.GetBytes(msg.Params, "protocolVersion").String(),
	)
	s.initialized = true

	return &outcome{
		result: InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      s.serverInfo,
			Capabilities:    Capabilities{Tools: ToolsCapability{}},
		},
		notifications: []*Notification{{
			JSONRPC: JSONRPCVersion,
			Method:  "notifications/initialized",
			Params:  nullID,
		}},
	}, nil
}

// handleToolsList handles the tools/list request
func (s *Server) handleToolsList(msg *Message) (*outcome, *Fault) {
	tools := []Tool{}
	if s.tools != nil {
		tools = append(tools, s.tools.Tools()...)
	}
	s.logger.Debug("advertising tools", "count", len(tools))
	return &outcome{result: ToolsListResult{Tools: tools}}, nil
}

// handleToolsCall handles the tools/call request
func (s *Server) handleToolsCall(msg *Message) (*outcome, *Fault) {
	if !msg.ParamsIsObject() {
		return nil, NewInvalidParamsError("tools/call params must be object")
	}

	name := gjson.GetBytes(msg.Params, "name")
	if name.Type != gjson.String {
		return nil, NewInvalidParamsError("tools/call params missing name")
	}

	var args json.RawMessage
	if raw := gjson.GetBytes(msg.Params, "arguments"); raw.Exists() {
		args = json.RawMessage(raw.Raw)
	}

	if s.tools == nil {
		return nil, NewMethodNotFoundError("Unknown tool: " + name.Str)
	}
	result, fault := s.callTool(name.Str, args)
	if fault != nil {
		return nil, fault
	}
	return &outcome{result: result}, nil
}

// callTool runs a tool and reports a panic inside it as a failed tool result
func (s *Server) callTool(name string, args json.RawMessage) (result *ToolsCallResult, fault *Fault) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked", "tool", name, "panic", r, "stack", string(debug.Stack()))
			result = &ToolsCallResult{
				Content: []TextContent{NewTextContent(fmt.Sprintf("%s failed: internal error: %v", name, r))},
				IsError: true,
			}
			fault = nil
		}
	}()
	return s.tools.CallTool(name, args)
}

// handlePing handles the ping request
func (s *Server) handlePing(msg *Message) (*outcome, *Fault) {
	return &outcome{result: struct{}{}}, nil
}

// sendResult sends a success response
func (s *Server) sendResult(id json.RawMessage, result any) error {
	resultJSON, err := EncodeMessage(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.transport.WriteMessage(newResultResponse(id, resultJSON)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// sendFault sends an error response
func (s *Server) sendFault(id json.RawMessage, f *Fault) error {
	if err := s.transport.WriteMessage(newErrorResponse(id, f)); err != nil {
		return fmt.Errorf("write error response: %w", err)
	}
	return nil
}

// Serve runs the server loop until EOF, an input failure, or context
// cancellation. Failures while handling a single message are logged and
// do not stop the loop.
func (s *Server) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("server stopping", "reason", err)
			return err
		}

		err := s.HandleOne()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.logger.Debug("stdin closed")
			return nil
		case errors.Is(err, ErrInputRead):
			s.logger.Error("failed to read stdin", "error", err)
			return err
		default:
			s.logger.Error("internal error while processing message", "error", err)
		}
	}
}
