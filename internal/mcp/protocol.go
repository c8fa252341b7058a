package mcp

import "encoding/json"

// JSONRPCVersion is the version tag carried by every envelope
const JSONRPCVersion = "2.0"

// ProtocolVersion is the MCP protocol revision advertised by initialize
const ProtocolVersion = "2025-06-18"

// Standard JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
)

// nullID is written whenever no request id can be trusted
var nullID = json.RawMessage(`null`)

// Response represents a JSON-RPC 2.0 response. Exactly one of Result and
// Error is set; ID is always written, as null when unknown.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Notification is a server-initiated message without an id.
// Params is always written, as null when empty.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Fault is a protocol-level failure produced while handling a message.
// It is kept apart from tool results so the two can never be serialized
// through the same path.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return f.Message
}

// NewParseError creates a parse error fault
func NewParseError(message string) *Fault {
	return &Fault{Code: ParseError, Message: message}
}

// NewInvalidRequestError creates an invalid request fault
func NewInvalidRequestError(message string) *Fault {
	return &Fault{Code: InvalidRequest, Message: message}
}

// NewMethodNotFoundError creates a method not found fault
func NewMethodNotFoundError(message string) *Fault {
	return &Fault{Code: MethodNotFound, Message: message}
}

// NewInvalidParamsError creates an invalid params fault
func NewInvalidParamsError(message string) *Fault {
	return &Fault{Code: InvalidParams, Message: message}
}

// newErrorResponse builds the error envelope for a fault
func newErrorResponse(id json.RawMessage, f *Fault) *Response {
	if len(id) == 0 {
		id = nullID
	}
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &Error{Code: f.Code, Message: f.Message},
	}
}

// newResultResponse builds the result envelope for an already encoded result
func newResultResponse(id json.RawMessage, result json.RawMessage) *Response {
	if len(id) == 0 {
		id = nullID
	}
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// Tool represents an MCP tool definition
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ServerInfo contains server identification
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability is advertised empty: the catalog never changes
type ToolsCapability struct{}

// Capabilities represents server capabilities
type Capabilities struct {
	Tools ToolsCapability `json:"tools"`
}

// InitializeResult represents the result of initialize
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// ToolsListResult represents the result of tools/list
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// TextContent represents text content in a tool result
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextContent creates a text content block
func NewTextContent(text string) TextContent {
	return TextContent{Type: "text", Text: text}
}

// ToolsCallResult represents the result of tools/call. IsError reports a
// tool-level failure; the envelope is still a result.
type ToolsCallResult struct {
	Content []TextContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}
