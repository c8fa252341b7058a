package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

// stubTools is a ToolInvoker with one echo tool
type stubTools struct {
	calls []string
	args  []json.RawMessage
}

func (s *stubTools) Tools() []Tool {
	return []Tool{
		{Name: "echo_tool", Description: "Echoes the message", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "failing_tool", Description: "Always fails", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
}

func (s *stubTools) CallTool(name string, args json.RawMessage) (*ToolsCallResult, *Fault) {
	s.calls = append(s.calls, name)
	s.args = append(s.args, args)
	switch name {
	case "echo_tool":
		var in struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(args, &in)
		return &ToolsCallResult{Content: []TextContent{NewTextContent("Echo: " + in.Message)}}, nil
	case "failing_tool":
		return &ToolsCallResult{Content: []TextContent{NewTextContent("intentional failure")}, IsError: true}, nil
	default:
		return nil, NewMethodNotFoundError("Unknown tool: " + name)
	}
}

// wireMessage is any line the server writes
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// runServer feeds input through Serve and returns every output line
func runServer(t *testing.T, input string, tools ToolInvoker) ([]wireMessage, []string) {
	t.Helper()

	var output bytes.Buffer
	server := NewServer(strings.NewReader(input), &output, tools)
	server.SetServerInfo("test-server", "1.0.0")
	if err := server.Serve(context.Background()); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	var msgs []wireMessage
	var lines []string
	for _, line := range strings.Split(strings.TrimSuffix(output.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		var msg wireMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("output line is not JSON: %q: %v", line, err)
		}
		msgs = append(msgs, msg)
		lines = append(lines, line)
	}
	return msgs, lines
}

func expectError(t *testing.T, msg wireMessage, code int, id string) {
	t.Helper()
	if msg.Error == nil {
		t.Fatalf("expected error response, got result %s", msg.Result)
	}
	if msg.Result != nil {
		t.Errorf("error response also carries a result: %s", msg.Result)
	}
	if msg.Error.Code != code {
		t.Errorf("Error.Code = %d, want %d (%s)", msg.Error.Code, code, msg.Error.Message)
	}
	if string(msg.ID) != id {
		t.Errorf("ID = %s, want %s", msg.ID, id)
	}
}

// TestServerInitialize tests the initialize handshake
func TestServerInitialize(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}}
`
	var output bytes.Buffer
	server := NewServer(strings.NewReader(input), &output, &stubTools{})
	server.SetServerInfo("test-server", "1.0.0")

	if err := server.HandleOne(); err != nil {
		t.Fatalf("HandleOne() error = %v", err)
	}
	if !server.Initialized() {
		t.Error("expected server to be initialized")
	}

	lines := strings.Split(strings.TrimSuffix(output.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 output lines, got %d: %q", len(lines), output.String())
	}

	want := `{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-06-18","serverInfo":{"name":"test-server","version":"1.0.0"},"capabilities":{"tools":{}}}}`
	if lines[0] != want {
		t.Errorf("initialize response = %s, want %s", lines[0], want)
	}
	if lines[1] != `{"jsonrpc":"2.0","method":"notifications/initialized","params":null}` {
		t.Errorf("notification = %s", lines[1])
	}
}

func TestServerInitializeRequiresObjectParams(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":"init","method":"initialize"}
{"jsonrpc":"2.0","id":"init2","method":"initialize","params":[1]}
`
	msgs, _ := runServer(t, input, &stubTools{})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(msgs))
	}
	expectError(t, msgs[0], InvalidParams, `"init"`)
	expectError(t, msgs[1], InvalidParams, `"init2"`)
}

func TestServerMethodsRequireID(t *testing.T) {
	for _, method := range []string{"initialize", "tools/list", "tools/call", "ping"} {
		t.Run(method, func(t *testing.T) {
			input := `{"jsonrpc":"2.0","method":"` + method + `","params":{"name":"echo_tool"}}
{"jsonrpc":"2.0","id":null,"method":"` + method + `","params":{"name":"echo_tool"}}
`
			tools := &stubTools{}
			msgs, _ := runServer(t, input, tools)
			if len(msgs) != 2 {
				t.Fatalf("expected 2 responses, got %d", len(msgs))
			}
			for _, msg := range msgs {
				expectError(t, msg, InvalidRequest, "null")
			}
			if len(tools.calls) != 0 {
				t.Errorf("tool invoked without id: %v", tools.calls)
			}
		})
	}
}

// TestServerToolsList tests the tools/list method
func TestServerToolsList(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":2,"method":"tools/list"}
{"jsonrpc":"2.0","id":2,"method":"tools/list"}
`
	msgs, lines := runServer(t, input, &stubTools{})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(msgs))
	}

	var result ToolsListResult
	if err := json.Unmarshal(msgs[0].Result, &result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	if len(result.Tools) != 2 {
		t.Fatalf("Expected 2 tools, got %d", len(result.Tools))
	}
	if result.Tools[0].Name != "echo_tool" || result.Tools[1].Name != "failing_tool" {
		t.Errorf("tool order = %s, %s", result.Tools[0].Name, result.Tools[1].Name)
	}
	if lines[0] != lines[1] {
		t.Errorf("tools/list not stable:\n%s\n%s", lines[0], lines[1])
	}
}

func TestServerToolsListWithoutInvoker(t *testing.T) {
	msgs, _ := runServer(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)
	if string(msgs[0].Result) != `{"tools":[]}` {
		t.Errorf("result = %s, want empty tools array", msgs[0].Result)
	}
}

// TestServerToolsCall tests the tools/call method
func TestServerToolsCall(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo_tool","arguments":{"message":"hello"}}}
`
	tools := &stubTools{}
	msgs, _ := runServer(t, input, tools)

	if msgs[0].Error != nil {
		t.Fatalf("Expected success, got error: %v", msgs[0].Error)
	}
	var result ToolsCallResult
	if err := json.Unmarshal(msgs[0].Result, &result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "Echo: hello" {
		t.Errorf("Content = %+v, want single 'Echo: hello' block", result.Content)
	}
	if string(tools.args[0]) != `{"message":"hello"}` {
		t.Errorf("arguments passed = %s", tools.args[0])
	}
}

func TestServerToolsCallWithoutArguments(t *testing.T) {
	tools := &stubTools{}
	runServer(t, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo_tool"}}`, tools)
	if len(tools.args) != 1 || tools.args[0] != nil {
		t.Errorf("expected nil arguments, got %v", tools.args)
	}
}

// TestServerToolError tests that tool failures stay in the result channel
func TestServerToolError(t *testing.T) {
	msgs, _ := runServer(t, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"failing_tool","arguments":{}}}`, &stubTools{})

	if msgs[0].Error != nil {
		t.Errorf("Expected tool error in content, got JSON-RPC error: %v", msgs[0].Error)
	}
	var result ToolsCallResult
	if err := json.Unmarshal(msgs[0].Result, &result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	if !result.IsError {
		t.Error("Expected isError to be true for tool error")
	}
}

// TestServerToolNotFound tests handling of unknown tool
func TestServerToolNotFound(t *testing.T) {
	msgs, _ := runServer(t, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"nonexistent","arguments":{}}}`, &stubTools{})
	expectError(t, msgs[0], MethodNotFound, "5")
	if !strings.Contains(msgs[0].Error.Message, "nonexistent") {
		t.Errorf("error message should name the tool: %s", msgs[0].Error.Message)
	}
}

func TestServerToolsCallInvalidParams(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call"}
{"jsonrpc":"2.0","id":2,"method":"tools/call","params":"apply_patch"}
{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"arguments":{}}}
{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":7}}
`
	tools := &stubTools{}
	msgs, _ := runServer(t, input, tools)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(msgs))
	}
	for i, msg := range msgs {
		expectError(t, msg, InvalidParams, string(rune('1'+i)))
	}
	if len(tools.calls) != 0 {
		t.Errorf("tool invoked with invalid params: %v", tools.calls)
	}
}

func TestServerPing(t *testing.T) {
	_, lines := runServer(t, `{"jsonrpc":"2.0","id":"p","method":"ping"}`, nil)
	if lines[0] != `{"jsonrpc":"2.0","id":"p","result":{}}` {
		t.Errorf("ping response = %s", lines[0])
	}
}

// TestServerMethodNotFound tests handling of unknown methods
func TestServerMethodNotFound(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":4,"method":"unknown/method"}
{"jsonrpc":"2.0","method":"resources/list"}
{"jsonrpc":"2.0","id":4,"method":"Ping"}
`
	msgs, _ := runServer(t, input, nil)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(msgs))
	}
	expectError(t, msgs[0], MethodNotFound, "4")
	expectError(t, msgs[1], MethodNotFound, "null")
	expectError(t, msgs[2], MethodNotFound, "4")
}

func TestServerMissingMethod(t *testing.T) {
	msgs, _ := runServer(t, `{"jsonrpc":"2.0","id":9}`, nil)
	expectError(t, msgs[0], InvalidRequest, "9")
}

func TestServerClientNotifications(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"notifications/initialized"}
{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}
`
	msgs, _ := runServer(t, input, nil)
	if len(msgs) != 0 {
		t.Errorf("expected no output for notifications, got %d messages", len(msgs))
	}
}

func TestServerMalformedInputContinues(t *testing.T) {
	input := `{not json
[1,2,3]
42


{"jsonrpc":"2.0","id":1,"method":"ping"}
`
	msgs, _ := runServer(t, input, nil)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(msgs))
	}
	expectError(t, msgs[0], ParseError, "null")
	expectError(t, msgs[1], InvalidRequest, "null")
	expectError(t, msgs[2], InvalidRequest, "null")
	if msgs[3].Error != nil || string(msgs[3].ID) != "1" {
		t.Errorf("ping after malformed input failed: %+v", msgs[3])
	}
}

func TestServerResponseOrdering(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}
{"jsonrpc":"2.0","id":2,"method":"tools/list"}
{"jsonrpc":"2.0","id":3,"method":"ping"}
`
	msgs, _ := runServer(t, input, &stubTools{})
	if len(msgs) != 4 {
		t.Fatalf("expected 4 output lines, got %d", len(msgs))
	}
	if string(msgs[0].ID) != "1" {
		t.Errorf("first line id = %s, want 1", msgs[0].ID)
	}
	if msgs[1].Method != "notifications/initialized" {
		t.Errorf("second line = %+v, want initialized notification", msgs[1])
	}
	if string(msgs[2].ID) != "2" || string(msgs[3].ID) != "3" {
		t.Errorf("ids out of order: %s, %s", msgs[2].ID, msgs[3].ID)
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) {
	return 0, errors.New("device gone")
}

func TestServeReadErrorIsFatal(t *testing.T) {
	server := NewServer(errReader{}, io.Discard, nil)
	err := server.Serve(context.Background())
	if !errors.Is(err, ErrInputRead) {
		t.Errorf("Serve() error = %v, want ErrInputRead", err)
	}
}

func TestServeSurvivesWriteErrors(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"ping"}
{"jsonrpc":"2.0","id":2,"method":"ping"}
`
	server := NewServer(strings.NewReader(input), failingWriter{}, nil)
	if err := server.Serve(context.Background()); err != nil {
		t.Errorf("Serve() error = %v, want nil at EOF", err)
	}
}

func TestServeContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	server := NewServer(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), io.Discard, nil)
	if err := server.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
}

func TestHandleOneEOF(t *testing.T) {
	server := NewServer(strings.NewReader(""), io.Discard, nil)
	if err := server.HandleOne(); err != io.EOF {
		t.Errorf("HandleOne() error = %v, want io.EOF", err)
	}
}

// panicTools panics from every method
type panicTools struct{}

func (panicTools) Tools() []Tool {
	panic("catalog unavailable")
}

func (panicTools) CallTool(name string, args json.RawMessage) (*ToolsCallResult, *Fault) {
	var lines []string
	return nil, NewInvalidParamsError(lines[3])
}

func TestServeSurvivesHandlerPanic(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"apply_patch","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	}, "\n") + "\n"

	msgs, _ := runServer(t, input, panicTools{})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(msgs))
	}

	if string(msgs[0].ID) != "1" || msgs[0].Error != nil {
		t.Fatalf("first response = %+v", msgs[0])
	}
	var result ToolsCallResult
	if err := json.Unmarshal(msgs[0].Result, &result); err != nil {
		t.Fatalf("unmarshal tools/call result: %v", err)
	}
	if !result.IsError || len(result.Content) != 1 || !strings.HasPrefix(result.Content[0].Text, "apply_patch failed: internal error") {
		t.Errorf("tools/call result = %+v", result)
	}

	if string(msgs[1].ID) != "3" || string(msgs[1].Result) != "{}" {
		t.Errorf("ping response = %+v", msgs[1])
	}
}

func TestHandleOneRecoversPanic(t *testing.T) {
	var output bytes.Buffer
	server := NewServer(strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`+"\n"), &output, panicTools{})

	err := server.HandleOne()
	if err == nil || !strings.Contains(err.Error(), "catalog unavailable") {
		t.Fatalf("HandleOne() error = %v, want recovered panic", err)
	}
	if errors.Is(err, ErrInputRead) {
		t.Error("a handler panic must not look like an input failure")
	}
	if output.Len() != 0 {
		t.Errorf("output = %q, want none", output.String())
	}
}
