package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

var (
	// ErrMalformedJSON is returned by DecodeLine for text that is not JSON
	ErrMalformedJSON = errors.New("malformed JSON")
	// ErrNotAnObject is returned by DecodeLine for JSON whose top level is not an object
	ErrNotAnObject = errors.New("request must be a JSON object")
)

// Message is an incoming JSON-RPC object. Raw fields are nil when absent.
type Message struct {
	ID        json.RawMessage
	Method    string
	HasMethod bool
	Params    json.RawMessage
}

// HasID reports whether the message carries a non-null id
func (m *Message) HasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, nullID)
}

// ParamsIsObject reports whether params is present and a JSON object
func (m *Message) ParamsIsObject() bool {
	return len(m.Params) > 0 && gjson.ParseBytes(m.Params).IsObject()
}

// DecodeLine parses one line of input into a Message
func DecodeLine(line []byte) (*Message, error) {
	if !gjson.ValidBytes(line) {
		return nil, fmt.Errorf("%w: %s", ErrMalformedJSON, syntaxErrorDetail(line))
	}

	doc := gjson.ParseBytes(line)
	if !doc.IsObject() {
		return nil, ErrNotAnObject
	}

	msg := &Message{}
	if id := doc.Get("id"); id.Exists() {
		msg.ID = json.RawMessage(id.Raw)
	}
	if method := doc.Get("method"); method.Type == gjson.String {
		msg.Method = method.Str
		msg.HasMethod = true
	}
	if params := doc.Get("params"); params.Exists() {
		msg.Params = json.RawMessage(params.Raw)
	}
	return msg, nil
}

// syntaxErrorDetail asks encoding/json for a human readable reason
func syntaxErrorDetail(line []byte) string {
	var v json.RawMessage
	if err := json.Unmarshal(line, &v); err != nil {
		return err.Error()
	}
	return "invalid JSON text"
}

// EncodeMessage serializes v as compact JSON without a trailing newline
func EncodeMessage(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Transport moves newline-delimited JSON-RPC messages over a reader/writer pair
type Transport struct {
	reader *bufio.Reader
	writer *bufio.Writer
}

// NewTransport creates a new Transport with the given reader and writer
func NewTransport(reader io.Reader, writer io.Writer) *Transport {
	return &Transport{
		reader: bufio.NewReader(reader),
		writer: bufio.NewWriter(writer),
	}
}

// ReadLine returns the next input line without its terminator. A final line
// without a newline is still returned; io.EOF follows on the next call.
func (t *Transport) ReadLine() ([]byte, error) {
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return bytes.TrimRight(line, "\r"), nil
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// WriteMessage encodes v, writes it as one line and flushes
func (t *Transport) WriteMessage(v any) error {
	data, err := EncodeMessage(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return err
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return err
	}
	return t.writer.Flush()
}
