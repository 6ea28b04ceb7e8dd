// ABOUTME: Newline-delimited JSON envelope codec for the agent byte stream
// ABOUTME: Frames outbound calls, classifies inbound lines, mints correlation ids

// Package wire frames and parses protocol envelopes over the raw agent
// byte stream. One envelope per line, JSON-RPC 2.0 shaped. Requests flow in
// both directions over the same stream, so classification is by field shape
// rather than by direction: a method with an id is a request, a method
// without one is a notification, and an id with a result or error is a
// response.
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/2389/loom/internal/asp"
)

// Request is an inbound call that expects exactly one response echoing ID.
type Request struct {
	ID     json.RawMessage
	Method string
	Params json.RawMessage
}

// Notification is an inbound call with no reply expected.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Response resolves one of our outbound requests. Exactly one of Result and
// Err is meaningful.
type Response struct {
	ID     json.RawMessage
	Result json.RawMessage
	Err    *asp.RequestError
}

// Message is one classified inbound envelope; exactly one field is non-nil.
type Message struct {
	Request      *Request
	Notification *Notification
	Response     *Response
}

// DecodeError reports a malformed inbound envelope. It is non-fatal: the
// stream position has already advanced past the bad line and the next Read
// continues normally.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// envelope is the superset wire shape of all three message kinds.
type envelope struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	Params  json.RawMessage   `json:"params,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   *asp.RequestError `json:"error,omitempty"`
}

// Codec owns one direction pair of the agent stream. Writes are serialized
// under a mutex and always emit one complete line per message so concurrent
// callers can never interleave bytes. Read is single-caller by contract
// (the connection's reader goroutine).
type Codec struct {
	r *bufio.Reader

	writeMu sync.Mutex
	w       io.Writer

	nextID atomic.Uint64
}

// NewCodec wraps the agent's stdout reader and stdin writer.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{
		r: bufio.NewReader(r),
		w: w,
	}
}

// NextRequestID reserves the next correlation id without writing anything.
// Callers that must register response routing before the request hits the
// wire reserve the id first and then use WriteRequestID.
func (c *Codec) NextRequestID() uint64 {
	return c.nextID.Add(1)
}

// WriteRequestID sends method with params under a previously reserved id.
func (c *Codec) WriteRequestID(id uint64, method string, params any) error {
	env := envelope{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatUint(id, 10)),
		Method:  method,
	}
	if err := env.setParams(params); err != nil {
		return err
	}
	return c.write(env)
}

// WriteRequest sends method with params and returns the correlation id the
// response will carry. Ids increase monotonically over the codec lifetime.
func (c *Codec) WriteRequest(method string, params any) (uint64, error) {
	id := c.NextRequestID()
	return id, c.WriteRequestID(id, method, params)
}

// WriteNotification sends method with params and expects no reply.
func (c *Codec) WriteNotification(method string, params any) error {
	env := envelope{JSONRPC: "2.0", Method: method}
	if err := env.setParams(params); err != nil {
		return err
	}
	return c.write(env)
}

// WriteResult answers an inbound request, echoing its id verbatim.
func (c *Codec) WriteResult(id json.RawMessage, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return c.write(envelope{JSONRPC: "2.0", ID: id, Result: payload})
}

// WriteError answers an inbound request with an error payload.
func (c *Codec) WriteError(id json.RawMessage, reqErr *asp.RequestError) error {
	return c.write(envelope{JSONRPC: "2.0", ID: id, Error: reqErr})
}

func (e *envelope) setParams(params any) error {
	if params == nil {
		return nil
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	e.Params = payload
	return nil
}

func (c *Codec) write(env envelope) error {
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	line = append(line, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(line); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	return nil
}

// Read returns the next classified envelope. Blank lines are skipped. A
// malformed line yields a *DecodeError and leaves the stream readable; EOF
// is returned as io.EOF once the stream is exhausted.
func (c *Codec) Read() (*Message, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			if err != nil {
				if err == io.EOF {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("reading stream: %w", err)
			}
			continue
		}
		// A partial line at EOF is still a complete envelope.
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading stream: %w", err)
		}
		return classify(trimmed)
	}
}

func classify(line []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &DecodeError{Line: cloneBytes(line), Err: err}
	}

	hasID := idPresent(env.ID)
	switch {
	case env.Method != "" && hasID:
		return &Message{Request: &Request{
			ID:     cloneRaw(env.ID),
			Method: env.Method,
			Params: cloneRaw(env.Params),
		}}, nil
	case env.Method != "":
		return &Message{Notification: &Notification{
			Method: env.Method,
			Params: cloneRaw(env.Params),
		}}, nil
	case hasID && (env.Result != nil || env.Error != nil):
		return &Message{Response: &Response{
			ID:     cloneRaw(env.ID),
			Result: cloneRaw(env.Result),
			Err:    env.Error,
		}}, nil
	default:
		return nil, &DecodeError{
			Line: cloneBytes(line),
			Err:  fmt.Errorf("envelope is neither request, notification, nor response"),
		}
	}
}

// idPresent treats an absent or literal null id as "no id". Some agents
// emit "id": null on notifications.
func idPresent(id json.RawMessage) bool {
	return len(id) > 0 && !bytes.Equal(id, []byte("null"))
}

// OutboundID parses a response id as one of our locally minted correlation
// ids. Ids we never mint (strings, floats, negatives) report false.
func OutboundID(id json.RawMessage) (uint64, bool) {
	n, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
