// ABOUTME: Protocol constants for the Agent Session Protocol
// ABOUTME: Method names, version floor/ceiling, and wire error codes

package asp

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the latest protocol revision this implementation speaks.
const ProtocolVersion = 1

// MinProtocolVersion is the oldest agent revision the host accepts. An agent
// answering initialize with anything lower is rejected before any session is
// created.
const MinProtocolVersion = 1

// Method names for host-initiated calls.
const (
	MethodInitialize    = "initialize"
	MethodAuthenticate  = "authenticate"
	MethodSessionNew    = "session/new"
	MethodSessionLoad   = "session/load"
	MethodSessionPrompt = "session/prompt"
	MethodSessionCancel = "session/cancel"
)

// Method names for agent-initiated calls.
const (
	MethodSessionUpdate     = "session/update"
	MethodRequestPermission = "session/request_permission"
	MethodReadTextFile      = "fs/read_text_file"
	MethodWriteTextFile     = "fs/write_text_file"
)

// Wire error codes. The JSON-RPC reserved codes are used as-is; the
// -32000 block carries protocol-specific conditions.
const (
	CodeParseError      = -32700
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeAuthRequired    = -32000
	CodeSessionNotFound = -32002
)

// SessionID is the opaque conversation identifier minted by the agent in
// its session/new response. Hosts never parse it.
type SessionID string

// RequestError is the error payload of a wire response. It travels in both
// directions and implements error so call sites can return it directly.
type RequestError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed (code %d): %s", e.Code, e.Message)
}

// NewRequestError builds an error with an arbitrary code.
func NewRequestError(code int, message string) *RequestError {
	return &RequestError{Code: code, Message: message}
}

// MethodNotFound reports an unrecognized method name.
func MethodNotFound(method string) *RequestError {
	return &RequestError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

// InvalidParams reports a params payload that failed to decode or validate.
func InvalidParams(detail string) *RequestError {
	return &RequestError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %s", detail)}
}

// InternalError wraps a host-side failure for transmission to the peer.
func InternalError(err error) *RequestError {
	return &RequestError{Code: CodeInternalError, Message: err.Error()}
}

// AuthRequired signals that session creation needs authenticate first.
func AuthRequired() *RequestError {
	return &RequestError{Code: CodeAuthRequired, Message: "authentication required"}
}

// SessionNotFound reports an unknown or dropped session id.
func SessionNotFound(id SessionID) *RequestError {
	return &RequestError{Code: CodeSessionNotFound, Message: fmt.Sprintf("no such session: %s", id)}
}
