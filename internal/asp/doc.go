// Package asp defines the Agent Session Protocol contract shared by the
// host-side connection layer and agent implementations.
//
// # Overview
//
// ASP is a bidirectional request/response/notification protocol spoken over
// an agent process's stdin/stdout. This package holds everything both sides
// must agree on: method names, protocol version constants, request and
// response payload types, the session update union, and the wire error
// codes. It contains no IO; framing lives in internal/wire and connection
// management in internal/agent.
//
// # Methods
//
// Host-initiated:
//
//   - initialize: version and capability negotiation
//   - authenticate: select one of the agent's advertised auth methods
//   - session/new: mint a fresh session
//   - session/load: replay an existing session (capability-gated)
//   - session/prompt: run one conversation turn
//   - session/cancel: best-effort turn cancellation (notification)
//
// Agent-initiated:
//
//   - session/update: incremental session state (notification)
//   - session/request_permission: ask the user to authorize a tool call
//   - fs/read_text_file, fs/write_text_file: proxy file access through
//     the host
//
// # Versioning
//
// The host advertises ProtocolVersion in initialize. The agent replies with
// the version it will speak; anything below MinProtocolVersion must be
// rejected by the host before any session is created.
package asp
