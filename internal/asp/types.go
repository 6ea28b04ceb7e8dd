// ABOUTME: Request and response payload types for every protocol method
// ABOUTME: Handshake, auth, session lifecycle, prompting, and fs proxying

package asp

// FileSystemCapability advertises which file operations the host will serve.
type FileSystemCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// ClientCapabilities is the host side of capability negotiation.
type ClientCapabilities struct {
	FS FileSystemCapability `json:"fs"`
}

// PromptCapabilities describes the content kinds the agent accepts in a
// prompt beyond plain text.
type PromptCapabilities struct {
	Image           bool `json:"image,omitempty"`
	Audio           bool `json:"audio,omitempty"`
	EmbeddedContext bool `json:"embeddedContext,omitempty"`
}

// AgentCapabilities is the agent side of capability negotiation.
type AgentCapabilities struct {
	LoadSession        bool               `json:"loadSession,omitempty"`
	PromptCapabilities PromptCapabilities `json:"promptCapabilities,omitempty"`
}

// AuthMethod is one authentication mechanism offered by the agent.
type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// InitializeRequest is the first message on every connection.
type InitializeRequest struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
}

// InitializeResponse carries the version the agent will speak plus its
// capabilities and auth methods.
type InitializeResponse struct {
	ProtocolVersion   int               `json:"protocolVersion"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities,omitempty"`
	AuthMethods       []AuthMethod      `json:"authMethods,omitempty"`
}

// AuthenticateRequest selects one advertised auth method by id.
type AuthenticateRequest struct {
	MethodID string `json:"methodId"`
}

// AuthenticateResponse acknowledges a successful authenticate call.
type AuthenticateResponse struct{}

// EnvVariable is a single environment entry for an MCP server launch.
type EnvVariable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// McpServer describes a tool server the agent should launch for a session.
// The host only forwards these; it never speaks MCP itself.
type McpServer struct {
	Name    string        `json:"name"`
	Command string        `json:"command"`
	Args    []string      `json:"args,omitempty"`
	Env     []EnvVariable `json:"env,omitempty"`
}

// NewSessionRequest asks the agent to mint a session rooted at Cwd.
type NewSessionRequest struct {
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

// NewSessionResponse carries the agent-minted session id.
type NewSessionResponse struct {
	SessionID SessionID `json:"sessionId"`
}

// LoadSessionRequest asks the agent to restore an existing session and
// replay its updates. Only valid when the agent advertised loadSession.
type LoadSessionRequest struct {
	SessionID  SessionID   `json:"sessionId"`
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

// LoadSessionResponse acknowledges a completed replay.
type LoadSessionResponse struct{}

// PromptRequest runs one conversation turn on a session.
type PromptRequest struct {
	SessionID SessionID      `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// StopReason explains why a turn ended.
type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopMaxTokens       StopReason = "max_tokens"
	StopMaxTurnRequests StopReason = "max_turn_requests"
	StopRefusal         StopReason = "refusal"
	StopCancelled       StopReason = "cancelled"
)

// PromptResponse ends a turn.
type PromptResponse struct {
	StopReason StopReason `json:"stopReason"`
}

// CancelNotification asks the agent to wind down the in-flight turn on a
// session. Fire-and-forget; the turn still resolves through its
// PromptResponse.
type CancelNotification struct {
	SessionID SessionID `json:"sessionId"`
}

// PermissionOptionKind hints how a UI should render an option.
type PermissionOptionKind string

const (
	PermissionAllowOnce    PermissionOptionKind = "allow_once"
	PermissionAllowAlways  PermissionOptionKind = "allow_always"
	PermissionRejectOnce   PermissionOptionKind = "reject_once"
	PermissionRejectAlways PermissionOptionKind = "reject_always"
)

// PermissionOption is one selectable answer to a permission request.
type PermissionOption struct {
	OptionID string               `json:"optionId"`
	Name     string               `json:"name"`
	Kind     PermissionOptionKind `json:"kind"`
}

// RequestPermissionRequest asks the host to authorize a proposed tool call.
type RequestPermissionRequest struct {
	SessionID SessionID          `json:"sessionId"`
	ToolCall  ToolCall           `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// Permission outcomes.
const (
	OutcomeSelected  = "selected"
	OutcomeCancelled = "cancelled"
)

// RequestPermissionOutcome is the inner result of a permission request:
// either a selected option id or a cancellation.
type RequestPermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// Selected builds the outcome for a chosen option.
func Selected(optionID string) RequestPermissionOutcome {
	return RequestPermissionOutcome{Outcome: OutcomeSelected, OptionID: optionID}
}

// Cancelled builds the outcome for a prompt torn down without a choice.
func Cancelled() RequestPermissionOutcome {
	return RequestPermissionOutcome{Outcome: OutcomeCancelled}
}

// RequestPermissionResponse wraps the outcome for the wire.
type RequestPermissionResponse struct {
	Outcome RequestPermissionOutcome `json:"outcome"`
}

// ReadTextFileRequest proxies a file read through the host. Line and Limit
// select a window; zero values mean "from the start" and "no limit". The
// host must not create the file if it is missing.
type ReadTextFileRequest struct {
	SessionID SessionID `json:"sessionId"`
	Path      string    `json:"path"`
	Line      int       `json:"line,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// ReadTextFileResponse returns the requested window of the file.
type ReadTextFileResponse struct {
	Content string `json:"content"`
}

// WriteTextFileRequest proxies a file write through the host.
type WriteTextFileRequest struct {
	SessionID SessionID `json:"sessionId"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`
}

// WriteTextFileResponse acknowledges a completed write.
type WriteTextFileResponse struct{}
