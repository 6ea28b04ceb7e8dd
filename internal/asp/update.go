// ABOUTME: The session/update notification payload and its tagged union
// ABOUTME: Message chunks, tool call lifecycle, plans, and command lists

package asp

import (
	"encoding/json"
	"fmt"
)

// ToolKind categorizes a tool call for rendering purposes.
type ToolKind string

const (
	ToolKindRead    ToolKind = "read"
	ToolKindEdit    ToolKind = "edit"
	ToolKindDelete  ToolKind = "delete"
	ToolKindSearch  ToolKind = "search"
	ToolKindExecute ToolKind = "execute"
	ToolKindFetch   ToolKind = "fetch"
	ToolKindThink   ToolKind = "think"
	ToolKindOther   ToolKind = "other"
)

// ToolCallStatus tracks a tool call through its lifecycle.
type ToolCallStatus string

const (
	ToolCallPending    ToolCallStatus = "pending"
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
)

// ToolCall announces a tool invocation the agent has started or proposes to
// run. RawInput stays opaque; this layer never interprets tool arguments.
type ToolCall struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title"`
	Kind       ToolKind        `json:"kind,omitempty"`
	Status     ToolCallStatus  `json:"status,omitempty"`
	Content    []ContentBlock  `json:"content,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
}

// ToolCallUpdate patches fields of a previously announced tool call.
// Pointer fields distinguish "leave unchanged" from "set to zero value".
type ToolCallUpdate struct {
	ToolCallID string          `json:"toolCallId"`
	Title      *string         `json:"title,omitempty"`
	Kind       *ToolKind       `json:"kind,omitempty"`
	Status     *ToolCallStatus `json:"status,omitempty"`
	Content    []ContentBlock  `json:"content,omitempty"`
	RawOutput  json.RawMessage `json:"rawOutput,omitempty"`
}

// PlanEntryPriority ranks a plan entry.
type PlanEntryPriority string

const (
	PlanPriorityHigh   PlanEntryPriority = "high"
	PlanPriorityMedium PlanEntryPriority = "medium"
	PlanPriorityLow    PlanEntryPriority = "low"
)

// PlanEntryStatus tracks a plan entry through execution.
type PlanEntryStatus string

const (
	PlanPending    PlanEntryStatus = "pending"
	PlanInProgress PlanEntryStatus = "in_progress"
	PlanCompleted  PlanEntryStatus = "completed"
)

// PlanEntry is one item of the agent's published plan.
type PlanEntry struct {
	Content  string            `json:"content"`
	Priority PlanEntryPriority `json:"priority"`
	Status   PlanEntryStatus   `json:"status"`
}

// Plan is the agent's current plan; each update replaces the previous one.
type Plan struct {
	Entries []PlanEntry `json:"entries"`
}

// AvailableCommand is a slash-command style action the agent offers.
type AvailableCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AvailableCommandsUpdate replaces the agent's advertised command list.
type AvailableCommandsUpdate struct {
	AvailableCommands []AvailableCommand `json:"availableCommands"`
}

// MessageChunk is an incremental piece of a user, agent, or thought message.
type MessageChunk struct {
	Content ContentBlock `json:"content"`
}

// Update kind discriminators as they appear on the wire.
const (
	UpdateUserMessageChunk        = "user_message_chunk"
	UpdateAgentMessageChunk       = "agent_message_chunk"
	UpdateAgentThoughtChunk       = "agent_thought_chunk"
	UpdateToolCall                = "tool_call"
	UpdateToolCallUpdate          = "tool_call_update"
	UpdatePlan                    = "plan"
	UpdateAvailableCommandsUpdate = "available_commands_update"
)

// SessionUpdate is the tagged union inside a session/update notification.
// Exactly one member is non-nil.
type SessionUpdate struct {
	UserMessageChunk        *MessageChunk
	AgentMessageChunk       *MessageChunk
	AgentThoughtChunk       *MessageChunk
	ToolCall                *ToolCall
	ToolCallUpdate          *ToolCallUpdate
	Plan                    *Plan
	AvailableCommandsUpdate *AvailableCommandsUpdate
}

// Kind returns the wire discriminator of the populated member, or "" when
// the update is empty.
func (u SessionUpdate) Kind() string {
	switch {
	case u.UserMessageChunk != nil:
		return UpdateUserMessageChunk
	case u.AgentMessageChunk != nil:
		return UpdateAgentMessageChunk
	case u.AgentThoughtChunk != nil:
		return UpdateAgentThoughtChunk
	case u.ToolCall != nil:
		return UpdateToolCall
	case u.ToolCallUpdate != nil:
		return UpdateToolCallUpdate
	case u.Plan != nil:
		return UpdatePlan
	case u.AvailableCommandsUpdate != nil:
		return UpdateAvailableCommandsUpdate
	}
	return ""
}

func (u SessionUpdate) payload() any {
	switch {
	case u.UserMessageChunk != nil:
		return u.UserMessageChunk
	case u.AgentMessageChunk != nil:
		return u.AgentMessageChunk
	case u.AgentThoughtChunk != nil:
		return u.AgentThoughtChunk
	case u.ToolCall != nil:
		return u.ToolCall
	case u.ToolCallUpdate != nil:
		return u.ToolCallUpdate
	case u.Plan != nil:
		return u.Plan
	case u.AvailableCommandsUpdate != nil:
		return u.AvailableCommandsUpdate
	}
	return nil
}

// MarshalJSON writes the payload fields inline with a sessionUpdate
// discriminator, matching the wire layout agents produce.
func (u SessionUpdate) MarshalJSON() ([]byte, error) {
	kind := u.Kind()
	if kind == "" {
		return nil, fmt.Errorf("session update has no payload")
	}
	body, err := json.Marshal(u.payload())
	if err != nil {
		return nil, err
	}
	// Splice the discriminator into the payload object.
	tag, err := json.Marshal(struct {
		SessionUpdate string `json:"sessionUpdate"`
	}{SessionUpdate: kind})
	if err != nil {
		return nil, err
	}
	if string(body) == "{}" {
		return tag, nil
	}
	merged := append([]byte(nil), tag[:len(tag)-1]...)
	merged = append(merged, ',')
	merged = append(merged, body[1:]...)
	return merged, nil
}

// UnmarshalJSON dispatches on the sessionUpdate discriminator. An unknown
// discriminator is an error; callers surface it as a protocol error rather
// than dropping the update silently.
func (u *SessionUpdate) UnmarshalJSON(data []byte) error {
	var head struct {
		SessionUpdate string `json:"sessionUpdate"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*u = SessionUpdate{}
	switch head.SessionUpdate {
	case UpdateUserMessageChunk:
		u.UserMessageChunk = &MessageChunk{}
		return json.Unmarshal(data, u.UserMessageChunk)
	case UpdateAgentMessageChunk:
		u.AgentMessageChunk = &MessageChunk{}
		return json.Unmarshal(data, u.AgentMessageChunk)
	case UpdateAgentThoughtChunk:
		u.AgentThoughtChunk = &MessageChunk{}
		return json.Unmarshal(data, u.AgentThoughtChunk)
	case UpdateToolCall:
		u.ToolCall = &ToolCall{}
		return json.Unmarshal(data, u.ToolCall)
	case UpdateToolCallUpdate:
		u.ToolCallUpdate = &ToolCallUpdate{}
		return json.Unmarshal(data, u.ToolCallUpdate)
	case UpdatePlan:
		u.Plan = &Plan{}
		return json.Unmarshal(data, u.Plan)
	case UpdateAvailableCommandsUpdate:
		u.AvailableCommandsUpdate = &AvailableCommandsUpdate{}
		return json.Unmarshal(data, u.AvailableCommandsUpdate)
	case "":
		return fmt.Errorf("session update missing sessionUpdate discriminator")
	default:
		return fmt.Errorf("unknown session update kind %q", head.SessionUpdate)
	}
}

// SessionNotification is the params payload of a session/update
// notification.
type SessionNotification struct {
	SessionID SessionID     `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}
