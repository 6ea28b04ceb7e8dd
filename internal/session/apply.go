// ABOUTME: Folds incoming session updates into typed transcript entries
// ABOUTME: Chunk coalescing, tool call upsert/patch, plan and command replacement

package session

import (
	"fmt"

	"github.com/2389/loom/internal/asp"
)

// EntryKind labels a transcript entry.
type EntryKind string

const (
	EntryUserMessage  EntryKind = "user_message"
	EntryAgentMessage EntryKind = "agent_message"
	EntryAgentThought EntryKind = "agent_thought"
	EntryToolCall     EntryKind = "tool_call"
)

// Entry is one accumulated transcript item. Message kinds carry coalesced
// text; tool entries carry the tool call's latest state. Non-text content
// blocks pass through the update stream but are not folded into Text.
type Entry struct {
	Kind     EntryKind
	Text     string
	ToolCall *asp.ToolCall
}

func (s *Session) applyLocked(update asp.SessionUpdate) error {
	switch {
	case update.UserMessageChunk != nil:
		s.appendChunk(EntryUserMessage, update.UserMessageChunk.Content)
	case update.AgentMessageChunk != nil:
		s.appendChunk(EntryAgentMessage, update.AgentMessageChunk.Content)
	case update.AgentThoughtChunk != nil:
		s.appendChunk(EntryAgentThought, update.AgentThoughtChunk.Content)
	case update.ToolCall != nil:
		s.upsertToolCall(update.ToolCall)
	case update.ToolCallUpdate != nil:
		return s.patchToolCall(update.ToolCallUpdate)
	case update.Plan != nil:
		s.plan = asp.Plan{Entries: append([]asp.PlanEntry(nil), update.Plan.Entries...)}
	case update.AvailableCommandsUpdate != nil:
		s.commands = append([]asp.AvailableCommand(nil), update.AvailableCommandsUpdate.AvailableCommands...)
	default:
		return fmt.Errorf("empty session update")
	}
	return nil
}

// appendChunk extends the trailing entry when it has the same kind,
// otherwise opens a new one. Consecutive chunks of one message therefore
// coalesce while a role switch starts a fresh entry.
func (s *Session) appendChunk(kind EntryKind, content asp.ContentBlock) {
	var text string
	if content.IsText() {
		text = content.Text
	}

	if n := len(s.entries); n > 0 && s.entries[n-1].Kind == kind {
		s.entries[n-1].Text += text
		return
	}
	s.entries = append(s.entries, Entry{Kind: kind, Text: text})
}

// upsertToolCall replaces the state of a known call or appends a new entry.
func (s *Session) upsertToolCall(call *asp.ToolCall) {
	clone := *call
	for i := range s.entries {
		if s.entries[i].Kind == EntryToolCall && s.entries[i].ToolCall.ToolCallID == call.ToolCallID {
			s.entries[i].ToolCall = &clone
			return
		}
	}
	s.entries = append(s.entries, Entry{Kind: EntryToolCall, ToolCall: &clone})
}

// patchToolCall applies a partial update to a previously announced call.
func (s *Session) patchToolCall(patch *asp.ToolCallUpdate) error {
	for i := range s.entries {
		if s.entries[i].Kind != EntryToolCall || s.entries[i].ToolCall.ToolCallID != patch.ToolCallID {
			continue
		}
		call := s.entries[i].ToolCall
		if patch.Title != nil {
			call.Title = *patch.Title
		}
		if patch.Kind != nil {
			call.Kind = *patch.Kind
		}
		if patch.Status != nil {
			call.Status = *patch.Status
		}
		if patch.Content != nil {
			call.Content = append([]asp.ContentBlock(nil), patch.Content...)
		}
		return nil
	}
	return fmt.Errorf("tool call update for unknown call %q", patch.ToolCallID)
}
