// ABOUTME: Renders persisted session transcripts as Markdown and HTML
// ABOUTME: Deterministic role-labelled sections; HTML goes through goldmark

// Package transcript turns persisted session records into human-readable
// documents for the export command.
package transcript

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/loom/internal/store"
)

// Markdown renders a session transcript. Output is deterministic for a
// given record set: one heading for the session, one labelled section per
// entry in order.
func Markdown(sess *store.SessionRecord, entries []*store.EntryRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session %s\n\n", sess.ID)
	fmt.Fprintf(&b, "- Agent: %s\n", sess.AgentName)
	fmt.Fprintf(&b, "- Working directory: %s\n", sess.Cwd)
	fmt.Fprintf(&b, "- Started: %s\n\n", sess.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	for _, entry := range entries {
		switch entry.Role {
		case store.RoleUser:
			b.WriteString("## User\n\n")
			b.WriteString(entry.Content)
			b.WriteString("\n\n")
		case store.RoleAgent:
			b.WriteString("## Agent\n\n")
			b.WriteString(entry.Content)
			b.WriteString("\n\n")
		case store.RoleAgentThought:
			b.WriteString("## Agent (thinking)\n\n")
			fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(entry.Content, "\n", "\n> "))
		case store.RoleTool:
			fmt.Fprintf(&b, "## Tool: %s (%s)\n\n", entry.ToolName, entry.ToolStatus)
			if entry.Content != "" {
				fmt.Fprintf(&b, "```\n%s\n```\n\n", strings.TrimRight(entry.Content, "\n"))
			}
		default:
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", entry.Role, entry.Content)
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// HTML renders the Markdown transcript through goldmark.
func HTML(sess *store.SessionRecord, entries []*store.EntryRecord) ([]byte, error) {
	md := Markdown(sess, entries)

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return nil, fmt.Errorf("converting transcript to HTML: %w", err)
	}
	return buf.Bytes(), nil
}
