// ABOUTME: Tests for transcript rendering
// ABOUTME: Deterministic Markdown layout and goldmark HTML conversion

package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom/internal/store"
)

func fixture() (*store.SessionRecord, []*store.EntryRecord) {
	sess := &store.SessionRecord{
		ID:        "sess-42",
		AgentName: "claude",
		Cwd:       "/home/dev/project",
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
	entries := []*store.EntryRecord{
		{Role: store.RoleUser, Content: "fix the failing test"},
		{Role: store.RoleAgentThought, Content: "the assertion looks inverted\nchecking the helper"},
		{Role: store.RoleTool, Content: "go test ./internal/...", ToolName: "execute", ToolStatus: "completed"},
		{Role: store.RoleAgent, Content: "Done. The assertion was inverted; fixed and tests pass."},
	}
	return sess, entries
}

func TestMarkdown_Layout(t *testing.T) {
	sess, entries := fixture()
	md := Markdown(sess, entries)

	assert.True(t, strings.HasPrefix(md, "# Session sess-42\n"))
	assert.Contains(t, md, "- Agent: claude\n")
	assert.Contains(t, md, "## User\n\nfix the failing test")
	assert.Contains(t, md, "## Agent (thinking)\n\n> the assertion looks inverted\n> checking the helper")
	assert.Contains(t, md, "## Tool: execute (completed)\n\n```\ngo test ./internal/...\n```")
	assert.Contains(t, md, "## Agent\n\nDone.")

	// Section order follows entry order.
	userIdx := strings.Index(md, "## User")
	thoughtIdx := strings.Index(md, "## Agent (thinking)")
	toolIdx := strings.Index(md, "## Tool:")
	agentIdx := strings.Index(md, "## Agent\n")
	assert.True(t, userIdx < thoughtIdx && thoughtIdx < toolIdx && toolIdx < agentIdx)
}

func TestMarkdown_Deterministic(t *testing.T) {
	sess, entries := fixture()
	assert.Equal(t, Markdown(sess, entries), Markdown(sess, entries))
}

func TestHTML(t *testing.T) {
	sess, entries := fixture()
	html, err := HTML(sess, entries)
	require.NoError(t, err)

	out := string(html)
	assert.Contains(t, out, "<h1>Session sess-42</h1>")
	assert.Contains(t, out, "<h2>User</h2>")
	assert.Contains(t, out, "<pre><code>go test ./internal/...")
}
