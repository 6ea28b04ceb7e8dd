// ABOUTME: TOML-scripted behavior for the stub agent
// ABOUTME: Advertised capabilities plus per-turn steps the agent plays back

package stubagent

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/2389/loom/internal/asp"
)

// Script defines everything the stub agent does: what it advertises at
// handshake and what each prompt turn plays back.
type Script struct {
	// ProtocolVersion is what the agent claims to speak. Defaults to
	// asp.ProtocolVersion; set lower to exercise the host's version gate.
	ProtocolVersion int `toml:"protocol_version"`

	// RequireAuth makes session/new fail with the auth-required code until
	// authenticate has been called.
	RequireAuth bool `toml:"require_auth"`

	// LoadSession advertises the session/load capability.
	LoadSession bool `toml:"load_session"`

	AuthMethods []AuthMethod `toml:"auth_methods"`

	// Turns are played in order, one per session/prompt; the last turn
	// repeats once the script runs out. With no turns the agent echoes the
	// prompt back.
	Turns []Turn `toml:"turns"`
}

// AuthMethod is one advertised authentication mechanism.
type AuthMethod struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// Turn is one prompt's worth of scripted behavior.
type Turn struct {
	Steps []Step `toml:"steps"`

	// StopReason ends the turn; defaults to end_turn.
	StopReason string `toml:"stop_reason"`
}

// Step is a single scripted action. Exactly one field should be set.
type Step struct {
	// Say emits an agent message chunk.
	Say string `toml:"say"`

	// Think emits an agent thought chunk.
	Think string `toml:"think"`

	// Plan publishes a plan with these entries.
	Plan []PlanEntry `toml:"plan"`

	// Tool announces a tool call and then completes it.
	Tool *ToolStep `toml:"tool"`

	// Permission raises a permission request and echoes the outcome as a
	// message chunk ("permission: <optionId>" or "permission: cancelled").
	Permission *PermissionStep `toml:"permission"`

	// ReadFile proxies a read through the host and echoes the content.
	ReadFile string `toml:"read_file"`

	// WriteFile proxies a write through the host.
	WriteFile *WriteFileStep `toml:"write_file"`
}

// PlanEntry is one scripted plan item.
type PlanEntry struct {
	Content  string `toml:"content"`
	Priority string `toml:"priority"`
	Status   string `toml:"status"`
}

// ToolStep announces a tool call, then patches it to a final status.
type ToolStep struct {
	ID     string `toml:"id"`
	Title  string `toml:"title"`
	Kind   string `toml:"kind"`
	Status string `toml:"status"` // final status; defaults to completed
}

// PermissionStep raises a permission request for a proposed tool call.
type PermissionStep struct {
	Title   string             `toml:"title"`
	Options []PermissionOption `toml:"options"`
}

// PermissionOption is one selectable answer.
type PermissionOption struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
	Kind string `toml:"kind"`
}

// WriteFileStep writes content to a path through the host.
type WriteFileStep struct {
	Path    string `toml:"path"`
	Content string `toml:"content"`
}

// LoadScript reads and parses a TOML script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	var s Script
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	s.applyDefaults()
	return &s, nil
}

// DefaultScript is the zero-config behavior: current protocol version, no
// auth, echo every prompt back.
func DefaultScript() *Script {
	s := &Script{}
	s.applyDefaults()
	return s
}

func (s *Script) applyDefaults() {
	if s.ProtocolVersion == 0 {
		s.ProtocolVersion = asp.ProtocolVersion
	}
	for i := range s.Turns {
		if s.Turns[i].StopReason == "" {
			s.Turns[i].StopReason = string(asp.StopEndTurn)
		}
	}
}

func (s *Script) authMethods() []asp.AuthMethod {
	methods := make([]asp.AuthMethod, 0, len(s.AuthMethods))
	for _, m := range s.AuthMethods {
		methods = append(methods, asp.AuthMethod{ID: m.ID, Name: m.Name, Description: m.Description})
	}
	return methods
}

// turn selects the script turn for the nth prompt on a session (0-based).
// The last turn repeats once the script runs out; nil means echo.
func (s *Script) turn(n int) *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	if n >= len(s.Turns) {
		n = len(s.Turns) - 1
	}
	return &s.Turns[n]
}
