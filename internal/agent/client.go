// ABOUTME: The capability seam the host surface implements for agent-initiated calls
// ABOUTME: Permission prompts, file proxying, and the outcome types they resolve to

package agent

import (
	"context"

	"github.com/2389/loom/internal/asp"
)

// PermissionRequest is an inbound ask-the-user authorization flow gating a
// proposed tool call. The host presents Options and resolves with exactly
// one of them, or with a cancellation.
type PermissionRequest struct {
	SessionID asp.SessionID
	ToolCall  asp.ToolCall
	Options   []asp.PermissionOption
}

// PermissionOutcome is the host's answer to a PermissionRequest.
type PermissionOutcome struct {
	// Cancelled is true when the prompt was torn down without a choice.
	Cancelled bool
	// OptionID is the chosen option when Cancelled is false.
	OptionID string
}

// Selected builds the outcome for a chosen option.
func Selected(optionID string) PermissionOutcome {
	return PermissionOutcome{OptionID: optionID}
}

// Cancelled builds the outcome for a prompt abandoned without a choice.
func Cancelled() PermissionOutcome {
	return PermissionOutcome{Cancelled: true}
}

// Client is implemented by the host surface that owns the UI. The connection
// resolves the target session before calling any of these, so
// implementations never see an unknown session id.
//
// Calls for different sessions may run concurrently; calls for one session
// arrive in wire order, one at a time. RequestPermission may block for as
// long as the user deliberates — only that session's inbound traffic waits
// behind it. Each method's ctx is cancelled when the connection tears down;
// implementations must return rather than block past it.
type Client interface {
	// RequestPermission presents Options for a proposed tool call and
	// resolves with the user's choice. Returning an outcome with Cancelled
	// set, or a context cancellation error, reports the prompt was
	// abandoned; both reach the agent as a cancelled outcome.
	RequestPermission(ctx context.Context, req PermissionRequest) (PermissionOutcome, error)

	// WriteTextFile replaces the contents of the file at req.Path.
	WriteTextFile(ctx context.Context, req asp.WriteTextFileRequest) error

	// ReadTextFile returns the requested window of the file at req.Path.
	// A missing file is an error; it must never be created by a read.
	ReadTextFile(ctx context.Context, req asp.ReadTextFileRequest) (string, error)
}
