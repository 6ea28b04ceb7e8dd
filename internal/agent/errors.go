// ABOUTME: Error taxonomy for the connection layer
// ABOUTME: Sentinels for routing decisions, typed errors where a payload exists

package agent

import (
	"errors"
	"fmt"

	"github.com/2389/loom/internal/asp"
)

// ErrConnectionClosed is returned by every outbound call once the agent
// process has exited or the connection has been closed.
var ErrConnectionClosed = errors.New("connection closed")

// ErrSessionNotFound indicates an inbound call referenced a session id that
// is not registered or whose host handle has been dropped.
var ErrSessionNotFound = errors.New("session not found")

// ErrAuthRequired matches *AuthRequiredError via errors.Is so callers can
// branch without unpacking the struct.
var ErrAuthRequired = errors.New("authentication required")

// ErrLoadUnsupported is returned by LoadSession when the agent did not
// advertise the loadSession capability.
var ErrLoadUnsupported = errors.New("agent does not support loading sessions")

// UnsupportedVersionError reports a handshake below the protocol floor. The
// connection is unusable; the process has already been stopped.
type UnsupportedVersionError struct {
	Got int
	Min int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("agent speaks protocol version %d, minimum supported is %d", e.Got, e.Min)
}

// AuthRequiredError is the distinguished session-creation failure: the agent
// wants authenticate before it will mint a session. Methods carries the auth
// methods the agent advertised at handshake so callers can redirect the user
// straight into an authentication flow.
type AuthRequiredError struct {
	Methods []asp.AuthMethod
}

func (e *AuthRequiredError) Error() string {
	return "authentication required"
}

func (e *AuthRequiredError) Is(target error) bool {
	return target == ErrAuthRequired
}
