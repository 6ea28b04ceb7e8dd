// ABOUTME: The live protocol session with one agent process
// ABOUTME: Handshake, outbound typed calls, response correlation, exit broadcast

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/2389/loom/internal/asp"
	"github.com/2389/loom/internal/process"
	"github.com/2389/loom/internal/session"
	"github.com/2389/loom/internal/wire"
)

// Connection states. Exited is reachable from every other state.
type connState int

const (
	stateConnecting connState = iota
	stateHandshaking
	stateReady
	stateExited
)

// Option adjusts connection construction.
type Option func(*Connection)

// WithErrorSink routes non-fatal protocol errors (malformed envelopes,
// updates for unknown sessions, failed update application) to fn instead of
// the default warn-level log line. The sink runs on the reader or dispatch
// goroutines and must not block.
func WithErrorSink(fn func(error)) Option {
	return func(c *Connection) { c.errorSink = fn }
}

// NewSessionParams carries the host-side inputs to session creation.
type NewSessionParams struct {
	Cwd        string
	McpServers []asp.McpServer
}

// Connection multiplexes many sessions over one agent's stdio transport. All
// methods are safe for concurrent use. Outbound calls may be issued from any
// goroutine; a single reader goroutine drives every inbound envelope.
type Connection struct {
	codec  *wire.Codec
	client Client
	logger *slog.Logger

	errorSink func(error)

	// proc is nil when the connection was wired over an existing transport.
	proc  *process.Handle
	in    io.Writer
	out   io.Reader

	registry *sessionRegistry

	pendingMu sync.Mutex
	pending   map[uint64]chan *wire.Response

	queuesMu sync.Mutex
	queues   map[asp.SessionID]*dispatchQueue

	stateMu         sync.Mutex
	state           connState
	protocolVersion int
	authMethods     []asp.AuthMethod
	agentCaps       asp.AgentCapabilities

	// lifeCtx is cancelled at teardown; inbound delegate calls inherit it.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	exitOnce   sync.Once
	done       chan struct{}
	exitStatus int
}

// Connect spawns the agent described by spec and performs the initialize
// handshake. The process is killed when ctx is cancelled, when Close is
// called, or when the returned connection is torn down for any reason — an
// agent never outlives its connection. A handshake below the protocol floor
// stops the process and returns *UnsupportedVersionError.
func Connect(ctx context.Context, spec process.Command, client Client, logger *slog.Logger, opts ...Option) (*Connection, error) {
	proc, err := process.Start(ctx, spec, logger)
	if err != nil {
		return nil, err
	}

	c := newConnection(proc.Stdin(), proc.Stdout(), client, logger, opts)
	c.proc = proc
	go c.watchProcess()
	go c.readLoop()

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// NewConnection wires a connection over an existing transport (an in-process
// agent, a test harness) and performs the handshake. in and out are the
// agent's stdin and stdout equivalents; if they implement io.Closer they are
// closed at teardown.
func NewConnection(ctx context.Context, in io.Writer, out io.Reader, client Client, logger *slog.Logger, opts ...Option) (*Connection, error) {
	c := newConnection(in, out, client, logger, opts)
	go c.readLoop()

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func newConnection(in io.Writer, out io.Reader, client Client, logger *slog.Logger, opts []Option) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent")

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	c := &Connection{
		codec:      wire.NewCodec(out, in),
		client:     client,
		logger:     logger,
		proc:       nil,
		in:         in,
		out:        out,
		registry:   newSessionRegistry(),
		pending:    make(map[uint64]chan *wire.Response),
		queues:     make(map[asp.SessionID]*dispatchQueue),
		state:      stateConnecting,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		done:       make(chan struct{}),
		exitStatus: -1,
	}
	c.errorSink = func(err error) {
		c.logger.Warn("protocol error", "error", err)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// handshake sends initialize and gates on the negotiated version. No session
// can exist before this returns nil.
func (c *Connection) handshake(ctx context.Context) error {
	c.setState(stateHandshaking)

	var resp asp.InitializeResponse
	err := c.request(ctx, asp.MethodInitialize, asp.InitializeRequest{
		ProtocolVersion: asp.ProtocolVersion,
		ClientCapabilities: asp.ClientCapabilities{
			FS: asp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
		},
	}, &resp)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if resp.ProtocolVersion < asp.MinProtocolVersion {
		return &UnsupportedVersionError{Got: resp.ProtocolVersion, Min: asp.MinProtocolVersion}
	}

	c.stateMu.Lock()
	c.protocolVersion = resp.ProtocolVersion
	c.authMethods = resp.AuthMethods
	c.agentCaps = resp.AgentCapabilities
	c.state = stateReady
	c.stateMu.Unlock()

	c.logger.Info("agent connection ready",
		"protocol_version", resp.ProtocolVersion,
		"auth_methods", len(resp.AuthMethods),
	)
	return nil
}

// ProtocolVersion returns the version negotiated at handshake.
func (c *Connection) ProtocolVersion() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.protocolVersion
}

// AuthMethods returns the authentication methods the agent advertised.
func (c *Connection) AuthMethods() []asp.AuthMethod {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return append([]asp.AuthMethod(nil), c.authMethods...)
}

// AgentCapabilities returns the capabilities the agent advertised.
func (c *Connection) AgentCapabilities() asp.AgentCapabilities {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.agentCaps
}

// NewSession asks the agent to mint a fresh session. The returned handle is
// registered for inbound dispatch before it is handed back. An agent error
// carrying the auth-required code is surfaced as *AuthRequiredError so
// callers can redirect into Authenticate instead of failing hard.
func (c *Connection) NewSession(ctx context.Context, params NewSessionParams) (*session.Session, error) {
	var resp asp.NewSessionResponse
	err := c.request(ctx, asp.MethodSessionNew, asp.NewSessionRequest{
		Cwd:        params.Cwd,
		McpServers: params.McpServers,
	}, &resp)
	if err != nil {
		var reqErr *asp.RequestError
		if errors.As(err, &reqErr) && reqErr.Code == asp.CodeAuthRequired {
			return nil, &AuthRequiredError{Methods: c.AuthMethods()}
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("creating session: agent returned empty session id")
	}

	s := c.adoptSession(resp.SessionID, params.Cwd)
	c.logger.Info("session created", "session_id", string(resp.SessionID))
	return s, nil
}

// LoadSession asks the agent to restore an existing session and replay its
// updates. The handle is registered before the request goes out so replayed
// updates stream through the normal dispatch path while the call is still in
// flight. Fails with ErrLoadUnsupported, without touching the wire, when the
// agent did not advertise loadSession.
func (c *Connection) LoadSession(ctx context.Context, id asp.SessionID, cwd string) (*session.Session, error) {
	if !c.AgentCapabilities().LoadSession {
		return nil, ErrLoadUnsupported
	}

	s := c.adoptSession(id, cwd)
	err := c.request(ctx, asp.MethodSessionLoad, asp.LoadSessionRequest{
		SessionID: id,
		Cwd:       cwd,
	}, &asp.LoadSessionResponse{})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading session: %w", err)
	}

	c.logger.Info("session loaded", "session_id", string(id))
	return s, nil
}

// adoptSession builds the host handle for id and registers it. Closing the
// handle prunes its registry entry eagerly; a handle that is simply dropped
// goes dead in the registry and is discovered lazily on dispatch.
func (c *Connection) adoptSession(id asp.SessionID, cwd string) *session.Session {
	s := session.New(id, cwd, c.logger, func() {
		c.registry.remove(id)
		c.dropQueue(id)
	})
	c.registry.insert(id, s)
	return s
}

// Authenticate runs the authentication method the user chose from
// AuthMethods.
func (c *Connection) Authenticate(ctx context.Context, methodID string) error {
	err := c.request(ctx, asp.MethodAuthenticate, asp.AuthenticateRequest{MethodID: methodID}, &asp.AuthenticateResponse{})
	if err != nil {
		return fmt.Errorf("authenticating with %s: %w", methodID, err)
	}
	return nil
}

// Prompt runs one conversation turn. It resolves when the agent ends the
// turn, reporting why; the turn's content arrives separately as
// session/update notifications on the session handle.
func (c *Connection) Prompt(ctx context.Context, id asp.SessionID, prompt []asp.ContentBlock) (asp.StopReason, error) {
	var resp asp.PromptResponse
	err := c.request(ctx, asp.MethodSessionPrompt, asp.PromptRequest{
		SessionID: id,
		Prompt:    prompt,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("prompting session %s: %w", id, err)
	}
	return resp.StopReason, nil
}

// Cancel tells the agent to wind down the in-flight turn on a session.
// Fire-and-forget: the turn still resolves through its Prompt call, and
// write failures are logged rather than surfaced.
func (c *Connection) Cancel(id asp.SessionID) {
	select {
	case <-c.done:
		return
	default:
	}
	if err := c.codec.WriteNotification(asp.MethodSessionCancel, asp.CancelNotification{SessionID: id}); err != nil {
		c.logger.Warn("sending cancel", "session_id", string(id), "error", err)
	}
}

// request issues one outbound call and blocks for its response. The pending
// entry is registered before the bytes hit the wire so a fast response can
// never miss its channel. Resolution is whichever comes first: the matching
// response, ctx done, or connection teardown.
func (c *Connection) request(ctx context.Context, method string, params, result any) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	id := c.codec.NextRequestID()
	ch := make(chan *wire.Response, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.codec.WriteRequestID(id, method, params); err != nil {
		c.dropPending(id)
		select {
		case <-c.done:
			return c.closedErr()
		default:
		}
		return fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Err != nil {
			return resp.Err
		}
		if result != nil && resp.Result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decoding %s response: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.dropPending(id)
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	}
}

func (c *Connection) dropPending(id uint64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// closedErr describes why the connection is unusable, carrying the exit
// status when the process has been reaped.
func (c *Connection) closedErr() error {
	if c.proc != nil {
		return fmt.Errorf("%w: agent exited with status %d", ErrConnectionClosed, c.exitStatus)
	}
	return ErrConnectionClosed
}

// Done is closed exactly once when the connection has torn down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// ExitStatus returns the agent's exit status once the connection has torn
// down. Unknown (no supervised process, or teardown before reap) is -1.
func (c *Connection) ExitStatus() (int, bool) {
	select {
	case <-c.done:
		return c.exitStatus, true
	default:
		return 0, false
	}
}

// Close stops the agent process and tears the connection down. Idempotent.
func (c *Connection) Close() {
	if c.proc != nil {
		c.proc.Stop()
	}
	c.teardown()
}

func (c *Connection) setState(s connState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// watchProcess ties teardown to the supervised process's exit observation.
func (c *Connection) watchProcess() {
	<-c.proc.Done()
	c.teardown()
}

// readLoop is the single sequential driver of all inbound traffic. Decode
// failures are reported and skipped; EOF or a transport failure ends the
// loop and tears the connection down.
func (c *Connection) readLoop() {
	for {
		msg, err := c.codec.Read()
		if err != nil {
			var decodeErr *wire.DecodeError
			if errors.As(err, &decodeErr) {
				c.errorSink(decodeErr)
				continue
			}
			if err != io.EOF {
				c.logger.Warn("reading agent stream", "error", err)
			}
			c.teardown()
			return
		}

		switch {
		case msg.Response != nil:
			c.routeResponse(msg.Response)
		case msg.Request != nil:
			c.routeRequest(msg.Request)
		case msg.Notification != nil:
			c.routeNotification(msg.Notification)
		}
	}
}

// routeResponse matches a response to its pending request by correlation
// id. Responses may arrive in any order relative to issue order; the id, not
// the order, decides the destination.
func (c *Connection) routeResponse(resp *wire.Response) {
	id, ok := wire.OutboundID(resp.ID)
	if !ok {
		c.logger.Warn("response with unparseable id", "id", string(resp.ID))
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("response for unknown request id", "id", id)
		return
	}
	ch <- resp
}

// teardown moves the connection to Exited: pending calls fail, every
// registered session hears the exit exactly once, and the registry empties.
// Runs at most once no matter how many paths race into it.
func (c *Connection) teardown() {
	c.exitOnce.Do(func() {
		if c.proc != nil {
			c.proc.Stop()
			c.exitStatus = c.proc.ExitStatus()
		}
		c.setState(stateExited)
		close(c.done)
		c.lifeCancel()

		if closer, ok := c.in.(io.Closer); ok {
			closer.Close()
		}
		if closer, ok := c.out.(io.Closer); ok {
			closer.Close()
		}

		c.pendingMu.Lock()
		pending := c.pending
		c.pending = make(map[uint64]chan *wire.Response)
		c.pendingMu.Unlock()
		for _, ch := range pending {
			ch <- &wire.Response{Err: asp.NewRequestError(asp.CodeInternalError, "connection closed")}
		}

		c.queuesMu.Lock()
		queues := c.queues
		c.queues = make(map[asp.SessionID]*dispatchQueue)
		c.queuesMu.Unlock()
		for _, q := range queues {
			q.close()
		}

		sessions := c.registry.removeAll()
		for _, s := range sessions {
			s.ServerExited(c.exitStatus)
		}

		c.logger.Info("agent connection closed",
			"exit_status", c.exitStatus,
			"sessions_notified", len(sessions),
		)
	})
}
