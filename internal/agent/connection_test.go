// ABOUTME: Tests for the connection layer against a scripted in-memory agent
// ABOUTME: Version gate, correlation, session isolation, permission flows, exit broadcast

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom/internal/asp"
	"github.com/2389/loom/internal/session"
	"github.com/2389/loom/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubClient implements Client with overridable behavior per test.
type stubClient struct {
	permission func(ctx context.Context, req PermissionRequest) (PermissionOutcome, error)
	read       func(ctx context.Context, req asp.ReadTextFileRequest) (string, error)
	write      func(ctx context.Context, req asp.WriteTextFileRequest) error
}

func (c *stubClient) RequestPermission(ctx context.Context, req PermissionRequest) (PermissionOutcome, error) {
	if c.permission != nil {
		return c.permission(ctx, req)
	}
	return Selected("allow"), nil
}

func (c *stubClient) ReadTextFile(ctx context.Context, req asp.ReadTextFileRequest) (string, error) {
	if c.read != nil {
		return c.read(ctx, req)
	}
	return "", fmt.Errorf("no read handler")
}

func (c *stubClient) WriteTextFile(ctx context.Context, req asp.WriteTextFileRequest) error {
	if c.write != nil {
		return c.write(ctx, req)
	}
	return fmt.Errorf("no write handler")
}

// stubAgent is the remote side of a connection under test: a wire codec over
// in-memory pipes plus a handler goroutine scripted per test.
type stubAgent struct {
	codec *wire.Codec

	hostIn *io.PipeWriter // agent -> host

	// The connection's ends of the pipes.
	connReader *io.PipeReader
	connWriter *io.PipeWriter

	respMu sync.Mutex
	respCh chan<- *wire.Response
}

// newStubAgent wires a connection to an in-test agent. handler runs on its
// own goroutine and receives every host-initiated request and notification;
// it answers through the agent's codec. The handshake is not implied:
// handlers must answer initialize themselves. Responses to agent-initiated
// requests are routed to the channel registered via setResponseHandler.
func newStubAgent(t *testing.T, handler func(a *stubAgent, msg *wire.Message)) *stubAgent {
	t.Helper()

	hostOutR, hostOutW := io.Pipe() // host writes, agent reads
	hostInR, hostInW := io.Pipe()   // agent writes, host reads

	a := &stubAgent{
		codec:      wire.NewCodec(hostOutR, hostInW),
		hostIn:     hostInW,
		connReader: hostInR,
		connWriter: hostOutW,
	}
	t.Cleanup(func() {
		hostInW.Close()
		hostOutR.Close()
	})

	go func() {
		for {
			msg, err := a.codec.Read()
			if err != nil {
				return
			}
			if msg.Response != nil {
				a.respMu.Lock()
				ch := a.respCh
				a.respMu.Unlock()
				if ch != nil {
					ch <- msg.Response
				}
				continue
			}
			handler(a, msg)
		}
	}()
	return a
}

func (a *stubAgent) setResponseHandler(ch chan<- *wire.Response) {
	a.respMu.Lock()
	a.respCh = ch
	a.respMu.Unlock()
}

// answerInitialize replies to an initialize request with the given version.
func answerInitialize(a *stubAgent, msg *wire.Message, version int, methods ...asp.AuthMethod) bool {
	if msg.Request == nil || msg.Request.Method != asp.MethodInitialize {
		return false
	}
	a.codec.WriteResult(msg.Request.ID, asp.InitializeResponse{
		ProtocolVersion: version,
		AuthMethods:     methods,
	})
	return true
}

func TestConnection_VersionGate(t *testing.T) {
	t.Run("below minimum fails closed", func(t *testing.T) {
		a := newStubAgent(t, func(a *stubAgent, msg *wire.Message) {
			answerInitialize(a, msg, asp.MinProtocolVersion-1)
		})

		_, err := NewConnection(context.Background(), a.connWriter, a.connReader, &stubClient{}, testLogger())
		require.Error(t, err)

		var versionErr *UnsupportedVersionError
		require.ErrorAs(t, err, &versionErr)
		assert.Equal(t, asp.MinProtocolVersion-1, versionErr.Got)
		assert.Equal(t, asp.MinProtocolVersion, versionErr.Min)
	})

	t.Run("exact minimum succeeds and mints a session", func(t *testing.T) {
		a := newStubAgent(t, func(a *stubAgent, msg *wire.Message) {
			if answerInitialize(a, msg, asp.MinProtocolVersion) {
				return
			}
			if msg.Request != nil && msg.Request.Method == asp.MethodSessionNew {
				a.codec.WriteResult(msg.Request.ID, asp.NewSessionResponse{SessionID: "sess-1"})
			}
		})

		conn, err := NewConnection(context.Background(), a.connWriter, a.connReader, &stubClient{}, testLogger())
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, asp.MinProtocolVersion, conn.ProtocolVersion())

		sess, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/work"})
		require.NoError(t, err)
		assert.Equal(t, asp.SessionID("sess-1"), sess.ID())

		got, ok := conn.registry.lookup("sess-1")
		require.True(t, ok)
		assert.Same(t, sess, got)
	})
}

func TestConnection_CorrelationOutOfOrder(t *testing.T) {
	const n = 8

	// Collect all prompt requests first, then answer them in reverse order
	// with a stop reason derived from each request's prompt text.
	var mu sync.Mutex
	var held []*wire.Request
	release := make(chan struct{})

	a := newStubAgent(t, func(a *stubAgent, msg *wire.Message) {
		if answerInitialize(a, msg, asp.ProtocolVersion) {
			return
		}
		if msg.Request == nil || msg.Request.Method != asp.MethodSessionPrompt {
			return
		}
		mu.Lock()
		held = append(held, msg.Request)
		ready := len(held) == n
		mu.Unlock()
		if ready {
			close(release)
		}
	})

	go func() {
		<-release
		mu.Lock()
		defer mu.Unlock()
		for i := len(held) - 1; i >= 0; i-- {
			var params asp.PromptRequest
			json.Unmarshal(held[i].Params, &params)
			a.codec.WriteResult(held[i].ID, asp.PromptResponse{
				StopReason: asp.StopReason("stop-for-" + params.Prompt[0].Text),
			})
		}
	}()

	conn, err := NewConnection(context.Background(), a.connWriter, a.connReader, &stubClient{}, testLogger())
	require.NoError(t, err)
	defer conn.Close()

	var wg sync.WaitGroup
	results := make([]asp.StopReason, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = conn.Prompt(context.Background(), "sess-1", []asp.ContentBlock{asp.Text(fmt.Sprintf("p%d", i))})
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, asp.StopReason(fmt.Sprintf("stop-for-p%d", i)), results[i])
	}
}

// newReadySession spins up a connection whose agent answers initialize and
// session/new, plus whatever extra handling the test supplies.
func newReadyConn(t *testing.T, client Client, extra func(a *stubAgent, msg *wire.Message)) (*Connection, *stubAgent) {
	t.Helper()

	var nextSession int
	var mu sync.Mutex
	a := newStubAgent(t, func(a *stubAgent, msg *wire.Message) {
		if answerInitialize(a, msg, asp.ProtocolVersion) {
			return
		}
		if msg.Request != nil && msg.Request.Method == asp.MethodSessionNew {
			mu.Lock()
			nextSession++
			id := fmt.Sprintf("sess-%d", nextSession)
			mu.Unlock()
			a.codec.WriteResult(msg.Request.ID, asp.NewSessionResponse{SessionID: asp.SessionID(id)})
			return
		}
		if extra != nil {
			extra(a, msg)
		}
	})

	if client == nil {
		client = &stubClient{}
	}
	conn, err := NewConnection(context.Background(), a.connWriter, a.connReader, client, testLogger())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn, a
}

func sendUpdate(a *stubAgent, id asp.SessionID, text string) {
	a.codec.WriteNotification(asp.MethodSessionUpdate, asp.SessionNotification{
		SessionID: id,
		Update:    asp.SessionUpdate{AgentMessageChunk: &asp.MessageChunk{Content: asp.Text(text)}},
	})
}

func collectTexts(t *testing.T, ch <-chan asp.SessionUpdate, n int) []string {
	t.Helper()
	var texts []string
	timeout := time.After(5 * time.Second)
	for len(texts) < n {
		select {
		case u, ok := <-ch:
			if !ok {
				t.Fatalf("update stream closed after %d of %d updates", len(texts), n)
			}
			texts = append(texts, u.AgentMessageChunk.Content.Text)
		case <-timeout:
			t.Fatalf("timed out after %d of %d updates", len(texts), n)
		}
	}
	return texts
}

func TestConnection_SessionIsolation(t *testing.T) {
	conn, a := newReadyConn(t, nil, nil)

	sessA, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/a"})
	require.NoError(t, err)
	sessB, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/b"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chA := sessA.Updates(ctx)
	chB := sessB.Updates(ctx)

	const perSession = 20
	for i := range perSession {
		sendUpdate(a, sessA.ID(), fmt.Sprintf("a%d", i))
		sendUpdate(a, sessB.ID(), fmt.Sprintf("b%d", i))
	}

	gotA := collectTexts(t, chA, perSession)
	gotB := collectTexts(t, chB, perSession)
	for i := range perSession {
		assert.Equal(t, fmt.Sprintf("a%d", i), gotA[i])
		assert.Equal(t, fmt.Sprintf("b%d", i), gotB[i])
	}
}

func TestConnection_AuthRequired(t *testing.T) {
	methods := []asp.AuthMethod{{ID: "api-key", Name: "API key"}}
	authenticated := false
	var mu sync.Mutex

	a := newStubAgent(t, func(a *stubAgent, msg *wire.Message) {
		if answerInitialize(a, msg, asp.ProtocolVersion, methods...) {
			return
		}
		if msg.Request == nil {
			return
		}
		switch msg.Request.Method {
		case asp.MethodSessionNew:
			mu.Lock()
			ok := authenticated
			mu.Unlock()
			if !ok {
				a.codec.WriteError(msg.Request.ID, asp.AuthRequired())
				return
			}
			a.codec.WriteResult(msg.Request.ID, asp.NewSessionResponse{SessionID: "sess-1"})
		case asp.MethodAuthenticate:
			mu.Lock()
			authenticated = true
			mu.Unlock()
			a.codec.WriteResult(msg.Request.ID, asp.AuthenticateResponse{})
		}
	})

	conn, err := NewConnection(context.Background(), a.connWriter, a.connReader, &stubClient{}, testLogger())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.NewSession(context.Background(), NewSessionParams{Cwd: "/w"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAuthRequired)

	var authErr *AuthRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, methods, authErr.Methods)

	require.NoError(t, conn.Authenticate(context.Background(), "api-key"))

	sess, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/w"})
	require.NoError(t, err)
	assert.Equal(t, asp.SessionID("sess-1"), sess.ID())
}

// agentCall issues a request from the agent side and waits for the host's
// response envelope.
func agentCall(t *testing.T, a *stubAgent, method string, params any) *wire.Response {
	t.Helper()
	respCh := make(chan *wire.Response, 1)
	a.setResponseHandler(respCh)

	_, err := a.codec.WriteRequest(method, params)
	require.NoError(t, err)

	select {
	case resp := <-respCh:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for host response")
		return nil
	}
}

func TestDispatch_PermissionSelected(t *testing.T) {
	client := &stubClient{
		permission: func(ctx context.Context, req PermissionRequest) (PermissionOutcome, error) {
			require.Len(t, req.Options, 2)
			return Selected(req.Options[1].OptionID), nil
		},
	}
	conn, a := newReadyConn(t, client, nil)

	sess, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/w"})
	require.NoError(t, err)

	resp := agentCall(t, a, asp.MethodRequestPermission, asp.RequestPermissionRequest{
		SessionID: sess.ID(),
		ToolCall:  asp.ToolCall{ToolCallID: "tc-1", Title: "edit main.go"},
		Options: []asp.PermissionOption{
			{OptionID: "reject", Name: "Reject", Kind: asp.PermissionRejectOnce},
			{OptionID: "allow", Name: "Allow", Kind: asp.PermissionAllowOnce},
		},
	})
	require.Nil(t, resp.Err)

	var result asp.RequestPermissionResponse
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, asp.OutcomeSelected, result.Outcome.Outcome)
	assert.Equal(t, "allow", result.Outcome.OptionID)
}

func TestDispatch_PermissionCancelled(t *testing.T) {
	// The host's prompt surface is torn down without a selection; the
	// delegate reports that as a context cancellation.
	client := &stubClient{
		permission: func(ctx context.Context, req PermissionRequest) (PermissionOutcome, error) {
			return PermissionOutcome{}, context.Canceled
		},
	}
	conn, a := newReadyConn(t, client, nil)

	sess, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/w"})
	require.NoError(t, err)

	resp := agentCall(t, a, asp.MethodRequestPermission, asp.RequestPermissionRequest{
		SessionID: sess.ID(),
		ToolCall:  asp.ToolCall{ToolCallID: "tc-1"},
		Options:   []asp.PermissionOption{{OptionID: "allow"}},
	})
	require.Nil(t, resp.Err)

	var result asp.RequestPermissionResponse
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, asp.OutcomeCancelled, result.Outcome.Outcome)
	assert.Empty(t, result.Outcome.OptionID)
}

func TestDispatch_PermissionDoesNotStallOtherSessions(t *testing.T) {
	block := make(chan struct{})
	client := &stubClient{
		permission: func(ctx context.Context, req PermissionRequest) (PermissionOutcome, error) {
			<-block
			return Selected("allow"), nil
		},
	}
	conn, a := newReadyConn(t, client, nil)

	sessA, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/a"})
	require.NoError(t, err)
	sessB, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/b"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chB := sessB.Updates(ctx)

	// A's worker parks inside the permission prompt...
	_, err = a.codec.WriteRequest(asp.MethodRequestPermission, asp.RequestPermissionRequest{
		SessionID: sessA.ID(),
		ToolCall:  asp.ToolCall{ToolCallID: "tc-1"},
		Options:   []asp.PermissionOption{{OptionID: "allow"}},
	})
	require.NoError(t, err)

	// ...while B's updates keep flowing.
	for i := range 5 {
		sendUpdate(a, sessB.ID(), fmt.Sprintf("b%d", i))
	}
	got := collectTexts(t, chB, 5)
	assert.Equal(t, []string{"b0", "b1", "b2", "b3", "b4"}, got)

	close(block)
}

func TestDispatch_FileProxy(t *testing.T) {
	files := map[string]string{"/w/notes.txt": "line one\n"}
	var mu sync.Mutex
	client := &stubClient{
		read: func(ctx context.Context, req asp.ReadTextFileRequest) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			content, ok := files[req.Path]
			if !ok {
				return "", fmt.Errorf("open %s: no such file", req.Path)
			}
			return content, nil
		},
		write: func(ctx context.Context, req asp.WriteTextFileRequest) error {
			mu.Lock()
			defer mu.Unlock()
			files[req.Path] = req.Content
			return nil
		},
	}
	conn, a := newReadyConn(t, client, nil)

	sess, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/w"})
	require.NoError(t, err)

	t.Run("read existing", func(t *testing.T) {
		resp := agentCall(t, a, asp.MethodReadTextFile, asp.ReadTextFileRequest{
			SessionID: sess.ID(), Path: "/w/notes.txt",
		})
		require.Nil(t, resp.Err)
		var result asp.ReadTextFileResponse
		require.NoError(t, json.Unmarshal(resp.Result, &result))
		assert.Equal(t, "line one\n", result.Content)
	})

	t.Run("read missing is an error, not a create", func(t *testing.T) {
		resp := agentCall(t, a, asp.MethodReadTextFile, asp.ReadTextFileRequest{
			SessionID: sess.ID(), Path: "/w/absent.txt",
		})
		require.NotNil(t, resp.Err)
		assert.Equal(t, asp.CodeInternalError, resp.Err.Code)
		mu.Lock()
		_, created := files["/w/absent.txt"]
		mu.Unlock()
		assert.False(t, created)
	})

	t.Run("write", func(t *testing.T) {
		resp := agentCall(t, a, asp.MethodWriteTextFile, asp.WriteTextFileRequest{
			SessionID: sess.ID(), Path: "/w/out.txt", Content: "written",
		})
		require.Nil(t, resp.Err)
		mu.Lock()
		assert.Equal(t, "written", files["/w/out.txt"])
		mu.Unlock()
	})
}

func TestDispatch_SessionNotFound(t *testing.T) {
	_, a := newReadyConn(t, nil, nil)

	for _, method := range []string{asp.MethodRequestPermission, asp.MethodReadTextFile, asp.MethodWriteTextFile} {
		t.Run(method, func(t *testing.T) {
			resp := agentCall(t, a, method, map[string]any{"sessionId": "ghost", "path": "/x"})
			require.NotNil(t, resp.Err)
			assert.Equal(t, asp.CodeSessionNotFound, resp.Err.Code)
		})
	}
}

func TestDispatch_DanglingSessionIsNotFound(t *testing.T) {
	conn, a := newReadyConn(t, nil, nil)

	sess, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/w"})
	require.NoError(t, err)
	id := sess.ID()

	// Drop the only strong reference; the registry's weak pointer goes dead.
	sess = nil
	runtime.GC()
	runtime.GC()

	resp := agentCall(t, a, asp.MethodReadTextFile, asp.ReadTextFileRequest{SessionID: id, Path: "/x"})
	require.NotNil(t, resp.Err)
	assert.Equal(t, asp.CodeSessionNotFound, resp.Err.Code)
}

func TestDispatch_MethodNotFound(t *testing.T) {
	_, a := newReadyConn(t, nil, nil)

	resp := agentCall(t, a, "agent/made_this_up", map[string]any{})
	require.NotNil(t, resp.Err)
	assert.Equal(t, asp.CodeMethodNotFound, resp.Err.Code)
}

func TestConnection_MalformedEnvelopeIsNonFatal(t *testing.T) {
	var sinkMu sync.Mutex
	var sunk []error
	sink := func(err error) {
		sinkMu.Lock()
		sunk = append(sunk, err)
		sinkMu.Unlock()
	}

	var nextSession int
	var mu sync.Mutex
	a := newStubAgent(t, func(a *stubAgent, msg *wire.Message) {
		if answerInitialize(a, msg, asp.ProtocolVersion) {
			return
		}
		if msg.Request != nil && msg.Request.Method == asp.MethodSessionNew {
			mu.Lock()
			nextSession++
			id := fmt.Sprintf("sess-%d", nextSession)
			mu.Unlock()
			a.codec.WriteResult(msg.Request.ID, asp.NewSessionResponse{SessionID: asp.SessionID(id)})
		}
	})

	conn, err := NewConnection(context.Background(), a.connWriter, a.connReader, &stubClient{}, testLogger(), WithErrorSink(sink))
	require.NoError(t, err)
	defer conn.Close()

	// Inject garbage between two valid exchanges.
	_, err = io.WriteString(a.hostIn, "this is not json\n")
	require.NoError(t, err)

	sess, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/w"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())

	sinkMu.Lock()
	defer sinkMu.Unlock()
	require.NotEmpty(t, sunk)
	var decodeErr *wire.DecodeError
	assert.ErrorAs(t, sunk[0], &decodeErr)
}

func TestConnection_ExitBroadcast(t *testing.T) {
	conn, a := newReadyConn(t, nil, nil)

	sessA, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/a"})
	require.NoError(t, err)
	sessB, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/b"})
	require.NoError(t, err)

	// The agent dies: its side of the stream closes.
	a.hostIn.Close()

	for _, sess := range []*session.Session{sessA, sessB} {
		select {
		case <-sess.Exited():
		case <-time.After(5 * time.Second):
			t.Fatal("session never heard about the exit")
		}
		status, ok := sess.ExitStatus()
		require.True(t, ok)
		assert.Equal(t, -1, status)
	}

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection never tore down")
	}
	assert.Equal(t, 0, conn.registry.len())

	_, err = conn.Prompt(context.Background(), sessA.ID(), []asp.ContentBlock{asp.Text("anyone?")})
	require.ErrorIs(t, err, ErrConnectionClosed)

	_, err = conn.NewSession(context.Background(), NewSessionParams{Cwd: "/c"})
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnection_Cancel(t *testing.T) {
	cancelled := make(chan asp.SessionID, 1)
	conn, _ := newReadyConn(t, nil, func(a *stubAgent, msg *wire.Message) {
		if msg.Notification != nil && msg.Notification.Method == asp.MethodSessionCancel {
			var params asp.CancelNotification
			json.Unmarshal(msg.Notification.Params, &params)
			cancelled <- params.SessionID
		}
	})

	sess, err := conn.NewSession(context.Background(), NewSessionParams{Cwd: "/w"})
	require.NoError(t, err)

	conn.Cancel(sess.ID())

	select {
	case id := <-cancelled:
		assert.Equal(t, sess.ID(), id)
	case <-time.After(5 * time.Second):
		t.Fatal("agent never saw the cancel")
	}
}

func TestConnection_LoadSessionCapabilityGate(t *testing.T) {
	conn, _ := newReadyConn(t, nil, nil)

	_, err := conn.LoadSession(context.Background(), "old-sess", "/w")
	require.ErrorIs(t, err, ErrLoadUnsupported)
}

func TestConnection_LoadSessionReplaysThroughDispatch(t *testing.T) {
	a := newStubAgent(t, func(a *stubAgent, msg *wire.Message) {
		if msg.Request == nil {
			return
		}
		switch msg.Request.Method {
		case asp.MethodInitialize:
			a.codec.WriteResult(msg.Request.ID, asp.InitializeResponse{
				ProtocolVersion:   asp.ProtocolVersion,
				AgentCapabilities: asp.AgentCapabilities{LoadSession: true},
			})
		case asp.MethodSessionLoad:
			// Replay arrives before the load response resolves.
			sendUpdate(a, "old-sess", "replayed")
			a.codec.WriteResult(msg.Request.ID, asp.LoadSessionResponse{})
		}
	})

	conn, err := NewConnection(context.Background(), a.connWriter, a.connReader, &stubClient{}, testLogger())
	require.NoError(t, err)
	defer conn.Close()

	sess, err := conn.LoadSession(context.Background(), "old-sess", "/w")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entries := sess.Entries()
		return len(entries) == 1 && entries[0].Text == "replayed"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConnection_RequestContextCancel(t *testing.T) {
	// The agent never answers session/prompt.
	conn, _ := newReadyConn(t, nil, func(a *stubAgent, msg *wire.Message) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := conn.Prompt(ctx, "sess-x", []asp.ContentBlock{asp.Text("hi")})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("prompt never resolved after context cancel")
	}

	conn.pendingMu.Lock()
	remaining := len(conn.pending)
	conn.pendingMu.Unlock()
	assert.Equal(t, 0, remaining)
}
