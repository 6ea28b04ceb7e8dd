// ABOUTME: A scripted agent speaking the wire protocol over any reader/writer
// ABOUTME: Answers the host's calls and plays back turns, including client-bound requests

// Package stubagent implements the remote side of the protocol for tests
// and for the fake-agent binary. It is a real protocol participant — it
// performs the handshake, mints session ids, streams updates, raises
// permission requests, and proxies file access through the host — but its
// behavior comes from a script instead of a model.
package stubagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/loom/internal/asp"
	"github.com/2389/loom/internal/wire"
)

// Agent runs one scripted protocol conversation over a byte stream.
type Agent struct {
	script *Script
	logger *slog.Logger

	codec *wire.Codec

	mu      sync.Mutex
	authed  bool
	turns   map[asp.SessionID]int                // prompts served per session
	cancels map[asp.SessionID]context.CancelFunc // in-flight turn per session

	pendingMu sync.Mutex
	pending   map[uint64]chan *wire.Response
}

// New builds an agent from a script. A nil script means DefaultScript.
func New(script *Script, logger *slog.Logger) *Agent {
	if script == nil {
		script = DefaultScript()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		script:  script,
		logger:  logger.With("component", "stubagent"),
		turns:   make(map[asp.SessionID]int),
		cancels: make(map[asp.SessionID]context.CancelFunc),
		pending: make(map[uint64]chan *wire.Response),
	}
}

// Run speaks the protocol over r (host-to-agent) and w (agent-to-host)
// until EOF or ctx cancellation. Prompt turns run on their own goroutines
// so the agent can receive responses to its client-bound requests, and a
// session/cancel, while a turn is in flight.
func (a *Agent) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	a.codec = wire.NewCodec(r, w)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg, err := a.codec.Read()
		if err != nil {
			var decodeErr *wire.DecodeError
			if errors.As(err, &decodeErr) {
				a.logger.Warn("malformed envelope from host", "error", decodeErr)
				continue
			}
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading host stream: %w", err)
		}

		switch {
		case msg.Response != nil:
			a.routeResponse(msg.Response)
		case msg.Request != nil:
			a.handleRequest(ctx, msg.Request)
		case msg.Notification != nil:
			a.handleNotification(msg.Notification)
		}
	}
}

func (a *Agent) routeResponse(resp *wire.Response) {
	id, ok := wire.OutboundID(resp.ID)
	if !ok {
		a.logger.Warn("response with unparseable id", "id", string(resp.ID))
		return
	}
	a.pendingMu.Lock()
	ch, ok := a.pending[id]
	delete(a.pending, id)
	a.pendingMu.Unlock()
	if !ok {
		a.logger.Warn("response for unknown request id", "id", id)
		return
	}
	ch <- resp
}

func (a *Agent) handleRequest(ctx context.Context, req *wire.Request) {
	switch req.Method {
	case asp.MethodInitialize:
		a.codec.WriteResult(req.ID, asp.InitializeResponse{
			ProtocolVersion: a.script.ProtocolVersion,
			AgentCapabilities: asp.AgentCapabilities{
				LoadSession: a.script.LoadSession,
			},
			AuthMethods: a.script.authMethods(),
		})

	case asp.MethodAuthenticate:
		a.mu.Lock()
		a.authed = true
		a.mu.Unlock()
		a.codec.WriteResult(req.ID, asp.AuthenticateResponse{})

	case asp.MethodSessionNew:
		a.mu.Lock()
		needAuth := a.script.RequireAuth && !a.authed
		a.mu.Unlock()
		if needAuth {
			a.codec.WriteError(req.ID, asp.AuthRequired())
			return
		}
		id := asp.SessionID(uuid.New().String())
		a.mu.Lock()
		a.turns[id] = 0
		a.mu.Unlock()
		a.logger.Info("session created", "session_id", string(id))
		a.codec.WriteResult(req.ID, asp.NewSessionResponse{SessionID: id})

	case asp.MethodSessionLoad:
		if !a.script.LoadSession {
			a.codec.WriteError(req.ID, asp.MethodNotFound(req.Method))
			return
		}
		var params asp.LoadSessionRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			a.codec.WriteError(req.ID, asp.InvalidParams(err.Error()))
			return
		}
		a.mu.Lock()
		a.turns[params.SessionID] = 0
		a.mu.Unlock()
		a.codec.WriteResult(req.ID, asp.LoadSessionResponse{})

	case asp.MethodSessionPrompt:
		var params asp.PromptRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			a.codec.WriteError(req.ID, asp.InvalidParams(err.Error()))
			return
		}
		go a.runTurn(ctx, req.ID, params)

	default:
		a.codec.WriteError(req.ID, asp.MethodNotFound(req.Method))
	}
}

func (a *Agent) handleNotification(note *wire.Notification) {
	if note.Method != asp.MethodSessionCancel {
		a.logger.Warn("unknown notification from host", "method", note.Method)
		return
	}
	var params asp.CancelNotification
	if err := json.Unmarshal(note.Params, &params); err != nil {
		a.logger.Warn("malformed cancel", "error", err)
		return
	}
	a.mu.Lock()
	cancel := a.cancels[params.SessionID]
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runTurn plays one scripted turn and answers the prompt request with its
// stop reason. A session/cancel mid-turn cuts the remaining steps and
// reports cancelled instead.
func (a *Agent) runTurn(ctx context.Context, reqID json.RawMessage, params asp.PromptRequest) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	n := a.turns[params.SessionID]
	a.turns[params.SessionID] = n + 1
	a.cancels[params.SessionID] = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.cancels, params.SessionID)
		a.mu.Unlock()
	}()

	turn := a.script.turn(n)
	if turn == nil {
		// Echo behavior: repeat the prompt text back.
		for _, block := range params.Prompt {
			if block.IsText() {
				a.say(params.SessionID, "echo: "+block.Text)
			}
		}
		a.codec.WriteResult(reqID, asp.PromptResponse{StopReason: asp.StopEndTurn})
		return
	}

	for _, step := range turn.Steps {
		if turnCtx.Err() != nil {
			a.codec.WriteResult(reqID, asp.PromptResponse{StopReason: asp.StopCancelled})
			return
		}
		if err := a.runStep(turnCtx, params.SessionID, step); err != nil {
			if turnCtx.Err() != nil {
				a.codec.WriteResult(reqID, asp.PromptResponse{StopReason: asp.StopCancelled})
				return
			}
			a.logger.Warn("step failed", "session_id", string(params.SessionID), "error", err)
		}
	}

	a.codec.WriteResult(reqID, asp.PromptResponse{StopReason: asp.StopReason(turn.StopReason)})
}

func (a *Agent) runStep(ctx context.Context, id asp.SessionID, step Step) error {
	switch {
	case step.Say != "":
		a.say(id, step.Say)
		return nil

	case step.Think != "":
		return a.update(id, asp.SessionUpdate{
			AgentThoughtChunk: &asp.MessageChunk{Content: asp.Text(step.Think)},
		})

	case len(step.Plan) > 0:
		entries := make([]asp.PlanEntry, len(step.Plan))
		for i, p := range step.Plan {
			entries[i] = asp.PlanEntry{
				Content:  p.Content,
				Priority: asp.PlanEntryPriority(p.Priority),
				Status:   asp.PlanEntryStatus(p.Status),
			}
		}
		return a.update(id, asp.SessionUpdate{Plan: &asp.Plan{Entries: entries}})

	case step.Tool != nil:
		return a.runToolStep(id, step.Tool)

	case step.Permission != nil:
		return a.runPermissionStep(ctx, id, step.Permission)

	case step.ReadFile != "":
		var resp asp.ReadTextFileResponse
		err := a.call(ctx, asp.MethodReadTextFile, asp.ReadTextFileRequest{
			SessionID: id, Path: step.ReadFile,
		}, &resp)
		if err != nil {
			a.say(id, fmt.Sprintf("read %s failed: %v", step.ReadFile, err))
			return err
		}
		a.say(id, resp.Content)
		return nil

	case step.WriteFile != nil:
		err := a.call(ctx, asp.MethodWriteTextFile, asp.WriteTextFileRequest{
			SessionID: id, Path: step.WriteFile.Path, Content: step.WriteFile.Content,
		}, &asp.WriteTextFileResponse{})
		if err != nil {
			a.say(id, fmt.Sprintf("write %s failed: %v", step.WriteFile.Path, err))
			return err
		}
		a.say(id, "wrote "+step.WriteFile.Path)
		return nil

	default:
		return fmt.Errorf("empty step")
	}
}

func (a *Agent) runToolStep(id asp.SessionID, tool *ToolStep) error {
	callID := tool.ID
	if callID == "" {
		callID = uuid.New().String()
	}
	err := a.update(id, asp.SessionUpdate{ToolCall: &asp.ToolCall{
		ToolCallID: callID,
		Title:      tool.Title,
		Kind:       asp.ToolKind(tool.Kind),
		Status:     asp.ToolCallInProgress,
	}})
	if err != nil {
		return err
	}

	final := asp.ToolCallStatus(tool.Status)
	if final == "" {
		final = asp.ToolCallCompleted
	}
	return a.update(id, asp.SessionUpdate{ToolCallUpdate: &asp.ToolCallUpdate{
		ToolCallID: callID,
		Status:     &final,
	}})
}

func (a *Agent) runPermissionStep(ctx context.Context, id asp.SessionID, perm *PermissionStep) error {
	options := make([]asp.PermissionOption, len(perm.Options))
	for i, o := range perm.Options {
		options[i] = asp.PermissionOption{
			OptionID: o.ID,
			Name:     o.Name,
			Kind:     asp.PermissionOptionKind(o.Kind),
		}
	}

	var resp asp.RequestPermissionResponse
	err := a.call(ctx, asp.MethodRequestPermission, asp.RequestPermissionRequest{
		SessionID: id,
		ToolCall:  asp.ToolCall{ToolCallID: uuid.New().String(), Title: perm.Title},
		Options:   options,
	}, &resp)
	if err != nil {
		return err
	}

	if resp.Outcome.Outcome == asp.OutcomeSelected {
		a.say(id, "permission: "+resp.Outcome.OptionID)
	} else {
		a.say(id, "permission: cancelled")
	}
	return nil
}

func (a *Agent) say(id asp.SessionID, text string) {
	a.update(id, asp.SessionUpdate{
		AgentMessageChunk: &asp.MessageChunk{Content: asp.Text(text)},
	})
}

func (a *Agent) update(id asp.SessionID, update asp.SessionUpdate) error {
	return a.codec.WriteNotification(asp.MethodSessionUpdate, asp.SessionNotification{
		SessionID: id,
		Update:    update,
	})
}

// call issues a client-bound request and waits for the host's response.
func (a *Agent) call(ctx context.Context, method string, params, result any) error {
	id := a.codec.NextRequestID()
	ch := make(chan *wire.Response, 1)

	a.pendingMu.Lock()
	a.pending[id] = ch
	a.pendingMu.Unlock()

	if err := a.codec.WriteRequestID(id, method, params); err != nil {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
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
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
		return ctx.Err()
	}
}
