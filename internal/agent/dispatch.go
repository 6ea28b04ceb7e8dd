// ABOUTME: Routes agent-initiated requests and notifications to the host
// ABOUTME: Per-session FIFO workers keep wire order without cross-session stalls

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/2389/loom/internal/asp"
	"github.com/2389/loom/internal/wire"
)

// routeRequest hands an agent-initiated request to the session's dispatch
// worker. The reader goroutine only decodes and enqueues; anything that can
// suspend (a permission prompt, a file read) runs on the worker so one
// session's stall never holds up another's traffic.
func (c *Connection) routeRequest(req *wire.Request) {
	switch req.Method {
	case asp.MethodRequestPermission:
		var params asp.RequestPermissionRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.respondError(req.ID, asp.InvalidParams(err.Error()))
			return
		}
		c.enqueue(params.SessionID, func() { c.handleRequestPermission(req.ID, params) })

	case asp.MethodReadTextFile:
		var params asp.ReadTextFileRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.respondError(req.ID, asp.InvalidParams(err.Error()))
			return
		}
		c.enqueue(params.SessionID, func() { c.handleReadTextFile(req.ID, params) })

	case asp.MethodWriteTextFile:
		var params asp.WriteTextFileRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.respondError(req.ID, asp.InvalidParams(err.Error()))
			return
		}
		c.enqueue(params.SessionID, func() { c.handleWriteTextFile(req.ID, params) })

	default:
		c.respondError(req.ID, asp.MethodNotFound(req.Method))
	}
}

// routeNotification dispatches an agent-initiated notification. There is no
// reply channel, so failures go to the error sink.
func (c *Connection) routeNotification(note *wire.Notification) {
	if note.Method != asp.MethodSessionUpdate {
		c.errorSink(fmt.Errorf("unknown notification method %q", note.Method))
		return
	}

	var params asp.SessionNotification
	if err := json.Unmarshal(note.Params, &params); err != nil {
		c.errorSink(fmt.Errorf("decoding session update: %w", err))
		return
	}
	c.enqueue(params.SessionID, func() { c.handleSessionUpdate(params) })
}

// handleRequestPermission resolves the session and forwards the prompt to
// the host. The call blocks this session's worker until the user answers or
// the prompt is abandoned; abandonment (a cancelled outcome or a context
// cancellation from the host) reaches the agent as a cancelled outcome,
// exactly once, never a hang.
func (c *Connection) handleRequestPermission(id json.RawMessage, params asp.RequestPermissionRequest) {
	if _, ok := c.registry.lookup(params.SessionID); !ok {
		c.respondError(id, asp.SessionNotFound(params.SessionID))
		return
	}

	outcome, err := c.client.RequestPermission(c.lifeCtx, PermissionRequest{
		SessionID: params.SessionID,
		ToolCall:  params.ToolCall,
		Options:   params.Options,
	})
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		c.respondResult(id, asp.RequestPermissionResponse{Outcome: asp.Cancelled()})
	case err != nil:
		c.respondError(id, asp.InternalError(err))
	case outcome.Cancelled:
		c.respondResult(id, asp.RequestPermissionResponse{Outcome: asp.Cancelled()})
	default:
		c.respondResult(id, asp.RequestPermissionResponse{Outcome: asp.Selected(outcome.OptionID)})
	}
}

// handleReadTextFile proxies a file read through the host. Reads must never
// create a missing file; the host's error comes back as an internal error.
func (c *Connection) handleReadTextFile(id json.RawMessage, params asp.ReadTextFileRequest) {
	if _, ok := c.registry.lookup(params.SessionID); !ok {
		c.respondError(id, asp.SessionNotFound(params.SessionID))
		return
	}

	content, err := c.client.ReadTextFile(c.lifeCtx, params)
	if err != nil {
		c.respondError(id, asp.InternalError(err))
		return
	}
	c.respondResult(id, asp.ReadTextFileResponse{Content: content})
}

// handleWriteTextFile proxies a file write through the host.
func (c *Connection) handleWriteTextFile(id json.RawMessage, params asp.WriteTextFileRequest) {
	if _, ok := c.registry.lookup(params.SessionID); !ok {
		c.respondError(id, asp.SessionNotFound(params.SessionID))
		return
	}

	if err := c.client.WriteTextFile(c.lifeCtx, params); err != nil {
		c.respondError(id, asp.InternalError(err))
		return
	}
	c.respondResult(id, asp.WriteTextFileResponse{})
}

// handleSessionUpdate applies one update to its session in wire order. An
// unknown session or a failed application is reported, not fatal.
func (c *Connection) handleSessionUpdate(params asp.SessionNotification) {
	s, ok := c.registry.lookup(params.SessionID)
	if !ok {
		c.errorSink(fmt.Errorf("%w: update for session %s", ErrSessionNotFound, params.SessionID))
		return
	}
	if err := s.Apply(params.Update); err != nil {
		c.errorSink(fmt.Errorf("applying update to session %s: %w", params.SessionID, err))
	}
}

func (c *Connection) respondResult(id json.RawMessage, result any) {
	if err := c.codec.WriteResult(id, result); err != nil {
		c.logger.Debug("writing response", "error", err)
	}
}

func (c *Connection) respondError(id json.RawMessage, reqErr *asp.RequestError) {
	if err := c.codec.WriteError(id, reqErr); err != nil {
		c.logger.Debug("writing error response", "error", err)
	}
}

// enqueue appends a task to the session's FIFO worker, creating the worker
// on first use. After teardown tasks are discarded; any response the agent
// was owed has already been superseded by the dead transport.
func (c *Connection) enqueue(id asp.SessionID, task func()) {
	c.queuesMu.Lock()
	q, ok := c.queues[id]
	if !ok {
		select {
		case <-c.done:
			c.queuesMu.Unlock()
			return
		default:
		}
		q = newDispatchQueue()
		c.queues[id] = q
		go q.run()
	}
	c.queuesMu.Unlock()

	q.push(task)
}

// dropQueue stops a session's worker once its remaining tasks have run.
func (c *Connection) dropQueue(id asp.SessionID) {
	c.queuesMu.Lock()
	q, ok := c.queues[id]
	delete(c.queues, id)
	c.queuesMu.Unlock()
	if ok {
		q.close()
	}
}

// dispatchQueue is an unbounded FIFO with a single worker goroutine. The
// reader must never block on a full buffer — a session stuck behind a
// permission prompt can accumulate any number of queued updates — so the
// queue grows instead of applying backpressure.
type dispatchQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{wake: make(chan struct{}, 1)}
}

func (q *dispatchQueue) push(task func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *dispatchQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run drains tasks in push order until closed and empty.
func (q *dispatchQueue) run() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			continue
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}
