// Package agent supervises one external agent process and multiplexes any
// number of conversational sessions over its stdio transport.
//
// # Overview
//
// A Connection owns the spawned agent process and its wire codec. It
// performs the initialize handshake, exposes the typed outbound operations
// (NewSession, LoadSession, Authenticate, Prompt, Cancel), and routes every
// inbound envelope either to the pending outbound call it answers or to the
// host through the Client delegate.
//
//	conn, err := agent.Connect(ctx, process.Command{Path: "my-agent"}, client, logger)
//	sess, err := conn.NewSession(ctx, agent.NewSessionParams{Cwd: dir})
//	stop, err := conn.Prompt(ctx, sess.ID(), []asp.ContentBlock{asp.Text("hello")})
//
// # Correlation
//
// Outbound requests carry monotonically increasing correlation ids. Each
// call registers a result channel under its id before the bytes hit the
// wire:
//
//	pending map[uint64]chan *wire.Response
//
// Responses may arrive in any order; the id alone decides which caller
// resolves. A response for an unknown id is logged and dropped.
//
// # Inbound dispatch
//
// One reader goroutine decodes the inbound stream sequentially and enqueues
// each session-scoped request or notification onto that session's FIFO
// worker. Wire order is preserved within a session, while a permission
// prompt blocking one session never stalls another's traffic. Sessions are
// resolved through a registry of weak handles: the connection never keeps a
// host-dropped session alive, and dispatch to a dead or unknown id answers
// the agent with a session-not-found error.
//
// # Exit
//
// Process exit is the only blast-radius event: every registered session is
// told the server exited (with its exit status), the registry empties, all
// pending calls fail, and every later outbound call fails fast with
// ErrConnectionClosed.
package agent
