// ABOUTME: The interactive run subcommand — one live session on the terminal
// ABOUTME: Wires config, store, and connection; renders updates and answers prompts

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/loom/internal/agent"
	"github.com/2389/loom/internal/asp"
	"github.com/2389/loom/internal/config"
	"github.com/2389/loom/internal/process"
	"github.com/2389/loom/internal/session"
	"github.com/2389/loom/internal/store"
)

func runRun(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: loom run <agent>")
	}
	agentName := os.Args[2]

	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	agentCfg, ok := cfg.Agent(agentName)
	if !ok {
		return fmt.Errorf("no agent named %q in %s", agentName, configPath)
	}

	cwd := agentCfg.Cwd
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agent:   %s (%s)\n", agentName, agentCfg.Command)
	green.Print("    ▶ ")
	fmt.Printf("Cwd:     %s\n\n", cwd)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	terminal := newTerminal(os.Stdin)
	conn, err := agent.Connect(ctx, process.Command{
		Path: agentCfg.Command,
		Args: agentCfg.Args,
		Env:  agentCfg.Env,
		Dir:  cwd,
	}, terminal, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	sess, err := newSessionWithAuth(ctx, conn, terminal, cwd)
	if err != nil {
		return err
	}

	if err := st.CreateSession(ctx, &store.SessionRecord{
		ID:        string(sess.ID()),
		AgentName: agentName,
		Cwd:       cwd,
	}); err != nil {
		logger.Warn("persisting session", "error", err)
	}

	fmt.Printf("Session %s — type a prompt, /quit to exit.\n\n", sess.ID())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return renderUpdates(gctx, sess) })
	g.Go(func() error { return promptLoop(gctx, conn, sess, terminal, st, cfg.Session.RequestTimeout) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// newSessionWithAuth creates a session, walking the user through
// authentication when the agent demands it first.
func newSessionWithAuth(ctx context.Context, conn *agent.Connection, terminal *terminalClient, cwd string) (*session.Session, error) {
	sess, err := conn.NewSession(ctx, agent.NewSessionParams{Cwd: cwd})
	if err == nil {
		return sess, nil
	}

	var authErr *agent.AuthRequiredError
	if !errors.As(err, &authErr) {
		return nil, err
	}

	if len(authErr.Methods) == 0 {
		return nil, fmt.Errorf("agent requires authentication but advertised no methods")
	}

	fmt.Println("The agent requires authentication:")
	for i, m := range authErr.Methods {
		fmt.Printf("  %d. %s", i+1, m.Name)
		if m.Description != "" {
			fmt.Printf(" — %s", m.Description)
		}
		fmt.Println()
	}

	choice, err := terminal.choose(len(authErr.Methods))
	if err != nil {
		return nil, fmt.Errorf("reading auth choice: %w", err)
	}

	if err := conn.Authenticate(ctx, authErr.Methods[choice].ID); err != nil {
		return nil, err
	}
	return conn.NewSession(ctx, agent.NewSessionParams{Cwd: cwd})
}

// renderUpdates streams the session's updates to the terminal until the
// session ends.
func renderUpdates(ctx context.Context, sess *session.Session) error {
	magenta := color.New(color.FgMagenta)
	gray := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)

	updates := sess.Updates(ctx)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				if status, exited := sess.ExitStatus(); exited {
					return fmt.Errorf("agent exited with status %d", status)
				}
				return nil
			}
			switch {
			case update.AgentMessageChunk != nil:
				fmt.Print(update.AgentMessageChunk.Content.Text)
			case update.AgentThoughtChunk != nil:
				gray.Print(update.AgentThoughtChunk.Content.Text)
			case update.ToolCall != nil:
				magenta.Printf("\n[tool] %s\n", update.ToolCall.Title)
			case update.ToolCallUpdate != nil && update.ToolCallUpdate.Status != nil:
				magenta.Printf("[tool] %s → %s\n", update.ToolCallUpdate.ToolCallID, *update.ToolCallUpdate.Status)
			case update.Plan != nil:
				yellow.Println("\n[plan]")
				for _, e := range update.Plan.Entries {
					yellow.Printf("  - [%s] %s\n", e.Status, e.Content)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// promptLoop reads prompts from the terminal and runs one turn per line,
// persisting the transcript as it grows. timeout bounds a single turn; zero
// means unbounded.
func promptLoop(ctx context.Context, conn *agent.Connection, sess *session.Session, terminal *terminalClient, st store.Store, timeout time.Duration) error {
	saved := 0
	for {
		line, err := terminal.readLine("> ")
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		turnCtx := ctx
		var turnCancel context.CancelFunc
		if timeout > 0 {
			turnCtx, turnCancel = context.WithTimeout(ctx, timeout)
		}
		stop, err := conn.Prompt(turnCtx, sess.ID(), []asp.ContentBlock{asp.Text(line)})
		if turnCancel != nil {
			turnCancel()
		}
		fmt.Println()
		if err != nil {
			if errors.Is(err, agent.ErrConnectionClosed) || errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
			continue
		}
		if stop != asp.StopEndTurn {
			color.New(color.FgYellow).Printf("[turn ended: %s]\n", stop)
		}

		saved = persistEntries(ctx, st, sess, saved)
	}
}

// persistEntries writes any transcript entries beyond the already-saved
// prefix and returns the new count. Entries only grow within a turn, so the
// prefix is stable.
func persistEntries(ctx context.Context, st store.Store, sess *session.Session, saved int) int {
	entries := sess.Entries()
	for _, entry := range entries[min(saved, len(entries)):] {
		rec := &store.EntryRecord{
			SessionID: string(sess.ID()),
			Content:   entry.Text,
		}
		switch entry.Kind {
		case session.EntryUserMessage:
			rec.Role = store.RoleUser
		case session.EntryAgentMessage:
			rec.Role = store.RoleAgent
		case session.EntryAgentThought:
			rec.Role = store.RoleAgentThought
		case session.EntryToolCall:
			rec.Role = store.RoleTool
			if entry.ToolCall != nil {
				rec.Content = entry.ToolCall.Title
				rec.ToolName = string(entry.ToolCall.Kind)
				rec.ToolStatus = string(entry.ToolCall.Status)
			}
		}
		if err := st.SaveEntry(ctx, rec); err != nil {
			fmt.Fprintf(os.Stderr, "persisting entry: %v\n", err)
		}
	}
	if err := st.TouchSession(ctx, string(sess.ID())); err != nil && !errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "touching session: %v\n", err)
	}
	return len(entries)
}

// terminalClient serves the agent's inbound calls from the terminal and the
// local filesystem. Stdin is shared between the prompt loop and permission
// prompts; a mutex keeps reads whole.
type terminalClient struct {
	mu     sync.Mutex
	reader *bufio.Reader
}

func newTerminal(r io.Reader) *terminalClient {
	return &terminalClient{reader: bufio.NewReader(r)}
}

func (t *terminalClient) readLine(prompt string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Print(prompt)
	return t.reader.ReadString('\n')
}

// choose reads a 1-based selection up to n, retrying on bad input.
func (t *terminalClient) choose(n int) (int, error) {
	for {
		line, err := t.readLine(fmt.Sprintf("choice [1-%d]: ", n))
		if err != nil {
			return 0, err
		}
		idx, err := strconv.Atoi(strings.TrimSpace(line))
		if err == nil && idx >= 1 && idx <= n {
			return idx - 1, nil
		}
		fmt.Println("invalid choice")
	}
}

func (t *terminalClient) RequestPermission(ctx context.Context, req agent.PermissionRequest) (agent.PermissionOutcome, error) {
	yellow := color.New(color.FgYellow)
	yellow.Printf("\nThe agent wants to run: %s\n", req.ToolCall.Title)
	for i, opt := range req.Options {
		fmt.Printf("  %d. %s\n", i+1, opt.Name)
	}

	idx, err := t.choose(len(req.Options))
	if err != nil {
		// Stdin closed under the prompt; treat as abandoning it.
		return agent.Cancelled(), nil
	}
	return agent.Selected(req.Options[idx].OptionID), nil
}

func (t *terminalClient) ReadTextFile(ctx context.Context, req asp.ReadTextFileRequest) (string, error) {
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return "", err
	}
	return windowLines(string(data), req.Line, req.Limit), nil
}

func (t *terminalClient) WriteTextFile(ctx context.Context, req asp.WriteTextFileRequest) error {
	return os.WriteFile(req.Path, []byte(req.Content), 0644)
}

// windowLines selects the requested slice of a file: line is the 1-based
// first line (0 means the start) and limit caps the line count (0 means no
// cap).
func windowLines(content string, line, limit int) string {
	if line <= 1 && limit <= 0 {
		return content
	}

	lines := strings.SplitAfter(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	start := 0
	if line > 1 {
		start = line - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return strings.Join(lines[start:end], "")
}
