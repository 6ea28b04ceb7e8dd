// ABOUTME: Entry point for the loom host CLI
// ABOUTME: Runs agents interactively, lists persisted sessions, exports transcripts

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/loom/internal/config"
	"github.com/2389/loom/internal/store"
	"github.com/2389/loom/internal/transcript"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _
| | ___   ___  _ __ ___
| |/ _ \ / _ \| '_ ' _ \
| | (_) | (_) | | | | | |
|_|\___/ \___/|_| |_| |_|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: loom <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run <agent>            Start an interactive session with a configured agent")
		fmt.Println("  sessions               List persisted sessions")
		fmt.Println("  export <session-id>    Print a session transcript as Markdown (--html for HTML)")
		fmt.Println("  init                   Create a starter config file")
		fmt.Println("  version                Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runRun(ctx)
	case "sessions":
		err = runSessions(ctx)
	case "export":
		err = runExport(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runSessions(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	sessions, err := st.ListSessions(ctx, 0)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for _, s := range sessions {
		fmt.Printf("%s  %s  %s  ", s.ID, s.AgentName, s.Cwd)
		gray.Printf("%s\n", s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runExport(ctx context.Context) error {
	args := os.Args[2:]
	asHTML := false
	var sessionID string
	for _, arg := range args {
		if arg == "--html" {
			asHTML = true
			continue
		}
		sessionID = arg
	}
	if sessionID == "" {
		return fmt.Errorf("usage: loom export <session-id> [--html]")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	sess, err := st.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	entries, err := st.ListEntries(ctx, sessionID, 0)
	if err != nil {
		return fmt.Errorf("loading entries: %w", err)
	}

	if asHTML {
		html, err := transcript.HTML(sess, entries)
		if err != nil {
			return err
		}
		os.Stdout.Write(html)
		return nil
	}

	fmt.Print(transcript.Markdown(sess, entries))
	return nil
}

const starterConfig = `# loom configuration
agents:
  stub:
    command: "fake-agent"
    # args: ["-script", "behavior.toml"]
    # env:
    #   - "KEY=value"
    # cwd: "/path/to/project"

database:
  path: "${HOME}/.local/share/loom/loom.db"

logging:
  level: "info"
  format: "text"

session:
  request_timeout: "5m"
`

func runInit() error {
	path := config.DefaultPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
// Logs go to stderr; stdout belongs to the conversation.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
