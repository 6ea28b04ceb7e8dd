// ABOUTME: Scripted stub agent speaking the session protocol over stdio — for E2E testing.
// ABOUTME: Usage: fake-agent [-script behavior.toml] [-log-level info]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/2389/loom/internal/stubagent"
)

func main() {
	scriptPath := flag.String("script", "", "TOML script file (default: echo behavior)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if err := run(*scriptPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(scriptPath, logLevel string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	// stdout carries the protocol; everything else goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	script := stubagent.DefaultScript()
	if scriptPath != "" {
		var err error
		script, err = stubagent.LoadScript(scriptPath)
		if err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("fake agent ready", "script", scriptPath)
	return stubagent.New(script, logger).Run(ctx, os.Stdin, os.Stdout)
}
