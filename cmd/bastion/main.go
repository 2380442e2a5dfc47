// Package main provides the CLI entry point for the bastion agent.
//
// The agent manages a small fleet of servers through an LLM-driven tool
// pipeline with per-role command allowlists, human approval for destructive
// operations, and an append-only audit log.
//
// # Basic Usage
//
// Interactive session on the bastion host:
//
//	bastion run
//
// Long-lived daemon plus thin client:
//
//	bastion daemon
//	bastion send "is web-1 healthy?"
//
// Validate a config without starting anything:
//
//	bastion check-config
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: API key, required for run and daemon
//   - BASTION_AGENT_CONFIG: path to the config file
//   - BASTION_AGENT_LOG_LEVEL: debug, info, warn or error
package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/bastion/internal/agent"
	"github.com/haasonsaas/bastion/internal/audit"
	"github.com/haasonsaas/bastion/internal/config"
	"github.com/haasonsaas/bastion/internal/daemon"
	"github.com/haasonsaas/bastion/internal/dispatch"
	"github.com/haasonsaas/bastion/internal/security"
	"github.com/haasonsaas/bastion/internal/sessions"
	"github.com/haasonsaas/bastion/internal/term"
	"github.com/haasonsaas/bastion/internal/tools"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v0.3.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

const exitInterrupt = 130

var (
	flagConfigDir string
	flagLogLevel  string
	flagVerbose   bool
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// exitError carries a specific process exit code up through cobra.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bastion",
		Short:         "LLM-driven infrastructure agent with a secure tool pipeline",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "shorthand for --log-level debug")

	rootCmd.AddCommand(buildRunCmd())
	rootCmd.AddCommand(buildDaemonCmd())
	rootCmd.AddCommand(buildSendCmd())
	rootCmd.AddCommand(buildCheckConfigCmd())
	rootCmd.AddCommand(buildSessionsCmd())
	return rootCmd
}

func setupLogging() {
	level := slog.LevelInfo
	name := flagLogLevel
	if name == "" {
		name = os.Getenv("BASTION_AGENT_LOG_LEVEL")
	}
	if flagVerbose {
		name = "debug"
	}
	switch strings.ToLower(name) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func configPath() string {
	if flagConfigDir != "" {
		return filepath.Join(flagConfigDir, "config.yaml")
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Inventory().Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildStack assembles the full agent: inventory, audit log, registry,
// dispatcher, provider and conversation loop.
func buildStack(cfg *config.Config, renderer agent.Renderer, approver security.Approver) (*agent.Loop, *audit.Logger, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}

	inv := cfg.Inventory()
	auditLog, err := audit.NewLogger(cfg.AuditConfigFor())
	if err != nil {
		return nil, nil, err
	}

	registry := dispatch.NewRegistry()
	if err := registry.RegisterAll(tools.All(inv)); err != nil {
		auditLog.Close()
		return nil, nil, err
	}
	dispatcher := dispatch.NewDispatcher(dispatch.Options{
		Registry: registry,
		Inv:      inv,
		Audit:    auditLog,
		Approver: approver,
		Timeout:  time.Duration(cfg.CommandTimeout) * time.Second,
	})

	notify := func(string) {}
	if renderer != nil {
		notify = renderer.Info
	}
	provider := agent.NewAnthropicProvider(apiKey, cfg.Model, cfg.MaxTokens, notify)

	loop := agent.NewLoop(agent.LoopOptions{
		Provider:              provider,
		Kernel:                dispatcher,
		Renderer:              renderer,
		System:                agent.BuildSystemPrompt(inv),
		MaxToolIterations:     cfg.MaxToolIterations,
		MaxConversationTokens: cfg.MaxConversationTokens,
	})
	return loop, auditLog, nil
}

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run an interactive session in this terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			renderer := term.NewRenderer()
			loop, auditLog, err := buildStack(cfg, renderer, term.NewInteractiveApprover())
			if err != nil {
				return err
			}
			defer auditLog.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sessionID := sessions.NewID()
			auditLog.SessionStart(sessionID)
			defer auditLog.SessionEnd(sessionID)

			renderer.Info("bastion agent ready. /quit to exit, /reset to clear, /tools to list tools.")
			err = loop.Run(ctx, os.Stdin)
			if ctx.Err() != nil {
				return exitError{code: exitInterrupt}
			}
			if err != nil {
				return err
			}
			saveFinal(cfg, sessionID, loop)
			return nil
		},
	}
}

// saveFinal persists the interactive history so it shows up in sessions.
func saveFinal(cfg *config.Config, sessionID string, loop *agent.Loop) {
	messages := loop.Messages()
	if len(messages) == 0 {
		return
	}
	store, err := sessions.NewStore(cfg.SessionsDir)
	if err != nil {
		slog.Error("session store unavailable", "error", err)
		return
	}
	if err := store.Save(sessionID, messages); err != nil {
		slog.Error("session save failed", "session", sessionID, "error", err)
	}
}

func buildDaemonCmd() *cobra.Command {
	var socketPath string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start the long-lived agent daemon on a unix socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if socketPath != "" {
				cfg.Socket = socketPath
			}

			// No terminal behind the daemon: approval-flagged operations
			// are denied rather than silently allowed.
			loop, auditLog, err := buildStack(cfg, nil, security.AutoDeny{})
			if err != nil {
				return err
			}
			defer auditLog.Close()

			store, err := sessions.NewStore(cfg.SessionsDir)
			if err != nil {
				return err
			}

			server := daemon.NewServer(daemon.ServerOptions{
				SocketPath:    cfg.Socket,
				Loop:          loop,
				Store:         store,
				Audit:         auditLog,
				MetricsListen: cfg.MetricsListen,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "socket path override")
	return cmd
}

func buildSendCmd() *cobra.Command {
	var (
		socketPath  string
		resumeID    string
		interactive bool
		listOnly    bool
	)
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message to the running daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if listOnly {
				return listSessions()
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if socketPath != "" {
				cfg.Socket = socketPath
			}
			if interactive {
				return sendInteractive(cfg.Socket, resumeID)
			}
			if len(args) == 0 {
				return fmt.Errorf("message required (or use -i for interactive mode)")
			}
			return sendOnce(cfg.Socket, args[0], resumeID)
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "socket path override")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume a stored session by id")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "interactive client session")
	cmd.Flags().BoolVar(&listOnly, "sessions", false, "list stored sessions and exit")
	return cmd
}

// watchInterrupt wires Ctrl-C to transport-level cancel: the first signal
// sends a cancel frame, the second closes the connection. Returns a channel
// closed after the second signal.
func watchInterrupt(client *daemon.Client) (stop func(), killed <-chan struct{}) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})
	dead := make(chan struct{})
	go func() {
		fired := false
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				if !fired {
					fired = true
					client.Cancel()
					continue
				}
				client.Close()
				close(dead)
				return
			}
		}
	}()
	return func() { signal.Stop(sigCh); close(done) }, dead
}

func sendOnce(socketPath, message, resumeID string) error {
	client, err := daemon.Dial(socketPath)
	if err != nil {
		return err
	}
	defer client.Close()

	stop, killed := watchInterrupt(client)
	defer stop()

	if err := client.Send(daemon.ClientFrame{Message: message, Resume: resumeID}); err != nil {
		return err
	}
	renderer := term.NewRenderer()
	if _, err := client.RenderUntilDone(renderer); err != nil {
		select {
		case <-killed:
			return exitError{code: exitInterrupt}
		default:
		}
		return err
	}
	return nil
}

func sendInteractive(socketPath, resumeID string) error {
	client, err := daemon.Dial(socketPath)
	if err != nil {
		return err
	}
	defer client.Close()

	stop, killed := watchInterrupt(client)
	defer stop()

	renderer := term.NewRenderer()
	scanner := newStdinScanner()
	first := true
	for {
		renderer.Prompt()
		if !scanner.Scan() {
			client.Send(daemon.ClientFrame{Message: "/quit"})
			client.RenderUntilDone(renderer)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		frame := daemon.ClientFrame{Message: line}
		if first {
			frame.Resume = resumeID
			first = false
		}
		if err := client.Send(frame); err != nil {
			return err
		}
		goodbye, err := client.RenderUntilDone(renderer)
		if err != nil {
			select {
			case <-killed:
				return exitError{code: exitInterrupt}
			default:
			}
			return err
		}
		if goodbye {
			return nil
		}
	}
}

func newStdinScanner() *bufio.Scanner {
	return bufio.NewScanner(os.Stdin)
}

func buildCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			inv := cfg.Inventory()
			fmt.Printf("Config OK: %s\n", configPath())
			fmt.Printf("  model: %s\n", cfg.Model)
			fmt.Printf("  servers: %d, roles: %d, approval patterns: %d\n",
				len(inv.Servers), len(inv.Roles), len(inv.ApprovalPatterns))
			fmt.Printf("  socket: %s\n", cfg.Socket)
			fmt.Printf("  audit: enabled=%v path=%s\n", cfg.AuditEnabled(), cfg.Audit.Path)
			return nil
		},
	}
}

func buildSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions()
		},
	}
}

func listSessions() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := sessions.NewStore(cfg.SessionsDir)
	if err != nil {
		return err
	}
	list, err := store.List(20)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No stored sessions.")
		return nil
	}
	for _, s := range list {
		fmt.Printf("%s  %s  %2d turns  %s\n",
			s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Turns, s.Preview)
	}
	return nil
}
