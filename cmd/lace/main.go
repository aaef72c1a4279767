// Package main provides the CLI entry point for Lace, an agentic session
// runner: it wires a provider (Anthropic, OpenAI, or Bedrock), a thread
// store, the tool/approval/delegation machinery, and a token budget into
// one interactive loop against a single thread.
//
// # Basic Usage
//
// Start a new session:
//
//	lace chat
//
// Resume a specific thread:
//
//	lace chat --thread lace_20260101_abcdef
//
// Resume the most recently active thread:
//
//	lace continue
//
// # Environment Variables
//
//   - LACE_CONFIG: path to the YAML config file (default: lace.yaml)
//   - LACE_PROVIDER, LACE_MODEL, LACE_MAX_TOKENS, LACE_WORKSPACE: config overrides
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: provider credentials
//   - LACE_STORE: "sqlite:<path>" or "postgres:<dsn>" to persist thread state
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lacehq/lace/internal/config"
	"github.com/lacehq/lace/pkg/models"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitCodeError carries a specific process exit code out of a command's
// RunE without cobra printing it as a generic error.
type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if ec, ok := err.(exitCodeError); ok {
			os.Exit(ec.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}

func buildRootCmd() *cobra.Command {
	defaultConfigPath := "lace.yaml"
	if v := os.Getenv("LACE_CONFIG"); v != "" {
		defaultConfigPath = v
	}
	var configPath string
	var threadFlag string

	rootCmd := &cobra.Command{
		Use:     "lace",
		Short:   "Lace - a single-thread agentic session runner",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Long: `Lace drives one Agent against one conversation thread: USER_MESSAGE in,
tool calls negotiated through an approval chain, AGENT_MESSAGE out.

Supported providers: Anthropic (Claude), OpenAI (GPT), Amazon Bedrock.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&threadFlag, "thread", "", "thread id to resume; a fresh thread is created if empty")

	rootCmd.AddCommand(buildChatCmd(&configPath, &threadFlag))
	rootCmd.AddCommand(buildContinueCmd(&configPath))
	rootCmd.AddCommand(buildCompactCmd(&configPath))

	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = "lace.yaml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no config file at %q; pass --config or set LACE_CONFIG (see SPEC_FULL.md for the schema)", path)
	}
	return config.Load(path)
}

func buildChatCmd(configPath, threadFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start or resume an interactive session on one thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), *configPath, *threadFlag, false)
		},
	}
}

func buildContinueCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "continue",
		Short: "Resume the most recently active thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), *configPath, "", true)
		},
	}
}

func buildCompactCmd(configPath *string) *cobra.Command {
	var threadFlag string
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Summarize a thread's oldest history in place, without starting a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(cmd.Context(), *configPath, threadFlag)
		},
	}
	cmd.Flags().StringVar(&threadFlag, "thread", "", "thread id to compact (required)")
	return cmd
}

func runChat(ctx context.Context, configPath, threadFlag string, preferContinue bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)
	d, err := buildDeps(ctx, cfg, stdin)
	if err != nil {
		return err
	}
	defer d.shutdown(context.Background())

	threadID, isResumed, err := resolveThread(ctx, d, threadFlag, preferContinue)
	if err != nil {
		return err
	}
	if isResumed {
		fmt.Fprintf(os.Stderr, "resumed %s\n", threadID)
	} else {
		fmt.Fprintf(os.Stderr, "new thread %s\n", threadID)
	}

	a, err := d.agentFor(threadID)
	if err != nil {
		return err
	}

	code := runSession(ctx, &session{
		agent: a,
		compact: func(ctx context.Context) error {
			return d.compactor.Compact(ctx, threadID)
		},
	})
	if code != exitOK {
		return exitCodeError{code: code}
	}
	return nil
}

func runCompact(ctx context.Context, configPath, threadIDStr string) error {
	id := models.ThreadID(threadIDStr)
	if threadIDStr == "" || !id.Valid() {
		return fmt.Errorf("--thread must name a valid, existing thread id")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	stdin := bufio.NewReader(os.Stdin)
	d, err := buildDeps(ctx, cfg, stdin)
	if err != nil {
		return err
	}
	defer d.shutdown(context.Background())

	return d.compactor.Compact(ctx, id)
}

// resolveThread resolves --thread (or "continue") into the thread id a
// session should attach to. With an explicit threadFlag it resumes or
// adopts that id; otherwise preferContinue (the "continue" subcommand)
// resumes the most recently active thread if one exists, and "chat" starts
// a fresh one.
func resolveThread(ctx context.Context, d *deps, threadFlag string, preferContinue bool) (models.ThreadID, bool, error) {
	if threadFlag == "" && preferContinue {
		if id, err := continueThread(ctx, d.store); err == nil {
			return id, true, nil
		}
	}
	return resumeOrCreateThread(ctx, d.store, threadFlag)
}
