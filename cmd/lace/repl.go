package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lacehq/lace/internal/agent"
	"github.com/lacehq/lace/pkg/models"
)

// exit codes per the external interface contract: normal completion, an
// unrecoverable error, or a user-initiated interrupt.
const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

const (
	userSource     = models.SourceUser
	normalPriority = models.PriorityNormal
)

// session wires stdin, signal handling, and the agent's event stream into
// one interactive loop.
type session struct {
	agent   *agent.Agent
	compact func(ctx context.Context) error
}

func runSession(parent context.Context, s *session) int {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	interrupted := false
	go func() {
		<-ctx.Done()
		if parent.Err() == nil { // signal, not a pre-cancelled parent
			interrupted = true
			s.agent.Abort()
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Fprintln(os.Stderr, "lace ready. type a message, or /compact to summarize older history. Ctrl-C to stop.")
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/compact" {
			if err := s.compact(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "compact failed: %v\n", err)
			} else {
				fmt.Fprintln(os.Stderr, "compacted.")
			}
			continue
		}

		if err := s.agent.SendMessage(ctx, line, userSource, normalPriority); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			if interrupted {
				return exitInterrupted
			}
			return exitError
		}
		if interrupted {
			return exitInterrupted
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "input error: %v\n", err)
		return exitError
	}
	return exitOK
}

// renderEvent prints the parts of an Agent's event stream a terminal user
// cares about: streamed tokens as they arrive, a marker around tool calls,
// and a human-readable line for turn-level errors. State transitions and
// metrics are left to the structured logger.
func renderEvent(e agent.Event) {
	switch e.Type {
	case agent.EventAgentToken:
		fmt.Print(e.Token)
	case agent.EventTurnComplete, agent.EventTurnAborted:
		fmt.Println()
	case agent.EventToolCallStart:
		fmt.Fprintf(os.Stderr, "\n[calling %s...]\n", e.ToolName)
	case agent.EventToolCallComplete:
		if e.Result != nil && e.Result.IsError {
			fmt.Fprintf(os.Stderr, "[%s failed: %s]\n", e.ToolName, e.Result.Text())
		}
	case agent.EventBudgetWarning:
		fmt.Fprintf(os.Stderr, "\n[%s]\n", e.Message)
	case agent.EventError:
		msg := "an error occurred"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		if strings.Contains(strings.ToLower(msg), "budget") || strings.Contains(strings.ToLower(msg), "token") {
			fmt.Fprintf(os.Stderr, "\nerror: %s (try /compact to free up context)\n", msg)
		} else {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", msg)
		}
	}
}
