package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hpungsan/claimdesk/internal/diff"
	"github.com/hpungsan/claimdesk/internal/errors"
	"github.com/hpungsan/claimdesk/internal/proposal"
	"github.com/hpungsan/claimdesk/internal/session"
)

const replHelp = `Commands:
  <text>              ask the agent for changes
  /summary            propose a new or updated summary
  /pending            list proposals awaiting a decision
  /accept <n|token>   apply a pending proposal
  /discard <n|token>  drop a pending proposal
  /help               show this help
  /quit               end the session`

// repl drives one session from line-oriented input.
type repl struct {
	s   *session.Session
	out io.Writer
}

// runREPL reads commands until /quit, EOF, or ctx is done.
func runREPL(ctx context.Context, s *session.Session, in io.Reader, out io.Writer) error {
	r := &repl{s: s, out: out}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdinBytes)

	fmt.Fprintf(out, "Session for claim %d. Type /help for commands.\n", s.ClaimID)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := r.handle(ctx, line); quit {
			return nil
		}
	}
}

// handle runs one input line and reports whether the session should end.
func (r *repl) handle(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		turn, err := r.s.SendMessage(ctx, line)
		r.report(turn, err)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/summary":
		turn, err := r.s.GenerateSummary(ctx)
		r.report(turn, err)
	case "/pending":
		r.printPending()
	case "/accept":
		token, err := r.resolve(arg)
		if err != nil {
			r.printError(err)
			return false
		}
		turn, err := r.s.Accept(ctx, token)
		r.report(turn, err)
	case "/discard":
		token, err := r.resolve(arg)
		if err != nil {
			r.printError(err)
			return false
		}
		entry, err := r.s.Discard(token)
		if err != nil {
			r.printError(err)
			return false
		}
		fmt.Fprintf(r.out, "Discarded proposal for %s.\n", entry.Proposal.TargetName)
	default:
		fmt.Fprintf(r.out, "Unknown command %s. Type /help for commands.\n", cmd)
	}
	return false
}

// resolve maps a 1-based pending index or a token to a token.
func (r *repl) resolve(arg string) (string, error) {
	if arg == "" {
		return "", errors.NewInvalidRequest("a proposal number or token is required")
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg, nil
	}
	pending := r.s.Pending()
	if n < 1 || n > len(pending) {
		return "", errors.NewInvalidRequest(fmt.Sprintf("no pending proposal #%d", n))
	}
	return pending[n-1].Token, nil
}

func (r *repl) report(turn *session.Turn, err error) {
	if err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.out, turn.Content)
	if turn.Error != nil {
		return
	}
	if turn.Applied != nil {
		fmt.Fprintf(r.out, "  %s %d (%s)\n", turn.Applied.Type, turn.Applied.TargetID, turn.Applied.TargetName)
	}
	if len(turn.Proposals) > 0 {
		r.printPending()
	}
}

func (r *repl) printPending() {
	pending := r.s.Pending()
	if len(pending) == 0 {
		fmt.Fprintln(r.out, "No pending proposals.")
		return
	}
	for i, p := range pending {
		printProposal(r.out, i+1, p)
	}
}

func (r *repl) printError(err error) {
	dErr := errors.As(err)
	fmt.Fprintf(r.out, "[%s] %s\n", dErr.Code, dErr.Message)
}

func printProposal(out io.Writer, n int, p *proposal.Proposal) {
	action := "update"
	if p.IsCreate() {
		action = "create"
	}
	added, removed := diff.Stats(p.Diff)
	fmt.Fprintf(out, "\n#%d %s %s %q (+%d -%d) token=%s\n", n, action, p.Type, p.TargetName, added, removed, p.Token)
	if p.Diff != "" {
		fmt.Fprintln(out, strings.TrimRight(p.Diff, "\n"))
	}
}
