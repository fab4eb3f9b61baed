package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

// answerKind is what the operator typed at a prompt.
type answerKind int

const (
	answerRespond answerKind = iota
	answerPause              // pause the session and exit
	answerLeave              // exit, leaving the prompt open
)

const promptHelp = `Enter a number to choose a candidate, or:
  s                skip this row
  q <text>         search again with new text
  id <catalog id>  use a catalog id (also igdb:123 or steam:456)
  p                pause the session and exit
  x                exit and answer later`

// parseAnswer turns one line of operator input into a response.
func parseAnswer(line string, p *core.PendingPrompt) (core.Response, answerKind, error) {
	resp := core.Response{Token: p.Token}
	line = strings.TrimSpace(line)

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "s", "skip":
		resp.Action = core.ActionSkip
		return resp, answerRespond, nil
	case "q", "search", "requery":
		if rest == "" {
			return resp, answerRespond, errors.New("search needs text, e.g. q chrono trigger")
		}
		resp.Action = core.ActionRequery
		resp.Value = rest
		return resp, answerRespond, nil
	case "id":
		if rest == "" {
			return resp, answerRespond, errors.New("id needs a catalog id, e.g. id ct-1995")
		}
		resp.Action = core.ActionManualID
		resp.Value = rest
		return resp, answerRespond, nil
	case "p", "pause":
		return resp, answerPause, nil
	case "x", "exit", "quit":
		return resp, answerLeave, nil
	}

	if p.Kind == core.PromptFreeText && line != "" {
		resp.Action = core.ActionRequery
		resp.Value = line
		return resp, answerRespond, nil
	}

	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(p.Candidates) {
		return resp, answerRespond, fmt.Errorf("unrecognized answer %q", line)
	}
	resp.Action = core.ActionChoose
	resp.Value = p.Candidates[n-1].ID
	return resp, answerRespond, nil
}

func printPrompt(w io.Writer, p *core.PendingPrompt) error {
	fmt.Fprintf(w, "\nRow %d: %q\n", p.RowIndex+1, p.Subject)
	if p.Message != "" {
		fmt.Fprintln(w, p.Message)
	}
	if len(p.Candidates) > 0 {
		if err := renderTable(w, candidateTable(p)); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "No catalog matches for %q. Type new search text.\n", p.Query)
	}
	fmt.Fprintln(w, promptHelp)
	return nil
}

// console answers prompts interactively until the session stops waiting
// on the operator.
type console struct {
	service *core.Service
	owner   string
	in      *bufio.Reader
	out     io.Writer
}

// drive loops over prompts starting from out.
func (c *console) drive(ctx context.Context, out core.Outcome) (core.Outcome, error) {
	for out.State == core.RunSuspended && out.Prompt != nil {
		p := out.Prompt
		if err := printPrompt(c.out, p); err != nil {
			return out, err
		}

		fmt.Fprint(c.out, "> ")
		line, err := c.in.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return out, fmt.Errorf("read answer: %w", err)
			}
			if strings.TrimSpace(line) == "" {
				fmt.Fprintln(c.out, "\nInput closed; the prompt stays open.")
				return out, nil
			}
		}

		resp, kind, perr := parseAnswer(line, p)
		if perr != nil {
			fmt.Fprintln(c.out, perr)
			continue
		}
		switch kind {
		case answerPause:
			sess, err := c.service.Pause(ctx, c.owner)
			if err != nil {
				return out, err
			}
			fmt.Fprintln(c.out, "Session paused. Continue with: importctl resume")
			return core.Outcome{State: core.RunStopped, Status: sess.Status}, nil
		case answerLeave:
			fmt.Fprintln(c.out, "The prompt stays open. Answer with: importctl respond")
			return out, nil
		}

		next, err := c.service.Respond(ctx, c.owner, resp)
		if errors.Is(err, core.ErrInvalidResponse) {
			fmt.Fprintln(c.out, core.MapError(err).Message)
			continue
		}
		if err != nil {
			return out, err
		}
		out = next
	}
	return out, nil
}
