package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/mentormesh"
	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/engine"
)

// turnFailedMessage is shown instead of raw provider errors.
const turnFailedMessage = "Sorry, I could not answer that right now. Please try again in a moment."

type queryOptions struct {
	question    string
	sessionID   string
	userName    string
	userRole    string
	defaultUser string
}

func (o queryOptions) name() string {
	if strings.TrimSpace(o.userName) != "" {
		return o.userName
	}

	return o.defaultUser
}

// runQuery answers a single question, or runs a REPL over in until EOF or
// "exit".
func runQuery(ctx context.Context, mesh *mentormesh.Mesh, opts queryOptions, in io.Reader, out io.Writer) error {
	if err := mesh.Initialize(ctx, opts.sessionID, opts.name()); err != nil {
		return err
	}

	if q := strings.TrimSpace(opts.question); q != "" {
		return ask(ctx, mesh, opts, q, out)
	}

	history, err := mesh.History(ctx, opts.sessionID)
	if err != nil {
		return err
	}

	if len(history) == 1 {
		fmt.Fprintln(out, history[0].Text())
		fmt.Fprintln(out)
	}

	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")

		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := ask(ctx, mesh, opts, line, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			fmt.Fprintln(out, turnFailedMessage)
		}
	}
}

func ask(ctx context.Context, mesh *mentormesh.Mesh, opts queryOptions, question string, out io.Writer) error {
	turn := mesh.Invoke(ctx, engine.TurnInput{
		SessionID: opts.sessionID,
		Question:  question,
		UserName:  opts.userName,
		UserRole:  opts.userRole,
	})

	defer fmt.Fprintln(out)

	for tok, err := range turn {
		if err != nil {
			return err
		}

		fmt.Fprint(out, tok)
	}

	return nil
}

func printHistory(ctx context.Context, mesh *mentormesh.Mesh, sessionID string, out io.Writer) error {
	history, err := mesh.History(ctx, sessionID)
	if err != nil {
		return err
	}

	if len(history) == 0 {
		fmt.Fprintf(out, "no messages in session %q\n", sessionID)
		return nil
	}

	for _, m := range history {
		fmt.Fprintf(out, "[%s] %s\n", label(m), describe(m))
	}

	return nil
}

func label(m core.Message) string {
	if m.Origin == "" {
		return string(m.Role)
	}

	return string(m.Role) + "/" + m.Origin
}

func describe(m core.Message) string {
	switch m.Role {
	case core.RoleTool:
		var parts []string

		for _, fr := range m.ToolResponses() {
			if fr.Error != "" {
				parts = append(parts, fmt.Sprintf("%s failed: %s", fr.Name, fr.Error))
				continue
			}

			parts = append(parts, fmt.Sprintf("%s returned %d chars", fr.Name, len(fr.Text())))
		}

		return strings.Join(parts, "; ")
	case core.RoleAI:
		text := m.Text()

		for _, fc := range m.ToolCalls() {
			text = strings.TrimSpace(text + fmt.Sprintf(" (calls %s %s)", fc.Name, fc.Arguments))
		}

		return text
	default:
		return m.Text()
	}
}
