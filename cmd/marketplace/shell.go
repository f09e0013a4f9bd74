package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const prompt = "marketplace> "

// runShell reads commands line by line until exit or end of input. Each
// line runs on a fresh command tree sharing a's services, so flag values do
// not leak between lines.
func runShell(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Marketplace Matching Service CLI (Interactive Mode)")
	fmt.Fprintln(out, "Type 'help' for available commands. Type 'exit' to quit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "exit"):
			return nil
		}

		args := splitCommandLine(line)
		if len(args) == 0 {
			continue
		}
		if strings.EqualFold(args[0], "help") {
			args = append([]string{"help"}, args[1:]...)
		}

		cmd := newRootCmd(a, nil)
		cmd.SetArgs(args)
		cmd.SetOut(out)
		cmd.SetErr(out)
		if err := cmd.ExecuteContext(ctx); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

// splitCommandLine splits on spaces outside double quotes. Quotes are
// removed; an empty quoted argument is dropped.
func splitCommandLine(line string) []string {
	var (
		args    []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if current.Len() > 0 {
			args = append(args, current.String())
			current.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			if !quoted {
				flush()
			}
		case (r == ' ' || r == '\t') && !quoted:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return args
}
