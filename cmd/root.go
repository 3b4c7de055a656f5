package cmd

import (
	"context"
	"fmt"
	"strings"
)

// command is a single CLI subcommand.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

func commands() []command {
	return []command{
		{name: "serve", summary: "Start the HTTP server", run: serve},
		{name: "help", summary: "Show this help message", run: func(context.Context, []string) error {
			return printUsage()
		}},
	}
}

// Execute dispatches the CLI arguments to the matching subcommand.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return printUsage()
	}

	for _, cmd := range commands() {
		if cmd.name == args[0] {
			return cmd.run(ctx, args[1:])
		}
	}
	return fmt.Errorf("unknown command %q, run \"llmbridge help\" for usage", args[0])
}

func printUsage() error {
	var b strings.Builder
	b.WriteString("llmbridge is a unified gateway for OpenAI-compatible LLM providers.\n\n")
	b.WriteString("Usage:\n  llmbridge <command> [flags]\n\nCommands:\n")
	for _, cmd := range commands() {
		fmt.Fprintf(&b, "  %-8s %s\n", cmd.name, cmd.summary)
	}
	fmt.Print(b.String())
	return nil
}
