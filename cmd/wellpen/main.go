// Wellpen is a conversational studio for wellness marketing content.
//
// A chat session walks one piece of content through five agent stages:
// briefing, wellness fact checking, hook preview, generation and
// feedback. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	wellpen chat                     Start a new content conversation
//	wellpen resume <id>              Continue a saved conversation
//	wellpen list                     List your saved conversations
//	wellpen export <id>              Print the generated content as HTML
//	wellpen ingest <source> <file>   Import a markdown document into the knowledge base
//	wellpen learnings [approve <id>] Review learnings derived from feedback
//	wellpen usage [days]             Show token usage and cost
//	wellpen init [dir]               Write a starter config and talents
//	wellpen version                  Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nugget/wellpen/internal/buildinfo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// options are the global flags shared by every subcommand.
type options struct {
	configPath string
	outputFmt  string // text or json
	userID     string
}

// run is the real entry point. OS-level dependencies are injected so
// tests can drive every subcommand. Arguments are parsed by hand to keep
// flag's package-level state out of concurrent tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-user" && i+1 < len(args):
			opts.userID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-user="):
			opts.userID = strings.TrimPrefix(args[i], "-user=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}
	if opts.userID == "" {
		opts.userID = defaultUserID()
	}

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, opts, "")
	case "resume":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: wellpen resume <conversation-id>")
		}
		return runChat(ctx, stdin, stdout, stderr, opts, cmdArgs[0])
	case "list":
		return runList(ctx, stdout, stderr, opts)
	case "export":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: wellpen export <conversation-id>")
		}
		return runExport(ctx, stdout, stderr, opts, cmdArgs[0])
	case "ingest":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: wellpen ingest <source> <file.md>")
		}
		return runIngest(ctx, stdout, stderr, opts, cmdArgs[0], cmdArgs[1])
	case "learnings":
		return runLearnings(ctx, stdout, stderr, opts, cmdArgs)
	case "usage":
		return runUsage(ctx, stdout, stderr, opts, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func defaultUserID() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Wellpen - wellness content studio")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: wellpen [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat                      Start a new content conversation")
	fmt.Fprintln(w, "  resume <id>               Continue a saved conversation")
	fmt.Fprintln(w, "  list                      List your saved conversations")
	fmt.Fprintln(w, "  export <id>               Print generated content as HTML (-o json for state)")
	fmt.Fprintln(w, "  ingest <source> <file>    Import a markdown document into the knowledge base")
	fmt.Fprintln(w, "  learnings [approve <id>]  List pending learnings or approve one")
	fmt.Fprintln(w, "  usage [days]              Show token usage and cost (default: 30 days)")
	fmt.Fprintln(w, "  init [dir]                Write a starter config and talents (default: .)")
	fmt.Fprintln(w, "  version                   Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -user <id>        User the conversations belong to (default: $USER)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/wellpen/config.yaml, /etc/wellpen/config.yaml")
	return nil
}
