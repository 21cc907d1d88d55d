package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nugget/wellpen/internal/coordinator"
	"github.com/nugget/wellpen/internal/studio"
	"github.com/nugget/wellpen/internal/usage"
)

// runChat starts or resumes a conversation and runs the REPL until EOF,
// /quit or cancellation.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options, resumeID string) error {
	a, err := openApp(stderr, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc, wait, err := a.newServices(ctx)
	if err != nil {
		return err
	}
	defer wait()

	var conv *studio.Conversation
	if resumeID == "" {
		conv, err = svc.studio.Start(ctx, opts.userID)
	} else {
		conv, err = svc.studio.Resume(ctx, resumeID, opts.userID)
	}
	if err != nil {
		if resumeID != "" {
			return errors.New(coordinator.PublicMessage(err))
		}
		return err
	}

	fmt.Fprintf(stdout, "Conversation %s (stage: %s). Type /help for commands.\n", conv.ID, conv.Stage())
	r := &repl{
		studio: svc.studio,
		meter:  svc.meter,
		conv:   conv,
		out:    stdout,
		logger: a.logger.With("component", "chat", "conversation_id", conv.ID),
	}
	return r.loop(ctx, stdin)
}

// repl is the interactive chat front end for one conversation.
type repl struct {
	studio *studio.Studio
	meter  *usage.Meter
	conv   *studio.Conversation
	out    io.Writer
	logger *slog.Logger
}

func (r *repl) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprintf(r.out, "[%s] > ", r.conv.Stage())
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.command(ctx, line); quit {
				break
			}
			continue
		}

		res, err := r.conv.ProcessTurn(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(r.out, coordinator.PublicMessage(err))
			continue
		}
		fmt.Fprintln(r.out, displayText(res.ResponseText))
		if res.StageComplete && res.Stage != coordinator.StageComplete {
			fmt.Fprintf(r.out, "(moved to %s)\n", res.Stage)
		}
		if missing, ok := res.Data["missing_fields"].([]string); ok && res.NextAction == coordinator.ActionCollectFields {
			fmt.Fprintf(r.out, "(still needed: %s)\n", strings.Join(missing, ", "))
		}
		r.save(ctx)
	}

	fmt.Fprintln(r.out)
	r.printCost()
	return scanner.Err()
}

// command handles a slash command and reports whether to quit.
func (r *repl) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, "/back            return to the previous stage")
		fmt.Fprintln(r.out, "/skip <stage>    jump to briefing, wellness, preview, generation or feedback")
		fmt.Fprintln(r.out, "/state           show the collected brief, preview and content")
		fmt.Fprintln(r.out, "/cost            show tokens and cost so far")
		fmt.Fprintln(r.out, "/quit            save and leave")
	case "/back":
		fmt.Fprintf(r.out, "(now at %s)\n", r.conv.GoBack())
		r.save(ctx)
	case "/skip":
		if len(fields) < 2 {
			fmt.Fprintln(r.out, "usage: /skip <stage>")
			return false
		}
		stage, err := coordinator.ParseStage(fields[1])
		if err == nil {
			err = r.conv.SkipToStage(stage)
		}
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		fmt.Fprintf(r.out, "(now at %s)\n", stage)
		r.save(ctx)
	case "/state":
		data, err := json.MarshalIndent(r.conv.ExportState(), "", "  ")
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		fmt.Fprintln(r.out, string(data))
	case "/cost":
		r.printCost()
	default:
		fmt.Fprintf(r.out, "unknown command %s (try /help)\n", fields[0])
	}
	return false
}

func (r *repl) save(ctx context.Context) {
	if err := r.studio.Save(ctx, r.conv); err != nil {
		r.logger.Error("failed to save conversation", "error", err)
	}
}

func (r *repl) printCost() {
	if r.meter == nil {
		return
	}
	t := r.meter.Totals()
	fmt.Fprintf(r.out, "%d model calls, %d in / %d out tokens, $%.4f\n", t.Calls, t.InputTokens, t.OutputTokens, t.CostUSD)
}

// jsonBlock matches the fenced payloads agents append for extraction.
var jsonBlock = regexp.MustCompile("(?s)\\s*```(?:json)?\\s*\\{.*?\\}\\s*```\\s*")

// displayText strips machine payloads from an agent reply.
func displayText(s string) string {
	out := strings.TrimSpace(jsonBlock.ReplaceAllString(s, "\n"))
	if out == "" {
		return strings.TrimSpace(s)
	}
	return out
}
