package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/nugget/wellpen/internal/content"
	"github.com/nugget/wellpen/internal/conversation"
	"github.com/nugget/wellpen/internal/coordinator"
	"github.com/nugget/wellpen/internal/ingest"
	"github.com/nugget/wellpen/internal/usage"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runList prints the user's saved conversations, newest first.
func runList(ctx context.Context, stdout, stderr io.Writer, opts options) error {
	a, err := openApp(stderr, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.conversations.List(ctx, opts.userID, 50)
	if err != nil {
		return err
	}
	if opts.outputFmt == "json" {
		return writeJSON(stdout, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(stdout, "No conversations yet. Start one with: wellpen chat")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTAGE\tMESSAGES\tUPDATED")
	for _, c := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ID, c.Stage, c.Messages, c.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// runExport prints a conversation's generated content as HTML, or its
// full exported state with -o json.
func runExport(ctx context.Context, stdout, stderr io.Writer, opts options, id string) error {
	a, err := openApp(stderr, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.conversations.Load(ctx, id, opts.userID)
	if err != nil {
		return errors.New(coordinator.PublicMessage(err))
	}
	if opts.outputFmt == "json" {
		return writeJSON(stdout, rec.State)
	}

	gc, err := storedContent(rec)
	if err != nil {
		return err
	}
	html, err := content.RenderHTML(gc)
	if err != nil {
		return err
	}
	_, err = io.WriteString(stdout, html)
	return err
}

func storedContent(rec *conversation.Record) (content.GeneratedContent, error) {
	raw, ok := rec.State["content"].(map[string]any)
	if !ok || len(raw) == 0 {
		return content.GeneratedContent{}, fmt.Errorf("conversation %s has no generated content yet (stage: %s)", rec.ID, rec.Stage)
	}
	var gc content.GeneratedContent
	if err := content.FromMap(raw, &gc); err != nil {
		return content.GeneratedContent{}, fmt.Errorf("decode content: %w", err)
	}
	return gc, nil
}

// runIngest imports a markdown document into the knowledge base under
// source, replacing any earlier import of the same source.
func runIngest(ctx context.Context, stdout, stderr io.Writer, opts options, source, path string) error {
	a, err := openApp(stderr, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := ingest.NewMarkdownIngester(a.knowledge, source, a.logger).IngestFile(ctx, path)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	total, _ := a.knowledge.Count(ctx)
	fmt.Fprintf(stdout, "Ingested %d passages from %s as %q (%d in knowledge base)\n", n, path, source, total)
	return nil
}

// runLearnings lists pending learnings, or approves one so it reaches
// future prompts.
func runLearnings(ctx context.Context, stdout, stderr io.Writer, opts options, args []string) error {
	a, err := openApp(stderr, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) >= 2 && args[0] == "approve" {
		if err := a.learnings.Approve(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Approved %s\n", args[1])
		return nil
	}
	if len(args) > 0 {
		return fmt.Errorf("usage: wellpen learnings [approve <id>]")
	}

	pending, err := a.learnings.Pending(ctx, 0)
	if err != nil {
		return err
	}
	if opts.outputFmt == "json" {
		return writeJSON(stdout, pending)
	}
	if len(pending) == 0 {
		fmt.Fprintln(stdout, "No learnings awaiting review.")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tTYPE\tCONF\tSUMMARY")
	for _, l := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", l.ID, l.Agent, l.Type, l.Confidence, l.Summary)
	}
	return tw.Flush()
}

// usageReport is the JSON shape of the usage command.
type usageReport struct {
	Since   time.Time               `json:"since"`
	Total   *usageTotals            `json:"total"`
	ByModel map[string]*usageTotals `json:"by_model"`
	ByRole  map[string]*usageTotals `json:"by_role"`
}

type usageTotals struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// runUsage summarizes metered model calls over the last N days.
func runUsage(ctx context.Context, stdout, stderr io.Writer, opts options, args []string) error {
	days := 30
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("usage: wellpen usage [days]")
		}
		days = n
	}

	a, err := openApp(stderr, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	end := time.Now()
	start := end.AddDate(0, 0, -days)

	total, err := a.usage.Summary(ctx, start, end)
	if err != nil {
		return err
	}
	byModel, err := a.usage.SummaryByModel(ctx, start, end)
	if err != nil {
		return err
	}
	byRole, err := a.usage.SummaryByRole(ctx, start, end)
	if err != nil {
		return err
	}

	report := usageReport{
		Since:   start,
		Total:   totalsOf(total),
		ByModel: make(map[string]*usageTotals, len(byModel)),
		ByRole:  make(map[string]*usageTotals, len(byRole)),
	}
	for k, v := range byModel {
		report.ByModel[k] = totalsOf(v)
	}
	for k, v := range byRole {
		report.ByRole[k] = totalsOf(v)
	}

	if opts.outputFmt == "json" {
		return writeJSON(stdout, report)
	}

	fmt.Fprintf(stdout, "Usage for the last %d days: %d calls, %d in / %d out tokens, $%.4f\n\n",
		days, report.Total.Calls, report.Total.InputTokens, report.Total.OutputTokens, report.Total.CostUSD)
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tNAME\tCALLS\tCOST")
	for _, g := range []struct {
		name string
		rows map[string]*usageTotals
	}{{"model", report.ByModel}, {"role", report.ByRole}} {
		for _, k := range sortedKeys(g.rows) {
			fmt.Fprintf(tw, "%s\t%s\t%d\t$%.4f\n", g.name, k, g.rows[k].Calls, g.rows[k].CostUSD)
		}
	}
	return tw.Flush()
}

func totalsOf(s *usage.Summary) *usageTotals {
	if s == nil {
		return &usageTotals{}
	}
	return &usageTotals{
		Calls:        s.TotalRecords,
		InputTokens:  s.TotalInputTokens,
		OutputTokens: s.TotalOutputTokens,
		CostUSD:      s.TotalCostUSD,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
