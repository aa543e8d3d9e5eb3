package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danielpatrickdp/segment-replay/internal/config"
	"github.com/danielpatrickdp/segment-replay/internal/cvservice"
	"github.com/danielpatrickdp/segment-replay/internal/evaluator"
	"github.com/danielpatrickdp/segment-replay/internal/history"
	"github.com/danielpatrickdp/segment-replay/internal/plan"
	"github.com/danielpatrickdp/segment-replay/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	planPath := flag.String("plan", "", "override the fixture's plan (directory, .zip, .json or s3://bucket/prefix)")
	dbPath := flag.String("db", "", "record the run into this history database")
	useCV := flag.Bool("cv", false, "send CV criteria to the configured CV service")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--plan location] [--db history.db] [--cv] [--json]")
		os.Exit(2)
	}
	os.Exit(run(*fixturePath, *planPath, *dbPath, *useCV, *jsonOut))
}

// #endregion main

// #region run

func run(fixturePath, planOverride, dbPath string, useCV, jsonOut bool) int {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	f, err := replay.LoadFixture(fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	if planOverride != "" {
		f.Plan = planOverride
	}

	store, err := cfg.ObjectStoreSource()
	if err != nil {
		fmt.Fprintf(os.Stderr, "object store: %v\n", err)
		return 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	p, err := f.LoadPlan(ctx, &plan.Loader{Store: store})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load plan: %v\n", err)
		return 2
	}

	rc := f.Config.ToConfig()
	if useCV {
		client := cvservice.NewClient(cfg.CVService())
		refs, err := evaluator.NewImageSource(cfg.ImageDir, cfg.ImageCache)
		if err != nil {
			fmt.Fprintf(os.Stderr, "image source: %v\n", err)
			return 2
		}
		rc.CV = replay.CVClients{Text: client, Image: client, Object: client, Refs: refs, Timeout: cfg.CV.Timeout}
	}
	if dbPath != "" {
		h, err := history.NewStore(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open db: %v\n", err)
			return 2
		}
		defer h.Close()
		rc.Recorder = h
	}

	results, final := replay.Replay(p, f.ToFrames(), rc)
	summary := replay.Summarize(results, final)
	problems := f.Expected.Check(results, summary)

	if jsonOut {
		if err := printJSON(results, summary, problems); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 2
		}
	} else {
		printTable(results, summary, problems)
	}
	if len(problems) > 0 {
		return 1
	}
	return 0
}

// #endregion run

// #region output

func printTable(results []replay.TickResult, s replay.Summary, problems []string) {
	fmt.Printf("%-6s| %-9s| %-9s| %-10s| %-6s| %s\n", "Frame", "State", "Window", "Completed", "Input", "Note")
	fmt.Printf("%-6s+%-10s+%-10s+%-11s+%-7s+%s\n",
		"------", "----------", "----------", "-----------", "-------", "------")

	for _, r := range results {
		note := r.Err
		if note == "" {
			note = firstLine(r.StallReason)
		}
		fmt.Printf("%-6d| %-9s| %-9s| %-10s| %-6d| %s\n",
			r.Frame, r.State, ints(r.Window), ints(r.Completed), r.Inputs, note)
	}

	outcome := "unfinished"
	if s.Finished {
		outcome = "failed"
		if s.Success {
			outcome = "succeeded"
		}
	}
	fmt.Printf("\nSummary: %d frames, %d segments completed, %d stalls, %d errors, %s\n",
		s.Frames, s.Completed, s.Stalls, s.Errors, outcome)
	for _, v := range s.Validations {
		fmt.Printf("  validation %-30s %s\n", v.Name, v.Status)
	}
	for _, p := range problems {
		fmt.Printf("  DIFF %s\n", p)
	}
}

func printJSON(results []replay.TickResult, s replay.Summary, problems []string) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Results  []replay.TickResult `json:"results"`
		Summary  replay.Summary      `json:"summary"`
		Problems []string            `json:"problems,omitempty"`
	}{results, s, problems})
}

func ints(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	return line
}

// #endregion output
