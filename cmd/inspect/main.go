package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/danielpatrickdp/segment-replay/internal/health"
	"github.com/danielpatrickdp/segment-replay/internal/history"
	"github.com/danielpatrickdp/segment-replay/internal/validation"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to replay_history.db")
	last := flag.Int("last", 20, "show N most recent runs")
	runID := flag.String("run", "", "show single run detail")
	segment := flag.Int("segment", 0, "filter run detail to one segment ordinal")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	healthAddr := flag.String("health", "", "check a running controller's health endpoint instead of reading the db")
	flag.Parse()

	if *healthAddr != "" {
		os.Exit(runHealthMode(*healthAddr))
	}
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/replay_history.db [--last N] [--run id] [--segment ordinal] [--json]")
		fmt.Fprintln(os.Stderr, "       inspect --health host:port")
		os.Exit(2)
	}

	store, err := history.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *runID != "" {
		if err := runDetailMode(store, *runID, *segment, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	} else {
		if err := runListMode(store, *last, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id"`
	Loop      int    `json:"loop"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Completed int    `json:"completed"`
	Stalls    int    `json:"stalls"`
	StartedAt string `json:"started_at"`
	Duration  string `json:"duration,omitempty"`
}

func runListMode(store *history.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	// store returns DESC, reverse for chronological
	rows := make([]listRow, len(runs))
	for i, r := range runs {
		events, err := store.SegmentEvents(r.RunID)
		if err != nil {
			return err
		}
		stalls, err := store.Stalls(r.RunID)
		if err != nil {
			return err
		}
		row := listRow{
			RunID:     r.RunID,
			SessionID: r.SessionID,
			Loop:      r.Loop,
			Outcome:   outcome(r),
			Reason:    r.Reason,
			Completed: countEvents(events, history.EventCompleted),
			Stalls:    len(stalls),
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
		}
		if r.Ended {
			row.Duration = r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		rows[len(runs)-1-i] = row
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-16s  %4s  %-10s  %9s  %6s  %-10s  %s\n",
		"Run", "Session", "Loop", "Outcome", "Completed", "Stalls", "Duration", "Started")
	fmt.Printf("%-10s+-%-16s+-%4s+-%-10s+-%9s+-%6s+-%-10s+-%s\n",
		"----------", "----------------", "----", "----------", "---------", "------", "----------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-10s  %-16s  %4d  %-10s  %9d  %6d  %-10s  %s\n",
			shortID(r.RunID), truncate(r.SessionID, 16), r.Loop, r.Outcome, r.Completed, r.Stalls, dash(r.Duration), r.StartedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	RunID       string              `json:"run_id"`
	SessionID   string              `json:"session_id"`
	Plan        string              `json:"plan,omitempty"`
	Loop        int                 `json:"loop"`
	StartedAt   string              `json:"started_at"`
	EndedAt     string              `json:"ended_at,omitempty"`
	Outcome     string              `json:"outcome"`
	Reason      string              `json:"reason,omitempty"`
	Validations []validation.Result `json:"validations,omitempty"`
	Events      []eventRow          `json:"events"`
	Stalls      []stallRow          `json:"stalls"`
}

type eventRow struct {
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name,omitempty"`
	Event   string `json:"event"`
	At      string `json:"at"`
}

type stallRow struct {
	Ordinal int    `json:"ordinal"`
	Reason  string `json:"reason"`
	At      string `json:"at"`
}

func runDetailMode(store *history.Store, runID string, ordinal int, jsonOut bool) error {
	r, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	events, err := store.SegmentEvents(runID)
	if err != nil {
		return err
	}
	stalls, err := store.Stalls(runID)
	if err != nil {
		return err
	}

	out := detailOutput{
		RunID:     r.RunID,
		SessionID: r.SessionID,
		Plan:      r.Plan,
		Loop:      r.Loop,
		StartedAt: r.StartedAt.Format("2006-01-02T15:04:05.000Z"),
		Outcome:   outcome(r),
		Reason:    r.Reason,
		Events:    []eventRow{},
		Stalls:    []stallRow{},
	}
	if r.Ended {
		out.EndedAt = r.EndedAt.Format("2006-01-02T15:04:05.000Z")
	}
	if r.Validations != "" {
		if err := json.Unmarshal([]byte(r.Validations), &out.Validations); err != nil {
			return fmt.Errorf("decode validations: %w", err)
		}
	}
	for _, ev := range events {
		if ordinal != 0 && ev.Ordinal != ordinal {
			continue
		}
		out.Events = append(out.Events, eventRow{
			Ordinal: ev.Ordinal,
			Name:    ev.Name,
			Event:   ev.Event,
			At:      ev.CreatedAt.Format("15:04:05.000"),
		})
	}
	for _, st := range stalls {
		if ordinal != 0 && st.Ordinal != ordinal {
			continue
		}
		out.Stalls = append(out.Stalls, stallRow{
			Ordinal: st.Ordinal,
			Reason:  st.Reason,
			At:      st.CreatedAt.Format("15:04:05.000"),
		})
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run:        %s\n", out.RunID)
	fmt.Printf("Session:    %s\n", out.SessionID)
	fmt.Printf("Plan:       %s\n", dash(out.Plan))
	fmt.Printf("Loop:       %d\n", out.Loop)
	fmt.Printf("Started:    %s\n", out.StartedAt)
	fmt.Printf("Ended:      %s\n", dash(out.EndedAt))
	fmt.Printf("Outcome:    %s\n", out.Outcome)
	if out.Reason != "" {
		fmt.Printf("Reason:     %s\n", out.Reason)
	}

	if len(out.Validations) > 0 {
		fmt.Printf("\nValidations:\n")
		for _, v := range out.Validations {
			fmt.Printf("  %-30s %s\n", v.Name, v.Status)
		}
	}

	fmt.Printf("\nSegments:\n")
	for _, ev := range out.Events {
		fmt.Printf("  %s  %4d  %-10s %s\n", ev.At, ev.Ordinal, ev.Event, ev.Name)
	}

	if len(out.Stalls) > 0 {
		fmt.Printf("\nStalls:\n")
		for _, st := range out.Stalls {
			line, _, _ := strings.Cut(st.Reason, "\n")
			fmt.Printf("  %s  %4d  %s\n", st.At, st.Ordinal, line)
		}
	}
	return nil
}

// #endregion detail-mode

// #region health-mode

// runHealthMode exits 0 only while the controller is playing.
func runHealthMode(addr string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code := 0
	for _, svc := range []string{"", health.Service} {
		status, err := health.Check(ctx, addr, svc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		name := svc
		if name == "" {
			name = "(process)"
		}
		fmt.Printf("%-24s %s\n", name, status)
		if status != healthpb.HealthCheckResponse_SERVING {
			code = 1
		}
	}
	return code
}

// #endregion health-mode

// #region output

func outcome(r history.Run) string {
	switch {
	case !r.Ended:
		return "running"
	case r.Success:
		return "success"
	default:
		return "failed"
	}
}

func countEvents(events []history.SegmentEvent, kind string) int {
	n := 0
	for _, ev := range events {
		if ev.Event == kind {
			n++
		}
	}
	return n
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "~"
	}
	return s
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// #endregion output
