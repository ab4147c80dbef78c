package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"republic/internal/agent/fleet"
	"republic/internal/agent/ports"
	"republic/internal/agent/runtime"
	"republic/internal/agent/trace"
)

func stateColor(state string) string {
	switch ports.State(state) {
	case ports.StateComplete:
		return green(state)
	case ports.StateEscalated:
		return yellow(state)
	case ports.StateFailed:
		return red(state)
	}
	return state
}

func renderResult(w io.Writer, res *runtime.Result) {
	fmt.Fprintf(w, "\n%s %s\n", bold("Run"), res.RunID)
	fmt.Fprintf(w, "  %-8s %s\n", gray("agent"), res.AgentID)
	fmt.Fprintf(w, "  %-8s %s %s\n", gray("state"), stateColor(string(res.State)), gray(res.Reason))
	fmt.Fprintf(w, "  %-8s %d\n", gray("steps"), res.StepsExecuted)
	fmt.Fprintf(w, "  %-8s $%.4f (%d in / %d out tokens)\n", gray("cost"), res.TotalCostUSD, res.Usage.InputTokens, res.Usage.OutputTokens)
	fmt.Fprintf(w, "  %-8s %s\n", gray("elapsed"), res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  %-8s %s (%d spans, %d events)\n", gray("trace"), res.Trace.StoragePath, res.Trace.SpanCount, res.Trace.EventCount)
	if res.Error != "" {
		fmt.Fprintf(w, "  %-8s %s\n", gray("error"), red(res.Error))
	}
	if res.State == ports.StateEscalated {
		fmt.Fprintf(w, "\n%s human review required: %s\n", yellow("!"), res.Reason)
	}
}

func renderReplay(w io.Writer, replay *trace.Replay) {
	fmt.Fprintf(w, "%s %s %s\n", bold("Trace"), replay.RunID, gray(replay.Path))
	if replay.AgentID != "" {
		fmt.Fprintf(w, "  %-8s %s\n", gray("agent"), replay.AgentID)
	}
	if replay.Start != nil {
		fmt.Fprintf(w, "  %-8s %s\n", gray("started"), replay.Start.Timestamp.Format(time.RFC3339))
	}
	if replay.End != nil {
		fmt.Fprintf(w, "  %-8s %s in %dms\n", gray("final"), stateColor(string(replay.End.FinalStatus)), replay.End.DurationMs)
	} else {
		fmt.Fprintf(w, "  %-8s %s\n", gray("final"), yellow("no trace_end: crashed or still running"))
	}
	if replay.Malformed > 0 {
		fmt.Fprintf(w, "  %-8s %d malformed lines skipped\n", gray("warning"), replay.Malformed)
	}

	fmt.Fprintln(w)
	for _, record := range replay.Records {
		switch {
		case record.Span != nil:
			s := record.Span
			label := string(s.Kind)
			if s.Tool != "" {
				label += " " + s.Tool
			}
			line := fmt.Sprintf("  %s %-22s %-9s %5dms", gray(s.Timestamp.Format("15:04:05.000")), label, s.Status, s.DurationMs)
			if s.CostUSD > 0 {
				line += fmt.Sprintf(" $%.4f", s.CostUSD)
			}
			if s.Error != "" {
				line += " " + red(s.Error)
			}
			fmt.Fprintln(w, line)
		case record.Event != nil:
			e := record.Event
			fmt.Fprintf(w, "  %s %s %s\n", gray(e.Timestamp.Format("15:04:05.000")), cyan(e.EventType), gray(formatData(e.Data)))
		}
	}
}

func formatData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := fmt.Sprint(data[k])
		if len(value) > 60 {
			value = value[:57] + "..."
		}
		parts = append(parts, k+"="+value)
	}
	return strings.Join(parts, " ")
}

func renderOutcomes(w io.Writer, outcomes []fleet.Outcome) {
	fmt.Fprintf(w, "%s\n", bold("Fleet"))
	for _, o := range outcomes {
		if o.Result == nil {
			fmt.Fprintf(w, "  %-12s %-28s %s %s\n", o.Task.ID, o.Task.Agent, red("ERROR"), o.Error())
			continue
		}
		res := o.Result
		fmt.Fprintf(w, "  %-12s %-28s %s %s steps=%d cost=$%.4f %s\n",
			o.Task.ID, o.Task.Agent, stateColor(string(res.State)), gray(res.Reason), res.StepsExecuted, res.TotalCostUSD, gray(res.RunID))
	}

	tally := fleet.Tally(outcomes)
	states := make([]string, 0, len(tally))
	for state := range tally {
		states = append(states, state)
	}
	sort.Strings(states)
	parts := make([]string, 0, len(states))
	for _, state := range states {
		parts = append(parts, fmt.Sprintf("%s=%d", state, tally[state]))
	}
	fmt.Fprintf(w, "\n  %s  total cost $%.4f\n", strings.Join(parts, " "), fleet.TotalCost(outcomes))
}
