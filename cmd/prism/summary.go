package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"prism/internal/pipeline"
	"prism/internal/textutil"
)

var stageColumns = []string{"Stage", "Workers", "Processed", "Dropped", "Discarded", "Mean", "P50", "P95", "Max"}

var stageAligns = []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}

var queueColumns = []string{"Queue", "Capacity", "High water", "Push waits", "Pop waits", "Markers"}

var queueAligns = []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}

func renderRunSummary(res runResult, colorize bool) string {
	rep := res.report
	var b strings.Builder

	kind, outcome := runStatus(res)
	if colorize {
		outcome = kind.colors().Sprint(outcome)
	}
	fmt.Fprintf(&b, "Run %s %s in %s (%s)\n", shortID(res.runID), outcome, formatDuration(rep.Elapsed), res.topology)
	fmt.Fprintf(&b, "Read %d, committed %d, dropped %d, discarded %d; wrote %s to %s\n",
		rep.Read, rep.Committed, rep.Dropped(), rep.Discarded(),
		humanize.Bytes(uint64(max(res.bytesWritten, 0))), res.outputDir)
	if res.skipped > 0 {
		fmt.Fprintf(&b, "Skipped %d unreadable %s\n", res.skipped, plural(res.skipped, "file", "files"))
	}
	if rep.Fatal > 0 {
		fmt.Fprintf(&b, "Worker failures: %d (see log for stack traces)\n", rep.Fatal)
	}

	b.WriteString(renderTable("", stageColumns, stageRows(rep), stageAligns))
	b.WriteString("\n")
	if len(rep.Queues) > 0 {
		b.WriteString(renderTable("", queueColumns, queueRows(rep.Queues), queueAligns))
		b.WriteString("\n")
	}
	return b.String()
}

func stageRows(rep pipeline.Report) [][]string {
	rows := make([][]string, 0, len(rep.Steps)+1)
	for _, s := range rep.Steps {
		rows = append(rows, stageRow(s))
	}
	if rep.Sink.Name != "" {
		rows = append(rows, stageRow(rep.Sink))
	}
	return rows
}

func stageRow(s pipeline.StageReport) []string {
	return []string{
		textutil.StageLabel(s.Name),
		strconv.Itoa(s.Workers),
		strconv.FormatInt(s.Processed, 10),
		strconv.FormatInt(s.Dropped, 10),
		strconv.FormatInt(s.Discarded, 10),
		formatDuration(s.Latency.Mean),
		formatDuration(s.Latency.P50),
		formatDuration(s.Latency.P95),
		formatDuration(s.Latency.Max),
	}
}

func queueRows(queues []pipeline.QueueReport) [][]string {
	rows := make([][]string, 0, len(queues))
	for _, q := range queues {
		rows = append(rows, []string{
			q.Name,
			strconv.Itoa(q.Stats.Capacity),
			strconv.Itoa(q.Stats.HighWater),
			strconv.FormatUint(q.Stats.PushWaits, 10),
			strconv.FormatUint(q.Stats.PopWaits, 10),
			fmt.Sprintf("%d/%d", q.MarkersOut, q.MarkersIn),
		})
	}
	return rows
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
