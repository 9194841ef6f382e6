package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"prism/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or the item outcomes of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return errors.New("run journal is disabled ([journal] enabled = false)")
			}
			out := cmd.OutOrStdout()
			if _, err := os.Stat(cfg.Paths.JournalPath); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(out, "No runs recorded yet")
				return nil
			}

			store, err := journal.Open(cfg.Paths.JournalPath)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			if len(args) == 1 {
				run, err := findRun(cmd, store, args[0])
				if err != nil {
					return err
				}
				return printRunDetail(cmd, store, run)
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded yet")
				return nil
			}
			fmt.Fprintln(out, renderTable("", historyColumns, historyRows(runs, time.Now()), historyAligns))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}

var historyColumns = []string{"Run", "Started", "Mode", "Status", "Read", "Committed", "Dropped", "Written", "Elapsed"}

var historyAligns = []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}

func historyRows(runs []*journal.Run, now time.Time) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.ID),
			humanize.RelTime(run.StartedAt, now, "ago", "from now"),
			run.Mode,
			string(run.Status),
			strconv.FormatInt(run.Read, 10),
			strconv.FormatInt(run.Committed, 10),
			strconv.FormatInt(run.Dropped+run.Discarded, 10),
			humanize.Bytes(uint64(max(run.BytesWritten, 0))),
			formatDuration(run.Elapsed),
		})
	}
	return rows
}

// findRun resolves a full run id or an unambiguous prefix of one.
func findRun(cmd *cobra.Command, store *journal.Store, ref string) (*journal.Run, error) {
	ref = strings.TrimSpace(ref)
	if run, err := store.GetRun(cmd.Context(), ref); err == nil {
		return run, nil
	} else if !errors.Is(err, journal.ErrRunNotFound) {
		return nil, err
	}
	runs, err := store.ListRuns(cmd.Context(), 0)
	if err != nil {
		return nil, err
	}
	var match *journal.Run
	for _, run := range runs {
		if !strings.HasPrefix(run.ID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("run id %q is ambiguous", ref)
		}
		match = run
	}
	if match == nil {
		return nil, fmt.Errorf("run %q: %w", ref, journal.ErrRunNotFound)
	}
	return match, nil
}

func printRunDetail(cmd *cobra.Command, store *journal.Store, run *journal.Run) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", run.ID)
	fmt.Fprintf(out, "Status:    %s (%s)\n", run.Status, run.Mode)
	fmt.Fprintf(out, "Started:   %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Topology:  %s\n", run.Topology)
	fmt.Fprintf(out, "Input:     %s\n", run.InputDir)
	fmt.Fprintf(out, "Output:    %s\n", run.OutputDir)
	fmt.Fprintf(out, "Items:     read %d, committed %d, dropped %d, discarded %d\n",
		run.Read, run.Committed, run.Dropped, run.Discarded)
	fmt.Fprintf(out, "Written:   %s in %s\n", humanize.Bytes(uint64(max(run.BytesWritten, 0))), formatDuration(run.Elapsed))
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:     %s\n", run.ErrorMessage)
	}

	items, err := store.RunItems(cmd.Context(), run.ID,
		journal.OutcomeDropped, journal.OutcomeCommitFailed, journal.OutcomeDiscarded, journal.OutcomeWorkerFatal)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.ItemID, 10),
			item.ItemName,
			item.Stage,
			string(item.Outcome),
			item.ErrorMessage,
		})
	}
	fmt.Fprintln(out, renderTable("Items not committed", []string{"ID", "Name", "Stage", "Outcome", "Error"}, rows,
		[]columnAlignment{alignRight}))
	return nil
}
