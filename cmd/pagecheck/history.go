package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cgast/pagecheck/pkg/history"
)

func openHistory(root *rootCommand) (*history.Store, error) {
	return history.Open(historyPath(root), root.cfg.History.MaxEntries)
}

func getHistoryCmd(root *rootCommand) *cobra.Command {
	var (
		taskName string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded task results, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory(root)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(taskName, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "no recorded results (run with --persist to record)")
				return nil
			}
			for _, rec := range records {
				writeRecord(out, rec)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&taskName, "task", "t", "", "only show results of this task")
	flags.IntVarP(&limit, "limit", "n", 20, "maximum number of records (0 for all)")
	flags.BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

func getDiffCmd(root *rootCommand) *cobra.Command {
	var taskName string
	cmd := &cobra.Command{
		Use:   "diff [<old-id> <new-id>]",
		Short: "Compare two recorded results of the same task",
		Example: `  pagecheck diff --task layout
  pagecheck diff 01928c6e-... 01928c70-...`,
		Args: func(cmd *cobra.Command, args []string) error {
			if taskName == "" && len(args) != 2 {
				return fmt.Errorf("expected two record IDs or --task")
			}
			if taskName != "" && len(args) != 0 {
				return fmt.Errorf("record IDs and --task are mutually exclusive")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(root)
			if err != nil {
				return err
			}
			defer store.Close()

			a, b, err := diffPair(store, taskName, args)
			if err != nil {
				return err
			}
			if a.Result.Task != b.Result.Task {
				return fmt.Errorf("records belong to different tasks (%s, %s)", a.Result.Task, b.Result.Task)
			}
			writeChanges(cmd.OutOrStdout(), a, b, history.Diff(a, b))
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskName, "task", "t", "", "compare the two most recent results of this task")
	return cmd
}

// diffPair returns the older and newer record to compare.
func diffPair(store *history.Store, taskName string, ids []string) (history.Record, history.Record, error) {
	if taskName != "" {
		recent, err := store.List(taskName, 2)
		if err != nil {
			return history.Record{}, history.Record{}, err
		}
		if len(recent) < 2 {
			return history.Record{}, history.Record{}, fmt.Errorf("task %q has %d recorded result(s), need 2", taskName, len(recent))
		}
		return recent[1], recent[0], nil
	}

	a, err := store.Get(ids[0])
	if err != nil {
		return history.Record{}, history.Record{}, err
	}
	b, err := store.Get(ids[1])
	if err != nil {
		return history.Record{}, history.Record{}, err
	}
	return a, b, nil
}
