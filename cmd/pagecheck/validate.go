package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func getValidateCmd(root *rootCommand) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "validate [tasks.yaml]",
		Short: "Check a task file without opening a browser",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := tasksPath(args)
			list, err := loadTaskList(path, params)
			if err != nil {
				return err
			}
			actions, expects := 0, 0
			for _, t := range list.Tasks {
				actions += len(t.Path)
				expects += len(t.Expect)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d task(s), %d action(s), %d expectation(s)\n",
				path, len(list.Tasks), actions, expects)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "set a task file parameter as key=value (repeatable)")
	return cmd
}
