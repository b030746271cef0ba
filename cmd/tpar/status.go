// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/taskpar/tpar/internal/client"
)

var statusVerbose bool

var statusCmd = &cobra.Command{
	Use:   "status [filter]",
	Short: "list jobs matching a JobMatch filter (default: all)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusVerbose, "verbose", "v", false, "show command and directory as well")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var filter string
	if len(args) == 1 {
		filter = args[0]
	}

	ctx := context.Background()
	c, err := client.Dial(ctx, serverAddr())
	if err != nil {
		return err
	}
	defer c.Close()

	jobs, err := c.Status(ctx, filter)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	if statusVerbose {
		fmt.Fprintln(tw, "ID\tNAME\tSTATE\tCOMMAND\tDIR")
	} else {
		fmt.Fprintln(tw, "ID\tNAME\tSTATE")
	}
	for _, j := range jobs {
		if statusVerbose {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s %v\t%s\n", j.Id, j.Name, j.State, j.Command, j.Args, j.Dir)
		} else {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", j.Id, j.Name, j.State)
		}
	}
	return nil
}
