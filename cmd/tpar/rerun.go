// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskpar/tpar/internal/client"
)

var rerunCmd = &cobra.Command{
	Use:   "rerun <filter>",
	Short: "re-enqueue every terminal job matching a JobMatch filter under a fresh id",
	Args:  cobra.ExactArgs(1),
	RunE:  runRerun,
}

func init() {
	rootCmd.AddCommand(rerunCmd)
}

func runRerun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := client.Dial(ctx, serverAddr())
	if err != nil {
		return err
	}
	defer c.Close()

	ids, err := c.Rerun(ctx, args[0])
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Printf("rerun as job %d\n", id)
	}
	if len(ids) == 0 {
		os.Exit(1)
	}
	return nil
}
