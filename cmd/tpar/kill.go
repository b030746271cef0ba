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

var killCmd = &cobra.Command{
	Use:   "kill <filter>",
	Short: "kill every job matching a JobMatch filter",
	Args:  cobra.ExactArgs(1),
	RunE:  runKill,
}

func init() {
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := client.Dial(ctx, serverAddr())
	if err != nil {
		return err
	}
	defer c.Close()

	ids, err := c.Kill(ctx, args[0])
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Printf("killed job %d\n", id)
	}
	if len(ids) == 0 {
		os.Exit(1)
	}
	return nil
}
