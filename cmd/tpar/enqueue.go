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

var (
	enqueueName      string
	enqueueDir       string
	enqueuePriority  int
	enqueueStdoutOut string
	enqueueStderrOut string
	enqueueWatch     bool
)

var enqueueCmd = &cobra.Command{
	Use:                   "enqueue [flags] -- command [args...]",
	Short:                 "submit a job to run on a tpar server",
	Args:                  cobra.MinimumNArgs(1),
	RunE:                  runEnqueue,
	DisableFlagsInUseLine: true,
}

func init() {
	enqueueCmd.Flags().StringVarP(&enqueueName, "name", "n", "unnamed-job", "free-form job name")
	enqueueCmd.Flags().StringVarP(&enqueueDir, "directory", "d", ".", "working directory for the job")
	enqueueCmd.Flags().IntVarP(&enqueuePriority, "priority", "P", 0, "dispatch priority (smaller runs first)")
	enqueueCmd.Flags().StringVarP(&enqueueStdoutOut, "stdout", "o", "", "write stdout to this file")
	enqueueCmd.Flags().StringVarP(&enqueueStderrOut, "stderr", "e", "", "write stderr to this file")
	enqueueCmd.Flags().BoolVarP(&enqueueWatch, "watch", "w", false, "stream the job's output to the terminal and exit with its exit code")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	if enqueueWatch && (enqueueStdoutOut != "" || enqueueStderrOut != "") {
		return fmt.Errorf("enqueue: -w/--watch cannot be combined with -o/-e")
	}
	if (enqueueStdoutOut == "") != (enqueueStderrOut == "") {
		return fmt.Errorf("enqueue: -o and -e must be given together")
	}

	ctx := context.Background()
	c, err := client.Dial(ctx, serverAddr())
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.Enqueue(ctx, client.EnqueueParams{
		Name:       enqueueName,
		Priority:   enqueuePriority,
		Command:    args[0],
		Args:       args[1:],
		Dir:        enqueueDir,
		Watch:      enqueueWatch,
		StdoutPath: enqueueStdoutOut,
		StderrPath: enqueueStderrOut,
	})
	if err != nil {
		return err
	}

	if !enqueueWatch {
		fmt.Printf("enqueued job %d\n", id)
		return nil
	}

	result, err := c.Watch(ctx, id, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	if result.Failed {
		fmt.Fprintf(os.Stderr, "job %d failed: %s\n", id, result.ErrorMsg)
		os.Exit(1)
	}
	os.Exit(result.ExitCode)
	return nil
}
