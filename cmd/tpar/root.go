// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Command tpar is a single binary with subcommands for running a server,
// running workers, and submitting or inspecting jobs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskpar/tpar/clog"
)

var (
	host string
	port int
	logs bool
)

var rootCmd = &cobra.Command{
	Use:   "tpar",
	Short: "tpar is a lightweight distributed task queue",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logs {
			clog.Enable()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "localhost", "server host")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 5757, "server port")
	rootCmd.PersistentFlags().BoolVarP(&logs, "log", "l", false, "show logging output (for debugging)")
}

func serverAddr() string {
	return fmt.Sprintf("%s:%d", host, port)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
