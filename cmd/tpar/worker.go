// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskpar/tpar/internal/worker"
)

var (
	workerCount        int
	workerReconnectStr string
)

const defaultReconnectSeconds = "10"

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "start one or more tpar workers connecting to a server",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().IntVarP(&workerCount, "workers", "N", 1, "number of worker loops to start")
	workerCmd.Flags().StringVarP(&workerReconnectStr, "reconnect", "r", "", "retry the server connection with exponential backoff, maximum interval in SECONDS (default 10 when given without a value)")
	workerCmd.Flags().Lookup("reconnect").NoOptDefVal = defaultReconnectSeconds
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if workerCount < 1 {
		return fmt.Errorf("worker: -N must be at least 1, got %d", workerCount)
	}

	var reconnect time.Duration
	if workerReconnectStr != "" {
		secs, err := strconv.Atoi(workerReconnectStr)
		if err != nil || secs <= 0 {
			return fmt.Errorf("worker: -r/--reconnect expects a positive number of seconds, got %q", workerReconnectStr)
		}
		reconnect = time.Duration(secs) * time.Second
	}

	addr := serverAddr()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("terminating workers on signal %v...\n", sig)
		cancel()
	}()

	completed := make(chan struct{}, workerCount)
	for i := 0; i < workerCount; i++ {
		id := uuid.NewString()
		go func() {
			defer func() { completed <- struct{}{} }()
			if err := worker.Run(ctx, worker.RunOptions{Addr: addr, Id: id, Reconnect: reconnect}); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "worker %s stopped: %v\n", id, err)
			}
		}()
	}

	fmt.Printf("started %d worker(s) against %s\n", workerCount, addr)
	for i := 0; i < workerCount; i++ {
		<-completed
	}
	return nil
}
