// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskpar/tpar/internal/server"
	"github.com/taskpar/tpar/internal/worker"
)

var serverLocalWorkers int

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "start the tpar server",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().IntVarP(&serverLocalWorkers, "workers", "N", 0, "number of in-process local workers to start alongside the server")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	addr := serverAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}

	srv := server.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGTERM/SIGINT for graceful shutdown, in the manner of
	// cmd/coordinator/coordinator.go's signaled/completed idiom.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("terminating server on signal %v...\n", sig)
		cancel()
	}()

	for i := 0; i < serverLocalWorkers; i++ {
		id := fmt.Sprintf("local-%d", i)
		w := worker.New(id, srv.LocalJobSource())
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "local worker %s stopped: %v\n", id, err)
			}
		}()
	}

	fmt.Printf("tpar server listening on %s (%d local workers)\n", addr, serverLocalWorkers)
	if err := srv.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
