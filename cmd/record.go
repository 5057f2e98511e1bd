// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/billstat/pkg/capture"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record FILE",
	Short: "Capture raw traffic to a file without polling",
	Long: `Listen on the connection and write every received chunk to a capture
file until interrupted. Nothing is sent to the validator.

The capture is a CBOR sequence of {direction, time, bytes} records and can
be decoded with "replay".`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
}

// createCapture creates a capture file and a writer on it
func createCapture(path string) (*capture.Writer, func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	return capture.NewWriter(f), f.Close, nil
}

func runRecord(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	w, closeCapture, err := createCapture(args[0])
	if err != nil {
		conn.Close()
		return err
	}
	defer closeCapture()

	tap := capture.NewTap(conn, w, func(err error) {
		log.Errorf("action: record | result: fail | error: %v", err)
	})

	fmt.Printf("Billstat - Record\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Capture: %s\n", args[0])
	fmt.Printf("Press Ctrl+C to stop\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := tap.Read(buf); err != nil {
				readErr <- err
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-readErr:
		if !errors.Is(err, io.EOF) && !errors.Is(err, ErrConnectionClosed) {
			tap.Close()
			return fmt.Errorf("read error: %w", err)
		}
	}

	tap.Close()
	fmt.Printf("Recorded %d chunks\n", w.Count())
	return nil
}
