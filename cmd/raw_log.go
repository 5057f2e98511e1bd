// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/billstat/pkg/ebds"
	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display validator frames as they arrive.

Each frame is shown with timestamp, message type, device type, ack bit and a
hex dump, followed by the decoded status flags and, for extended replies,
the escrowed note specification. Frames that fail validation are reported
and parsing resumes one byte later.

This command only listens; it never polls. Use it alongside a host that is
already driving the validator, or with "record"/"replay".

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

// printResult writes one reassembler outcome to stdout
func printResult(ts time.Time, r ebds.Result) {
	switch {
	case r.Poll:
		fmt.Printf("[%s] ENQ (poll requested)\n\n", ts.Format("15:04:05.000"))
	case r.Err != nil:
		fmt.Printf("[%s] [ERROR] %v\n", ts.Format("15:04:05.000"), r.Err)
		fmt.Print(ebds.FormatHex("  Raw: ", r.Raw))
		fmt.Println()
	case r.Frame != nil:
		fmt.Print(ebds.FormatFrame(ts, r.Frame))
		if r.Message != nil {
			fmt.Print(ebds.FormatMessage(r.Message))
		}
		fmt.Println()
	}
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Billstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	reasm := ebds.NewReassembler()
	buf := make([]byte, 256)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			now := time.Now()
			for _, r := range reasm.Feed(buf[:n]) {
				printResult(now, r)
			}
		}
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Notice("action: read | result: closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
	}
}
