// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/billstat/pkg/capture"
	"github.com/Thermoquad/billstat/pkg/ebds"
	"github.com/spf13/cobra"
)

var (
	replayRealtime bool
	replayInbound  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Decode a session capture",
	Long: `Read a capture written by "record" or "run --record" and decode it the
same way raw_log decodes a live connection.

Received chunks go through the frame reassembler; sent frames are validated
and shown as host commands. A statistics summary is printed at the end.

With --realtime the original gaps between chunks are reproduced.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Reproduce original timing")
	replayCmd.Flags().BoolVar(&replayInbound, "rx-only", false, "Hide host commands")
}

func printCommand(rec capture.Record) {
	f, err := ebds.ValidateFrame(rec.Data)
	if err != nil {
		fmt.Printf("[%s] TX [ERROR] %v\n", rec.Time.Format("15:04:05.000"), err)
		fmt.Print(ebds.FormatHex("  Raw: ", rec.Data))
		fmt.Println()
		return
	}

	operation := "poll"
	if len(f.Data) >= 2 {
		switch f.Data[1] {
		case ebds.OperationStack:
			operation = "stack"
		case ebds.OperationReturn:
			operation = "return"
		}
	}
	fmt.Printf("[%s] TX %s ack=%d\n", rec.Time.Format("15:04:05.000"), operation, f.Control.Ack)
	fmt.Printf("  %s\n\n", ebds.FormatCommand(f.Data))
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	fmt.Printf("Billstat - Replay\n")
	fmt.Printf("Capture: %s\n\n", args[0])

	reader := capture.NewReader(f)
	reasm := ebds.NewReassembler()
	stats := ebds.NewStatistics()

	var last time.Time
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if replayRealtime && !last.IsZero() {
			if gap := rec.Time.Sub(last); gap > 0 {
				time.Sleep(gap)
			}
		}
		last = rec.Time

		if rec.Direction == capture.DirectionOut {
			if !replayInbound {
				printCommand(rec)
			}
			continue
		}

		for _, r := range reasm.Feed(rec.Data) {
			stats.Update(r)
			printResult(rec.Time, r)
		}
		stats.DroppedBytes = reasm.Dropped()
	}

	if pending := reasm.Pending(); pending > 0 {
		fmt.Printf("(%d trailing bytes never completed a frame)\n", pending)
	}
	fmt.Print(stats.String())
	return nil
}
