// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/billstat/pkg/ebds"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Track link errors and frame statistics",
	Long: `Listen on the connection and track frame level link health.

This command validates each frame and counts:
  - Checksum failures and missing ETX bytes
  - Truncated frames and extended note decode failures
  - Bytes dropped while resynchronizing on STX
  - ENQ poll requests and coarse status changes

By default, only errors are displayed. Use --show-all to display valid frames
too. Periodic statistics summaries are shown at --stats-interval in text mode.

This command only listens; it never polls.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	statsCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	statsCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runStats(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runStatsTUI(conn, connInfo)
	}
	return runStatsText(conn, connInfo)
}

// printFrameError prints a frame error in highlighted format
func printFrameError(ts time.Time, r ebds.Result) {
	fmt.Printf("[%s] \033[1;31mFRAME ERROR:\033[0m %v\n", ts.Format("15:04:05.000"), r.Err)
	fmt.Print(ebds.FormatHex("  Raw: ", r.Raw))
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// printStatusChange prints a coarse status transition
func printStatusChange(ts time.Time, from, to ebds.Status) {
	fmt.Printf("[%s] \033[1;32mSTATUS:\033[0m %s -> %s\n\n", ts.Format("15:04:05.000"), from, to)
}

// runStatsTUI runs the statistics view in TUI mode
func runStatsTUI(conn Connection, connInfo string) error {
	m := initialModel(connInfo, statsInterval, showAll)
	p := tea.NewProgram(m)
	restoreLogs := redirectLogs(p.Send)
	defer restoreLogs()

	go func() {
		reasm := ebds.NewReassembler()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				p.Send(frameBatchMsg{
					results: reasm.Feed(buf[:n]),
					dropped: reasm.Dropped(),
					at:      time.Now(),
				})
			}
			if err != nil {
				p.Send(linkClosedMsg{err: err})
				return
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runStatsText runs the statistics view in text mode
func runStatsText(conn Connection, connInfo string) error {
	fmt.Printf("Billstat - Link Statistics\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	reasm := ebds.NewReassembler()
	stats := ebds.NewStatistics()
	synchronized := false
	last := ebds.StatusNone

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	type chunk struct {
		data []byte
		err  error
	}
	chunks := make(chan chunk, 10)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			data := make([]byte, n)
			copy(data, buf[:n])
			chunks <- chunk{data: data, err: err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case c := <-chunks:
			now := time.Now()
			for _, r := range reasm.Feed(c.data) {
				stats.Update(r)

				switch {
				case r.Err != nil:
					if synchronized {
						printFrameError(now, r)
					}

				case r.Frame != nil:
					if !synchronized {
						synchronized = true
						if dropped := reasm.Dropped(); dropped > 0 {
							fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", dropped)
						} else {
							fmt.Printf("[SYNC] Synchronized\n\n")
						}
					}

					if r.Message != nil && r.Message.Status != last {
						stats.StatusChanges++
						printStatusChange(now, last, r.Message.Status)
						last = r.Message.Status
					} else if showAll {
						printResult(now, r)
					}

				case r.Poll && showAll:
					printResult(now, r)
				}
			}
			stats.DroppedBytes = reasm.Dropped()

			if c.err != nil {
				fmt.Println()
				fmt.Print(stats.String())
				if errors.Is(c.err, io.EOF) || errors.Is(c.err, ErrConnectionClosed) {
					return nil
				}
				return fmt.Errorf("read error: %w", c.err)
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
