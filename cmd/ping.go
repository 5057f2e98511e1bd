// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/billstat/pkg/ebds"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure poll round trips to the validator",
	Long: `Send poll commands with every denomination disabled and wait for the status
reply to each, like ping(8).

The validator echoes the ack bit of the command it answers; replies with the
wrong ack bit are reported. Nothing is enabled, so no bill can be taken in
while pinging.

Useful for verifying:
  - Serial line settings (9600 7E1) or the WebSocket bridge
  - HTTP Basic authentication on the bridge
  - Bidirectional frame flow and checksums

Exit codes:
  0 - All polls answered
  1 - One or more polls failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 2, "Timeout in seconds for each poll")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of polls to send")
}

// readReplies decodes replies from conn until it fails
func readReplies(conn Connection) (<-chan *ebds.Result, <-chan error) {
	replies := make(chan *ebds.Result, 16)
	errChan := make(chan error, 1)

	go func() {
		reasm := ebds.NewReassembler()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			for _, r := range reasm.Feed(buf[:n]) {
				if r.Frame != nil && r.Err == nil {
					replies <- &r
				}
			}
		}
	}()

	return replies, errChan
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Billstat - Poll Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per poll\n", pingTimeout)
	fmt.Printf("Count: %d polls\n\n", pingCount)

	replies, errChan := readReplies(conn)

	successCount := 0
	failCount := 0
	var ack byte
	var totalRTT time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Poll %d/%d: ", i, pingCount)

		ack ^= 0x01
		frame, err := ebds.BuildFrame(ebds.OmnibusPoll(ebds.DenominationsNone), ack)
		if err != nil {
			return err
		}

		startTime := time.Now()
		if _, err := conn.Write(frame); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case r := <-replies:
			rtt := time.Since(startTime)
			totalRTT += rtt

			status := "(no status)"
			if r.Message != nil {
				status = r.Message.Status.String()
			}
			fmt.Printf("reply %s, status=%s, rtt=%v",
				ebds.FormatMessageType(r.Frame.Control.MessageType), status, rtt.Round(time.Millisecond))
			if r.Frame.Control.Ack != ack {
				fmt.Printf(" (ack mismatch: sent %d, got %d)", ack, r.Frame.Control.Ack)
			}
			fmt.Println()
			successCount++

		case err := <-errChan:
			fmt.Printf("READ FAILED: %v\n", err)
			failCount++
			i = pingCount

		case <-time.After(time.Duration(pingTimeout) * time.Second):
			fmt.Printf("TIMEOUT (no reply in %ds)\n", pingTimeout)
			failCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Poll statistics ---\n")
	fmt.Printf("%d polls sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(pingCount-successCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt=%v\n", (totalRTT / time.Duration(successCount)).Round(time.Millisecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
