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
	packetTestTimeout int
	packetTestPoll    bool
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid validator frame",
	Long: `Wait for a valid validator frame on the connection until timeout.

By default a single poll with every denomination disabled is sent first, so
an idle validator answers with a status reply. Use --poll=false to listen
passively. Invalid bytes are skipped until a complete frame with a correct
checksum arrives.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	packetTestCmd.Flags().BoolVar(&packetTestPoll, "poll", true, "Send one poll before listening")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Billstat - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	frameChan := make(chan *ebds.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		reasm := ebds.NewReassembler()
		invalid := 0
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for _, r := range reasm.Feed(buf[:n]) {
				if r.Err != nil {
					invalid++
					continue
				}
				if r.Frame != nil {
					if skipped := reasm.Dropped(); skipped > 0 || invalid > 0 {
						fmt.Printf("(skipped %d bytes and %d bad frames before sync)\n", skipped, invalid)
					}
					frameChan <- r.Frame
					return
				}
			}
		}
	}()

	if packetTestPoll {
		frame, err := ebds.BuildFrame(ebds.OmnibusPoll(ebds.DenominationsNone), 1)
		if err == nil {
			_, err = conn.Write(frame)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
	}

	select {
	case frame := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Type: %s (0b%03b)\n", ebds.FormatMessageType(frame.Control.MessageType), frame.Control.MessageType)
		fmt.Printf("  Device: %s\n", ebds.FormatDeviceType(frame.Control.DeviceType))
		fmt.Printf("  Length: %d bytes\n", frame.Length)
		fmt.Printf("  Checksum: 0x%02X\n", frame.Checksum)
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
