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

var identifyTimeout int

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify the attached validator from its status reply",
	Long: `Poll the validator once with every denomination disabled and describe the
device from its reply.

Reported:
  - Device type (bill acceptor or recycler) from the control byte
  - Model number and firmware revision from the status bytes
  - Whether the device answers in extended note mode
  - Cassette, power-up and failure flags

Examples:
  billstat identify --port /dev/ttyUSB0
  billstat identify --url ws://bridge.local/validator --username admin

Exit codes:
  0 - Device answered
  1 - No reply before timeout
  2 - Connection error`,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().IntVar(&identifyTimeout, "timeout", 5, "Timeout in seconds to wait for a reply")
}

type deviceInfo struct {
	deviceType  byte
	messageType byte
	status      ebds.StandardStatus
	coarse      ebds.Status
}

// describeDevice extracts the identity fields from a status reply
func describeDevice(r *ebds.Result) (deviceInfo, bool) {
	if r.Frame == nil || r.Message == nil {
		return deviceInfo{}, false
	}
	return deviceInfo{
		deviceType:  r.Frame.Control.DeviceType,
		messageType: r.Frame.Control.MessageType,
		status:      r.Message.StandardStatus,
		coarse:      r.Message.Status,
	}, true
}

func runIdentify(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Billstat - Identify\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", identifyTimeout)

	replies, errChan := readReplies(conn)

	frame, err := ebds.BuildFrame(ebds.OmnibusPoll(ebds.DenominationsNone), 1)
	if err != nil {
		return err
	}
	fmt.Printf("Sending poll (mask=0x%02X)...\n", ebds.DenominationsNone)
	if _, err := conn.Write(frame); err != nil {
		fmt.Printf("SEND FAILED: %v\n", err)
		os.Exit(2)
	}

	deadline := time.After(time.Duration(identifyTimeout) * time.Second)
	for {
		select {
		case r := <-replies:
			info, ok := describeDevice(r)
			if !ok {
				// Calibrate, firmware and auxiliary replies carry no status
				continue
			}

			s := info.status
			fmt.Printf("\nDevice found:\n")
			fmt.Printf("  Type: %s\n", ebds.FormatDeviceType(info.deviceType))
			fmt.Printf("  Model: 0x%02X\n", s.ModelNumber)
			fmt.Printf("  Firmware revision: %d\n", s.FirmwareRevision)
			fmt.Printf("  Extended note mode: %t\n", info.messageType == ebds.MsgExtended)
			fmt.Printf("  Status: %s\n", info.coarse)
			fmt.Printf("  Cassette attached: %t\n", s.CassetteAttached)
			fmt.Printf("  Power-up: %t, Failure: %t\n", s.Powerup, s.Failure)
			fmt.Printf("  Flags: %s\n", ebds.FormatFlags(s))
			return nil

		case err := <-errChan:
			fmt.Printf("READ FAILED: %v\n", err)
			os.Exit(2)

		case <-deadline:
			fmt.Printf("\nTIMEOUT: No status reply in %ds\n", identifyTimeout)
			fmt.Printf("Check line settings (9600 7E1), cabling and device power.\n")
			os.Exit(1)
		}
	}
}
