// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Billstat - Bill Validator Protocol Analyzer
//
// A CLI tool for driving serial bill validators and decoding their
// omnibus protocol traffic in human-readable format.

package main

import (
	"os"

	"github.com/Thermoquad/billstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
