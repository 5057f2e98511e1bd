// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/billstat/pkg/denomination"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var denominationsCmd = &cobra.Command{
	Use:   "denominations [AMOUNT]",
	Short: "List bill denominations and look up acceptable bills",
	Long: `Show the denomination table for --currency.

With an AMOUNT, also show the lowest bill that covers it and the highest
bill that does not exceed it. Tables come from the built-in defaults and
may be extended in the config file:

  denominations:
    USD: [1, 2, 5, 10, 20, 50, 100]
    SEK: [20, 50, 100, 200, 500]

With no --currency table, every known currency code is listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDenominations,
}

func init() {
	rootCmd.AddCommand(denominationsCmd)
}

func joinDecimals(values []decimal.Decimal) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func runDenominations(cmd *cobra.Command, args []string) error {
	table, err := configDenominations()
	if err != nil {
		return err
	}

	code := strings.ToUpper(config.GetString("currency"))
	values, ok := denomination.Denominations(table, code)
	if !ok {
		fmt.Printf("No denomination table for %q\n", code)
		fmt.Printf("Known currencies: %s\n", strings.Join(table.Codes(), " "))
		return denomination.ErrNoTable
	}

	fmt.Printf("%s: %s\n", code, joinDecimals(values))

	if len(args) == 0 {
		return nil
	}

	amount, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[0], err)
	}

	lowest, err := denomination.LowestAcceptable(table, code, amount)
	if err != nil {
		return err
	}
	fmt.Printf("Lowest acceptable for %s:  %s\n", amount, lowest)

	highest, ok, err := denomination.HighestAcceptable(table, code, amount)
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("Highest acceptable for %s: %s\n", amount, highest)
	} else {
		fmt.Printf("Highest acceptable for %s: none (every bill exceeds it)\n", amount)
	}
	return nil
}
