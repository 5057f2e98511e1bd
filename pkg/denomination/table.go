// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package denomination maps fiat currency codes to the bill values a
// validator accepts, and answers the lowest/highest acceptable bill
// questions a transaction flow asks before enabling the validator.
package denomination

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ErrNoTable is returned when a currency has no denomination table
var ErrNoTable = errors.New("no denomination table for currency")

// Table is the currency lookup contract consumed by the validator
type Table interface {
	// Lookup returns the ordered bill values for a currency code
	Lookup(code string) ([]decimal.Decimal, bool)
}

// Static is a map-backed Table. Codes are stored upper case.
type Static map[string][]decimal.Decimal

// Lookup implements Table. The returned slice is a copy.
func (s Static) Lookup(code string) ([]decimal.Decimal, bool) {
	values, ok := s[strings.ToUpper(code)]
	if !ok {
		return nil, false
	}
	out := make([]decimal.Decimal, len(values))
	copy(out, values)
	return out, true
}

// Codes returns the configured currency codes in sorted order
func (s Static) Codes() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// NewStatic builds a Static table from integer bill values
func NewStatic(values map[string][]int64) Static {
	s := make(Static, len(values))
	for code, bills := range values {
		ds := make([]decimal.Decimal, len(bills))
		for i, v := range bills {
			ds[i] = decimal.NewFromInt(v)
		}
		s.set(code, ds)
	}
	return s
}

func (s Static) set(code string, values []decimal.Decimal) {
	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	s[strings.ToUpper(code)] = sorted
}

// Default is the built-in table for common validator currency sets
var Default = NewStatic(map[string][]int64{
	"AUD": {5, 10, 20, 50, 100},
	"BRL": {2, 5, 10, 20, 50, 100, 200},
	"CAD": {5, 10, 20, 50, 100},
	"CHF": {10, 20, 50, 100, 200, 1000},
	"EUR": {5, 10, 20, 50, 100, 200, 500},
	"GBP": {5, 10, 20, 50},
	"JPY": {1000, 2000, 5000, 10000},
	"MXN": {20, 50, 100, 200, 500, 1000},
	"NZD": {5, 10, 20, 50, 100},
	"USD": {1, 2, 5, 10, 20, 50, 100},
	"ZAR": {10, 20, 50, 100, 200},
})

// FromConfig overlays the "denominations" section of a viper config on
// top of base. Each key is a currency code holding a list of bill values.
func FromConfig(v *viper.Viper, base Static) (Static, error) {
	s := make(Static, len(base))
	for code, values := range base {
		s[code] = values
	}

	section := v.GetStringMap("denominations")
	for code := range section {
		raw := v.GetStringSlice("denominations." + code)
		if len(raw) == 0 {
			return nil, fmt.Errorf("denominations.%s: empty list", code)
		}
		values := make([]decimal.Decimal, len(raw))
		for i, r := range raw {
			d, err := decimal.NewFromString(strings.TrimSpace(r))
			if err != nil {
				return nil, fmt.Errorf("denominations.%s[%d]: %w", code, i, err)
			}
			if !d.IsPositive() {
				return nil, fmt.Errorf("denominations.%s[%d]: bill value must be positive, got %s", code, i, d)
			}
			values[i] = d
		}
		s.set(code, values)
	}

	return s, nil
}

// Denominations returns the bill values for a currency, or false
func Denominations(t Table, code string) ([]decimal.Decimal, bool) {
	return t.Lookup(code)
}

// HasTable reports whether a currency has a denomination table
func HasTable(t Table, code string) bool {
	values, ok := t.Lookup(code)
	return ok && len(values) > 0
}

// LowestAcceptable returns the smallest bill that covers amount, or the
// smallest bill of the table when none does.
func LowestAcceptable(t Table, code string, amount decimal.Decimal) (decimal.Decimal, error) {
	values, ok := t.Lookup(code)
	if !ok || len(values) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoTable, code)
	}

	var best *decimal.Decimal
	for i := range values {
		if values[i].GreaterThanOrEqual(amount) && (best == nil || values[i].LessThan(*best)) {
			best = &values[i]
		}
	}
	if best == nil {
		return decimal.Min(values[0], values[1:]...), nil
	}
	return *best, nil
}

// HighestAcceptable returns the largest bill not exceeding amount.
// ok is false when amount is smaller than every bill, meaning any bill
// inserted must be rejected.
func HighestAcceptable(t Table, code string, amount decimal.Decimal) (value decimal.Decimal, ok bool, err error) {
	values, found := t.Lookup(code)
	if !found || len(values) == 0 {
		return decimal.Zero, false, fmt.Errorf("%w: %s", ErrNoTable, code)
	}

	var best *decimal.Decimal
	for i := range values {
		if values[i].LessThanOrEqual(amount) && (best == nil || values[i].GreaterThan(*best)) {
			best = &values[i]
		}
	}
	if best == nil {
		return decimal.Zero, false, nil
	}
	return *best, true, nil
}
