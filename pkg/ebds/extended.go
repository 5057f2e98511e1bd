// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebds

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Bill is a banknote reported in escrow
type Bill struct {
	Denomination decimal.Decimal
	Currency     string
}

// NoteSpec is the 18-byte extension of an extended note specification message
type NoteSpec struct {
	Index          byte
	Currency       string
	Base           int64
	Sign           int
	Exponent       int
	Orientation    byte
	Type           byte
	Series         byte
	Compatibility  byte
	Version        byte
	Classification byte
	Reserved       []byte // extension bytes 15..18, the first overlaps Classification
}

// Denomination computes base × 10^(sign × exponent)
func (n NoteSpec) Denomination() decimal.Decimal {
	return decimal.New(n.Base, int32(n.Sign*n.Exponent))
}

// ExtendedResult is a decoded extended note specification message
type ExtendedResult struct {
	Subtype        byte
	StandardStatus StandardStatus
	Status         Status
	Note           NoteSpec
	Bill           Bill
}

// DecodeExtended decodes the data of an extended reply.
// Returns nil without error for subtypes other than the note specification.
func DecodeExtended(data []byte) (*ExtendedResult, error) {
	if len(data) == 0 {
		return nil, newFrameError(ErrKindShortExtended, "no subtype")
	}

	subtype := data[0]
	if subtype != SubtypeNoteSpec {
		return nil, nil
	}

	if len(data) < extendedOffset+extendedSize {
		return nil, newFrameError(ErrKindShortExtended, "note specification has %d of %d bytes",
			len(data), extendedOffset+extendedSize)
	}

	std, ok := DecodeStatus(data[extendedStatusStart:extendedOffset])
	if !ok {
		return nil, newFrameError(ErrKindShortStatus, "extended status")
	}

	ext := data[extendedOffset : extendedOffset+extendedSize]

	base, err := parseDigits(ext[4:7], "base")
	if err != nil {
		return nil, err
	}

	var sign int
	switch ext[7] {
	case '+':
		sign = 1
	case '-':
		sign = -1
	default:
		return nil, newFrameError(ErrKindMalformedSign, "got 0x%02X", ext[7])
	}

	exponent, err := parseDigits(ext[8:10], "exponent")
	if err != nil {
		return nil, err
	}

	reserved := make([]byte, 3)
	copy(reserved, ext[15:18])

	note := NoteSpec{
		Index:          ext[0],
		Currency:       string(ext[1:4]),
		Base:           base,
		Sign:           sign,
		Exponent:       int(exponent),
		Orientation:    ext[10],
		Type:           ext[11],
		Series:         ext[12],
		Compatibility:  ext[13],
		Version:        ext[14],
		Classification: ext[15],
		Reserved:       reserved,
	}

	return &ExtendedResult{
		Subtype:        subtype,
		StandardStatus: std,
		Status:         Classify(std),
		Note:           note,
		Bill: Bill{
			Denomination: note.Denomination(),
			Currency:     note.Currency,
		},
	}, nil
}

// parseDigits parses an ASCII decimal field
func parseDigits(field []byte, name string) (int64, error) {
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, newFrameError(ErrKindMalformedNumber, "%s %q", name, field)
		}
	}
	v, err := strconv.ParseInt(string(field), 10, 64)
	if err != nil {
		return 0, newFrameError(ErrKindMalformedNumber, "%s %q: %v", name, field, err)
	}
	return v, nil
}
