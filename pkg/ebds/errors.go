// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ebds

import (
	"errors"
	"fmt"
)

// ErrorKind classifies frame and message decode failures
type ErrorKind int

const (
	ErrKindTruncated ErrorKind = iota
	ErrKindBadSTX
	ErrKindMissingETX
	ErrKindBadChecksum
	ErrKindPayloadTooLong
	ErrKindShortStatus
	ErrKindMalformedSign
	ErrKindMalformedNumber
	ErrKindShortExtended
)

// Sentinel errors, matched with errors.Is against a *FrameError
var (
	ErrTruncated       = errors.New("truncated frame")
	ErrBadSTX          = errors.New("frame does not start with STX")
	ErrMissingETX      = errors.New("no ETX present")
	ErrBadChecksum     = errors.New("bad checksum")
	ErrPayloadTooLong  = errors.New("data length is too long")
	ErrShortStatus     = errors.New("status data too short")
	ErrMalformedSign   = errors.New("malformed exponent sign")
	ErrMalformedNumber = errors.New("malformed decimal field")
	ErrShortExtended   = errors.New("extended data too short")
)

var kindSentinels = map[ErrorKind]error{
	ErrKindTruncated:       ErrTruncated,
	ErrKindBadSTX:          ErrBadSTX,
	ErrKindMissingETX:      ErrMissingETX,
	ErrKindBadChecksum:     ErrBadChecksum,
	ErrKindPayloadTooLong:  ErrPayloadTooLong,
	ErrKindShortStatus:     ErrShortStatus,
	ErrKindMalformedSign:   ErrMalformedSign,
	ErrKindMalformedNumber: ErrMalformedNumber,
	ErrKindShortExtended:   ErrShortExtended,
}

// FrameError describes why a frame or message could not be interpreted
type FrameError struct {
	Kind   ErrorKind
	Detail string
}

// Error implements the error interface
func (e *FrameError) Error() string {
	base := kindSentinels[e.Kind]
	if base == nil {
		return e.Detail
	}
	if e.Detail == "" {
		return base.Error()
	}
	return fmt.Sprintf("%s: %s", base.Error(), e.Detail)
}

// Is reports whether target is the sentinel for this error's kind
func (e *FrameError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newFrameError(kind ErrorKind, format string, args ...interface{}) *FrameError {
	return &FrameError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsFrameError returns true if the error is a *FrameError
func IsFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}
