// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records the raw byte traffic of a validator session and
// plays it back.
//
// A capture file is a CBOR sequence (RFC 8742) of Record items, one per
// read or write on the transport.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured chunk relative to the host
type Direction uint8

const (
	DirectionIn  Direction = 1 // device → host
	DirectionOut Direction = 2 // host → device
)

// String returns a short arrow notation for the direction
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "RX"
	case DirectionOut:
		return "TX"
	default:
		return "??"
	}
}

// Record is one captured transport operation
type Record struct {
	Direction Direction `cbor:"1,keyasint"`
	Time      time.Time `cbor:"2,keyasint"`
	Data      []byte    `cbor:"3,keyasint"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Writer appends records to a capture stream. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	n   int
}

// NewWriter creates a capture writer on w
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: encMode.NewEncoder(w)}
}

// Write appends one record. Data is copied before encoding.
func (w *Writer) Write(dir Direction, data []byte) error {
	rec := Record{
		Direction: dir,
		Time:      time.Now(),
		Data:      append([]byte(nil), data...),
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode capture record: %w", err)
	}
	w.n++
	return nil
}

// Count returns the number of records written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Reader reads records from a capture stream
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a capture reader on r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to decode capture record: %w", err)
	}
	if rec.Direction != DirectionIn && rec.Direction != DirectionOut {
		return Record{}, fmt.Errorf("invalid capture direction %d", rec.Direction)
	}
	return rec, nil
}

// ReadAll reads every remaining record
func (r *Reader) ReadAll() ([]Record, error) {
	var records []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

// Tap wraps a transport and records every chunk read from or written to it.
// Recording failures are reported through onError and never fail the I/O.
type Tap struct {
	rw      io.ReadWriteCloser
	w       *Writer
	onError func(error)
}

// NewTap wraps rw, recording into w
func NewTap(rw io.ReadWriteCloser, w *Writer, onError func(error)) *Tap {
	if onError == nil {
		onError = func(error) {}
	}
	return &Tap{rw: rw, w: w, onError: onError}
}

func (t *Tap) Read(p []byte) (int, error) {
	n, err := t.rw.Read(p)
	if n > 0 {
		if werr := t.w.Write(DirectionIn, p[:n]); werr != nil {
			t.onError(werr)
		}
	}
	return n, err
}

func (t *Tap) Write(p []byte) (int, error) {
	n, err := t.rw.Write(p)
	if n > 0 {
		if werr := t.w.Write(DirectionOut, p[:n]); werr != nil {
			t.onError(werr)
		}
	}
	return n, err
}

// Close closes the wrapped transport
func (t *Tap) Close() error {
	return t.rw.Close()
}
