// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

type loopback struct {
	in     *bytes.Reader
	out    bytes.Buffer
	closed bool
}

func (l *loopback) Read(p []byte) (int, error)  { return l.in.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.out.Write(p) }
func (l *loopback) Close() error                { l.closed = true; return nil }

func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	chunks := []struct {
		dir  Direction
		data []byte
	}{
		{DirectionOut, []byte{0x02, 0x08, 0x11, 0x00, 0x1B, 0x10, 0x03, 0x12}},
		{DirectionIn, []byte{0x05}},
		{DirectionIn, []byte{}},
	}

	for _, c := range chunks {
		if err := w.Write(c.dir, c.data); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if w.Count() != len(chunks) {
		t.Errorf("Count = %d, want %d", w.Count(), len(chunks))
	}

	records, err := NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != len(chunks) {
		t.Fatalf("got %d records, want %d", len(records), len(chunks))
	}

	for i, rec := range records {
		if rec.Direction != chunks[i].dir {
			t.Errorf("record %d: direction %s, want %s", i, rec.Direction, chunks[i].dir)
		}
		if !bytes.Equal(rec.Data, chunks[i].data) {
			t.Errorf("record %d: data % X, want % X", i, rec.Data, chunks[i].data)
		}
		if rec.Time.IsZero() {
			t.Errorf("record %d: missing timestamp", i)
		}
	}

	if !records[0].Time.Before(records[2].Time) && !records[0].Time.Equal(records[2].Time) {
		t.Error("timestamps should be non-decreasing")
	}
}

func TestWriter_CopiesData(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	data := []byte{0x01, 0x02}
	if err := w.Write(DirectionIn, data); err != nil {
		t.Fatal(err)
	}
	data[0] = 0xFF

	rec, err := NewReader(&buf).Next()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Data[0] != 0x01 {
		t.Errorf("recorded data changed after Write: % X", rec.Data)
	}
}

func TestReader_Empty(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil)).Next()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).Write(DirectionIn, []byte{0x02, 0x03}); err != nil {
		t.Fatal(err)
	}
	cut := buf.Bytes()[:buf.Len()-1]

	_, err := NewReader(bytes.NewReader(cut)).Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("expected decode error for truncated record, got %v", err)
	}
}

func TestReader_InvalidDirection(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).Write(Direction(9), []byte{0x01}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReader(&buf).Next(); err == nil {
		t.Error("expected error for invalid direction")
	}
}

func TestTap(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	port := &loopback{in: bytes.NewReader([]byte{0x05})}

	var recordErr error
	tap := NewTap(port, w, func(err error) { recordErr = err })

	if _, err := tap.Write([]byte{0xAA, 0xBB}); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 8)
	n, err := tap.Read(p)
	if err != nil || n != 1 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if _, err := tap.Read(p); err != io.EOF {
		t.Errorf("expected io.EOF from drained port, got %v", err)
	}
	if err := tap.Close(); err != nil {
		t.Fatal(err)
	}

	if recordErr != nil {
		t.Errorf("unexpected record error: %v", recordErr)
	}
	if !port.closed {
		t.Error("Close should close the wrapped port")
	}
	if !bytes.Equal(port.out.Bytes(), []byte{0xAA, 0xBB}) {
		t.Errorf("wrapped port got % X", port.out.Bytes())
	}

	records, err := NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Direction != DirectionOut || records[1].Direction != DirectionIn {
		t.Errorf("directions = %s, %s", records[0].Direction, records[1].Direction)
	}
	if records[1].Data[0] != 0x05 {
		t.Errorf("inbound data = % X", records[1].Data)
	}
}

func TestDirectionString(t *testing.T) {
	if DirectionIn.String() != "RX" || DirectionOut.String() != "TX" || Direction(0).String() != "??" {
		t.Error("unexpected direction names")
	}
}
