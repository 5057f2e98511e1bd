// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package validator

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/billstat/pkg/ebds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// ============================================================
// Fake Port
// ============================================================

// fakePort is a scripted serial port: tests push inbound chunks and
// inspect the frames the controller wrote
type fakePort struct {
	reads  chan []byte
	writes chan []byte
	closed chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	writeErr  error
}

func newFakePort() *fakePort {
	return &fakePort{
		reads:  make(chan []byte, 16),
		writes: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk, ok := <-p.reads:
		if !ok {
			return 0, io.EOF
		}
		return copy(b, chunk), nil
	case <-p.closed:
		return 0, errors.New("port closed")
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	err := p.writeErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	frame := make([]byte, len(b))
	copy(frame, b)
	p.writes <- frame
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) failWrites(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

// ============================================================
// Helpers
// ============================================================

func newTestController(t *testing.T, currency string, interval time.Duration) (*Controller, *fakePort) {
	t.Helper()
	port := newFakePort()
	c := New(Config{
		Device:       "/dev/fake",
		Currency:     currency,
		PollInterval: interval,
		Opener:       func(string) (Port, error) { return port, nil },
	})
	t.Cleanup(func() { c.Shutdown() })
	return c, port
}

// runController runs the controller and consumes the connected event and
// the baseline poll
func runController(t *testing.T, currency string) (*Controller, *fakePort) {
	t.Helper()
	c, port := newTestController(t, currency, time.Hour)
	require.NoError(t, c.Run())
	assert.Equal(t, EventConnected, nextEvent(t, c).Type)
	frame := nextWrite(t, port)
	assert.Equal(t, []byte{0x00, 0x1B, 0x10}, payloadOf(t, frame))
	return c, port
}

func nextEvent(t *testing.T, c *Controller) Event {
	t.Helper()
	select {
	case e, ok := <-c.Events():
		require.True(t, ok, "event channel closed")
		return e
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func expectNoEvent(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case e := <-c.Events():
		t.Fatalf("unexpected event: %s", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func nextWrite(t *testing.T, port *fakePort) []byte {
	t.Helper()
	select {
	case frame := <-port.writes:
		return frame
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for write")
	}
	return nil
}

func expectNoWrite(t *testing.T, port *fakePort) {
	t.Helper()
	select {
	case frame := <-port.writes:
		t.Fatalf("unexpected write: % X", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func payloadOf(t *testing.T, frame []byte) []byte {
	t.Helper()
	f, err := ebds.ValidateFrame(frame)
	require.NoError(t, err)
	return f.Data
}

func ackOf(t *testing.T, frame []byte) byte {
	t.Helper()
	f, err := ebds.ValidateFrame(frame)
	require.NoError(t, err)
	return f.Control.Ack
}

// reply builds a device reply frame
func reply(msgType byte, data []byte) []byte {
	length := len(data) + ebds.FrameOverhead
	ctl := ebds.Control{MessageType: msgType}.Byte()
	frame := append([]byte{ebds.STX, byte(length), ctl}, data...)
	frame = append(frame, ebds.ETX, 0x00)
	frame[length-1] = ebds.Checksum(frame)
	return frame
}

func omnibus(b0, b1 byte) []byte {
	return reply(ebds.MsgOmnibusReply, []byte{b0, b1, 0x00, 0x00, 0x54, 0x12})
}

func noteSpec(b0, b1 byte, code, base string) []byte {
	data := []byte{ebds.SubtypeNoteSpec, b0, b1, 0x00, 0x00, 0x54, 0x12}
	data = append(data, 0x01)
	data = append(data, code...)
	data = append(data, base...)
	data = append(data, '+', '0', '1')
	data = append(data, 0x00, 0x01, 0x41, 0x01, 0x41, 0x02, 0x00, 0x00)
	return reply(ebds.MsgExtended, data)
}

// Status bytes
const (
	b0Idle      = 0x01
	b0Escrowed  = 0x04
	b0Accepting = 0x02
	b0Stacking  = 0x08
	b1Cassette  = 0x10
	b1Jammed    = 0x04
)

// ============================================================
// Lifecycle Tests
// ============================================================

func TestRun_SendsBaselinePoll(t *testing.T) {
	c, port := newTestController(t, "USD", time.Hour)
	require.NoError(t, c.Run())

	assert.Equal(t, EventConnected, nextEvent(t, c).Type)

	frame := nextWrite(t, port)
	expected, err := ebds.BuildFrame([]byte{0x00, 0x1B, 0x10}, 1)
	require.NoError(t, err)
	assert.Equal(t, expected, frame)
	assert.Equal(t, StatePolling, c.State())
}

func TestOpen_Failure(t *testing.T) {
	openErr := errors.New("no such device")
	c := New(Config{
		Device: "/dev/missing",
		Opener: func(string) (Port, error) { return nil, openErr },
	})
	defer c.Shutdown()

	err := c.Open()
	assert.ErrorIs(t, err, openErr)

	e := nextEvent(t, c)
	assert.Equal(t, EventError, e.Type)
	assert.ErrorIs(t, e.Err, openErr)
	assert.Equal(t, StateClosed, c.State())
}

func TestOpen_Twice(t *testing.T) {
	c, _ := newTestController(t, "USD", time.Hour)
	require.NoError(t, c.Open())
	assert.ErrorIs(t, c.Open(), ErrAlreadyOpen)
}

func TestCommand_BeforeOpen(t *testing.T) {
	c, port := newTestController(t, "USD", time.Hour)
	assert.ErrorIs(t, c.Enable(), ErrNotOpen)
	assert.Equal(t, byte(0x00), c.Mask(), "mask must not change when nothing was sent")
	expectNoWrite(t, port)
}

func TestClose_Idempotent(t *testing.T) {
	c, port := runController(t, "USD")

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Enable(), ErrNotOpen)
	assert.ErrorIs(t, c.Stack(), ErrNotOpen)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, "USD", c.Currency())

	select {
	case <-port.closed:
	default:
		t.Error("port should be closed")
	}

	// An explicit close is not a disconnect
	expectNoEvent(t, c)
}

func TestClose_ReopenStartsNewSession(t *testing.T) {
	ports := []*fakePort{newFakePort(), newFakePort()}
	opened := 0
	c := New(Config{
		Device:       "/dev/fake",
		Currency:     "USD",
		PollInterval: time.Hour,
		Opener: func(string) (Port, error) {
			p := ports[opened]
			opened++
			return p, nil
		},
	})
	t.Cleanup(func() { c.Shutdown() })

	require.NoError(t, c.Run())
	assert.Equal(t, EventConnected, nextEvent(t, c).Type)
	assert.Equal(t, byte(1), ackOf(t, nextWrite(t, ports[0])))
	require.NoError(t, c.Close())

	require.NoError(t, c.Run())
	assert.Equal(t, EventConnected, nextEvent(t, c).Type)
	assert.Equal(t, StatePolling, c.State())

	// The ack bit carries over; it is only reset on construction
	frame := nextWrite(t, ports[1])
	assert.Equal(t, []byte{0x00, 0x1B, 0x10}, payloadOf(t, frame))
	assert.Equal(t, byte(0), ackOf(t, frame))

	// Replies on the new port are handled
	ports[1].reads <- omnibus(b0Idle, b1Cassette)
	assert.Equal(t, EventIdle, nextEvent(t, c).Type)
}

func TestShutdown_Terminal(t *testing.T) {
	c, port := runController(t, "USD")

	require.NoError(t, c.Shutdown())
	require.NoError(t, c.Shutdown())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Enable(), ErrClosed)
	assert.ErrorIs(t, c.Run(), ErrClosed)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, "", c.Currency())
	assert.Equal(t, byte(0), c.Mask())
	assert.Zero(t, c.Stats().TotalFrames)

	select {
	case <-port.closed:
	default:
		t.Error("port should be closed")
	}

	_, ok := <-c.Events()
	assert.False(t, ok, "event channel should be closed")
}

func TestClose_StopsPolling(t *testing.T) {
	c, port := newTestController(t, "USD", 10*time.Millisecond)
	require.NoError(t, c.Run())
	nextWrite(t, port)
	require.NoError(t, c.Close())

	// Drain anything written before Close returned
	for len(port.writes) > 0 {
		<-port.writes
	}
	expectNoWrite(t, port)
}

func TestDisconnect(t *testing.T) {
	c, port := runController(t, "USD")

	close(port.reads)

	assert.Equal(t, EventDisconnected, nextEvent(t, c).Type)
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Enable(), ErrNotOpen)
}

// ============================================================
// Command Tests
// ============================================================

func TestEnableDisable_Mask(t *testing.T) {
	c, port := runController(t, "USD")

	require.NoError(t, c.Enable())
	assert.Equal(t, []byte{0x7F, 0x1B, 0x10}, payloadOf(t, nextWrite(t, port)))
	assert.Equal(t, byte(0x7F), c.Mask())

	require.NoError(t, c.Disable())
	assert.Equal(t, byte(0x00), payloadOf(t, nextWrite(t, port))[0])
	assert.Equal(t, byte(0x00), c.Mask())
}

func TestStackReject_Payloads(t *testing.T) {
	c, port := runController(t, "USD")
	require.NoError(t, c.Enable())
	nextWrite(t, port)

	require.NoError(t, c.Stack())
	assert.Equal(t, []byte{0x7F, 0x3F, 0x10}, payloadOf(t, nextWrite(t, port)))

	require.NoError(t, c.Reject())
	assert.Equal(t, []byte{0x7F, 0x5F, 0x10}, payloadOf(t, nextWrite(t, port)))
}

func TestAckBit_Alternates(t *testing.T) {
	c, port := newTestController(t, "USD", time.Hour)
	require.NoError(t, c.Run())

	acks := []byte{ackOf(t, nextWrite(t, port))}
	for _, cmd := range []func() error{c.Enable, c.Stack, c.Reject, c.Disable} {
		require.NoError(t, cmd())
		acks = append(acks, ackOf(t, nextWrite(t, port)))
	}

	assert.Equal(t, []byte{1, 0, 1, 0, 1}, acks)
}

func TestSetCurrency_NoIO(t *testing.T) {
	c, port := runController(t, "USD")
	require.NoError(t, c.SetCurrency("eur"))
	assert.Equal(t, "EUR", c.Currency())
	expectNoWrite(t, port)
}

func TestPollTimer_UsesCurrentMask(t *testing.T) {
	c, port := newTestController(t, "USD", 20*time.Millisecond)
	require.NoError(t, c.Run())
	nextWrite(t, port)
	require.NoError(t, c.Enable())
	nextWrite(t, port)

	for i := 0; i < 3; i++ {
		assert.Equal(t, []byte{0x7F, 0x1B, 0x10}, payloadOf(t, nextWrite(t, port)))
	}
}

func TestWriteFailure_EmitsError(t *testing.T) {
	c, port := runController(t, "USD")
	writeErr := errors.New("i/o error")
	port.failWrites(writeErr)

	err := c.Enable()
	assert.ErrorIs(t, err, writeErr)

	e := nextEvent(t, c)
	assert.Equal(t, EventError, e.Type)
	assert.ErrorIs(t, e.Err, writeErr)
}

// ============================================================
// Inbound Tests
// ============================================================

func TestENQ_TriggersPoll(t *testing.T) {
	c, port := runController(t, "USD")
	require.NoError(t, c.Enable())
	nextWrite(t, port)

	port.reads <- []byte{ebds.ENQ}
	assert.Equal(t, []byte{0x7F, 0x1B, 0x10}, payloadOf(t, nextWrite(t, port)))
}

func TestEscrow_EmitsAcceptedThenRead(t *testing.T) {
	c, port := runController(t, "USD")
	require.NoError(t, c.Enable())
	nextWrite(t, port)

	port.reads <- noteSpec(b0Escrowed, b1Cassette, "USD", "005")

	assert.Equal(t, EventBillAccepted, nextEvent(t, c).Type)
	e := nextEvent(t, c)
	require.Equal(t, EventBillRead, e.Type)
	require.NotNil(t, e.Bill)
	assert.Equal(t, "50", e.Bill.Denomination.String())
	assert.Equal(t, "USD", e.Bill.Currency)
	expectNoWrite(t, port)
}

func TestEscrow_CurrencyMismatchRejects(t *testing.T) {
	c, port := runController(t, "EUR")
	require.NoError(t, c.Enable())
	nextWrite(t, port)

	port.reads <- noteSpec(b0Escrowed, b1Cassette, "USD", "005")

	assert.Equal(t, []byte{0x7F, 0x5F, 0x10}, payloadOf(t, nextWrite(t, port)))
	expectNoEvent(t, c)
	expectNoWrite(t, port)

	// Same status again is deduplicated, no second reject
	port.reads <- noteSpec(b0Escrowed, b1Cassette, "USD", "005")
	expectNoWrite(t, port)
}

func TestEscrow_StandardReplyWithoutBillRejects(t *testing.T) {
	c, port := runController(t, "USD")

	port.reads <- omnibus(b0Escrowed, b1Cassette)

	assert.Equal(t, []byte{0x00, 0x5F, 0x10}, payloadOf(t, nextWrite(t, port)))
	expectNoEvent(t, c)
}

func TestStatus_Dedup(t *testing.T) {
	c, port := runController(t, "USD")

	port.reads <- omnibus(b0Idle, b1Cassette)
	assert.Equal(t, EventIdle, nextEvent(t, c).Type)

	port.reads <- omnibus(b0Idle, b1Cassette|b1Jammed)
	assert.Equal(t, EventJam, nextEvent(t, c).Type)

	port.reads <- omnibus(b0Idle, b1Cassette|b1Jammed)
	expectNoEvent(t, c)
}

func TestStatus_Events(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  EventType
	}{
		{"rejected", omnibus(0x00, b1Cassette|0x02), EventBillRejected},
		{"valid", omnibus(b0Accepting|b0Stacking, b1Cassette), EventBillValid},
		{"stacker open", omnibus(b0Idle, 0x00), EventStackerOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, port := runController(t, "USD")
			port.reads <- tt.frame
			assert.Equal(t, tt.want, nextEvent(t, c).Type)
		})
	}
}

func TestBillValid_ZeroDenominationSuppressed(t *testing.T) {
	c, port := runController(t, "USD")

	port.reads <- noteSpec(b0Accepting|b0Stacking, b1Cassette, "USD", "000")
	expectNoEvent(t, c)

	port.reads <- omnibus(b0Idle, b1Cassette)
	assert.Equal(t, EventIdle, nextEvent(t, c).Type)
}

func TestInbound_GarbageAndSplitFrames(t *testing.T) {
	c, port := runController(t, "USD")

	frame := omnibus(b0Idle, b1Cassette|b1Jammed)
	port.reads <- []byte{0xFF, 0x13, 0x37}
	port.reads <- frame[:5]
	port.reads <- frame[5:]

	assert.Equal(t, EventJam, nextEvent(t, c).Type)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.ValidFrames)
	assert.Equal(t, uint64(3), stats.DroppedBytes)
	assert.Equal(t, uint64(1), stats.StatusChanges)
}

func TestInbound_CorruptFrameRecovered(t *testing.T) {
	c, port := runController(t, "USD")

	bad := omnibus(b0Idle, b1Cassette)
	bad[len(bad)-1] ^= 0xA5
	good := omnibus(b0Idle, b1Cassette|b1Jammed)

	port.reads <- append(bad, good...)

	assert.Equal(t, EventJam, nextEvent(t, c).Type)
	assert.Equal(t, uint64(1), c.Stats().ChecksumErrors)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "jam", Event{Type: EventJam}.String())
	assert.Equal(t, "error: boom", Event{Type: EventError, Err: errors.New("boom")}.String())
	assert.Equal(t, "polling", StatePolling.String())
}
