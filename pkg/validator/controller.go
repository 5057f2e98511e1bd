// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package validator drives a bill validator over a serial line: it polls
// the device, tracks the alternating ack bit and the enabled denomination
// mask, and turns status replies into a stream of typed events.
package validator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/billstat/pkg/ebds"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("validator")

// DefaultPollInterval is the heartbeat period of the poll frame
const DefaultPollInterval = 10 * time.Second

const (
	defaultEventBuffer = 64
	readBufferSize     = 256
)

var (
	// ErrClosed is returned by every operation after Shutdown
	ErrClosed = errors.New("validator shut down")

	// ErrNotOpen is returned when a command is sent without an open transport
	ErrNotOpen = errors.New("validator transport not open")

	// ErrAlreadyOpen is returned by Open when the transport is already open
	ErrAlreadyOpen = errors.New("validator transport already open")
)

// State is the session state of the controller
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StatePolling
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// Config holds the controller settings
type Config struct {
	Device       string
	Currency     string
	PollInterval time.Duration
	Opener       Opener
	Logger       *logging.Logger
	EventBuffer  int
}

type request struct {
	op    func() error
	reply chan error
}

type inbound struct {
	session uint64
	data    []byte
	err     error
}

// Controller owns one validator connection.
//
// All protocol state lives in a single event loop goroutine; inbound bytes,
// timer ticks and commands are handled there one at a time, in arrival
// order. Close ends a session and Open or Run starts a new one; Shutdown
// must be called to release the loop.
type Controller struct {
	cfg Config
	log *logging.Logger

	events   chan Event
	requests chan request
	inbound  chan inbound
	quit     chan struct{}
	done     chan struct{}

	quitOnce sync.Once
	state    atomic.Int32
	closeErr error

	// Owned by the event loop
	port     Port
	session  uint64
	reasm    *ebds.Reassembler
	stats    *ebds.Statistics
	ack      byte
	mask     byte
	currency string
	last     ebds.Status
	ticker   *time.Ticker
}

// New creates a controller and starts its event loop
func New(cfg Config) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Opener == nil {
		cfg.Opener = SerialOpener
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log
	}

	c := &Controller{
		cfg:      cfg,
		log:      logger,
		events:   make(chan Event, cfg.EventBuffer),
		requests: make(chan request),
		inbound:  make(chan inbound),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		reasm:    ebds.NewReassembler(),
		stats:    ebds.NewStatistics(),
		currency: normalizeCurrency(cfg.Currency),
		last:     ebds.StatusNone,
	}

	go c.loop()
	return c
}

// Events returns the event stream. It is closed by Shutdown.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// State returns the current session state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Open opens the transport and starts reading from it
func (c *Controller) Open() error {
	return c.do(func() error {
		if c.port != nil {
			return ErrAlreadyOpen
		}
		return c.open()
	})
}

// Run opens the transport if needed, sends the baseline poll with every
// denomination disabled, then polls with the current mask every
// PollInterval. The poll doubles as the keep-alive.
func (c *Controller) Run() error {
	return c.do(func() error {
		if c.port == nil {
			if err := c.open(); err != nil {
				return err
			}
		}

		if _, err := c.dispatch(ebds.OmnibusPoll(ebds.DenominationsNone)); err != nil {
			return err
		}

		c.stopTicker()
		c.ticker = time.NewTicker(c.cfg.PollInterval)
		c.setState(StatePolling)
		c.log.Infof("action: run | result: success | device: %s | interval: %s", c.cfg.Device, c.cfg.PollInterval)
		return nil
	})
}

// Enable accepts every denomination and polls immediately
func (c *Controller) Enable() error {
	return c.do(func() error {
		return c.poll(ebds.DenominationsAll)
	})
}

// Disable refuses every denomination and polls immediately
func (c *Controller) Disable() error {
	return c.do(func() error {
		return c.poll(ebds.DenominationsNone)
	})
}

// Reject asks the device to return the escrowed document
func (c *Controller) Reject() error {
	return c.do(c.reject)
}

// Stack asks the device to stack (credit) the escrowed document
func (c *Controller) Stack() error {
	return c.do(func() error {
		_, err := c.dispatch(ebds.OmnibusStack(c.mask))
		return err
	})
}

// SetCurrency sets the fiat code escrowed bills must match. No I/O.
func (c *Controller) SetCurrency(code string) error {
	return c.do(func() error {
		c.currency = normalizeCurrency(code)
		return nil
	})
}

// Currency returns the configured fiat code, or "" after Shutdown
func (c *Controller) Currency() string {
	var code string
	c.do(func() error {
		code = c.currency
		return nil
	})
	return code
}

// Mask returns the enabled denomination mask, or zero after Shutdown
func (c *Controller) Mask() byte {
	var mask byte
	c.do(func() error {
		mask = c.mask
		return nil
	})
	return mask
}

// Stats returns a snapshot of the link statistics. After Shutdown the
// snapshot is zero.
func (c *Controller) Stats() ebds.Statistics {
	var snapshot ebds.Statistics
	c.do(func() error {
		snapshot = *c.stats
		return nil
	})
	return snapshot
}

// Close cancels the poll timer and closes the transport without emitting
// EventDisconnected. Commands then return ErrNotOpen until Open or Run
// starts a new session. Safe to call more than once, and a no-op after
// Shutdown.
func (c *Controller) Close() error {
	err := c.do(c.closePort)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Shutdown closes the transport, stops the event loop and closes the
// Events channel. Every later call returns ErrClosed. Safe to call more
// than once.
func (c *Controller) Shutdown() error {
	c.quitOnce.Do(func() {
		close(c.quit)
	})
	<-c.done
	return c.closeErr
}

// do runs op on the event loop and waits for its result
func (c *Controller) do(op func() error) error {
	reply := make(chan error, 1)

	select {
	case c.requests <- request{op: op, reply: reply}:
	case <-c.quit:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) loop() {
	defer close(c.done)

	for {
		var tick <-chan time.Time
		if c.ticker != nil {
			tick = c.ticker.C
		}

		select {
		case <-c.quit:
			c.shutdown()
			return

		case req := <-c.requests:
			req.reply <- req.op()

		case in := <-c.inbound:
			c.handleInbound(in)

		case <-tick:
			if err := c.poll(c.mask); err != nil {
				c.log.Errorf("action: poll | result: fail | error: %v", err)
			}
		}
	}
}

func (c *Controller) shutdown() {
	c.closeErr = c.closePort()
	close(c.events)
}

// closePort cancels the timer before releasing the transport
func (c *Controller) closePort() error {
	c.stopTicker()
	c.setState(StateClosed)
	if c.port == nil {
		return nil
	}

	c.session++
	err := c.port.Close()
	c.port = nil
	if err != nil {
		c.log.Warningf("action: close | result: fail | device: %s | error: %v", c.cfg.Device, err)
		return fmt.Errorf("failed to close %s: %w", c.cfg.Device, err)
	}
	c.log.Infof("action: close | result: success | device: %s", c.cfg.Device)
	return nil
}

func (c *Controller) open() error {
	c.setState(StateOpening)

	port, err := c.cfg.Opener(c.cfg.Device)
	if err != nil {
		c.setState(StateClosed)
		c.log.Errorf("action: open | result: fail | device: %s | error: %v", c.cfg.Device, err)
		c.emit(Event{Type: EventError, Err: err})
		return err
	}

	c.port = port
	c.session++
	go c.readLoop(c.session, port)

	c.setState(StateOpen)
	c.log.Infof("action: open | result: success | device: %s", c.cfg.Device)
	c.emit(Event{Type: EventConnected})
	return nil
}

// readLoop moves chunks from the port to the event loop
func (c *Controller) readLoop(session uint64, port Port) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.inbound <- inbound{session: session, data: chunk}:
			case <-c.quit:
				return
			}
		}
		if err != nil {
			select {
			case c.inbound <- inbound{session: session, err: err}:
			case <-c.quit:
			}
			return
		}
	}
}

func (c *Controller) handleInbound(in inbound) {
	// Bytes from a transport that has since been closed
	if in.session != c.session || c.port == nil {
		return
	}

	if in.err != nil {
		c.disconnect(in.err)
		return
	}

	for _, r := range c.reasm.Feed(in.data) {
		c.stats.Update(r)

		switch {
		case r.Poll:
			if err := c.poll(c.mask); err != nil {
				c.log.Errorf("action: enq_poll | result: fail | error: %v", err)
			}
		case r.Err != nil:
			c.log.Debugf("action: decode | result: fail | error: %v | frame: % X", r.Err, r.Raw)
		case r.Message != nil:
			c.handleMessage(r.Message)
		}
	}
	c.stats.DroppedBytes = c.reasm.Dropped()
}

// disconnect tears down a transport that closed underneath us
func (c *Controller) disconnect(cause error) {
	c.log.Warningf("action: read | result: disconnected | device: %s | error: %v", c.cfg.Device, cause)
	c.stopTicker()
	c.session++
	if err := c.port.Close(); err != nil {
		c.log.Debugf("action: close | result: fail | device: %s | error: %v", c.cfg.Device, err)
	}
	c.port = nil
	c.setState(StateClosed)
	c.emit(Event{Type: EventDisconnected})
}

// handleMessage suppresses repeated statuses and emits the rest
func (c *Controller) handleMessage(m *ebds.Message) {
	status := m.Status
	if status == c.last {
		return
	}
	c.last = status
	c.stats.StatusChanges++

	c.log.Debugf("action: status | result: changed | status: %s", status)

	switch status {
	case ebds.StatusBillRead:
		if m.Bill == nil || m.Bill.Currency != c.currency {
			got := "(none)"
			if m.Bill != nil {
				got = m.Bill.Currency
			}
			c.log.Warningf("action: bill_read | result: currency_mismatch | expected: %s | got: %s", c.currency, got)
			if err := c.reject(); err != nil {
				c.log.Errorf("action: reject | result: fail | error: %v", err)
			}
			return
		}

		bill := *m.Bill
		c.emit(Event{Type: EventBillAccepted})
		c.emit(Event{Type: EventBillRead, Bill: &bill})

	case ebds.StatusBillValid:
		// Happens when the cashbox is reseated
		if m.Bill != nil && m.Bill.Denomination.IsZero() {
			return
		}
		c.emit(Event{Type: EventBillValid})

	default:
		if t, ok := statusEvents[status]; ok {
			c.emit(Event{Type: t})
		}
	}
}

func (c *Controller) reject() error {
	_, err := c.dispatch(ebds.OmnibusReturn(c.mask))
	return err
}

// poll sends the poll frame; mask is committed once the frame is built
func (c *Controller) poll(mask byte) error {
	built, err := c.dispatch(ebds.OmnibusPoll(mask))
	if built {
		c.mask = mask
	}
	return err
}

// dispatch frames a payload with the next ack bit and writes it.
// built reports whether the frame was built and the ack bit committed.
func (c *Controller) dispatch(payload []byte) (built bool, err error) {
	if c.port == nil {
		return false, ErrNotOpen
	}

	next := c.ack ^ 0x01
	frame, err := ebds.BuildFrame(payload, next)
	if err != nil {
		return false, err
	}
	c.ack = next

	if _, err := c.port.Write(frame); err != nil {
		err = fmt.Errorf("failed to write to %s: %w", c.cfg.Device, err)
		c.emit(Event{Type: EventError, Err: err})
		return true, err
	}

	c.log.Debugf("action: send | result: success | frame: % X", frame)
	return true, nil
}

// emit delivers an event unless the controller is shutting down
func (c *Controller) emit(e Event) {
	e.Time = time.Now()
	select {
	case c.events <- e:
	case <-c.quit:
	}
}

func (c *Controller) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
