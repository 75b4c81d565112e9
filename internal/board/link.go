// Package board owns the network link to the remote controller board. The
// board speaks Firmata over TCP; the link runs the firmata client handshake,
// enables analog reporting and keeps the latest reading per analog pin.
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gobot.io/x/gobot/v2/platforms/firmata/client"

	"github.com/kristoforerickson/mkr1000/internal/logging"
)

// State is the lifecycle of a link. It only moves forward.
type State int32

const (
	Disconnected State = iota
	LinkEstablished
	BoardReady
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case LinkEstablished:
		return "link_established"
	case BoardReady:
		return "board_ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Reading is the most recent raw value reported for an analog pin.
type Reading struct {
	Pin       int
	Raw       int
	Timestamp time.Time
}

type Options struct {
	DialTimeout time.Duration
	// HandshakeTimeout bounds the firmata query sequence after dialing.
	HandshakeTimeout time.Duration
	SamplingInterval time.Duration
	// AnalogPins are analog channel numbers (1 for A1).
	AnalogPins []int
	Logger     *slog.Logger
	Now        func() time.Time
}

// AnalogPin is a handle on one analog input. Latest never blocks.
type AnalogPin struct {
	pin int

	mu     sync.RWMutex
	latest Reading
	seen   bool
}

func (p *AnalogPin) Pin() int { return p.pin }

// Latest returns the last reported reading; ok is false until the board has
// reported the pin at least once.
func (p *AnalogPin) Latest() (Reading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.seen
}

func (p *AnalogPin) store(r Reading) {
	p.mu.Lock()
	p.latest = r
	p.seen = true
	p.mu.Unlock()
}

type Link struct {
	addr   string
	conn   net.Conn
	client *client.Client
	opts   Options
	logger *slog.Logger

	state atomic.Int32
	pins  map[int]*AnalogPin

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closing   atomic.Bool

	// mu guards err and connected; connected means the client owns the
	// connection and must be disconnected through it.
	mu        sync.Mutex
	err       error
	connected bool
}

// Connect dials the board and starts the handshake. It returns once the
// transport is up (LinkEstablished); readiness is signalled by Ready.
func Connect(ctx context.Context, addr string, opts Options) (*Link, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SamplingInterval <= 0 {
		opts.SamplingInterval = 250 * time.Millisecond
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	fc := client.New()
	fc.ConnectTimeout = opts.HandshakeTimeout

	l := &Link{
		addr:   addr,
		conn:   conn,
		client: fc,
		opts:   opts,
		logger: logging.Component(opts.Logger, "board", "addr", addr),
		pins:   make(map[int]*AnalogPin, len(opts.AnalogPins)),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, pin := range opts.AnalogPins {
		l.pins[pin] = &AnalogPin{pin: pin}
	}
	l.state.Store(int32(LinkEstablished))
	l.logger.Info("board link established")

	go l.handshake()
	return l, nil
}

func (l *Link) State() State { return State(l.state.Load()) }

// Ready is closed exactly once, when the board finished its handshake.
func (l *Link) Ready() <-chan struct{} { return l.ready }

// Done is closed when the link is gone; Err then reports why.
func (l *Link) Done() <-chan struct{} { return l.done }

func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// WaitReady blocks until the board is ready, the link fails or ctx ends.
func (l *Link) WaitReady(ctx context.Context) error {
	select {
	case <-l.ready:
		return nil
	case <-l.done:
		return fmt.Errorf("board handshake: %w", l.Err())
	case <-ctx.Done():
		return fmt.Errorf("board handshake: %w", ctx.Err())
	}
}

// Analog returns the handle of a configured analog pin.
func (l *Link) Analog(pin int) (*AnalogPin, error) {
	p, ok := l.pins[pin]
	if !ok {
		return nil, fmt.Errorf("analog pin A%d is not configured", pin)
	}
	return p, nil
}

// Close is idempotent; Err reports ErrClosed afterwards.
func (l *Link) Close() error {
	l.closing.Store(true)
	l.fail(ErrClosed)
	return nil
}

// handshake runs the client's version, firmware, capability and analog
// mapping queries, then subscribes to the configured pins and turns on
// reporting.
func (l *Link) handshake() {
	start := time.Now()
	if err := l.client.Connect(l.conn); err != nil {
		if time.Since(start) >= l.opts.HandshakeTimeout {
			err = fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}
		l.fail(fmt.Errorf("firmata handshake: %w", err))
		return
	}

	l.mu.Lock()
	l.connected = true
	failed := l.err != nil
	l.mu.Unlock()
	if failed {
		_ = l.client.Disconnect()
		return
	}
	l.logger.Info("board firmware reported",
		"firmware", l.client.FirmwareName,
		"protocol", l.client.ProtocolVersion,
	)

	for pin, p := range l.pins {
		_ = l.client.On(analogEvent(pin), func(data any) {
			raw, ok := data.(int)
			if !ok {
				return
			}
			p.store(Reading{Pin: p.pin, Raw: raw, Timestamp: l.opts.Now()})
		})
	}
	_ = l.client.On(eventError, func(data any) {
		err, _ := data.(error)
		if err == nil {
			err = fmt.Errorf("firmata client: %v", data)
		}
		l.fail(err)
	})

	if err := l.client.WriteSysex(samplingIntervalSysex(l.opts.SamplingInterval)); err != nil {
		l.fail(fmt.Errorf("set sampling interval: %w", err))
		return
	}
	for pin := range l.pins {
		if err := l.client.ReportAnalog(pin, 1); err != nil {
			l.fail(fmt.Errorf("enable reporting A%d: %w", pin, err))
			return
		}
	}

	if l.Err() != nil {
		return
	}
	l.state.Store(int32(BoardReady))
	l.readyOnce.Do(func() { close(l.ready) })
	l.logger.Info("board ready", "analog_pins", len(l.pins), "sampling_interval", l.opts.SamplingInterval)
}

// fail records the first cause, tears the connection down and closes Done.
// Later calls are no-ops.
func (l *Link) fail(cause error) {
	l.mu.Lock()
	if l.err != nil {
		l.mu.Unlock()
		return
	}
	switch {
	case l.closing.Load():
		l.err = ErrClosed
	case l.State() == BoardReady:
		l.err = fmt.Errorf("%w: %v", ErrLinkLost, cause)
	case cause == nil:
		l.err = errors.New("board link failed")
	default:
		l.err = cause
	}
	err := l.err
	connected := l.connected
	l.mu.Unlock()

	if !errors.Is(err, ErrClosed) {
		l.logger.Error("board link failed", "state", l.State().String(), "error", err)
	}
	if connected {
		// stops the client's read loop as well as closing the conn
		_ = l.client.Disconnect()
	} else {
		_ = l.conn.Close()
	}
	close(l.done)
}
