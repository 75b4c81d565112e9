// Package boardtest provides an in-process Firmata board emulator that
// listens on loopback TCP. It answers the version, firmware, capability and
// analog-mapping queries like an MKR1000 running WiFiFirmata and streams
// analog values for the channels the host enabled.
package boardtest

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"
)

// Pin layout of an MKR1000: D0-D14 digital, A0-A6 on pins 15-21.
const (
	totalPins     = 22
	firstAnalog   = 15
	analogChannel = 7
)

// Query bytes recorded by Queries.
const (
	QueryVersion       byte = 0xF9
	QueryFirmware      byte = 0x79
	QueryCapability    byte = 0x6B
	QueryAnalogMapping byte = 0x69
)

type Board struct {
	ln net.Listener

	mu        sync.Mutex
	conn      net.Conn
	silent    bool
	reporting map[int]bool
	values    map[int]int
	interval  time.Duration
	queries   []byte

	configured chan struct{}
	wg         sync.WaitGroup
}

// Start listens on 127.0.0.1 with an ephemeral port.
func Start() (*Board, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	b := &Board{
		ln:         ln,
		reporting:  make(map[int]bool),
		values:     make(map[int]int),
		configured: make(chan struct{}, 16),
	}
	b.wg.Add(1)
	go b.acceptLoop()
	return b, nil
}

func (b *Board) Addr() string { return b.ln.Addr().String() }

// SetSilent makes the board ignore version queries, so the host never
// reaches readiness.
func (b *Board) SetSilent(v bool) {
	b.mu.Lock()
	b.silent = v
	b.mu.Unlock()
}

// SetAnalog stores a raw value for an analog channel and pushes it to the
// host if the channel is reporting.
func (b *Board) SetAnalog(channel, raw int) error {
	b.mu.Lock()
	b.values[channel] = raw
	conn := b.conn
	on := b.reporting[channel]
	b.mu.Unlock()
	if conn == nil || !on {
		return nil
	}
	_, err := conn.Write(analogMessage(channel, raw))
	return err
}

func (b *Board) Reporting(channel int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reporting[channel]
}

func (b *Board) SamplingInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

// Queries lists the query commands received on the current connection, in
// arrival order.
func (b *Board) Queries() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.queries...)
}

// Configured receives a value every time the host enables reporting on a channel.
func (b *Board) Configured() <-chan struct{} { return b.configured }

// Drop closes the current host connection, simulating a lost link.
func (b *Board) Drop() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (b *Board) Close() error {
	err := b.ln.Close()
	b.Drop()
	b.wg.Wait()
	return err
}

func (b *Board) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		if b.conn != nil {
			_ = b.conn.Close()
		}
		b.conn = conn
		b.reporting = make(map[int]bool)
		b.queries = nil
		b.mu.Unlock()

		b.wg.Add(1)
		go b.serve(conn)
	}
}

func (b *Board) record(q byte) {
	b.mu.Lock()
	b.queries = append(b.queries, q)
	b.mu.Unlock()
}

func (b *Board) serve(conn net.Conn) {
	defer b.wg.Done()
	defer conn.Close()

	br := bufio.NewReader(conn)
	for {
		c, err := br.ReadByte()
		if err != nil {
			return
		}
		var reply []byte
		switch {
		case c == QueryVersion:
			b.mu.Lock()
			silent := b.silent
			b.mu.Unlock()
			if silent {
				continue
			}
			b.record(QueryVersion)
			reply = []byte{0xF9, 2, 5}
		case c == 0xF0:
			body, err := readUntil(br, 0xF7)
			if err != nil {
				return
			}
			reply = b.sysex(body)
		case c&0xF0 == 0xC0:
			v, err := br.ReadByte()
			if err != nil {
				return
			}
			channel := int(c & 0x0F)
			b.mu.Lock()
			b.reporting[channel] = v == 1
			raw, has := b.values[channel]
			b.mu.Unlock()
			if v == 1 && has {
				reply = analogMessage(channel, raw)
			}
			select {
			case b.configured <- struct{}{}:
			default:
			}
		case c&0xF0 == 0xD0:
			// digital port reporting; no digital inputs are emulated
			if _, err := br.ReadByte(); err != nil {
				return
			}
		}
		if reply != nil {
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	}
}

func (b *Board) sysex(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	switch body[0] {
	case QueryFirmware:
		b.record(QueryFirmware)
		return firmwareReply("WiFiFirmata")
	case QueryCapability:
		b.record(QueryCapability)
		return capabilityReply()
	case QueryAnalogMapping:
		b.record(QueryAnalogMapping)
		return analogMappingReply()
	case 0x7A:
		if len(body) == 3 {
			ms := int(body[1]&0x7F) | int(body[2]&0x7F)<<7
			b.mu.Lock()
			b.interval = time.Duration(ms) * time.Millisecond
			b.mu.Unlock()
		}
	}
	return nil
}

func firmwareReply(name string) []byte {
	out := []byte{0xF0, QueryFirmware, 2, 5}
	for _, r := range []byte(name) {
		out = append(out, r&0x7F, r>>7)
	}
	return append(out, 0xF7)
}

// capabilityReply advertises input/output on every pin and 10-bit analog on
// the analog pins.
func capabilityReply() []byte {
	out := []byte{0xF0, 0x6C}
	for pin := 0; pin < totalPins; pin++ {
		out = append(out, 0x00, 1, 0x01, 1)
		if pin >= firstAnalog {
			out = append(out, 0x02, 10)
		}
		out = append(out, 0x7F)
	}
	return append(out, 0xF7)
}

func analogMappingReply() []byte {
	out := []byte{0xF0, 0x6A}
	for pin := 0; pin < totalPins; pin++ {
		if ch := pin - firstAnalog; ch >= 0 && ch < analogChannel {
			out = append(out, byte(ch))
			continue
		}
		out = append(out, 0x7F)
	}
	return append(out, 0xF7)
}

func readUntil(br *bufio.Reader, end byte) ([]byte, error) {
	var out []byte
	for {
		c, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if c == end {
			return out, nil
		}
		if len(out) > 1024 {
			return nil, errors.New("sysex too long")
		}
		out = append(out, c)
	}
}

func analogMessage(channel, raw int) []byte {
	return []byte{0xE0 | byte(channel&0x0F), byte(raw & 0x7F), byte((raw >> 7) & 0x7F)}
}
