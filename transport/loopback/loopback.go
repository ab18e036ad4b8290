// Package loopback provides an in-memory bus transport.
//
// A Bus connects any number of Endpoints; bytes written by one endpoint are
// delivered to the receive buffers of all other endpoints, mimicking a
// shared wire. It is used by the integration tests and the examples, and is
// handy for exercising protocol logic without serial hardware.
package loopback

import (
	"errors"
	"sync"
)

// DefaultBitRate is the bit rate reported by endpoints unless overridden.
// High enough that timing-derived waits stay negligible in tests.
const DefaultBitRate = 1_000_000

// ErrNoData is returned by ReadByte when the receive buffer is empty.
var ErrNoData = errors.New("loopback: no data available")

// Bus is a shared in-memory medium connecting multiple endpoints.
type Bus struct {
	mu        sync.Mutex
	endpoints []*Endpoint
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// NewEndpoint attaches a new endpoint to the bus.
func (b *Bus) NewEndpoint() *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep := &Endpoint{bus: b, bitRate: DefaultBitRate}
	b.endpoints = append(b.endpoints, ep)

	return ep
}

// broadcast delivers p to every endpoint except the sender.
func (b *Bus) broadcast(from *Endpoint, p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ep := range b.endpoints {
		if ep == from {
			continue
		}
		ep.deliver(p)
	}
}

// Endpoint is one node's attachment to a loopback Bus. It satisfies the
// engine's Transport and Drainer interfaces and is safe for use by one
// engine goroutine while other endpoints write concurrently.
type Endpoint struct {
	bus     *Bus
	bitRate int

	mu     sync.Mutex
	inBuf  []byte
	opened bool
}

// SetBitRate overrides the reported bit rate. Must be called before Open.
func (e *Endpoint) SetBitRate(bitRate int) {
	e.bitRate = bitRate
}

func (e *Endpoint) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.opened = true

	return nil
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.opened = false
	e.inBuf = nil

	return nil
}

func (e *Endpoint) Available() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.inBuf), nil
}

func (e *Endpoint) ReadByte() (byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.inBuf) == 0 {
		return 0, ErrNoData
	}

	b := e.inBuf[0]
	e.inBuf = e.inBuf[1:]

	return b, nil
}

func (e *Endpoint) Write(p []byte) (int, error) {
	e.bus.broadcast(e, p)

	return len(p), nil
}

// Drain is instantaneous: there is no physical line behind a loopback.
func (e *Endpoint) Drain() error {
	return nil
}

func (e *Endpoint) BitRate() int {
	return e.bitRate
}

// deliver appends p to the receive buffer. Closed endpoints drop traffic,
// like an unpowered node on a real bus.
func (e *Endpoint) deliver(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.opened {
		return
	}

	e.inBuf = append(e.inBuf, p...)
}
