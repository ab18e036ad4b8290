// Package serialport adapts a physical serial port to the bus engine's
// transport interface, backed by github.com/tarm/serial.
//
// The underlying library offers no non-blocking read or input-queue query,
// so the port is opened with a short read timeout and Available pumps any
// pending device bytes into an internal buffer. It also cannot confirm that
// output has drained, so the engine falls back to its widened post-write
// timing margin (the port deliberately does not implement Drainer: Flush on
// this library discards buffers instead of draining them).
package serialport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// DefaultReadTimeout is the device read timeout used to emulate
// non-blocking reads. Kept short so polling stays responsive.
const DefaultReadTimeout = time.Millisecond

// readChunkSize bounds one device read in Available.
const readChunkSize = 256

// ErrNotOpen is returned for I/O on a port that is not open.
var ErrNotOpen = errors.New("serialport: port is not open")

// Config describes the serial device to open.
type Config struct {
	// Device is the port path, e.g. "/dev/ttyUSB0" or "COM3".
	Device string

	// BitRate is the line speed in bits per second, e.g. 9600.
	BitRate int

	// ReadTimeout is the device read timeout; zero selects
	// DefaultReadTimeout. It bounds how long Available may block.
	ReadTimeout time.Duration
}

// Port is a serial device usable as a bus transport.
type Port struct {
	cfg  Config
	port *serial.Port

	// pending holds device bytes already pulled from the driver but not
	// yet consumed via ReadByte.
	pending []byte
	scratch [readChunkSize]byte
}

// New creates a closed Port for the given device. Open connects it.
func New(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serialport: device path is empty")
	}

	if cfg.BitRate <= 0 {
		return nil, fmt.Errorf("serialport: invalid bit rate %d", cfg.BitRate)
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	return &Port{cfg: cfg}, nil
}

// Open opens the device. Opening an already-open port is a no-op.
func (p *Port) Open() error {
	if p.port != nil {
		return nil
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        p.cfg.Device,
		Baud:        p.cfg.BitRate,
		ReadTimeout: p.cfg.ReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("serialport: failed to open %s: %w", p.cfg.Device, err)
	}

	p.port = port

	return nil
}

// Close closes the device and discards buffered input.
func (p *Port) Close() error {
	if p.port == nil {
		return nil
	}

	err := p.port.Close()
	p.port = nil
	p.pending = nil

	if err != nil {
		return fmt.Errorf("serialport: failed to close %s: %w", p.cfg.Device, err)
	}

	return nil
}

// Available pumps pending device bytes into the internal buffer and returns
// how many are ready. It may block up to the configured read timeout.
func (p *Port) Available() (int, error) {
	if p.port == nil {
		return 0, ErrNotOpen
	}

	n, err := p.port.Read(p.scratch[:])
	if n > 0 {
		p.pending = append(p.pending, p.scratch[:n]...)
	}

	// A timed-out read reports io.EOF; that just means no new bytes.
	if err != nil && !errors.Is(err, io.EOF) {
		return len(p.pending), fmt.Errorf("serialport: read failed: %w", err)
	}

	return len(p.pending), nil
}

// ReadByte pops one byte from the internal buffer.
func (p *Port) ReadByte() (byte, error) {
	if p.port == nil {
		return 0, ErrNotOpen
	}

	if len(p.pending) == 0 {
		return 0, errors.New("serialport: no data available")
	}

	b := p.pending[0]
	p.pending = p.pending[1:]

	return b, nil
}

// Write writes the buffer to the device.
func (p *Port) Write(buf []byte) (int, error) {
	if p.port == nil {
		return 0, ErrNotOpen
	}

	return p.port.Write(buf)
}

// BitRate returns the configured line speed.
func (p *Port) BitRate() int {
	return p.cfg.BitRate
}
