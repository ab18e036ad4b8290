package simple485

// Transport is the byte-level channel the bus engine drives.
//
// Implementations wrap a serial-like device: a real port (see
// transport/serialport) or an in-memory medium (see transport/loopback).
// All methods are called only from the engine's poll path.
type Transport interface {
	// Open prepares the transport for I/O. Opening an already-open
	// transport must be a no-op.
	Open() error

	// Close releases the underlying device.
	Close() error

	// Available returns the number of bytes ready to be read without
	// blocking. It must never block.
	Available() (int, error)

	// ReadByte reads a single byte.
	ReadByte() (byte, error)

	// Write writes the buffer to the device, returning the number of
	// bytes written.
	Write(p []byte) (int, error)

	// BitRate returns the configured line bit rate, used to compute the
	// physical transmission time of an outgoing buffer.
	BitRate() int
}

// Drainer is implemented by transports that can block until all queued
// output has physically left the device. When a transport does not
// implement Drainer (or Drain fails), the engine compensates by widening
// its post-write timing safety margin.
type Drainer interface {
	Drain() error
}

// RTSController is implemented by transports whose request-to-send line can
// drive the transceiver direction directly, in place of a dedicated pin.
type RTSController interface {
	SetRTS(level bool) error
}

// Pin is a settable digital output, typically a GPIO line wired to the
// transceiver's driver-enable input. Embedders supply an implementation for
// their platform; the engine never binds to specific hardware.
type Pin interface {
	Set(high bool) error
}
