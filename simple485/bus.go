package simple485

import (
	"fmt"
	"time"

	"github.com/Me-Phew/simple485-remastered/internal/queue"
	"github.com/Me-Phew/simple485-remastered/logger"
)

// bitsPerByte is the number of line bits per transmitted byte:
// one start bit, eight data bits, one stop bit.
const bitsPerByte = 10

// Safety margins applied to the computed physical transmission time. The
// wider margin compensates for transports that cannot confirm their output
// has drained before the wait starts.
const (
	drainedSafetyMargin   = 1.1
	undrainedSafetyMargin = 1.2
)

// Bus is the low-level engine for a single node on the shared bus.
//
// It owns the transport, the packet framer, and the in/out message queues,
// and implements idle-time transmit gating and transceiver direction control.
// All state advances only inside Poll; the Bus holds no locks and must be
// driven from a single goroutine (see ThreadedMaster for the multithreaded
// wrapper).
type Bus struct {
	cfg       *Config
	transport Transport
	logger    logger.Logger

	address byte

	framer *framer
	inbox  queue.Queue[*ReceivedMessage]
	outbox queue.Queue[[]byte]

	lastBusActivity time.Time
	isOpen          bool

	metrics BusMetrics
}

// NewBus creates a bus node with the given configuration and address.
func NewBus(cfg *Config, address byte) (*Bus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("simple485: bus config is nil")
	}

	if !IsValidNodeAddress(address) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAddress, address)
	}

	b := &Bus{
		cfg:             cfg,
		transport:       cfg.transport,
		logger:          cfg.logger,
		address:         address,
		lastBusActivity: time.Now(),
	}
	b.framer = newFramer(b.Address, cfg.logger, &b.metrics)

	b.logger.Debug("simple485: bus initialized", "address", address)

	return b, nil
}

// IsOpen reports whether the bus is open.
func (b *Bus) IsOpen() bool {
	return b.isOpen
}

// Open opens the transport and puts the transceiver into receive mode.
// Opening an already-open bus logs a warning and is a no-op.
func (b *Bus) Open() error {
	if b.isOpen {
		b.logger.Warn("simple485: bus is already open, ignoring redundant Open")
		return nil
	}

	if err := b.transport.Open(); err != nil {
		return fmt.Errorf("simple485: failed to open transport: %w", err)
	}

	// Start out listening.
	if err := b.setTransmitMode(false); err != nil {
		_ = b.transport.Close()

		return fmt.Errorf("simple485: failed to initialize transceiver control: %w", err)
	}

	b.isOpen = true
	b.logger.Debug("simple485: bus opened", "address", b.address)

	return nil
}

// Close closes the transport. Closing an already-closed bus logs a warning
// and is a no-op.
func (b *Bus) Close() error {
	if !b.isOpen {
		b.logger.Warn("simple485: bus is already closed, ignoring redundant Close")
		return nil
	}

	b.isOpen = false

	if err := b.transport.Close(); err != nil {
		return fmt.Errorf("simple485: failed to close transport: %w", err)
	}

	b.logger.Debug("simple485: bus closed", "address", b.address)

	return nil
}

// Address returns the node's current bus address.
func (b *Bus) Address() byte {
	return b.address
}

// SetAddress assigns a new address to the node. The framer picks up the
// change immediately for subsequent packets.
func (b *Bus) SetAddress(address byte) error {
	if !IsValidNodeAddress(address) {
		return fmt.Errorf("%w: %d", ErrInvalidAddress, address)
	}

	b.logger.Info("simple485: changing address", "from", b.address, "to", address)
	b.address = address

	return nil
}

// LastBusActivity returns the timestamp of the last observed bus activity
// (any received byte that is not idle noise, or a completed transmission).
func (b *Bus) LastBusActivity() time.Time {
	return b.lastBusActivity
}

// Metrics returns the bus metrics.
func (b *Bus) Metrics() *BusMetrics {
	return &b.metrics
}

// SendMessage builds a complete wire packet and queues it for transmission.
//
// The actual transmission is deferred to Poll, which waits for the bus to be
// idle. A transaction id of NoReplyTransactionID marks the message as not
// expecting a response.
func (b *Bus) SendMessage(dst byte, payload []byte, transactionID byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}

	if len(payload) > MaxPayloadLen {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadLen)
	}

	packet := BuildPacket(dst, b.address, transactionID, payload)
	b.outbox.Enqueue(packet)

	b.logger.Debug("simple485: queued message",
		"dst", dst, "txn", transactionID, "len", len(payload), "wireLen", len(packet))

	return nil
}

// PendingSend reports whether messages are waiting in the output queue.
func (b *Bus) PendingSend() bool {
	return !b.outbox.IsEmpty()
}

// Available returns the number of fully received messages waiting to be read.
func (b *Bus) Available() int {
	return b.inbox.Length()
}

// Read pops the oldest received message (FIFO order, required for correct
// transaction correlation). It fails if no messages are queued.
func (b *Bus) Read() (*ReceivedMessage, error) {
	msg, ok := b.inbox.Dequeue()
	if !ok {
		return nil, ErrNoMessagesAvailable
	}

	return msg, nil
}

// Poll is the main processing tick and must be called frequently.
//
// It drains all currently available input bytes through the framer, attempts
// one transmission if the bus has been idle long enough, and force-resets a
// stalled receive accumulator. Protocol-level errors never propagate out of
// Poll; they are logged and the offending packet is dropped.
func (b *Bus) Poll() {
	if !b.isOpen {
		return
	}

	b.receive()
	b.transmit()
	b.framer.resetIfStalled(time.Now(), b.cfg.packetTimeout)
}

// receive drains the transport's available bytes through the framer.
func (b *Bus) receive() {
	for {
		n, err := b.transport.Available()
		if err != nil {
			b.logger.Error("simple485: failed to query available bytes", "error", err)
			return
		}

		if n <= 0 {
			return
		}

		for i := 0; i < n; i++ {
			c, err := b.transport.ReadByte()
			if err != nil {
				b.logger.Error("simple485: transport read failed", "error", err)
				return
			}

			// Some transceivers emit NUL while the line floats. Treating it
			// as activity would keep resetting the idle gate and starve the
			// transmitter, so an idle receiver skips it entirely.
			if c == NUL && b.framer.isIdle() {
				continue
			}

			now := time.Now()
			b.lastBusActivity = now
			b.metrics.incBytesRecv()

			if msg := b.framer.feed(c, now); msg != nil {
				msg.bus = b
				b.inbox.Enqueue(msg)
			}
		}
	}
}

// transmit sends the message at the head of the output queue, if any, once
// the bus has been idle for at least the line-ready window.
func (b *Bus) transmit() bool {
	packet, ok := b.outbox.Peek()
	if !ok {
		return false
	}

	// Collision avoidance: recent bus activity means another device may
	// still be transmitting.
	if time.Since(b.lastBusActivity) < b.cfg.lineReadyTime {
		return false
	}

	if err := b.writePacket(packet); err != nil {
		// The message stays at the head of the queue for a later retry,
		// and the activity timestamp is left alone.
		b.logger.Error("simple485: transmission failed, will retry later", "error", err)
		b.metrics.incSendErr()

		return false
	}

	b.lastBusActivity = time.Now()
	b.outbox.Dequeue()
	b.metrics.incMsgSend()
	b.logger.Debug("simple485: message transmitted", "wireLen", len(packet))

	return true
}

// writePacket performs one physical transmission: direction toggle, write,
// drain, and a bounded wait for the bits to leave the wire.
//
// The toggle back to receive mode runs unconditionally, even when the write
// fails, so a transport error can never leave the bus driven.
func (b *Bus) writePacket(packet []byte) error {
	if err := b.setTransmitMode(true); err != nil {
		return fmt.Errorf("simple485: failed to enter transmit mode: %w", err)
	}

	defer func() {
		if err := b.setTransmitMode(false); err != nil {
			b.logger.Error("simple485: failed to return to receive mode", "error", err)
		}
	}()

	if _, err := b.transport.Write(packet); err != nil {
		return fmt.Errorf("simple485: transport write failed: %w", err)
	}

	// Two-stage wait for transmission completion. Stage 1: drain the OS/
	// driver buffer so the timed wait starts from the hardware UART. When
	// the transport cannot confirm the drain, widen the safety margin.
	margin := drainedSafetyMargin
	if d, ok := b.transport.(Drainer); ok {
		if err := d.Drain(); err != nil {
			b.logger.Debug("simple485: drain failed, widening timing margin", "error", err)
			margin = undrainedSafetyMargin
		}
	} else {
		margin = undrainedSafetyMargin
	}

	// Stage 2: wait out the physical line time for the whole buffer.
	time.Sleep(b.transmissionTime(len(packet), margin))

	return nil
}

// transmissionTime computes the physical line time of wireLen bytes at the
// transport's bit rate, scaled by the safety margin.
func (b *Bus) transmissionTime(wireLen int, margin float64) time.Duration {
	bitRate := b.transport.BitRate()
	if bitRate <= 0 {
		return 0
	}

	seconds := float64(wireLen*bitsPerByte) / float64(bitRate)

	return time.Duration(seconds * margin * float64(time.Second))
}

// setTransmitMode flips the transceiver direction via the configured
// mechanism (dedicated pin or the transport's RTS line), honoring the
// configured polarity, and waits out the settling delay. With no mechanism
// configured this is a no-op (auto-direction transceiver).
func (b *Bus) setTransmitMode(transmit bool) error {
	if b.cfg.transmitPin == nil && !b.cfg.useRTS {
		return nil
	}

	level := transmit == b.cfg.txActiveHigh

	var err error
	if b.cfg.useRTS {
		// Presence of RTSController is validated in NewConfig.
		err = b.transport.(RTSController).SetRTS(level)
	} else {
		err = b.cfg.transmitPin.Set(level)
	}

	if err != nil {
		return err
	}

	// Allow time for the transceiver to switch state.
	time.Sleep(b.cfg.transceiverToggleTime)

	return nil
}
