package simple485

import (
	"time"

	"github.com/Me-Phew/simple485-remastered/logger"
)

// receiverState tracks the framer's progress through an incoming packet.
//
// Transitions are strictly linear; every validation failure resets to
// stateIdle and discards the in-progress accumulator.
type receiverState uint8

const (
	// stateIdle waits for a new packet to begin (expects SOH).
	stateIdle receiverState = iota
	// stateSOHReceived waits for the destination address byte.
	stateSOHReceived
	// stateDstReceived waits for the source address byte.
	stateDstReceived
	// stateSrcReceived waits for the transaction id byte.
	stateSrcReceived
	// stateTxnReceived waits for the payload length byte.
	stateTxnReceived
	// stateLenReceived waits for STX.
	stateLenReceived
	// stateSTXReceived consumes encoded payload bytes until ETX.
	stateSTXReceived
	// stateETXReceived waits for the CRC byte.
	stateETXReceived
	// stateCRCOK waits for EOT.
	stateCRCOK
)

func (s receiverState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateSOHReceived:
		return "SOH_RECEIVED"
	case stateDstReceived:
		return "DST_RECEIVED"
	case stateSrcReceived:
		return "SRC_RECEIVED"
	case stateTxnReceived:
		return "TXN_RECEIVED"
	case stateLenReceived:
		return "LEN_RECEIVED"
	case stateSTXReceived:
		return "STX_RECEIVED"
	case stateETXReceived:
		return "ETX_RECEIVED"
	case stateCRCOK:
		return "CRC_OK"
	default:
		return "UNKNOWN"
	}
}

// receivingMessage is the mutable accumulator for a packet being parsed.
//
// It is created on SOH, mutated byte by byte, and replaced wholesale with
// nil on any validation failure so the discard transition is atomic.
type receivingMessage struct {
	startedAt     time.Time
	dstAddress    byte
	srcAddress    byte
	transactionID byte
	length        int
	crc           byte

	// Nibble-pair reconstruction state: the first valid wire byte of a
	// pair parks the high nibble in partial until the low nibble arrives.
	awaitingLowNibble bool
	partial           byte

	payload []byte
}

// framer reconstructs validated messages from a raw byte stream, one byte at
// a time. It is owned and driven exclusively by the Bus.
type framer struct {
	// nodeAddress returns the owning node's current address; looked up per
	// packet so live address changes take effect immediately.
	nodeAddress func() byte

	logger  logger.Logger
	metrics *BusMetrics

	state   receiverState
	current *receivingMessage
}

func newFramer(nodeAddress func() byte, l logger.Logger, metrics *BusMetrics) *framer {
	return &framer{
		nodeAddress: nodeAddress,
		logger:      l,
		metrics:     metrics,
		state:       stateIdle,
	}
}

func (f *framer) isIdle() bool {
	return f.state == stateIdle
}

// reset discards the in-progress accumulator and returns to idle.
func (f *framer) reset() {
	f.state = stateIdle
	f.current = nil
}

// drop is reset plus bookkeeping for a rejected packet.
func (f *framer) drop(reason string, keysAndValues ...any) {
	f.logger.Warn("simple485: dropping packet: "+reason, keysAndValues...)
	f.metrics.incFrameDrop()
	f.reset()
}

// resetIfStalled force-resets a non-idle framer whose packet assembly has
// exceeded timeout since its SOH. Called by the Bus on every poll tick.
func (f *framer) resetIfStalled(now time.Time, timeout time.Duration) bool {
	if f.state == stateIdle || f.current == nil {
		return false
	}

	if now.Sub(f.current.startedAt) <= timeout {
		return false
	}

	f.logger.Warn("simple485: packet assembly timeout, resetting receiver",
		"state", f.state.String())
	f.metrics.incFrameDrop()
	f.reset()

	return true
}

// feed advances the state machine by one byte and returns a completed
// message, or nil. The returned message is detached; the Bus attaches
// itself before queueing it.
func (f *framer) feed(b byte, now time.Time) *ReceivedMessage {
	switch f.state {
	case stateIdle:
		if b == SOH {
			f.state = stateSOHReceived
			f.current = &receivingMessage{startedAt: now, awaitingLowNibble: false}
		}
		// Anything else in idle is inter-packet noise or padding.

	case stateSOHReceived:
		f.current.dstAddress = b
		if b != f.nodeAddress() && b != BroadcastAddress {
			// Not for us. Not an error, just someone else's traffic.
			f.logger.Debug("simple485: ignoring packet for another address", "dst", b)
			f.reset()
		} else {
			f.state = stateDstReceived
		}

	case stateDstReceived:
		f.current.srcAddress = b
		f.state = stateSrcReceived

	case stateSrcReceived:
		f.current.transactionID = b
		f.state = stateTxnReceived

	case stateTxnReceived:
		if b == 0 {
			f.drop("invalid length", "length", b)
			return nil
		}
		f.current.length = int(b)
		f.state = stateLenReceived

	case stateLenReceived:
		if b != STX {
			f.drop("expected STX", "byte", b)
			return nil
		}
		f.current.crc = crcInit(f.current.dstAddress, f.current.srcAddress, byte(f.current.length))
		f.current.payload = make([]byte, 0, f.current.length)
		f.state = stateSTXReceived

	case stateSTXReceived:
		return f.feedPayload(b)

	case stateETXReceived:
		if b != f.current.crc {
			f.drop("crc mismatch", "wire", b, "computed", f.current.crc)
			return nil
		}
		f.state = stateCRCOK

	case stateCRCOK:
		var msg *ReceivedMessage
		if b == EOT {
			msg = &ReceivedMessage{
				srcAddress:    f.current.srcAddress,
				dstAddress:    f.current.dstAddress,
				transactionID: f.current.transactionID,
				payload:       f.current.payload,
			}
			f.metrics.incMsgRecv()
			f.logger.Debug("simple485: received message", "msg", msg.String())
		} else {
			f.logger.Warn("simple485: expected EOT, dropping packet", "byte", b)
			f.metrics.incFrameDrop()
		}

		f.reset()

		return msg
	}

	return nil
}

// feedPayload handles one byte in the STX_RECEIVED state: either half of an
// encoded payload byte, ETX on completion, or garbage.
func (f *framer) feedPayload(b byte) *ReceivedMessage {
	if wire, ok := decodeWireByte(b); ok {
		if !f.current.awaitingLowNibble {
			f.current.partial = wire & 0xF0
			f.current.awaitingLowNibble = true
		} else {
			f.current.awaitingLowNibble = false
			decoded := f.current.partial | wire&0x0F
			f.current.payload = append(f.current.payload, decoded)
			f.current.crc = crcUpdate(f.current.crc, decoded)
		}

		return nil
	}

	if b == ETX {
		if len(f.current.payload) != f.current.length {
			f.drop("payload length mismatch",
				"declared", f.current.length, "received", len(f.current.payload))
			return nil
		}

		f.state = stateETXReceived

		return nil
	}

	f.drop("invalid payload byte", "byte", b)

	return nil
}
