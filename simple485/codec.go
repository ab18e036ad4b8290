package simple485

// Control bytes used for packet framing on the wire.
const (
	// SOH (Start of Header) marks the beginning of a packet.
	SOH byte = 0x01

	// STX (Start of Text) marks the end of the header and beginning of the payload.
	STX byte = 0x02

	// ETX (End of Text) marks the end of the payload.
	ETX byte = 0x03

	// EOT (End of Transmission) marks the end of the entire packet.
	EOT byte = 0x04

	// LF (Line Feed) is used for bus clearing and padding between packets.
	LF byte = 0x0A

	// NUL is emitted by some receivers while the bus is idle; an idle
	// receiver ignores it without treating it as bus activity.
	NUL byte = 0x00
)

// Reserved and valid bus addresses.
const (
	// MasterAddress is the reserved, fixed address of the Master node.
	MasterAddress byte = 0

	// BroadcastAddress addresses a message to all Slave nodes at once.
	// It is never assignable as a node's own address.
	BroadcastAddress byte = 255

	// FirstSlaveAddress is the lowest valid Slave address.
	FirstSlaveAddress byte = 1

	// LastSlaveAddress is the highest valid Slave address.
	LastSlaveAddress byte = BroadcastAddress - 1
)

// MaxPayloadLen is the maximum message payload length in bytes.
const MaxPayloadLen = 255

// NoReplyTransactionID is the transaction id used for messages that do not
// expect a response (fire-and-forget and broadcast sends).
const NoReplyTransactionID byte = 0

// packetOverhead is the number of wire bytes besides the encoded payload:
// 3 leading LF pads, SOH, DST, SRC, TXN, LEN, STX, ETX, CRC, EOT, 2 trailing pads.
const packetOverhead = 14

// IsValidNodeAddress reports whether addr can be a node's own address.
// Every address except the reserved broadcast address qualifies.
func IsValidNodeAddress(addr byte) bool {
	return addr != BroadcastAddress
}

// IsValidSlaveAddress reports whether addr is a valid Slave address,
// i.e. a valid node address that is not the reserved Master address.
func IsValidSlaveAddress(addr byte) bool {
	return IsValidNodeAddress(addr) && addr != MasterAddress
}

// encodeNibbles encodes one payload byte into its two wire bytes.
//
// The high wire byte keeps the data in bits 7-4 and carries the inverted
// nibble in bits 3-0; the low wire byte keeps the data in bits 3-0 and
// carries the inverted nibble in bits 7-4.
func encodeNibbles(b byte) (hi, lo byte) {
	hi = b & 0xF0
	hi |= ^(hi >> 4) & 0x0F

	lo = b & 0x0F
	lo |= (^lo << 4) & 0xF0

	return hi, lo
}

// decodeWireByte validates the inverted-nibble redundancy of a wire byte.
//
// A wire byte is a data byte iff swapping its nibbles and inverting all bits
// reproduces the byte itself. The second return value is false for anything
// else (in particular framing bytes such as ETX), which the framer uses to
// detect the end of the payload.
func decodeWireByte(b byte) (byte, bool) {
	if ^((b<<4)&0xF0 | (b>>4)&0x0F) != b {
		return 0, false
	}

	return b, true
}

// crcInit seeds the packet CRC from the header fields.
//
// The "CRC" is a plain running XOR kept for wire compatibility with the
// original protocol; it is not a polynomial CRC and offers only weak error
// detection (the per-byte nibble redundancy does most of the work).
func crcInit(dst, src, length byte) byte {
	return dst ^ src ^ length
}

// crcUpdate folds one decoded payload byte into the running CRC.
func crcUpdate(crc, b byte) byte {
	return crc ^ b
}

// BuildPacket serializes a complete wire packet:
//
//	[LF LF LF] SOH DST SRC TXN LEN STX <2×len(payload)> ETX CRC EOT [LF LF]
//
// The payload length must already be validated to be in [1, MaxPayloadLen].
func BuildPacket(dst, src, transactionID byte, payload []byte) []byte {
	buf := make([]byte, 0, 2*len(payload)+packetOverhead)

	buf = append(buf, LF, LF, LF)
	buf = append(buf, SOH, dst, src, transactionID, byte(len(payload)), STX)

	crc := crcInit(dst, src, byte(len(payload)))
	for _, b := range payload {
		crc = crcUpdate(crc, b)
		hi, lo := encodeNibbles(b)
		buf = append(buf, hi, lo)
	}

	buf = append(buf, ETX, crc, EOT, LF, LF)

	return buf
}
