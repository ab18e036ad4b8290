// Package simple485 implements a master/slave framed-messaging protocol for a
// shared half-duplex serial bus (RS-485 style).
//
// The protocol provides reliable, addressed packet exchange on top of an
// unreliable byte stream shared by multiple transceivers: a streaming packet
// framer reconstructs message boundaries from bytes arriving in arbitrary
// chunks, a 4-to-8 bit nibble encoding with inverted-nibble redundancy detects
// corrupted payload bytes, and an idle-time transmit gate arbitrates access to
// a bus with no collision detection.
//
// # Wire Format
//
// Every packet on the wire has the shape:
//
//	[LF LF LF] SOH DST SRC TXN LEN STX <2×LEN encoded bytes> ETX CRC EOT [LF LF]
//
// Each payload byte is transmitted as two wire bytes, one per nibble, where
// the unused half of each wire byte carries the bitwise inverse of the data
// nibble. The CRC is a running XOR over DST, SRC, LEN and every decoded
// payload byte.
//
// # Roles
//
// A bus has exactly one Master (reserved address 0) which initiates
// request/response exchanges, and up to 254 Slaves (addresses 1-254) which
// answer them. Address 255 is reserved for broadcasts, which are never
// replied to. The Master tracks at most one outstanding request at a time,
// with timeout-driven retries; each attempt carries a fresh transaction id
// so stale replies can be rejected.
//
// # Execution Model
//
// The engine is poll-driven and holds no locks: all protocol state advances
// only inside Poll, which the owner must call frequently (millisecond
// granularity). For multithreaded applications, ThreadedMaster wraps a
// Master in a background poll loop and exposes a blocking Call API.
package simple485
