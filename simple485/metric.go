package simple485

import (
	"sync/atomic"
)

// BusMetrics contains atomic counters for one bus instance.
// Counters can be used as the value of a prometheus CounterFunc.
type BusMetrics struct {
	// BytesRecvCount indicates the number of bytes received, idle noise excluded.
	BytesRecvCount atomic.Uint64
	// FrameDropCount indicates the number of packets dropped by the framer
	// (framing mismatch, CRC error, bad length, assembly timeout).
	FrameDropCount atomic.Uint64
	// MsgRecvCount indicates the number of validated messages received.
	MsgRecvCount atomic.Uint64
	// MsgSendCount indicates the number of messages fully transmitted.
	MsgSendCount atomic.Uint64
	// SendErrCount indicates the number of transport errors during transmit.
	SendErrCount atomic.Uint64
	// RequestRetryCount indicates the total number of request retries (Master only).
	RequestRetryCount atomic.Uint64
	// RequestFailCount indicates the number of requests that exhausted all retries.
	RequestFailCount atomic.Uint64
}

func (m *BusMetrics) incBytesRecv() {
	m.BytesRecvCount.Add(1)
}

func (m *BusMetrics) incFrameDrop() {
	m.FrameDropCount.Add(1)
}

func (m *BusMetrics) incMsgRecv() {
	m.MsgRecvCount.Add(1)
}

func (m *BusMetrics) incMsgSend() {
	m.MsgSendCount.Add(1)
}

func (m *BusMetrics) incSendErr() {
	m.SendErrCount.Add(1)
}

func (m *BusMetrics) incRequestRetry() {
	m.RequestRetryCount.Add(1)
}

func (m *BusMetrics) incRequestFail() {
	m.RequestFailCount.Add(1)
}
