package websocket

import (
	"fmt"
	"iter"
)

// Message is one complete (or, mid-fragmentation, partial) WebSocket
// message: a frame header plus its payload, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.6 (data
// frames) and https://datatracker.ietf.org/doc/html/rfc6455#section-5.5
// (control frames).
//
// A Message returned by [Socket]'s iterators is always a complete,
// defragmented message: Data holds the concatenation of every
// fragment's payload, and Header.fin is always true. Split produces
// the opposite view: a sequence of on-the-wire fragments from one
// complete, in-memory Message.
type Message struct {
	Header frameHeader
	Data   []byte

	// Status is set only for close messages (Header.opcode ==
	// OpcodeClose): the two-byte status code prefix of the close
	// frame's payload, decoded separately from Data (the close reason,
	// a UTF-8 string making up the remainder of the payload).
	Status CloseCode
}

// Text constructs a complete, unfragmented text message.
func Text(s string) *Message {
	return &Message{
		Header: frameHeader{fin: true, opcode: OpcodeText},
		Data:   []byte(s),
	}
}

// Binary constructs a complete, unfragmented binary message.
func Binary(data []byte) *Message {
	return &Message{
		Header: frameHeader{fin: true, opcode: OpcodeBinary},
		Data:   data,
	}
}

// Ping constructs a ping control frame. data must be 125 bytes or
// fewer (RFC 6455 §5.5).
func Ping(data []byte) *Message {
	return &Message{
		Header: frameHeader{fin: true, opcode: OpcodePing},
		Data:   data,
	}
}

// Pong constructs a pong control frame, either unsolicited or in
// response to a ping (whose payload should be echoed back unchanged).
func Pong(data []byte) *Message {
	return &Message{
		Header: frameHeader{fin: true, opcode: OpcodePong},
		Data:   data,
	}
}

// Close constructs a close control frame carrying status and an
// optional UTF-8 reason string. reason is truncated, if necessary, so
// the combined payload (2-byte status plus reason) fits the 125-byte
// control frame limit.
func Close(status CloseCode, reason string) *Message {
	data := []byte(reason)
	if max := maxControlPayload - 2; len(data) > max {
		data = data[:max]
	}
	return &Message{
		Header: frameHeader{fin: true, opcode: OpcodeClose},
		Data:   data,
		Status: status,
	}
}

// Ext constructs a message using one of the reserved, non-control
// opcodes (0x3-0x7), for extensions this package does not itself
// define but whose frames it can still carry and deliver unmodified.
func Ext(opcode Opcode, data []byte) *Message {
	return &Message{
		Header: frameHeader{fin: true, opcode: opcode},
		Data:   data,
	}
}

// closePayload returns the wire-format payload of a close message:
// the 2-byte big-endian status code followed by the reason text.
func (m *Message) closePayload() []byte {
	payload := make([]byte, 2+len(m.Data))
	payload[0] = byte(m.Status >> 8)
	payload[1] = byte(m.Status)
	copy(payload[2:], m.Data)
	return payload
}

// parseClosePayload splits a received close frame's raw payload into
// its status code and reason text. A missing or truncated status
// (0 or 1 byte of payload) reports [StatusNoStatusReceived], per
// RFC 6455 §7.1.5: that code is never supposed to appear on the wire,
// but is the conventional value to report when none did.
func parseClosePayload(payload []byte) (CloseCode, string) {
	if len(payload) < 2 {
		return StatusNoStatusReceived, ""
	}
	status := CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
	return status, string(payload[2:])
}

// Mask applies key to m's wire payload in place: Data for every
// opcode, plus the 2-byte status prefix for close messages. Masking
// is applied as a single contiguous XOR pass starting at byte 0 of
// the combined status+data buffer, rather than rotating the mask key
// to align with Data's offset — the two are byte-for-byte equivalent,
// since XOR-by-key is positional and the status bytes always occupy
// positions 0-1. The operation is its own inverse, so Unmask is the
// same call.
func (m *Message) Mask(key [4]byte) {
	if m.Header.opcode == OpcodeClose {
		payload := m.closePayload()
		applyMask(payload, key)
		m.Status = CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
		m.Data = payload[2:]
		return
	}
	applyMask(m.Data, key)
}

// Unmask reverses [Message.Mask]; XOR is its own inverse so this is
// the identical operation.
func (m *Message) Unmask(key [4]byte) {
	m.Mask(key)
}

// RSV reports the reserved bit n (0, 1, or 2) from the frame header.
// This package never assigns these bits meaning itself; they are
// preserved across both Split and defragmentation for callers that
// have negotiated an extension defining them.
func (m *Message) RSV(n int) bool {
	return m.Header.rsv[n]
}

// SetRSV sets reserved bit n (0, 1, or 2) and returns m, for chaining.
func (m *Message) SetRSV(n int, v bool) *Message {
	m.Header.rsv[n] = v
	return m
}

// IsControl reports whether m is a control message (close, ping, or pong).
func (m *Message) IsControl() bool {
	return m.Header.opcode.IsControl()
}

// IsText reports whether m is a text data message.
func (m *Message) IsText() bool {
	return m.Header.opcode == OpcodeText
}

// IsBinary reports whether m is a binary data message.
func (m *Message) IsBinary() bool {
	return m.Header.opcode == OpcodeBinary
}

// IsClose reports whether m is a close control message.
func (m *Message) IsClose() bool {
	return m.Header.opcode == OpcodeClose
}

// IsPing reports whether m is a ping control message.
func (m *Message) IsPing() bool {
	return m.Header.opcode == OpcodePing
}

// IsPong reports whether m is a pong control message.
func (m *Message) IsPong() bool {
	return m.Header.opcode == OpcodePong
}

// Opcode returns m's frame opcode.
func (m *Message) Opcode() Opcode {
	return m.Header.opcode
}

// IsWhole reports whether m is a complete, unfragmented message: the
// FIN bit is set and the opcode is not continuation. Every Message a
// [Socket]'s defragmenting iterator yields satisfies this.
func (m *Message) IsWhole() bool {
	return m.Header.fin && m.Header.opcode != OpcodeContinuation
}

// IsFirst reports whether m is the first frame of a fragmented
// message: FIN clear, opcode not continuation.
func (m *Message) IsFirst() bool {
	return !m.Header.fin && m.Header.opcode != OpcodeContinuation
}

// IsMore reports whether m is a middle fragment: FIN clear,
// continuation opcode.
func (m *Message) IsMore() bool {
	return !m.Header.fin && m.Header.opcode == OpcodeContinuation
}

// IsLast reports whether m is the final fragment of a fragmented
// message: FIN set, continuation opcode.
func (m *Message) IsLast() bool {
	return m.Header.fin && m.Header.opcode == OpcodeContinuation
}

// Split breaks a complete, unfragmented data message (m.IsWhole(),
// and m must be text or binary — control frames must never be
// fragmented per RFC 6455 §5.5) into a sequence of on-the-wire
// fragments, none carrying more than maxPayload bytes of Data. If
// m's Data already fits within one fragment, Split yields m itself,
// unmodified, as the sole element. maxPayload <= 0 would produce an
// infinite sequence of empty fragments, so it is rejected: Split
// yields a single error wrapping [ErrInvalidInput] instead.
//
// Based on the fragmentation rule in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.4: the first
// fragment carries the real opcode with FIN clear, every following
// fragment carries opcode continuation, and the last fragment sets FIN.
func (m *Message) Split(maxPayload int) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		if maxPayload <= 0 {
			yield(nil, fmt.Errorf("%w: max payload must be positive, got %d", ErrInvalidInput, maxPayload))
			return
		}
		if len(m.Data) <= maxPayload {
			yield(m, nil)
			return
		}

		op := m.Header.opcode
		data := m.Data
		for len(data) > 0 {
			n := min(maxPayload, len(data))
			chunk := data[:n]
			data = data[n:]

			frag := &Message{Header: frameHeader{
				fin:    len(data) == 0,
				rsv:    m.Header.rsv,
				opcode: op,
			}, Data: chunk}

			if !yield(frag, nil) {
				return
			}
			op = OpcodeContinuation
		}
	}
}
