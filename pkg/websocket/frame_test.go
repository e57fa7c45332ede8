package websocket

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		opcode  Opcode
		payload []byte
	}{
		{"empty text", OpcodeText, nil},
		{"short text", OpcodeText, []byte("hello")},
		{"at 125 bytes", OpcodeBinary, bytes.Repeat([]byte{'a'}, 125)},
		{"at 126 bytes", OpcodeBinary, bytes.Repeat([]byte{'a'}, 126)},
		{"at 65535 bytes", OpcodeBinary, bytes.Repeat([]byte{'a'}, 65535)},
		{"at 65536 bytes", OpcodeBinary, bytes.Repeat([]byte{'a'}, 65536)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := bufio.NewWriter(&buf)
			h := frameHeader{fin: true, opcode: tt.opcode}

			if err := writeFrame(w, h, tt.payload); err != nil {
				t.Fatalf("writeFrame: %v", err)
			}

			r := bufio.NewReader(&buf)
			gotHeader, err := readFrameHeader(r)
			if err != nil {
				t.Fatalf("readFrameHeader: %v", err)
			}
			if !gotHeader.fin || gotHeader.opcode != tt.opcode {
				t.Fatalf("header = %+v", gotHeader)
			}
			if !gotHeader.mask {
				t.Fatalf("client frame must set mask bit")
			}

			gotPayload, err := readFramePayload(r, gotHeader)
			if err != nil {
				t.Fatalf("readFramePayload: %v", err)
			}
			if !bytes.Equal(gotPayload, tt.payload) {
				t.Fatalf("payload round-trip mismatch: got %d bytes, want %d", len(gotPayload), len(tt.payload))
			}
		})
	}
}

func TestReadFrameHeader_ReservedHighBitOn64BitLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(bit0 | byte(OpcodeBinary))
	buf.WriteByte(len64bits) // no mask bit, just the extended-length marker
	buf.Write([]byte{0x80, 0, 0, 0, 0, 0, 0, 0})

	_, err := readFrameHeader(bufio.NewReader(&buf))
	if err == nil || !strings.Contains(err.Error(), "protocol error") {
		t.Fatalf("readFrameHeader error = %v, want protocol error", err)
	}
}

func TestReadFrameHeader_OversizedControlFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(bit0 | byte(OpcodePing))
	buf.WriteByte(126) // extended length marker, invalid for a control frame
	buf.Write([]byte{0, 200})
	buf.Write(bytes.Repeat([]byte{0}, 200))

	_, err := readFrameHeader(bufio.NewReader(&buf))
	if err == nil || !strings.Contains(err.Error(), "protocol error") {
		t.Fatalf("readFrameHeader error = %v, want protocol error", err)
	}
}

func TestReadFrameHeader_FragmentedControlFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(OpcodePing)) // FIN clear
	buf.WriteByte(0)

	_, err := readFrameHeader(bufio.NewReader(&buf))
	if err == nil || !strings.Contains(err.Error(), "protocol error") {
		t.Fatalf("readFrameHeader error = %v, want protocol error", err)
	}
}

func TestApplyMask_SelfInverse(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	orig := []byte("the quick brown fox")
	data := bytes.Clone(orig)

	applyMask(data, key)
	if bytes.Equal(data, orig) {
		t.Fatal("masking did not change the payload")
	}
	applyMask(data, key)
	if !bytes.Equal(data, orig) {
		t.Fatal("masking twice did not restore the original payload")
	}
}
