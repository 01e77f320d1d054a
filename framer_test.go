// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func TestMBAPHeader_Encode(t *testing.T) {
	header := MBAPHeader{
		TransactionID: 0x0001,
		ProtocolID:    0x0000,
		Length:        0x0006,
		UnitID:        0x01,
	}

	expected := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01}
	result := header.Encode()

	if !bytes.Equal(result, expected) {
		t.Errorf("Expected %x, got %x", expected, result)
	}
}

func TestMBAPHeader_Decode(t *testing.T) {
	data := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01}

	var header MBAPHeader
	if err := header.Decode(data); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if header.TransactionID != 0x0001 {
		t.Errorf("TransactionID: expected 0x0001, got 0x%04X", header.TransactionID)
	}
	if header.Length != 0x0006 {
		t.Errorf("Length: expected 0x0006, got 0x%04X", header.Length)
	}
	if header.UnitID != 0x01 {
		t.Errorf("UnitID: expected 0x01, got 0x%02X", header.UnitID)
	}
}

func TestMBAPHeader_Decode_TooShort(t *testing.T) {
	var header MBAPHeader
	if err := header.Decode([]byte{0x00, 0x01, 0x00}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame, got %v", err)
	}
}

func TestFrame_Encode(t *testing.T) {
	frame := Frame{
		Header: MBAPHeader{TransactionID: 0x0001, UnitID: 0x01},
		PDU:    []byte{0x03, 0x00, 0x00, 0x00, 0x0A},
	}

	result := frame.Encode()

	expectedLength := len(frame.PDU) + 1
	actualLength := int(result[4])<<8 | int(result[5])
	if actualLength != expectedLength {
		t.Errorf("Length: expected %d, got %d", expectedLength, actualLength)
	}
	if !bytes.Equal(result[7:], frame.PDU) {
		t.Errorf("PDU mismatch: expected %x, got %x", frame.PDU, result[7:])
	}
}

func TestFrame_Decode(t *testing.T) {
	data := []byte{
		0x00, 0x01, // Transaction ID
		0x00, 0x00, // Protocol ID
		0x00, 0x06, // Length
		0x01,                         // Unit ID
		0x03, 0x00, 0x00, 0x00, 0x0A, // PDU
	}

	var frame Frame
	if err := frame.Decode(data); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if frame.Header.TransactionID != 0x0001 {
		t.Errorf("TransactionID: expected 0x0001, got 0x%04X", frame.Header.TransactionID)
	}
	expectedPDU := []byte{0x03, 0x00, 0x00, 0x00, 0x0A}
	if !bytes.Equal(frame.PDU, expectedPDU) {
		t.Errorf("PDU: expected %x, got %x", expectedPDU, frame.PDU)
	}
}

func TestFrame_DecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"length too large", []byte{0, 1, 0, 0, 0, 7, 1, 0x03, 0, 0, 0, 0x0A}},
		{"length too small", []byte{0, 1, 0, 0, 0, 5, 1, 0x03, 0, 0, 0, 0x0A}},
		{"protocol id", []byte{0, 1, 0, 1, 0, 6, 1, 0x03, 0, 0, 0, 0x0A}},
		{"empty pdu", []byte{0, 1, 0, 0, 0, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var frame Frame
			if err := frame.Decode(tt.data); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Expected ErrInvalidFrame, got %v", err)
			}
		})
	}
}

func TestEncodeRTU(t *testing.T) {
	adu := EncodeRTU(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	expected := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
	if !bytes.Equal(adu, expected) {
		t.Errorf("Expected %x, got %x", expected, adu)
	}

	frame, err := DecodeRTU(adu)
	if err != nil {
		t.Fatalf("DecodeRTU failed: %v", err)
	}
	if frame.Header.UnitID != 0x01 {
		t.Errorf("UnitID: expected 1, got %d", frame.Header.UnitID)
	}
	if !bytes.Equal(frame.PDU, expected[1:6]) {
		t.Errorf("PDU: expected %x, got %x", expected[1:6], frame.PDU)
	}
}

func TestDecodeRTU_BitFlip(t *testing.T) {
	adu := EncodeRTU(0x11, []byte{0x06, 0x00, 0x01, 0x00, 0x03})
	for i := range adu {
		corrupted := append([]byte(nil), adu...)
		corrupted[i] ^= 0x10
		if _, err := DecodeRTU(corrupted); !errors.Is(err, ErrInvalidCRC) {
			t.Errorf("byte %d: expected ErrInvalidCRC, got %v", i, err)
		}
	}
}

func TestDecodeRTU_TooShort(t *testing.T) {
	if _, err := DecodeRTU([]byte{0x01, 0x03, 0x00}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame, got %v", err)
	}
}

func TestTransactionIDGenerator(t *testing.T) {
	var gen TransactionIDGenerator

	for want := uint16(1); want <= 3; want++ {
		if got := gen.Next(); got != want {
			t.Errorf("Expected ID %d, got %d", want, got)
		}
	}
}

func TestTransactionIDGenerator_Wraps(t *testing.T) {
	gen := TransactionIDGenerator{counter: 0xFFFF}
	if got := gen.Next(); got != 0 {
		t.Errorf("Expected wrap to 0, got %d", got)
	}
}

// bufferTransport serves reads from a fixed buffer.
type bufferTransport struct {
	*bytes.Reader
}

func (b bufferTransport) Write(p []byte) (int, error)     { return len(p), nil }
func (b bufferTransport) Close() error                    { return nil }
func (b bufferTransport) SetReadDeadline(time.Time) error { return nil }

func TestFrameReader_MBAP(t *testing.T) {
	data := []byte{
		0x00, 0x01, // Transaction ID
		0x00, 0x00, // Protocol ID
		0x00, 0x05, // Length
		0x01,                   // Unit ID
		0x03, 0x02, 0x00, 0x0A, // PDU
	}

	r := &frameReader{t: bufferTransport{bytes.NewReader(data)}, backend: BackendTCP}
	adu, err := r.read(msgConfirmation)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(adu, data) {
		t.Errorf("Expected %x, got %x", data, adu)
	}
}

func TestFrameReader_RTU(t *testing.T) {
	tests := []struct {
		name string
		kind msgKind
		pdu  []byte
	}{
		{"read request", msgIndication, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}},
		{"write multiple request", msgIndication, []byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02}},
		{"mask write request", msgIndication, []byte{0x16, 0x00, 0x04, 0x00, 0xF2, 0x00, 0x25}},
		{"write and read request", msgIndication, []byte{0x17, 0x00, 0x03, 0x00, 0x06, 0x00, 0x0E, 0x00, 0x01, 0x02, 0x00, 0xFF}},
		{"report slave id request", msgIndication, []byte{0x11}},
		{"registers response", msgConfirmation, []byte{0x03, 0x04, 0x02, 0x2B, 0x00, 0x00}},
		{"write response", msgConfirmation, []byte{0x06, 0x00, 0x01, 0x00, 0x03}},
		{"exception response", msgConfirmation, []byte{0x83, 0x02}},
		{"slave id response", msgConfirmation, []byte{0x11, 0x03, 0x01, 0xFF, 0x41}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adu := EncodeRTU(0x11, tt.pdu)
			// Trailing garbage must stay unread.
			stream := append(append([]byte(nil), adu...), 0xAA, 0xBB)
			r := &frameReader{t: bufferTransport{bytes.NewReader(stream)}, backend: BackendRTU}
			got, err := r.read(tt.kind)
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if !bytes.Equal(got, adu) {
				t.Errorf("Expected %x, got %x", adu, got)
			}
		})
	}
}

func TestFrameReader_Timeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go server.Write([]byte{0x00, 0x01, 0x00})

	r := &frameReader{t: client, backend: BackendTCP, first: 200 * time.Millisecond, between: 20 * time.Millisecond}
	_, err := r.read(msgConfirmation)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout should report the error")
	}
}

func TestFrameReader_Closed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	server.Close()

	r := &frameReader{t: client, backend: BackendTCP, first: time.Second}
	_, err := r.read(msgConfirmation)
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("Expected ErrConnectionClosed, got %v", err)
	}
	if !isLinkError(err) {
		t.Errorf("Expected a link error, got %v", err)
	}
}

func TestFrameReader_ClosedLocally(t *testing.T) {
	for _, backend := range []Backend{BackendRTU, BackendTCP} {
		t.Run(backend.String(), func(t *testing.T) {
			client, server := net.Pipe()
			defer server.Close()
			client.Close()

			r := &frameReader{t: client, backend: backend, first: time.Second, between: 10 * time.Millisecond}
			_, err := r.read(msgIndication)
			if !errors.Is(err, ErrConnectionClosed) {
				t.Fatalf("Expected ErrConnectionClosed, got %v", err)
			}
			if Classify(err) != ClassTransport {
				t.Errorf("Classify: expected transport, got %s", Classify(err))
			}
		})
	}
}

func TestFrameReader_Deadlines(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	saved := timeNow
	timeNow = func() time.Time { return base }
	defer func() { timeNow = saved }()

	r := &frameReader{first: time.Second, between: 10 * time.Millisecond}
	if d := r.nextDeadline(); !d.Equal(base.Add(time.Second)) {
		t.Errorf("first deadline: expected %v, got %v", base.Add(time.Second), d)
	}
	r.started = true
	if d := r.nextDeadline(); !d.Equal(base.Add(10 * time.Millisecond)) {
		t.Errorf("byte deadline: expected %v, got %v", base.Add(10*time.Millisecond), d)
	}

	// Without a byte timeout the first deadline covers the whole frame.
	r = &frameReader{first: time.Second}
	r.nextDeadline()
	r.started = true
	if d := r.nextDeadline(); !d.Equal(base.Add(time.Second)) {
		t.Errorf("frame deadline: expected %v, got %v", base.Add(time.Second), d)
	}

	// A zero response timeout waits forever unless the context is tighter.
	r = &frameReader{}
	if d := r.nextDeadline(); !d.IsZero() {
		t.Errorf("Expected no deadline, got %v", d)
	}
	r = &frameReader{first: time.Second, limit: base.Add(time.Millisecond)}
	if d := r.nextDeadline(); !d.Equal(base.Add(time.Millisecond)) {
		t.Errorf("limit: expected %v, got %v", base.Add(time.Millisecond), d)
	}
}
