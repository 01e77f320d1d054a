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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// MBAPHeader represents the Modbus Application Protocol header for TCP.
type MBAPHeader struct {
	TransactionID uint16 // Transaction identifier
	ProtocolID    uint16 // Protocol identifier (always 0 for Modbus)
	Length        uint16 // Number of following bytes (Unit ID + PDU)
	UnitID        UnitID // Unit identifier (slave address)
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
	return buf
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrInvalidFrame)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = UnitID(data[6])
	return nil
}

func (h *MBAPHeader) validate() error {
	if h.ProtocolID != ProtocolID {
		return fmt.Errorf("%w: invalid protocol ID %d", ErrInvalidFrame, h.ProtocolID)
	}
	pduLen := int(h.Length) - 1
	if pduLen < 1 {
		return fmt.Errorf("%w: invalid length field %d", ErrInvalidFrame, h.Length)
	}
	if pduLen > MaxPDULength {
		return fmt.Errorf("%w: %w: PDU length %d", ErrInvalidFrame, ErrTooManyData, pduLen)
	}
	return nil
}

// TransactionIDGenerator generates unique transaction IDs.
type TransactionIDGenerator struct {
	counter uint32
}

// Next returns the next transaction ID.
func (g *TransactionIDGenerator) Next() uint16 {
	return uint16(atomic.AddUint32(&g.counter, 1))
}

// Frame is one decoded ADU. For RTU only Header.UnitID is meaningful.
type Frame struct {
	Header MBAPHeader
	PDU    []byte
}

// Encode encodes the frame as an MBAP ADU.
func (f *Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.PDU) + 1) // PDU length + Unit ID
	buf := make([]byte, MBAPHeaderSize+len(f.PDU))
	copy(buf, f.Header.Encode())
	copy(buf[MBAPHeaderSize:], f.PDU)
	return buf
}

// Decode decodes a complete MBAP ADU. The length field must account for
// every byte after the header.
func (f *Frame) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: frame too short", ErrInvalidFrame)
	}
	if err := f.Header.Decode(data[:MBAPHeaderSize]); err != nil {
		return err
	}
	if err := f.Header.validate(); err != nil {
		return err
	}
	pduLen := int(f.Header.Length) - 1
	if len(data) != MBAPHeaderSize+pduLen {
		return fmt.Errorf("%w: length field %d, %d bytes follow the header",
			ErrInvalidFrame, f.Header.Length, len(data)-MBAPHeaderSize+1)
	}
	f.PDU = make([]byte, pduLen)
	copy(f.PDU, data[MBAPHeaderSize:])
	return nil
}

// EncodeRTU builds [unit][pdu][crc lo][crc hi].
func EncodeRTU(unitID UnitID, pdu []byte) []byte {
	adu := make([]byte, 1+len(pdu)+2)
	adu[0] = byte(unitID)
	copy(adu[1:], pdu)
	crc := CRC16(adu[:1+len(pdu)])
	adu[len(adu)-2] = byte(crc)
	adu[len(adu)-1] = byte(crc >> 8)
	return adu
}

// DecodeRTU verifies the checksum of an RTU ADU and splits it.
func DecodeRTU(adu []byte) (*Frame, error) {
	if len(adu) < 4 {
		return nil, fmt.Errorf("%w: RTU frame of %d bytes", ErrInvalidFrame, len(adu))
	}
	if len(adu) > BackendRTU.MaxADULength() {
		return nil, fmt.Errorf("%w: %w: RTU frame of %d bytes", ErrInvalidFrame, ErrTooManyData, len(adu))
	}
	n := len(adu) - 2
	want := CRC16(adu[:n])
	got := uint16(adu[n]) | uint16(adu[n+1])<<8
	if want != got {
		return nil, fmt.Errorf("%w: received %04X, computed %04X", ErrInvalidCRC, got, want)
	}
	f := &Frame{Header: MBAPHeader{UnitID: UnitID(adu[0])}}
	f.PDU = make([]byte, n-1)
	copy(f.PDU, adu[1:n])
	return f, nil
}

// Encode builds the wire ADU of f for backend b.
func (b Backend) Encode(f *Frame) []byte {
	if b == BackendRTU {
		return EncodeRTU(f.Header.UnitID, f.PDU)
	}
	return f.Encode()
}

// Decode parses a complete wire ADU for backend b.
func (b Backend) Decode(adu []byte) (*Frame, error) {
	if b == BackendRTU {
		return DecodeRTU(adu)
	}
	var f Frame
	if err := f.Decode(adu); err != nil {
		return nil, err
	}
	return &f, nil
}

type msgKind int

const (
	msgIndication msgKind = iota
	msgConfirmation
)

// metaLength is the number of bytes after the function code that carry
// addresses, quantities or byte counts.
func metaLength(fc byte, kind msgKind) int {
	f := FunctionCode(fc)
	if kind == msgIndication {
		switch {
		case f >= FuncReadCoils && f <= FuncWriteSingleRegister:
			return 4
		case f == FuncWriteMultipleCoils || f == FuncWriteMultipleRegisters:
			return 5
		case f == FuncMaskWriteRegister:
			return 6
		case f == FuncWriteAndReadRegisters:
			return 9
		}
		return 0
	}
	switch f {
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return 4
	case FuncMaskWriteRegister:
		return 6
	}
	// byte count, or the exception code
	return 1
}

// dataLength reads the byte count announced in the meta bytes. pdu
// starts at the function code.
func dataLength(pdu []byte, kind msgKind) int {
	f := FunctionCode(pdu[0])
	if kind == msgIndication {
		switch f {
		case FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
			return int(pdu[5])
		case FuncWriteAndReadRegisters:
			return int(pdu[9])
		}
		return 0
	}
	if f <= FuncReadInputRegisters || f == FuncReportSlaveID || f == FuncWriteAndReadRegisters {
		return int(pdu[1])
	}
	return 0
}

// frameReader reads one ADU under the response and byte timeout clocks.
type frameReader struct {
	t       Transporter
	backend Backend
	// first bounds the wait for the first byte; zero waits forever.
	first time.Duration
	// between bounds the gap between bytes; zero keeps the first clock.
	between time.Duration
	// limit is an absolute cap, usually a context deadline.
	limit time.Time

	started  bool
	deadline time.Time
}

func (r *frameReader) nextDeadline() time.Time {
	now := timeNow()
	var d time.Time
	switch {
	case !r.started:
		if r.first > 0 {
			d = now.Add(r.first)
		}
		r.deadline = d
	case r.between > 0:
		d = now.Add(r.between)
	default:
		d = r.deadline
	}
	if !r.limit.IsZero() && (d.IsZero() || r.limit.Before(d)) {
		d = r.limit
	}
	return d
}

func (r *frameReader) fill(buf []byte) error {
	for n := 0; n < len(buf); {
		if err := r.t.SetReadDeadline(r.nextDeadline()); err != nil {
			return wrapReadError(err, n, len(buf))
		}
		m, err := r.t.Read(buf[n:])
		if m > 0 {
			r.started = true
		}
		n += m
		if err != nil {
			if n == len(buf) && errors.Is(err, io.EOF) {
				return nil
			}
			return wrapReadError(err, n, len(buf))
		}
	}
	return nil
}

func wrapReadError(err error, got, want int) error {
	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || IsTimeout(err) {
		return fmt.Errorf("%w: %d of %d bytes received", ErrTimeout, got, want)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return err
}

// read returns one raw ADU. Checksums are left to the caller so that an
// RTU server can drop frames for other units before checking them.
func (r *frameReader) read(kind msgKind) ([]byte, error) {
	if r.backend != BackendRTU {
		return r.readMBAP()
	}

	hl := r.backend.HeaderLength()
	adu := make([]byte, hl+1, r.backend.MaxADULength())
	if err := r.fill(adu); err != nil {
		return nil, err
	}
	if meta := metaLength(adu[hl], kind); meta > 0 {
		adu = adu[:hl+1+meta]
		if err := r.fill(adu[hl+1:]); err != nil {
			return nil, err
		}
	}
	total := len(adu) + dataLength(adu[hl:], kind) + r.backend.ChecksumLength()
	if total > r.backend.MaxADULength() {
		return nil, fmt.Errorf("%w: %w: announced frame of %d bytes", ErrInvalidFrame, ErrTooManyData, total)
	}
	start := len(adu)
	adu = adu[:total]
	if err := r.fill(adu[start:]); err != nil {
		return nil, err
	}
	return adu, nil
}

func (r *frameReader) readMBAP() ([]byte, error) {
	header := make([]byte, MBAPHeaderSize)
	if err := r.fill(header); err != nil {
		return nil, err
	}
	var h MBAPHeader
	if err := h.Decode(header); err != nil {
		return nil, err
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	adu := make([]byte, MBAPHeaderSize+int(h.Length)-1)
	copy(adu, header)
	if err := r.fill(adu[MBAPHeaderSize:]); err != nil {
		return nil, err
	}
	return adu, nil
}

// timeNow is a variable for testing
var timeNow = time.Now
