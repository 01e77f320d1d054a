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

// Package modbus implements the Modbus protocol over RTU serial lines,
// TCP (IPv4) and protocol independent TCP (IPv4/IPv6): framing, a client
// engine and a Mapping backed server engine.
package modbus

import (
	"fmt"
	"io"
	"time"
)

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Supported Modbus function codes.
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
	FuncReportSlaveID          FunctionCode = 0x11
	FuncMaskWriteRegister      FunctionCode = 0x16
	FuncWriteAndReadRegisters  FunctionCode = 0x17
	exceptionBit               FunctionCode = 0x80
)

// String returns the name of the function code.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case FuncReportSlaveID:
		return "ReportSlaveID"
	case FuncMaskWriteRegister:
		return "MaskWriteRegister"
	case FuncWriteAndReadRegisters:
		return "WriteAndReadRegisters"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(fc))
	}
}

// Protocol constants.
const (
	// MaxReadBits is the maximum number of coils or discrete inputs in one read.
	MaxReadBits = 2000

	// MaxWriteBits is the maximum number of coils in one write.
	MaxWriteBits = 1968

	// MaxReadRegisters is the maximum number of registers in one read.
	MaxReadRegisters = 125

	// MaxWriteRegisters is the maximum number of registers in one write.
	MaxWriteRegisters = 123

	// MaxWriteAndReadWriteRegisters is the write quantity limit of FC23.
	MaxWriteAndReadWriteRegisters = 121

	// MaxWriteAndReadReadRegisters is the read quantity limit of FC23.
	MaxWriteAndReadReadRegisters = 125

	// MaxPDULength is the largest PDU any backend carries.
	MaxPDULength = 253

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// ProtocolID is the Modbus protocol identifier (always 0).
	ProtocolID = 0

	// BroadcastAddress addresses every device; no reply is sent.
	BroadcastAddress UnitID = 0

	// TCPSlaveID is the default unit id of TCP contexts.
	TCPSlaveID UnitID = 0xFF

	// MaxRTUSlaveID is the highest unicast address on a serial line.
	MaxRTUSlaveID = 247

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502

	// DefaultResponseTimeout bounds the wait for the first byte of a reply.
	DefaultResponseTimeout = 500 * time.Millisecond

	// DefaultByteTimeout bounds the gap between two bytes of a frame.
	DefaultByteTimeout = 500 * time.Millisecond
)

// Coil values for write operations.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// Backend selects the framing and transport of a context.
type Backend int

const (
	BackendRTU Backend = iota
	BackendTCP
	BackendTCPPI
)

// String returns the backend name.
func (b Backend) String() string {
	switch b {
	case BackendRTU:
		return "rtu"
	case BackendTCP:
		return "tcp"
	case BackendTCPPI:
		return "tcppi"
	default:
		return "unknown"
	}
}

// ParseBackend parses the names returned by Backend.String.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "rtu", "RTU":
		return BackendRTU, nil
	case "tcp", "TCP":
		return BackendTCP, nil
	case "tcppi", "tcp-pi", "TCPPI":
		return BackendTCPPI, nil
	}
	return 0, fmt.Errorf("%w: unknown backend %q", ErrInvalidParameter, s)
}

// HeaderLength is the number of ADU bytes before the function code.
func (b Backend) HeaderLength() int {
	if b == BackendRTU {
		return 1
	}
	return MBAPHeaderSize
}

// ChecksumLength is the number of trailing checksum bytes.
func (b Backend) ChecksumLength() int {
	if b == BackendRTU {
		return 2
	}
	return 0
}

// MaxADULength is the largest valid frame on the wire.
func (b Backend) MaxADULength() int {
	if b == BackendRTU {
		return 256
	}
	return 260
}

// Timeout is a (seconds, microseconds) pair.
type Timeout struct {
	Seconds      uint32
	Microseconds uint32
}

// NewTimeout splits a duration into a Timeout.
func NewTimeout(d time.Duration) Timeout {
	if d < 0 {
		d = 0
	}
	return Timeout{
		Seconds:      uint32(d / time.Second),
		Microseconds: uint32((d % time.Second) / time.Microsecond),
	}
}

// Duration returns the timeout as a time.Duration.
func (t Timeout) Duration() time.Duration {
	return time.Duration(t.Seconds)*time.Second + time.Duration(t.Microseconds)*time.Microsecond
}

// IsZero reports whether both fields are zero.
func (t Timeout) IsZero() bool {
	return t.Seconds == 0 && t.Microseconds == 0
}

func (t Timeout) String() string {
	return t.Duration().String()
}

// ErrorRecoveryMode is a set of recovery flags.
type ErrorRecoveryMode uint8

const (
	ErrorRecoveryNone ErrorRecoveryMode = 0
	// ErrorRecoveryLink closes and reopens the link after a transport
	// failure, then retries the transaction once.
	ErrorRecoveryLink ErrorRecoveryMode = 1 << 1
	// ErrorRecoveryProtocol sleeps for the response timeout and flushes
	// pending input after a framing or timeout anomaly.
	ErrorRecoveryProtocol ErrorRecoveryMode = 1 << 2
)

// Has reports whether all flags of f are set.
func (m ErrorRecoveryMode) Has(f ErrorRecoveryMode) bool {
	return m&f == f && f != 0
}

func (m ErrorRecoveryMode) String() string {
	switch m {
	case ErrorRecoveryNone:
		return "none"
	case ErrorRecoveryLink:
		return "link"
	case ErrorRecoveryProtocol:
		return "protocol"
	case ErrorRecoveryLink | ErrorRecoveryProtocol:
		return "link|protocol"
	default:
		return fmt.Sprintf("ErrorRecoveryMode(%d)", uint8(m))
	}
}

// SerialMode is the electrical interface of an RTU line.
type SerialMode int

const (
	SerialRS232 SerialMode = iota
	SerialRS485
)

func (m SerialMode) String() string {
	if m == SerialRS485 {
		return "rs485"
	}
	return "rs232"
}

// RTSMode controls the RTS line around transmissions on RS485.
type RTSMode int

const (
	RTSNone RTSMode = iota
	// RTSUp drives RTS high while sending and low afterwards.
	RTSUp
	// RTSDown drives RTS low while sending and high afterwards.
	RTSDown
)

func (m RTSMode) String() string {
	switch m {
	case RTSUp:
		return "up"
	case RTSDown:
		return "down"
	default:
		return "none"
	}
}

// Transporter is the byte stream a context reads and writes. net.Conn
// satisfies it; serial lines are adapted by the transport layer.
type Transporter interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// ConnectionState represents the state of a client connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
