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
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ExceptionCode represents a Modbus exception code.
type ExceptionCode uint8

// Modbus exception codes.
const (
	ExceptionIllegalFunction                    ExceptionCode = 0x01
	ExceptionIllegalDataAddress                 ExceptionCode = 0x02
	ExceptionIllegalDataValue                   ExceptionCode = 0x03
	ExceptionServerDeviceFailure                ExceptionCode = 0x04
	ExceptionAcknowledge                        ExceptionCode = 0x05
	ExceptionServerDeviceBusy                   ExceptionCode = 0x06
	ExceptionNegativeAcknowledge                ExceptionCode = 0x07
	ExceptionMemoryParityError                  ExceptionCode = 0x08
	ExceptionGatewayPathUnavailable             ExceptionCode = 0x0A
	ExceptionGatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

// Valid reports whether the code is one of the defined exceptions.
func (e ExceptionCode) Valid() bool {
	return e >= ExceptionIllegalFunction && e <= ExceptionGatewayTargetDeviceFailedToRespond && e != 0x09
}

// String returns the string representation of the exception code.
func (e ExceptionCode) String() string {
	switch e {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case ExceptionAcknowledge:
		return "acknowledge"
	case ExceptionServerDeviceBusy:
		return "server device busy"
	case ExceptionNegativeAcknowledge:
		return "negative acknowledge"
	case ExceptionMemoryParityError:
		return "memory parity error"
	case ExceptionGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	default:
		return fmt.Sprintf("unknown exception (0x%02X)", uint8(e))
	}
}

// ModbusError is an exception response returned by a server.
type ModbusError struct {
	FunctionCode  FunctionCode
	ExceptionCode ExceptionCode
}

// Error implements the error interface.
func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception %s (FC=%02X)", e.ExceptionCode, uint8(e.FunctionCode))
}

// Is checks if the error matches the target.
func (e *ModbusError) Is(target error) bool {
	t, ok := target.(*ModbusError)
	if !ok {
		return false
	}
	return e.ExceptionCode == t.ExceptionCode
}

// Common errors.
var (
	// ErrInvalidCRC indicates a CRC mismatch on an RTU frame.
	ErrInvalidCRC = errors.New("modbus: invalid CRC")

	// ErrInvalidData indicates a confirmation that does not match its request.
	ErrInvalidData = errors.New("modbus: invalid data")

	// ErrInvalidExceptionCode indicates an exception response with an undefined code.
	ErrInvalidExceptionCode = errors.New("modbus: invalid exception code")

	// ErrTooManyData indicates a quantity or frame size above the protocol maximum.
	ErrTooManyData = errors.New("modbus: too many data")

	// ErrInvalidTIDOrSlave indicates a confirmation from another transaction or unit.
	ErrInvalidTIDOrSlave = errors.New("modbus: response not from requested transaction or slave")

	// ErrInvalidFrame indicates a malformed frame.
	ErrInvalidFrame = errors.New("modbus: invalid frame")

	// ErrTimeout indicates a response or byte timeout elapsed.
	ErrTimeout = errors.New("modbus: timeout")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("modbus: connection closed")

	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = errors.New("modbus: not connected")

	// ErrInvalidParameter indicates an argument rejected before any I/O.
	ErrInvalidParameter = errors.New("modbus: invalid parameter")

	// ErrInvalidSlaveID indicates a unit id outside the backend range.
	ErrInvalidSlaveID = errors.New("modbus: invalid slave ID")

	// ErrInvalidAddress indicates an address outside a Mapping table.
	ErrInvalidAddress = errors.New("modbus: invalid address")
)

// NewModbusError creates a new Modbus exception error.
func NewModbusError(fc FunctionCode, ec ExceptionCode) *ModbusError {
	return &ModbusError{
		FunctionCode:  fc,
		ExceptionCode: ec,
	}
}

// IsException checks if an error is a specific Modbus exception.
func IsException(err error, code ExceptionCode) bool {
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return modbusErr.ExceptionCode == code
	}
	return false
}

// IsIllegalFunction checks if the error is an illegal function exception.
func IsIllegalFunction(err error) bool {
	return IsException(err, ExceptionIllegalFunction)
}

// IsIllegalDataAddress checks if the error is an illegal data address exception.
func IsIllegalDataAddress(err error) bool {
	return IsException(err, ExceptionIllegalDataAddress)
}

// IsIllegalDataValue checks if the error is an illegal data value exception.
func IsIllegalDataValue(err error) bool {
	return IsException(err, ExceptionIllegalDataValue)
}

// IsServerDeviceFailure checks if the error is a server device failure exception.
func IsServerDeviceFailure(err error) bool {
	return IsException(err, ExceptionServerDeviceFailure)
}

// IsTimeout reports whether err is a response or byte timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ErrorClass groups errors by the recovery action they call for.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	// ClassTransport covers refused, reset and closed links.
	ClassTransport
	// ClassFraming covers CRC, header, length and timeout failures.
	ClassFraming
	// ClassException covers exception responses from the server.
	ClassException
	// ClassValidation covers arguments rejected before sending.
	ClassValidation
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassFraming:
		return "framing"
	case ClassException:
		return "exception"
	case ClassValidation:
		return "validation"
	default:
		return "none"
	}
}

// Classify maps err onto an ErrorClass.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.As(err, new(*ModbusError)):
		return ClassException
	case errors.Is(err, ErrTooManyData) && !errors.Is(err, ErrInvalidFrame),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrInvalidSlaveID):
		return ClassValidation
	case IsTimeout(err),
		errors.Is(err, ErrInvalidCRC),
		errors.Is(err, ErrInvalidFrame),
		errors.Is(err, ErrInvalidData),
		errors.Is(err, ErrInvalidExceptionCode),
		errors.Is(err, ErrInvalidTIDOrSlave):
		return ClassFraming
	default:
		return ClassTransport
	}
}

// isLinkError reports failures that a reconnect can cure.
func isLinkError(err error) bool {
	if err == nil || IsTimeout(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EBADF)
}
