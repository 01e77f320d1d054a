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
	"fmt"
)

// PDU builders for the supported function codes.

func checkQuantity(qty, max int) error {
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidParameter)
	}
	if qty > max {
		return fmt.Errorf("%w: quantity %d exceeds %d", ErrTooManyData, qty, max)
	}
	return nil
}

func buildReadPDU(fc FunctionCode, addr, qty uint16, max int) ([]byte, error) {
	if err := checkQuantity(int(qty), max); err != nil {
		return nil, err
	}
	pdu := make([]byte, 5)
	pdu[0] = byte(fc)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], qty)
	return pdu, nil
}

// BuildReadCoilsPDU builds a PDU for reading coils (FC01).
func BuildReadCoilsPDU(addr, qty uint16) ([]byte, error) {
	return buildReadPDU(FuncReadCoils, addr, qty, MaxReadBits)
}

// BuildReadDiscreteInputsPDU builds a PDU for reading discrete inputs (FC02).
func BuildReadDiscreteInputsPDU(addr, qty uint16) ([]byte, error) {
	return buildReadPDU(FuncReadDiscreteInputs, addr, qty, MaxReadBits)
}

// BuildReadHoldingRegistersPDU builds a PDU for reading holding registers (FC03).
func BuildReadHoldingRegistersPDU(addr, qty uint16) ([]byte, error) {
	return buildReadPDU(FuncReadHoldingRegisters, addr, qty, MaxReadRegisters)
}

// BuildReadInputRegistersPDU builds a PDU for reading input registers (FC04).
func BuildReadInputRegistersPDU(addr, qty uint16) ([]byte, error) {
	return buildReadPDU(FuncReadInputRegisters, addr, qty, MaxReadRegisters)
}

// BuildWriteSingleCoilPDU builds a PDU for writing a single coil (FC05).
func BuildWriteSingleCoilPDU(addr uint16, value bool) []byte {
	pdu := make([]byte, 5)
	pdu[0] = byte(FuncWriteSingleCoil)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	if value {
		binary.BigEndian.PutUint16(pdu[3:5], CoilOn)
	} else {
		binary.BigEndian.PutUint16(pdu[3:5], CoilOff)
	}
	return pdu
}

// BuildWriteSingleRegisterPDU builds a PDU for writing a single register (FC06).
func BuildWriteSingleRegisterPDU(addr, value uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = byte(FuncWriteSingleRegister)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], value)
	return pdu
}

// BuildWriteMultipleCoilsPDU builds a PDU for writing multiple coils (FC15).
func BuildWriteMultipleCoilsPDU(addr uint16, values []bool) ([]byte, error) {
	if err := checkQuantity(len(values), MaxWriteBits); err != nil {
		return nil, err
	}
	packed := PackBits(values)
	pdu := make([]byte, 6+len(packed))
	pdu[0] = byte(FuncWriteMultipleCoils)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(values)))
	pdu[5] = byte(len(packed))
	copy(pdu[6:], packed)
	return pdu, nil
}

// BuildWriteMultipleRegistersPDU builds a PDU for writing multiple registers (FC16).
func BuildWriteMultipleRegistersPDU(addr uint16, values []uint16) ([]byte, error) {
	if err := checkQuantity(len(values), MaxWriteRegisters); err != nil {
		return nil, err
	}
	pdu := make([]byte, 6+2*len(values))
	pdu[0] = byte(FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(values)))
	pdu[5] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(pdu[6+i*2:], v)
	}
	return pdu, nil
}

// BuildReportSlaveIDPDU builds a PDU for reporting the slave id (FC17).
func BuildReportSlaveIDPDU() []byte {
	return []byte{byte(FuncReportSlaveID)}
}

// BuildMaskWriteRegisterPDU builds a PDU for a masked register write (FC22).
func BuildMaskWriteRegisterPDU(addr, andMask, orMask uint16) []byte {
	pdu := make([]byte, 7)
	pdu[0] = byte(FuncMaskWriteRegister)
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], andMask)
	binary.BigEndian.PutUint16(pdu[5:7], orMask)
	return pdu
}

// BuildWriteAndReadRegistersPDU builds a PDU that writes values at
// writeAddr and then reads readQty registers at readAddr (FC23).
func BuildWriteAndReadRegistersPDU(writeAddr uint16, values []uint16, readAddr, readQty uint16) ([]byte, error) {
	if err := checkQuantity(len(values), MaxWriteAndReadWriteRegisters); err != nil {
		return nil, err
	}
	if err := checkQuantity(int(readQty), MaxWriteAndReadReadRegisters); err != nil {
		return nil, err
	}
	pdu := make([]byte, 10+2*len(values))
	pdu[0] = byte(FuncWriteAndReadRegisters)
	binary.BigEndian.PutUint16(pdu[1:3], readAddr)
	binary.BigEndian.PutUint16(pdu[3:5], readQty)
	binary.BigEndian.PutUint16(pdu[5:7], writeAddr)
	binary.BigEndian.PutUint16(pdu[7:9], uint16(len(values)))
	pdu[9] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(pdu[10+i*2:], v)
	}
	return pdu, nil
}

// Response parsing helpers

// ParseBitsResponse parses a coils or discrete inputs response (FC01/FC02).
func ParseBitsResponse(pdu []byte, qty uint16) ([]bool, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: response too short", ErrInvalidData)
	}
	byteCount := int(pdu[1])
	if byteCount != (int(qty)+7)/8 || len(pdu) != 2+byteCount {
		return nil, fmt.Errorf("%w: byte count %d for %d bits", ErrInvalidData, byteCount, qty)
	}
	return UnpackBits(pdu[2:], int(qty)), nil
}

// ParseRegistersResponse parses a registers response (FC03/FC04/FC23).
func ParseRegistersResponse(pdu []byte, qty uint16) ([]uint16, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: response too short", ErrInvalidData)
	}
	byteCount := int(pdu[1])
	if byteCount != 2*int(qty) || len(pdu) != 2+byteCount {
		return nil, fmt.Errorf("%w: byte count %d for %d registers", ErrInvalidData, byteCount, qty)
	}
	values := make([]uint16, qty)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(pdu[2+i*2:])
	}
	return values, nil
}

// ParseWriteResponse checks the echo of a single write (FC05/FC06).
func ParseWriteResponse(pdu []byte, expectedAddr, expectedValue uint16) error {
	if len(pdu) != 5 {
		return fmt.Errorf("%w: response length %d", ErrInvalidData, len(pdu))
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])
	if addr != expectedAddr {
		return fmt.Errorf("%w: address mismatch (expected %d, got %d)", ErrInvalidData, expectedAddr, addr)
	}
	if value != expectedValue {
		return fmt.Errorf("%w: value mismatch (expected %d, got %d)", ErrInvalidData, expectedValue, value)
	}
	return nil
}

// ParseWriteMultipleResponse checks the confirmation of FC15/FC16.
func ParseWriteMultipleResponse(pdu []byte, expectedAddr, expectedQty uint16) error {
	if len(pdu) != 5 {
		return fmt.Errorf("%w: response length %d", ErrInvalidData, len(pdu))
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	if addr != expectedAddr {
		return fmt.Errorf("%w: address mismatch (expected %d, got %d)", ErrInvalidData, expectedAddr, addr)
	}
	if qty != expectedQty {
		return fmt.Errorf("%w: quantity mismatch (expected %d, got %d)", ErrInvalidData, expectedQty, qty)
	}
	return nil
}

// ParseMaskWriteResponse checks the echo of a masked write (FC22).
func ParseMaskWriteResponse(pdu []byte, addr, andMask, orMask uint16) error {
	if len(pdu) != 7 {
		return fmt.Errorf("%w: response length %d", ErrInvalidData, len(pdu))
	}
	if binary.BigEndian.Uint16(pdu[1:3]) != addr ||
		binary.BigEndian.Uint16(pdu[3:5]) != andMask ||
		binary.BigEndian.Uint16(pdu[5:7]) != orMask {
		return fmt.Errorf("%w: mask write echo mismatch", ErrInvalidData)
	}
	return nil
}

// ParseReportSlaveIDResponse returns the bytes following the byte count:
// slave id, run indicator and device specific data.
func ParseReportSlaveIDResponse(pdu []byte) ([]byte, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: response too short", ErrInvalidData)
	}
	byteCount := int(pdu[1])
	if len(pdu) != 2+byteCount {
		return nil, fmt.Errorf("%w: byte count %d, %d bytes received", ErrInvalidData, byteCount, len(pdu)-2)
	}
	data := make([]byte, byteCount)
	copy(data, pdu[2:])
	return data, nil
}

// IsExceptionResponse checks if the PDU is an exception response.
func IsExceptionResponse(pdu []byte) bool {
	return len(pdu) > 0 && (pdu[0]&byte(exceptionBit)) != 0
}

// ParseExceptionResponse turns an exception PDU into an error.
func ParseExceptionResponse(pdu []byte) error {
	if len(pdu) != 2 {
		return fmt.Errorf("%w: exception response length %d", ErrInvalidData, len(pdu))
	}
	ec := ExceptionCode(pdu[1])
	if !ec.Valid() {
		return fmt.Errorf("%w: 0x%02X", ErrInvalidExceptionCode, pdu[1])
	}
	return NewModbusError(FunctionCode(pdu[0]&^byte(exceptionBit)), ec)
}

// expectedResponseLength computes the confirmation PDU length a request
// calls for, or -1 when the server decides it.
func expectedResponseLength(req []byte) int {
	if len(req) == 0 {
		return -1
	}
	switch FunctionCode(req[0]) {
	case FuncReadCoils, FuncReadDiscreteInputs:
		if len(req) < 5 {
			return -1
		}
		nb := int(binary.BigEndian.Uint16(req[3:5]))
		return 2 + (nb+7)/8
	case FuncReadHoldingRegisters, FuncReadInputRegisters, FuncWriteAndReadRegisters:
		if len(req) < 5 {
			return -1
		}
		return 2 + 2*int(binary.BigEndian.Uint16(req[3:5]))
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return 5
	case FuncMaskWriteRegister:
		return 7
	default:
		return -1
	}
}

// checkConfirmation validates a confirmation PDU against its request.
func checkConfirmation(req, rsp []byte) error {
	if len(rsp) == 0 {
		return fmt.Errorf("%w: empty response", ErrInvalidData)
	}
	if rsp[0] == req[0]|byte(exceptionBit) {
		return ParseExceptionResponse(rsp)
	}
	if rsp[0] != req[0] {
		return fmt.Errorf("%w: function code mismatch (expected %02X, got %02X)",
			ErrInvalidData, req[0], rsp[0])
	}
	if want := expectedResponseLength(req); want >= 0 && len(rsp) != want {
		return fmt.Errorf("%w: response length %d, expected %d", ErrInvalidData, len(rsp), want)
	}
	return nil
}
