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
	"fmt"
	"math"
)

// Helper functions for data conversion

// PackBits packs bools LSB first, eight per byte, as carried on the wire.
func PackBits(values []bool) []byte {
	result := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			result[i/8] |= 1 << (i % 8)
		}
	}
	return result
}

// UnpackBits is the inverse of PackBits for count bits.
func UnpackBits(data []byte, count int) []bool {
	result := make([]bool, count)
	for i := 0; i < count && i/8 < len(data); i++ {
		result[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return result
}

// SetBitsFromByte writes the eight bits of value into dst at index.
func SetBitsFromByte(dst []bool, index int, value byte) {
	for i := 0; i < 8 && index+i < len(dst); i++ {
		dst[index+i] = value&(1<<i) != 0
	}
}

// SetBitsFromBytes unpacks nbBits bits from src into dst at index.
func SetBitsFromBytes(dst []bool, index, nbBits int, src []byte) {
	for i := 0; i < nbBits && i/8 < len(src) && index+i < len(dst); i++ {
		dst[index+i] = src[i/8]&(1<<(i%8)) != 0
	}
}

// GetByteFromBits gathers up to eight bits starting at index, LSB first.
func GetByteFromBits(src []bool, index, nbBits int) byte {
	if nbBits > 8 {
		nbBits = 8
	}
	var value byte
	for i := 0; i < nbBits && index+i < len(src); i++ {
		if src[index+i] {
			value |= 1 << i
		}
	}
	return value
}

// ByteOrder names the placement of the bytes A (most significant) to D
// of a 32-bit value across two registers.
type ByteOrder int

const (
	OrderABCD ByteOrder = iota
	OrderDCBA
	OrderBADC
	OrderCDAB
)

func (o ByteOrder) String() string {
	switch o {
	case OrderDCBA:
		return "dcba"
	case OrderBADC:
		return "badc"
	case OrderCDAB:
		return "cdab"
	default:
		return "abcd"
	}
}

// ParseByteOrder parses abcd, dcba, badc or cdab.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch s {
	case "abcd", "ABCD", "big":
		return OrderABCD, nil
	case "dcba", "DCBA", "little":
		return OrderDCBA, nil
	case "badc", "BADC":
		return OrderBADC, nil
	case "cdab", "CDAB":
		return OrderCDAB, nil
	}
	return 0, fmt.Errorf("%w: unknown byte order %q", ErrInvalidParameter, s)
}

func swapBytes(v uint16) uint16 {
	return v<<8 | v>>8
}

// Uint32ToRegisters splits u into two registers using order.
func Uint32ToRegisters(u uint32, order ByteOrder) [2]uint16 {
	hi, lo := uint16(u>>16), uint16(u)
	switch order {
	case OrderDCBA:
		return [2]uint16{swapBytes(lo), swapBytes(hi)}
	case OrderBADC:
		return [2]uint16{swapBytes(hi), swapBytes(lo)}
	case OrderCDAB:
		return [2]uint16{lo, hi}
	default:
		return [2]uint16{hi, lo}
	}
}

// RegistersToUint32 joins two registers stored with order.
func RegistersToUint32(regs [2]uint16, order ByteOrder) uint32 {
	var hi, lo uint16
	switch order {
	case OrderDCBA:
		hi, lo = swapBytes(regs[1]), swapBytes(regs[0])
	case OrderBADC:
		hi, lo = swapBytes(regs[0]), swapBytes(regs[1])
	case OrderCDAB:
		hi, lo = regs[1], regs[0]
	default:
		hi, lo = regs[0], regs[1]
	}
	return uint32(hi)<<16 | uint32(lo)
}

// Float32ToRegisters converts a float32 to two registers using order.
func Float32ToRegisters(f float32, order ByteOrder) [2]uint16 {
	return Uint32ToRegisters(math.Float32bits(f), order)
}

// RegistersToFloat32 converts two registers stored with order to a float32.
func RegistersToFloat32(regs [2]uint16, order ByteOrder) float32 {
	return math.Float32frombits(RegistersToUint32(regs, order))
}

// Int32ToRegisters converts an int32 to two registers using order.
func Int32ToRegisters(i int32, order ByteOrder) [2]uint16 {
	return Uint32ToRegisters(uint32(i), order)
}

// RegistersToInt32 converts two registers stored with order to an int32.
func RegistersToInt32(regs [2]uint16, order ByteOrder) int32 {
	return int32(RegistersToUint32(regs, order))
}
