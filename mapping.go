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
	"sync"
)

// addressSpace is the number of addresses of each table.
const addressSpace = 65536

// Table identifies one of the four Mapping tables.
type Table int

const (
	TableCoils Table = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

func (t Table) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableDiscreteInputs:
		return "discrete_inputs"
	case TableHoldingRegisters:
		return "holding_registers"
	case TableInputRegisters:
		return "input_registers"
	default:
		return "unknown"
	}
}

// Mapping is the data model a server answers from. Index i of a table
// holds protocol address start+i. All access goes through one mutex.
type Mapping struct {
	mu sync.Mutex

	startBits           int
	startInputBits      int
	startRegisters      int
	startInputRegisters int

	bits           []bool
	inputBits      []bool
	registers      []uint16
	inputRegisters []uint16
}

// NewMapping allocates tables starting at address 0.
func NewMapping(nbBits, nbInputBits, nbRegisters, nbInputRegisters int) (*Mapping, error) {
	return NewMappingStartAddress(0, nbBits, 0, nbInputBits, 0, nbRegisters, 0, nbInputRegisters)
}

// NewMappingStartAddress allocates tables with their own start address.
// Each start+count must stay within the 16-bit address space.
func NewMappingStartAddress(
	startBits, nbBits,
	startInputBits, nbInputBits,
	startRegisters, nbRegisters,
	startInputRegisters, nbInputRegisters int,
) (*Mapping, error) {
	for _, r := range []struct {
		t            Table
		start, count int
	}{
		{TableCoils, startBits, nbBits},
		{TableDiscreteInputs, startInputBits, nbInputBits},
		{TableHoldingRegisters, startRegisters, nbRegisters},
		{TableInputRegisters, startInputRegisters, nbInputRegisters},
	} {
		if r.start < 0 || r.count < 0 || r.start+r.count > addressSpace {
			return nil, fmt.Errorf("%w: %s start %d count %d", ErrInvalidParameter, r.t, r.start, r.count)
		}
	}
	return &Mapping{
		startBits:           startBits,
		startInputBits:      startInputBits,
		startRegisters:      startRegisters,
		startInputRegisters: startInputRegisters,
		bits:                make([]bool, nbBits),
		inputBits:           make([]bool, nbInputBits),
		registers:           make([]uint16, nbRegisters),
		inputRegisters:      make([]uint16, nbInputRegisters),
	}, nil
}

// Range returns the start address and count of table t.
func (m *Mapping) Range(t Table) (start, count int) {
	switch t {
	case TableCoils:
		return m.startBits, len(m.bits)
	case TableDiscreteInputs:
		return m.startInputBits, len(m.inputBits)
	case TableHoldingRegisters:
		return m.startRegisters, len(m.registers)
	case TableInputRegisters:
		return m.startInputRegisters, len(m.inputRegisters)
	}
	return 0, 0
}

// offset maps [addr, addr+qty) onto a table of count entries starting
// at start. ok is false when any address falls outside it.
func offset(start, count int, addr, qty int) (int, bool) {
	i := addr - start
	if i < 0 || qty < 0 || i+qty > count {
		return 0, false
	}
	return i, true
}

func (m *Mapping) index(t Table, addr uint16) (int, error) {
	start, count := m.Range(t)
	i, ok := offset(start, count, int(addr), 1)
	if !ok {
		return 0, fmt.Errorf("%w: %s address %d", ErrInvalidAddress, t, addr)
	}
	return i, nil
}

// Coil returns the coil at addr.
func (m *Mapping) Coil(addr uint16) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.index(TableCoils, addr)
	if err != nil {
		return false, err
	}
	return m.bits[i], nil
}

// SetCoil sets the coil at addr.
func (m *Mapping) SetCoil(addr uint16, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.index(TableCoils, addr)
	if err != nil {
		return err
	}
	m.bits[i] = value
	return nil
}

// DiscreteInput returns the discrete input at addr.
func (m *Mapping) DiscreteInput(addr uint16) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.index(TableDiscreteInputs, addr)
	if err != nil {
		return false, err
	}
	return m.inputBits[i], nil
}

// SetDiscreteInput sets the discrete input at addr.
func (m *Mapping) SetDiscreteInput(addr uint16, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.index(TableDiscreteInputs, addr)
	if err != nil {
		return err
	}
	m.inputBits[i] = value
	return nil
}

// HoldingRegister returns the holding register at addr.
func (m *Mapping) HoldingRegister(addr uint16) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.index(TableHoldingRegisters, addr)
	if err != nil {
		return 0, err
	}
	return m.registers[i], nil
}

// SetHoldingRegister sets the holding register at addr.
func (m *Mapping) SetHoldingRegister(addr, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.index(TableHoldingRegisters, addr)
	if err != nil {
		return err
	}
	m.registers[i] = value
	return nil
}

// InputRegister returns the input register at addr.
func (m *Mapping) InputRegister(addr uint16) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.index(TableInputRegisters, addr)
	if err != nil {
		return 0, err
	}
	return m.inputRegisters[i], nil
}

// SetInputRegister sets the input register at addr.
func (m *Mapping) SetInputRegister(addr, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.index(TableInputRegisters, addr)
	if err != nil {
		return err
	}
	m.inputRegisters[i] = value
	return nil
}

// SetHoldingRegisters stores values from addr on, all or nothing.
func (m *Mapping) SetHoldingRegisters(addr uint16, values []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := offset(m.startRegisters, len(m.registers), int(addr), len(values))
	if !ok {
		return fmt.Errorf("%w: %s %d..%d", ErrInvalidAddress, TableHoldingRegisters, addr, int(addr)+len(values)-1)
	}
	copy(m.registers[i:], values)
	return nil
}

// SetInputRegisters stores values from addr on, all or nothing.
func (m *Mapping) SetInputRegisters(addr uint16, values []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := offset(m.startInputRegisters, len(m.inputRegisters), int(addr), len(values))
	if !ok {
		return fmt.Errorf("%w: %s %d..%d", ErrInvalidAddress, TableInputRegisters, addr, int(addr)+len(values)-1)
	}
	copy(m.inputRegisters[i:], values)
	return nil
}

// Do runs fn with the Mapping locked, for multi-value updates that must
// not interleave with requests.
func (m *Mapping) Do(fn func(m *MappingTables)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&MappingTables{
		Coils:            m.bits,
		DiscreteInputs:   m.inputBits,
		HoldingRegisters: m.registers,
		InputRegisters:   m.inputRegisters,
	})
}

// MappingTables exposes the raw tables inside Do. Index 0 of each slice
// is the table's start address. The slices must not be retained.
type MappingTables struct {
	Coils            []bool
	DiscreteInputs   []bool
	HoldingRegisters []uint16
	InputRegisters   []uint16
}
