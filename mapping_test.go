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
	"errors"
	"testing"
)

func TestNewMappingStartAddress(t *testing.T) {
	m, err := NewMappingStartAddress(10, 5, 0, 0, 1000, 100, 65535, 1)
	if err != nil {
		t.Fatalf("NewMappingStartAddress failed: %v", err)
	}

	tests := []struct {
		table        Table
		start, count int
	}{
		{TableCoils, 10, 5},
		{TableDiscreteInputs, 0, 0},
		{TableHoldingRegisters, 1000, 100},
		{TableInputRegisters, 65535, 1},
	}
	for _, tt := range tests {
		start, count := m.Range(tt.table)
		if start != tt.start || count != tt.count {
			t.Errorf("%s: expected %d+%d, got %d+%d", tt.table, tt.start, tt.count, start, count)
		}
	}
}

func TestNewMappingStartAddress_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args [8]int
	}{
		{"past address space", [8]int{65535, 2, 0, 0, 0, 0, 0, 0}},
		{"negative count", [8]int{0, 0, 0, -1, 0, 0, 0, 0}},
		{"negative start", [8]int{0, 0, 0, 0, -1, 1, 0, 0}},
		{"too many registers", [8]int{0, 0, 0, 0, 0, 0, 0, 65537}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.args
			_, err := NewMappingStartAddress(a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7])
			if !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("Expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestMapping_Accessors(t *testing.T) {
	m, err := NewMappingStartAddress(100, 10, 200, 10, 300, 10, 400, 10)
	if err != nil {
		t.Fatalf("NewMappingStartAddress failed: %v", err)
	}

	if err := m.SetCoil(105, true); err != nil {
		t.Fatalf("SetCoil failed: %v", err)
	}
	if v, _ := m.Coil(105); !v {
		t.Error("Coil 105 should be set")
	}
	if err := m.SetCoil(99, true); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("SetCoil below start: expected ErrInvalidAddress, got %v", err)
	}
	if _, err := m.Coil(110); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Coil past end: expected ErrInvalidAddress, got %v", err)
	}

	if err := m.SetDiscreteInput(209, true); err != nil {
		t.Fatalf("SetDiscreteInput failed: %v", err)
	}
	if v, _ := m.DiscreteInput(209); !v {
		t.Error("Discrete input 209 should be set")
	}

	if err := m.SetHoldingRegister(300, 0xBEEF); err != nil {
		t.Fatalf("SetHoldingRegister failed: %v", err)
	}
	if v, _ := m.HoldingRegister(300); v != 0xBEEF {
		t.Errorf("Holding register 300: expected 0xBEEF, got 0x%04X", v)
	}

	if err := m.SetInputRegister(401, 7); err != nil {
		t.Fatalf("SetInputRegister failed: %v", err)
	}
	if v, _ := m.InputRegister(401); v != 7 {
		t.Errorf("Input register 401: expected 7, got %d", v)
	}
}

func TestMapping_SetRegistersAllOrNothing(t *testing.T) {
	m, _ := NewMapping(0, 0, 4, 4)

	if err := m.SetHoldingRegisters(2, []uint16{1, 2, 3}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("Expected ErrInvalidAddress, got %v", err)
	}
	for addr := uint16(0); addr < 4; addr++ {
		if v, _ := m.HoldingRegister(addr); v != 0 {
			t.Errorf("register %d modified to %d", addr, v)
		}
	}

	if err := m.SetInputRegisters(1, []uint16{1, 2, 3}); err != nil {
		t.Fatalf("SetInputRegisters failed: %v", err)
	}
	if v, _ := m.InputRegister(3); v != 3 {
		t.Errorf("Input register 3: expected 3, got %d", v)
	}
}

func TestMapping_Do(t *testing.T) {
	m, _ := NewMappingStartAddress(0, 0, 0, 0, 50, 3, 0, 0)

	m.Do(func(tables *MappingTables) {
		for i := range tables.HoldingRegisters {
			tables.HoldingRegisters[i] = uint16(i + 1)
		}
	})

	if v, _ := m.HoldingRegister(52); v != 3 {
		t.Errorf("Holding register 52: expected 3, got %d", v)
	}
}
