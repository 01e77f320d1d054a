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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edgeo-scada/modbus"
)

const seedYAML = `
coils:
  - address: 2
    values: [true, false, true]
discrete_inputs:
  - address: 0
    values: [true]
holding_registers:
  - address: 100
    values: [1, 2, 0xFFFF]
input_registers:
  - address: 5
    values: [42]
`

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(seedYAML))
	if err != nil {
		t.Fatalf("ParseSeed failed: %v", err)
	}
	if len(seed.Coils) != 1 || len(seed.Coils[0].Values) != 3 {
		t.Errorf("Coils: unexpected %+v", seed.Coils)
	}
	if len(seed.HoldingRegisters) != 1 || seed.HoldingRegisters[0].Values[2] != 0xFFFF {
		t.Errorf("HoldingRegisters: unexpected %+v", seed.HoldingRegisters)
	}

	if _, err := ParseSeed([]byte("coils: [")); err == nil {
		t.Error("Expected error for malformed YAML")
	}
	if _, err := ParseSeed([]byte("holding_registers:\n  - address: 0\n    values: [70000]\n")); err == nil {
		t.Error("Expected error for a value above 0xFFFF")
	}
}

func TestSeedApply(t *testing.T) {
	seed, err := ParseSeed([]byte(seedYAML))
	if err != nil {
		t.Fatalf("ParseSeed failed: %v", err)
	}
	m, err := modbus.NewMappingStartAddress(0, 8, 0, 8, 100, 10, 0, 10)
	if err != nil {
		t.Fatalf("NewMappingStartAddress failed: %v", err)
	}
	if err := seed.Apply(m); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if v, _ := m.Coil(4); !v {
		t.Error("coil 4: expected true")
	}
	if v, _ := m.Coil(3); v {
		t.Error("coil 3: expected false")
	}
	if v, _ := m.DiscreteInput(0); !v {
		t.Error("discrete input 0: expected true")
	}
	if v, _ := m.HoldingRegister(102); v != 0xFFFF {
		t.Errorf("holding register 102: expected 0xFFFF, got 0x%04X", v)
	}
	if v, _ := m.InputRegister(5); v != 42 {
		t.Errorf("input register 5: expected 42, got %d", v)
	}

	small, _ := modbus.NewMapping(8, 8, 2, 8)
	if err := seed.Apply(small); err == nil {
		t.Error("Expected error applying registers outside the mapping")
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed failed: %v", err)
	}
	if len(seed.InputRegisters) != 1 {
		t.Errorf("InputRegisters: expected 1 block, got %d", len(seed.InputRegisters))
	}

	if _, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing file")
	}
}
