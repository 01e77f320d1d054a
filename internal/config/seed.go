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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edgeo-scada/modbus"
)

// Seed holds initial Mapping values:
//
//	holding_registers:
//	  - address: 100
//	    values: [1, 2, 3]
//	coils:
//	  - address: 0
//	    values: [true, false]
type Seed struct {
	Coils            []BitBlock      `yaml:"coils"`
	DiscreteInputs   []BitBlock      `yaml:"discrete_inputs"`
	HoldingRegisters []RegisterBlock `yaml:"holding_registers"`
	InputRegisters   []RegisterBlock `yaml:"input_registers"`
}

// BitBlock is a run of bits starting at Address.
type BitBlock struct {
	Address uint16 `yaml:"address"`
	Values  []bool `yaml:"values"`
}

// RegisterBlock is a run of registers starting at Address.
type RegisterBlock struct {
	Address uint16   `yaml:"address"`
	Values  []uint16 `yaml:"values"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return &seed, nil
}

// Apply writes the seed into m. It stops at the first address outside
// the Mapping.
func (s *Seed) Apply(m *modbus.Mapping) error {
	for _, b := range s.Coils {
		for i, v := range b.Values {
			if err := m.SetCoil(b.Address+uint16(i), v); err != nil {
				return fmt.Errorf("seed coils: %w", err)
			}
		}
	}
	for _, b := range s.DiscreteInputs {
		for i, v := range b.Values {
			if err := m.SetDiscreteInput(b.Address+uint16(i), v); err != nil {
				return fmt.Errorf("seed discrete inputs: %w", err)
			}
		}
	}
	for _, b := range s.HoldingRegisters {
		if err := m.SetHoldingRegisters(b.Address, b.Values); err != nil {
			return fmt.Errorf("seed holding registers: %w", err)
		}
	}
	for _, b := range s.InputRegisters {
		if err := m.SetInputRegisters(b.Address, b.Values); err != nil {
			return fmt.Errorf("seed input registers: %w", err)
		}
	}
	return nil
}
