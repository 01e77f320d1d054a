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

import "testing"

func TestCRC16(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0xFFFF},
		{"sequence", []byte{0x01, 0x02, 0x03, 0x04, 0x05}, 0xBB2A},
		{"read holding register", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 0x0A84},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16(%x): expected 0x%04X, got 0x%04X", tt.data, tt.want, got)
			}
		})
	}
}

func TestCRC16_Residue(t *testing.T) {
	// The checksum of a frame including its own CRC is zero.
	adu := EncodeRTU(0x11, []byte{0x03, 0x00, 0x6B, 0x00, 0x03})
	if got := CRC16(adu); got != 0 {
		t.Errorf("Expected residue 0, got 0x%04X", got)
	}
}
