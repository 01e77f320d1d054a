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
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/edgeo-scada/modbus"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend != "tcp" {
		t.Errorf("Backend: expected tcp, got %s", cfg.Backend)
	}
	if cfg.Port != modbus.DefaultPort {
		t.Errorf("Port: expected %d, got %d", modbus.DefaultPort, cfg.Port)
	}
	if cfg.Unit != 1 {
		t.Errorf("Unit: expected 1, got %d", cfg.Unit)
	}
	if cfg.Timeout != modbus.DefaultResponseTimeout {
		t.Errorf("Timeout: expected %v, got %v", modbus.DefaultResponseTimeout, cfg.Timeout)
	}
	if cfg.Serial.Baud != 19200 || cfg.Serial.Parity != "E" {
		t.Errorf("Serial: expected 19200 E, got %d %s", cfg.Serial.Baud, cfg.Serial.Parity)
	}
	if cfg.Server.HoldingRegisters.Count != 10000 {
		t.Errorf("HoldingRegisters.Count: expected 10000, got %d", cfg.Server.HoldingRegisters.Count)
	}
	if cfg.BackendKind() != modbus.BackendTCP {
		t.Errorf("BackendKind: expected tcp, got %v", cfg.BackendKind())
	}
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	v.Set("backend", "RTU")
	v.Set("unit", 17)
	v.Set("timeout", "2s")
	v.Set("recovery", "Link")
	v.Set("serial.device", "/dev/ttyUSB0")
	v.Set("serial.parity", "n")
	v.Set("serial.mode", "RS485")
	v.Set("serial.rts", "up")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BackendKind() != modbus.BackendRTU {
		t.Errorf("BackendKind: expected rtu, got %v", cfg.BackendKind())
	}
	if cfg.Timeout != 2*time.Second {
		t.Errorf("Timeout: expected 2s, got %v", cfg.Timeout)
	}
	if cfg.RecoveryMode() != modbus.ErrorRecoveryLink {
		t.Errorf("RecoveryMode: expected link, got %v", cfg.RecoveryMode())
	}

	line := cfg.SerialLine()
	if line.Device != "/dev/ttyUSB0" || line.BaudRate != 19200 || line.Parity != "N" {
		t.Errorf("SerialLine: unexpected %+v", line)
	}
	if line.Mode != modbus.SerialRS485 || line.RTS != modbus.RTSUp {
		t.Errorf("SerialLine: expected rs485 with RTS up, got %v %v", line.Mode, line.RTS)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
		expect string
	}{
		{"backend", map[string]interface{}{"backend": "udp"}, "Backend"},
		{"output", map[string]interface{}{"output": "xml"}, "Output"},
		{"port", map[string]interface{}{"port": 0}, "Port"},
		{"zero timeout", map[string]interface{}{"timeout": 0}, "Timeout"},
		{"unit", map[string]interface{}{"unit": 256}, "Unit"},
		{"data bits", map[string]interface{}{"serial.data-bits": 9}, "DataBits"},
		{"rtu without device", map[string]interface{}{"backend": "rtu"}, "serial.device"},
		{"rtu unit", map[string]interface{}{"backend": "rtu", "serial.device": "/dev/ttyS0", "unit": 248}, "rtu unit"},
		{"rts on rs232", map[string]interface{}{"serial.rts": "down"}, "rs485"},
		{"table past end", map[string]interface{}{"server.coils.start": 65000, "server.coils.count": 1000}, "server.coils"},
		{"empty host", map[string]interface{}{"host": ""}, "host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tt.values {
				v.Set(k, val)
			}
			_, err := Load(v)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.expect) {
				t.Errorf("Expected error mentioning %q, got %v", tt.expect, err)
			}
		})
	}
}

func TestParseRecovery(t *testing.T) {
	tests := []struct {
		input  string
		expect modbus.ErrorRecoveryMode
	}{
		{"", modbus.ErrorRecoveryNone},
		{"none", modbus.ErrorRecoveryNone},
		{"link", modbus.ErrorRecoveryLink},
		{"PROTOCOL", modbus.ErrorRecoveryProtocol},
		{"all", modbus.ErrorRecoveryLink | modbus.ErrorRecoveryProtocol},
		{"link|protocol", modbus.ErrorRecoveryLink | modbus.ErrorRecoveryProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRecovery(tt.input)
			if err != nil {
				t.Fatalf("ParseRecovery failed: %v", err)
			}
			if got != tt.expect {
				t.Errorf("Expected %v, got %v", tt.expect, got)
			}
		})
	}

	if _, err := ParseRecovery("sometimes"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}
