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

// Package config loads the settings of the command line tools from
// flags, environment and configuration files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/modbus"
)

// Config is the merged configuration of a modbuscli invocation.
type Config struct {
	Backend     string        `mapstructure:"backend" validate:"oneof=tcp tcppi rtu"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port" validate:"min=1,max=65535"`
	Unit        int           `mapstructure:"unit" validate:"min=0,max=255"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ByteTimeout time.Duration `mapstructure:"byte-timeout" validate:"gte=0"`
	Recovery    string        `mapstructure:"recovery" validate:"oneof=none link protocol all"`
	Output      string        `mapstructure:"output" validate:"oneof=table json csv raw"`
	Verbose     bool          `mapstructure:"verbose"`
	Debug       bool          `mapstructure:"debug"`

	Serial SerialConfig `mapstructure:"serial"`
	Server ServerConfig `mapstructure:"server"`
}

// SerialConfig holds RTU line settings.
type SerialConfig struct {
	Device     string        `mapstructure:"device"`
	Baud       int           `mapstructure:"baud" validate:"gt=0"`
	Parity     string        `mapstructure:"parity" validate:"oneof=N E O"`
	DataBits   int           `mapstructure:"data-bits" validate:"min=5,max=8"`
	StopBits   int           `mapstructure:"stop-bits" validate:"min=1,max=2"`
	Mode       string        `mapstructure:"mode" validate:"oneof=rs232 rs485"`
	RTS        string        `mapstructure:"rts" validate:"oneof=none up down"`
	RTSDelay   time.Duration `mapstructure:"rts-delay" validate:"gte=0"`
	FrameDelay time.Duration `mapstructure:"frame-delay" validate:"gte=0"`
}

// ServerConfig holds the settings of the serve command.
type ServerConfig struct {
	Listen            string        `mapstructure:"listen"`
	MaxConns          int           `mapstructure:"max-conns" validate:"gt=0"`
	IndicationTimeout time.Duration `mapstructure:"indication-timeout" validate:"gte=0"`
	SlaveID           string        `mapstructure:"slave-id"`
	Seed              string        `mapstructure:"seed"`
	MetricsAddr       string        `mapstructure:"metrics-addr"`

	Coils            TableConfig `mapstructure:"coils"`
	DiscreteInputs   TableConfig `mapstructure:"discrete-inputs"`
	HoldingRegisters TableConfig `mapstructure:"holding-registers"`
	InputRegisters   TableConfig `mapstructure:"input-registers"`
}

// TableConfig sizes one Mapping table.
type TableConfig struct {
	Start int `mapstructure:"start" validate:"min=0,max=65535"`
	Count int `mapstructure:"count" validate:"min=0,max=65536"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend", "tcp")
	v.SetDefault("host", "localhost")
	v.SetDefault("port", modbus.DefaultPort)
	v.SetDefault("unit", 1)
	v.SetDefault("timeout", modbus.DefaultResponseTimeout)
	v.SetDefault("byte-timeout", modbus.DefaultByteTimeout)
	v.SetDefault("recovery", "none")
	v.SetDefault("output", "table")

	v.SetDefault("serial.baud", 19200)
	v.SetDefault("serial.parity", "E")
	v.SetDefault("serial.data-bits", 8)
	v.SetDefault("serial.stop-bits", 1)
	v.SetDefault("serial.mode", "rs232")
	v.SetDefault("serial.rts", "none")

	v.SetDefault("server.listen", fmt.Sprintf("0.0.0.0:%d", modbus.DefaultPort))
	v.SetDefault("server.max-conns", 100)
	v.SetDefault("server.slave-id", "edgeo-modbus")
	for _, table := range []string{"coils", "discrete-inputs", "holding-registers", "input-registers"} {
		v.SetDefault("server."+table+".count", 10000)
	}
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Backend = strings.ToLower(c.Backend)
	c.Recovery = strings.ToLower(c.Recovery)
	c.Serial.Parity = strings.ToUpper(c.Serial.Parity)
	c.Serial.Mode = strings.ToLower(c.Serial.Mode)
	c.Serial.RTS = strings.ToLower(c.Serial.RTS)
}

var validate = validator.New()

// Validate checks field ranges and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch cfg.Backend {
	case "rtu":
		if cfg.Serial.Device == "" {
			return errors.New("invalid configuration: rtu backend needs serial.device")
		}
		if cfg.Unit > modbus.MaxRTUSlaveID {
			return fmt.Errorf("invalid configuration: rtu unit %d above %d", cfg.Unit, modbus.MaxRTUSlaveID)
		}
	default:
		if cfg.Host == "" {
			return errors.New("invalid configuration: tcp backends need a host")
		}
	}
	if cfg.Serial.RTS != "none" && cfg.Serial.Mode != "rs485" {
		return errors.New("invalid configuration: serial.rts requires serial.mode rs485")
	}

	for name, t := range map[string]TableConfig{
		"coils":             cfg.Server.Coils,
		"discrete-inputs":   cfg.Server.DiscreteInputs,
		"holding-registers": cfg.Server.HoldingRegisters,
		"input-registers":   cfg.Server.InputRegisters,
	} {
		if t.Start+t.Count > 65536 {
			return fmt.Errorf("invalid configuration: server.%s ends past address 65535", name)
		}
	}
	return nil
}

// BackendKind returns the parsed backend.
func (c *Config) BackendKind() modbus.Backend {
	b, _ := modbus.ParseBackend(c.Backend)
	return b
}

// RecoveryMode returns the parsed recovery flags.
func (c *Config) RecoveryMode() modbus.ErrorRecoveryMode {
	m, _ := ParseRecovery(c.Recovery)
	return m
}

// ParseRecovery parses none, link, protocol or all.
func ParseRecovery(s string) (modbus.ErrorRecoveryMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return modbus.ErrorRecoveryNone, nil
	case "link":
		return modbus.ErrorRecoveryLink, nil
	case "protocol":
		return modbus.ErrorRecoveryProtocol, nil
	case "all", "link|protocol":
		return modbus.ErrorRecoveryLink | modbus.ErrorRecoveryProtocol, nil
	}
	return 0, fmt.Errorf("unknown recovery mode %q", s)
}

// SerialLine converts the serial section for modbus.NewRTUClient.
func (c *Config) SerialLine() modbus.SerialConfig {
	sc := modbus.SerialConfig{
		Device:     c.Serial.Device,
		BaudRate:   c.Serial.Baud,
		Parity:     c.Serial.Parity,
		DataBits:   c.Serial.DataBits,
		StopBits:   c.Serial.StopBits,
		RTSDelay:   c.Serial.RTSDelay,
		FrameDelay: c.Serial.FrameDelay,
	}
	if c.Serial.Mode == "rs485" {
		sc.Mode = modbus.SerialRS485
	}
	switch c.Serial.RTS {
	case "up":
		sc.RTS = modbus.RTSUp
	case "down":
		sc.RTS = modbus.RTSDown
	}
	return sc
}
