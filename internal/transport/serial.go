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

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

// pollInterval is the blocking granularity of serial reads; deadlines
// are honoured to within one interval.
const pollInterval = 20 * time.Millisecond

// RTS line handling on RS485 transceivers.
const (
	RTSNone = iota
	RTSUp
	RTSDown
)

// SerialConfig describes an RTU serial line.
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	// Parity is "N", "E" or "O".
	Parity string

	RS485 bool
	RTS   int
	// RTSDelay is applied before and after each transmission when RTS
	// is driven; zero selects one character time.
	RTSDelay time.Duration
	// FrameDelay is the silence kept before each transmission; zero
	// selects 3.5 character times.
	FrameDelay time.Duration
	// CustomRTS, when set, is called to raise and lower RTS around each
	// transmission instead of leaving RTS to the driver.
	CustomRTS func(on bool)
}

// CharTime returns the time one character takes on the line.
func (c *SerialConfig) CharTime() time.Duration {
	if c.BaudRate <= 0 {
		return 0
	}
	bits := 1 + c.DataBits + c.StopBits
	if c.Parity != "N" && c.Parity != "" {
		bits++
	}
	return time.Duration(1000000*bits/c.BaudRate) * time.Microsecond
}

// InterFrameDelay returns the 3.5 character silence separating frames.
// Above 19200 baud the fixed 1750us is used.
func (c *SerialConfig) InterFrameDelay() time.Duration {
	if c.FrameDelay > 0 {
		return c.FrameDelay
	}
	if c.BaudRate <= 0 || c.BaudRate > 19200 {
		return 1750 * time.Microsecond
	}
	return time.Duration(35000000/c.BaudRate) * time.Microsecond
}

func (c *SerialConfig) rtsDelay() time.Duration {
	if c.RTSDelay > 0 {
		return c.RTSDelay
	}
	return c.CharTime()
}

func (c *SerialConfig) portConfig() *serial.Config {
	cfg := &serial.Config{
		Address:  c.Device,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
		Timeout:  pollInterval,
	}
	if c.RS485 {
		cfg.RS485.Enabled = true
		cfg.RS485.RtsHighDuringSend = c.RTS == RTSUp && c.CustomRTS == nil
		cfg.RS485.RtsHighAfterSend = c.RTS == RTSDown && c.CustomRTS == nil
		if c.RTS != RTSNone && c.CustomRTS == nil {
			cfg.RS485.DelayRtsBeforeSend = c.rtsDelay()
			cfg.RS485.DelayRtsAfterSend = c.rtsDelay()
		}
	}
	return cfg
}

// SerialLink opens a serial device.
type SerialLink struct {
	mu     sync.Mutex
	config SerialConfig
}

// NewSerialLink returns a link for cfg.
func NewSerialLink(cfg SerialConfig) *SerialLink {
	return &SerialLink{config: cfg}
}

// Config returns a copy of the line settings.
func (l *SerialLink) Config() SerialConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config
}

// Update changes the line settings; they apply on the next Open.
func (l *SerialLink) Update(fn func(*SerialConfig)) {
	l.mu.Lock()
	fn(&l.config)
	l.mu.Unlock()
}

// Open opens the device.
func (l *SerialLink) Open(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	cfg := l.Config()
	port, err := serial.Open(cfg.portConfig())
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", cfg.Device, err)
	}
	p := NewSerialPort(port, cfg.InterFrameDelay())
	if cfg.RS485 && cfg.RTS != RTSNone && cfg.CustomRTS != nil {
		p.SetRTSControl(&RTSControl{
			Set:      cfg.CustomRTS,
			High:     cfg.RTS == RTSUp,
			Delay:    cfg.rtsDelay(),
			CharTime: cfg.CharTime(),
		})
	}
	return p, nil
}

func (l *SerialLink) String() string {
	cfg := l.Config()
	return fmt.Sprintf("serial://%s?baud=%d&format=%d%s%d", cfg.Device, cfg.BaudRate, cfg.DataBits, cfg.Parity, cfg.StopBits)
}

// SerialPort adds read deadlines and inter-frame silence to a raw port.
type SerialPort struct {
	port       io.ReadWriteCloser
	frameDelay time.Duration

	mu           sync.Mutex
	deadline     time.Time
	lastActivity time.Time
	rts          *RTSControl
}

// RTSControl toggles RTS by hand: RTS goes to High, Delay passes, the
// frame is sent, then the frame's transmission time plus Delay passes
// before RTS returns to !High.
type RTSControl struct {
	Set      func(on bool)
	High     bool
	Delay    time.Duration
	CharTime time.Duration
}

// SetRTSControl installs rc; nil leaves RTS alone.
func (p *SerialPort) SetRTSControl(rc *RTSControl) {
	p.mu.Lock()
	p.rts = rc
	p.mu.Unlock()
}

// NewSerialPort wraps port. Reads on port must return within a bounded
// time, with serial.ErrTimeout or no data, for deadlines to work.
func NewSerialPort(port io.ReadWriteCloser, frameDelay time.Duration) *SerialPort {
	return &SerialPort{port: port, frameDelay: frameDelay}
}

// SetReadDeadline sets the deadline for subsequent reads.
func (p *SerialPort) SetReadDeadline(t time.Time) error {
	p.mu.Lock()
	p.deadline = t
	p.mu.Unlock()
	return nil
}

func (p *SerialPort) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		deadline := p.deadline
		p.mu.Unlock()
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, os.ErrDeadlineExceeded
		}

		n, err := p.port.Read(b)
		if n > 0 {
			p.mu.Lock()
			p.lastActivity = time.Now()
			p.mu.Unlock()
			return n, nil
		}
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			return 0, err
		}
	}
}

// Write waits for the inter-frame silence, then sends b.
func (p *SerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	wait := p.frameDelay - time.Since(p.lastActivity)
	rts := p.rts
	p.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}

	if rts != nil {
		rts.Set(rts.High)
		time.Sleep(rts.Delay)
	}
	n, err := p.port.Write(b)
	if rts != nil {
		time.Sleep(rts.CharTime*time.Duration(n) + rts.Delay)
		rts.Set(!rts.High)
	}

	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
	return n, err
}

// Close closes the device.
func (p *SerialPort) Close() error {
	return p.port.Close()
}
