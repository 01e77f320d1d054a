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
	"bytes"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/grid-x/serial"
)

// fakePort returns queued chunks and serial.ErrTimeout when idle.
type fakePort struct {
	mu      sync.Mutex
	chunks  [][]byte
	written bytes.Buffer
	writes  []time.Time
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		time.Sleep(time.Millisecond)
		return 0, serial.ErrTimeout
	}
	n := copy(b, p.chunks[0])
	p.chunks = p.chunks[1:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, time.Now())
	return p.written.Write(b)
}

func (p *fakePort) Close() error { return nil }

func TestCharTime(t *testing.T) {
	tests := []struct {
		name   string
		cfg    SerialConfig
		expect time.Duration
	}{
		{"9600 8N1", SerialConfig{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, 1041 * time.Microsecond},
		{"9600 8E1", SerialConfig{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"}, 1145 * time.Microsecond},
		{"19200 8N2", SerialConfig{BaudRate: 19200, DataBits: 8, StopBits: 2, Parity: "N"}, 572 * time.Microsecond},
		{"no baud", SerialConfig{DataBits: 8, StopBits: 1, Parity: "N"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.CharTime(); got != tt.expect {
				t.Errorf("CharTime: expected %v, got %v", tt.expect, got)
			}
		})
	}
}

func TestInterFrameDelay(t *testing.T) {
	tests := []struct {
		name   string
		cfg    SerialConfig
		expect time.Duration
	}{
		{"9600", SerialConfig{BaudRate: 9600}, 3645 * time.Microsecond},
		{"19200", SerialConfig{BaudRate: 19200}, 1822 * time.Microsecond},
		{"38400", SerialConfig{BaudRate: 38400}, 1750 * time.Microsecond},
		{"override", SerialConfig{BaudRate: 9600, FrameDelay: 5 * time.Millisecond}, 5 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.InterFrameDelay(); got != tt.expect {
				t.Errorf("InterFrameDelay: expected %v, got %v", tt.expect, got)
			}
		})
	}
}

func TestPortConfig(t *testing.T) {
	cfg := SerialConfig{Device: "/dev/ttyS0", BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"}
	pc := cfg.portConfig()
	if pc.Address != "/dev/ttyS0" || pc.BaudRate != 9600 || pc.Parity != "E" {
		t.Errorf("Unexpected port config %+v", pc)
	}
	if pc.RS485.Enabled {
		t.Error("RS485 should be disabled on RS232 lines")
	}

	cfg.RS485 = true
	cfg.RTS = RTSUp
	pc = cfg.portConfig()
	if !pc.RS485.Enabled || !pc.RS485.RtsHighDuringSend || pc.RS485.RtsHighAfterSend {
		t.Errorf("RTS up: unexpected RS485 config %+v", pc.RS485)
	}
	if pc.RS485.DelayRtsBeforeSend != cfg.CharTime() {
		t.Errorf("DelayRtsBeforeSend: expected %v, got %v", cfg.CharTime(), pc.RS485.DelayRtsBeforeSend)
	}

	cfg.RTS = RTSDown
	cfg.RTSDelay = 3 * time.Millisecond
	pc = cfg.portConfig()
	if pc.RS485.RtsHighDuringSend || !pc.RS485.RtsHighAfterSend {
		t.Errorf("RTS down: unexpected RS485 config %+v", pc.RS485)
	}
	if pc.RS485.DelayRtsAfterSend != 3*time.Millisecond {
		t.Errorf("DelayRtsAfterSend: expected 3ms, got %v", pc.RS485.DelayRtsAfterSend)
	}
}

func TestSerialLink(t *testing.T) {
	link := NewSerialLink(SerialConfig{Device: "/dev/ttyUSB0", BaudRate: 19200, DataBits: 8, StopBits: 1, Parity: "N"})
	if s := link.String(); s != "serial:///dev/ttyUSB0?baud=19200&format=8N1" {
		t.Errorf("String: got %s", s)
	}

	link.Update(func(c *SerialConfig) { c.RS485 = true })
	if !link.Config().RS485 {
		t.Error("Update not applied")
	}
}

func TestSerialPortRead(t *testing.T) {
	port := &fakePort{chunks: [][]byte{{0x01, 0x03}, {0x02}}}
	sp := NewSerialPort(port, 0)

	buf := make([]byte, 8)
	n, err := sp.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("Read: expected 2 bytes, got %d (%v)", n, err)
	}
	n, err = sp.Read(buf)
	if err != nil || n != 1 {
		t.Fatalf("Read: expected 1 byte, got %d (%v)", n, err)
	}

	sp.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	start := time.Now()
	_, err = sp.Read(buf)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Expected os.ErrDeadlineExceeded, got %v", err)
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout should report deadline errors")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Deadline honoured after %v", elapsed)
	}
}

func TestSerialPortFrameDelay(t *testing.T) {
	port := &fakePort{}
	sp := NewSerialPort(port, 20*time.Millisecond)

	sp.Write([]byte{0x01})
	sp.Write([]byte{0x02})

	if len(port.writes) != 2 {
		t.Fatalf("Expected 2 writes, got %d", len(port.writes))
	}
	if gap := port.writes[1].Sub(port.writes[0]); gap < 20*time.Millisecond {
		t.Errorf("Expected at least 20ms between frames, got %v", gap)
	}
	if !bytes.Equal(port.written.Bytes(), []byte{0x01, 0x02}) {
		t.Errorf("Written: got %x", port.written.Bytes())
	}
}

func TestSerialPortReadError(t *testing.T) {
	sp := NewSerialPort(errPort{}, 0)
	if _, err := sp.Read(make([]byte, 1)); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Expected os.ErrClosed, got %v", err)
	}
}

type errPort struct{}

func (errPort) Read([]byte) (int, error)  { return 0, os.ErrClosed }
func (errPort) Write([]byte) (int, error) { return 0, os.ErrClosed }
func (errPort) Close() error              { return nil }

func TestPortConfigCustomRTS(t *testing.T) {
	cfg := SerialConfig{Device: "/dev/ttyS0", BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N",
		RS485: true, RTS: RTSUp, CustomRTS: func(bool) {}}
	pc := cfg.portConfig()
	if !pc.RS485.Enabled {
		t.Error("RS485 should stay enabled")
	}
	if pc.RS485.RtsHighDuringSend || pc.RS485.RtsHighAfterSend || pc.RS485.DelayRtsBeforeSend != 0 {
		t.Errorf("driver RTS should be off with a custom RTS function, got %+v", pc.RS485)
	}
}

func TestSerialPortCustomRTS(t *testing.T) {
	tests := []struct {
		name   string
		high   bool
		expect []bool
	}{
		{"up", true, []bool{true, false}},
		{"down", false, []bool{false, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{}
			p := NewSerialPort(port, 0)

			var levels []bool
			var raised, lowered time.Time
			p.SetRTSControl(&RTSControl{
				Set: func(on bool) {
					levels = append(levels, on)
					if len(levels) == 1 {
						raised = time.Now()
					} else {
						lowered = time.Now()
					}
				},
				High:     tt.high,
				Delay:    5 * time.Millisecond,
				CharTime: time.Millisecond,
			})

			frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
			if _, err := p.Write(frame); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if len(levels) != 2 || levels[0] != tt.expect[0] || levels[1] != tt.expect[1] {
				t.Fatalf("RTS levels: expected %v, got %v", tt.expect, levels)
			}
			if len(port.writes) != 1 || port.writes[0].Sub(raised) < 5*time.Millisecond {
				t.Errorf("frame sent before the RTS delay elapsed")
			}
			// 8 characters of 1ms plus the 5ms delay.
			if gap := lowered.Sub(port.writes[0]); gap < 13*time.Millisecond {
				t.Errorf("RTS released after %v, expected at least 13ms", gap)
			}
			if !bytes.Equal(port.written.Bytes(), frame) {
				t.Errorf("Expected %x written, got %x", frame, port.written.Bytes())
			}
		})
	}
}
