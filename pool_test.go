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
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func tcpFactory(addr string, opts ...Option) func() (*Client, error) {
	return func() (*Client, error) {
		return NewTCPClient(addr, opts...)
	}
}

func TestNewPool(t *testing.T) {
	if _, err := NewPool(nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("nil factory: expected ErrInvalidParameter, got %v", err)
	}

	pool, err := NewPool(tcpFactory("localhost:502"), WithPoolSize(5))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	stats := pool.Stats()
	if stats.Size != 5 {
		t.Errorf("Size: expected 5, got %d", stats.Size)
	}
	if stats.Live != 0 {
		t.Errorf("Live: expected 0, got %d", stats.Live)
	}
}

func TestPoolIntegration(t *testing.T) {
	_, addr := startTestServer(t)

	pool, err := NewPool(tcpFactory(addr, WithUnitID(1)), WithPoolSize(3))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()

	client, err := pool.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	regs, err := client.ReadHoldingRegisters(ctx, 100, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	if regs[0] != 0x0012 {
		t.Errorf("Register: expected 0x0012, got 0x%04X", regs[0])
	}

	pool.Put(client)

	// The idle client is reused.
	again, err := pool.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if again != client {
		t.Error("Expected the idle client to be reused")
	}
	pool.Put(again)

	stats := pool.Stats()
	if stats.Gets != 2 {
		t.Errorf("Gets: expected 2, got %d", stats.Gets)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Hits/Misses: expected 1/1, got %d/%d", stats.Hits, stats.Misses)
	}
	if stats.Available != 1 {
		t.Errorf("Available: expected 1, got %d", stats.Available)
	}
}

func TestPoolGetMultiple(t *testing.T) {
	_, addr := startTestServer(t)

	pool, err := NewPool(tcpFactory(addr), WithPoolSize(2))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()

	client1, err := pool.Get(ctx)
	if err != nil {
		t.Fatalf("Get client1 failed: %v", err)
	}
	client2, err := pool.Get(ctx)
	if err != nil {
		t.Fatalf("Get client2 failed: %v", err)
	}

	// Third get blocks until the deadline.
	ctxTimeout, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	if _, err := pool.Get(ctxTimeout); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
	if n := pool.Stats().Timeouts; n != 1 {
		t.Errorf("Timeouts: expected 1, got %d", n)
	}

	pool.Put(client1)
	pool.Put(client2)

	client3, err := pool.Get(ctx)
	if err != nil {
		t.Fatalf("Get client3 failed: %v", err)
	}
	pool.Put(client3)
}

func TestPoolDo(t *testing.T) {
	server, addr := startTestServer(t)

	pool, err := NewPool(tcpFactory(addr, WithUnitID(1)), WithPoolSize(4))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- pool.Do(ctx, func(c *Client) error {
				return c.WriteSingleCoil(ctx, uint16(i), true)
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Do failed: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		if v, _ := server.Mapping().Coil(uint16(i)); !v {
			t.Errorf("coil %d not written", i)
		}
	}
	if live := pool.Stats().Live; live > 4 {
		t.Errorf("Live: expected at most 4, got %d", live)
	}

	// Exceptions keep the client in the pool.
	err = pool.Do(ctx, func(c *Client) error {
		_, err := c.ReadHoldingRegisters(ctx, 0, 1)
		return err
	})
	var me *ModbusError
	if !errors.As(err, &me) {
		t.Errorf("Expected ModbusError, got %v", err)
	}
	if n := pool.Metrics().Closed.Value(); n != 0 {
		t.Errorf("Closed: expected 0, got %d", n)
	}
}

func TestPoolDiscardsBrokenClients(t *testing.T) {
	_, addr := startTestServer(t)

	pool, err := NewPool(tcpFactory(addr), WithPoolSize(1))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	err = pool.Do(ctx, func(c *Client) error {
		return ErrConnectionClosed
	})
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
	stats := pool.Stats()
	if stats.Live != 0 || stats.Available != 0 {
		t.Errorf("Expected the client to be discarded, got %+v", stats)
	}

	// A closed client put back is released too.
	client, err := pool.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	client.Close()
	pool.Put(client)
	if n := pool.Stats().Live; n != 0 {
		t.Errorf("Live: expected 0, got %d", n)
	}
}

func TestPoolRejectsSerialClients(t *testing.T) {
	pool, err := NewPool(func() (*Client, error) {
		return NewRTUClient(SerialConfig{Device: "/dev/ttyUSB0", BaudRate: 9600, Parity: "N", DataBits: 8, StopBits: 1})
	})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Get(context.Background()); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got %v", err)
	}
	if n := pool.Stats().Live; n != 0 {
		t.Errorf("Live: expected 0, got %d", n)
	}
}

func TestPoolClose(t *testing.T) {
	pool, err := NewPool(tcpFactory("localhost:502"), WithPoolSize(3))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	_, err = pool.Get(context.Background())
	if err != ErrPoolClosed {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolHealthCheck(t *testing.T) {
	_, addr := startTestServer(t)

	pool, err := NewPool(tcpFactory(addr),
		WithPoolSize(2),
		WithMaxIdleTime(20*time.Millisecond),
		WithHealthCheckInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	client, err := pool.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	pool.Put(client)

	time.Sleep(100 * time.Millisecond)

	stats := pool.Stats()
	if stats.Available != 0 || stats.Live != 0 {
		t.Errorf("Expected the idle client to be closed, got %+v", stats)
	}
	if client.IsConnected() {
		t.Error("expired client still connected")
	}
}
